package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kuhl33d/ODC-Embedded-Linux/broadcast"
	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
)

// wsSubscriber adapts one WebSocket connection to broadcast.Subscriber.
type wsSubscriber struct {
	id          broadcast.SubscriberID
	conn        *websocket.Conn
	owner       *Output
	connectedAt time.Time
	remote      string

	writeMu   sync.Mutex
	lastPong  atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once

	reasonMu    sync.Mutex
	closeReason string
}

var _ broadcast.Subscriber = (*wsSubscriber)(nil)

func newSubscriber(conn *websocket.Conn, owner *Output) *wsSubscriber {
	s := &wsSubscriber{
		conn:        conn,
		owner:       owner,
		connectedAt: time.Now(),
		remote:      conn.RemoteAddr().String(),
	}
	s.lastPong.Store(s.connectedAt.UnixNano())
	return s
}

// Send writes msg as a single text frame.
func (s *wsSubscriber) Send(ctx context.Context, msg []byte) error {
	if s.closed.Load() {
		return errors.ErrSubscriberClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.owner.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)

	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		s.setReason("send_failed")
		s.owner.recordError("send", err)
		return err
	}
	s.owner.recordSent(len(msg))
	return nil
}

func (s *wsSubscriber) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.owner.config.WriteTimeout))
}

// Close sends a close frame and closes the connection. Safe to call more than once.
func (s *wsSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.setReason("server_closed")
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
		s.owner.forget(s)
	})
	return err
}

// RemoteAddr returns the peer address.
func (s *wsSubscriber) RemoteAddr() string {
	return s.remote
}

// setReason records the first cause of a disconnect.
func (s *wsSubscriber) setReason(reason string) {
	s.reasonMu.Lock()
	if s.closeReason == "" {
		s.closeReason = reason
	}
	s.reasonMu.Unlock()
}

func (s *wsSubscriber) reason() string {
	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	if s.closeReason == "" {
		return "normal"
	}
	return s.closeReason
}
