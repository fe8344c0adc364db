package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
)

// DefaultSendTimeout bounds a single delivery to a single subscriber.
const DefaultSendTimeout = 5 * time.Second

// SubscriberID identifies a registered subscriber.
type SubscriberID string

// Subscriber is an output channel that receives every broadcast message.
type Subscriber interface {
	// Send delivers one message. It should honour ctx; the registry also
	// abandons a send that outlives ctx.
	Send(ctx context.Context, msg []byte) error
	// Close releases the channel. It may be called more than once.
	Close() error
	// RemoteAddr describes the peer for logs.
	RemoteAddr() string
}

// Config configures a Registry.
type Config struct {
	SendTimeout time.Duration `json:"send_timeout" yaml:"send_timeout"`
}

// Deps holds runtime dependencies for a Registry.
type Deps struct {
	Config          Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Result summarises one broadcast pass.
type Result struct {
	Subscribers int
	Delivered   int
	Failed      int
	Bytes       int
}

type member struct {
	id           SubscriberID
	sub          Subscriber
	registeredAt time.Time
	closeOnce    sync.Once
}

func (m *member) close() error {
	var err error
	m.closeOnce.Do(func() { err = m.sub.Close() })
	return err
}

// Registry is the set of live subscribers.
type Registry struct {
	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     *Metrics

	mu        sync.RWMutex
	members   map[SubscriberID]*member
	accepting bool

	broadcasts atomic.Int64
	delivered  atomic.Int64
	failed     atomic.Int64
	bytesSent  atomic.Int64
}

// NewRegistry creates an empty registry that accepts subscribers.
func NewRegistry(deps Deps) (*Registry, error) {
	timeout := deps.Config.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Registry", "NewRegistry", "register metrics")
	}

	return &Registry{
		sendTimeout: timeout,
		logger:      logger.With("component", "broadcast"),
		metrics:     metrics,
		members:     make(map[SubscriberID]*member),
		accepting:   true,
	}, nil
}

// Register adds sub to the live set. It fails once the registry stops
// accepting subscribers during shutdown.
func (r *Registry) Register(sub Subscriber) (SubscriberID, error) {
	id := SubscriberID(uuid.NewString())

	r.mu.Lock()
	if !r.accepting {
		r.mu.Unlock()
		return "", errors.WrapTransient(errors.ErrShuttingDown, "Registry", "Register", "add subscriber")
	}
	r.members[id] = &member{id: id, sub: sub, registeredAt: time.Now()}
	count := len(r.members)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.registrations.Inc()
		r.metrics.subscribers.Set(float64(count))
	}
	r.logger.Info("Subscriber registered", "subscriber_id", id, "remote", sub.RemoteAddr(), "subscribers", count)
	return id, nil
}

// Unregister removes and closes a subscriber. Unknown or already removed ids
// are ignored; the return value reports whether anything was removed.
func (r *Registry) Unregister(id SubscriberID) bool {
	r.mu.Lock()
	m, ok := r.members[id]
	if ok {
		delete(r.members, id)
	}
	count := len(r.members)
	r.mu.Unlock()

	if !ok {
		return false
	}

	_ = m.close()
	r.recordRemoval("unregistered", count)
	r.logger.Info("Subscriber unregistered", "subscriber_id", id, "remote", m.sub.RemoteAddr(), "subscribers", count)
	return true
}

// Len returns the number of live subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// SetAccepting controls whether Register admits new subscribers.
func (r *Registry) SetAccepting(accepting bool) {
	r.mu.Lock()
	r.accepting = accepting
	r.mu.Unlock()
}

// Accepting reports whether Register admits new subscribers.
func (r *Registry) Accepting() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accepting
}

// snapshotMembers copies the membership so delivery never iterates the live map.
func (r *Registry) snapshotMembers() []*member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}

// Broadcast delivers one message to every subscriber present when the call
// starts. build is called at most once, and not at all when there are no
// subscribers. Failed subscribers are removed after all sends finish.
func (r *Registry) Broadcast(ctx context.Context, build func() ([]byte, error)) (Result, error) {
	members := r.snapshotMembers()
	if len(members) == 0 {
		return Result{}, nil
	}

	data, err := build()
	if err != nil {
		return Result{Subscribers: len(members)}, errors.WrapInvalid(err, "Registry", "Broadcast", "build message")
	}

	start := time.Now()
	failures := make([]error, len(members))

	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, m *member) {
			defer wg.Done()
			failures[i] = r.sendOne(ctx, m, data)
		}(i, m)
	}
	wg.Wait()

	res := Result{Subscribers: len(members), Bytes: len(data)}
	var failed []*member
	for i, ferr := range failures {
		if ferr == nil {
			res.Delivered++
			continue
		}
		res.Failed++
		failed = append(failed, members[i])
		r.logger.Warn("Subscriber send failed, removing",
			"subscriber_id", members[i].id,
			"remote", members[i].sub.RemoteAddr(),
			"error", ferr)
	}
	r.removeFailed(failed)

	r.broadcasts.Add(1)
	r.delivered.Add(int64(res.Delivered))
	r.failed.Add(int64(res.Failed))
	r.bytesSent.Add(int64(res.Delivered * len(data)))

	if r.metrics != nil {
		r.metrics.broadcasts.Inc()
		r.metrics.deliveries.Add(float64(res.Delivered))
		r.metrics.messageSize.Observe(float64(len(data)))
		r.metrics.broadcastDuration.Observe(time.Since(start).Seconds())
	}
	return res, nil
}

// sendOne runs the send in its own goroutine so a subscriber that ignores ctx
// still cannot hold up the pass beyond the timeout.
func (r *Registry) sendOne(ctx context.Context, m *member, data []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- m.sub.Send(sendCtx, data)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			r.recordFailure("send_error")
			return errors.WrapTransient(err, "Registry", "Broadcast", "send to subscriber")
		}
		return nil
	case <-sendCtx.Done():
		r.recordFailure("timeout")
		return errors.WrapTransient(errors.ErrSendTimeout, "Registry", "Broadcast", "send to subscriber")
	}
}

// removeFailed drops all failed members in one locked step and closes them.
func (r *Registry) removeFailed(failed []*member) {
	if len(failed) == 0 {
		return
	}

	r.mu.Lock()
	removed := failed[:0:0]
	for _, m := range failed {
		if cur, ok := r.members[m.id]; ok && cur == m {
			delete(r.members, m.id)
			removed = append(removed, m)
		}
	}
	count := len(r.members)
	r.mu.Unlock()

	for _, m := range removed {
		_ = m.close()
		r.recordRemoval("send_failure", count)
	}
}

// CloseAll stops accepting subscribers, removes every member and closes them
// concurrently. It returns when all are closed or ctx is done, whichever comes
// first.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.accepting = false
	members := make([]*member, 0, len(r.members))
	for id, m := range r.members {
		members = append(members, m)
		delete(r.members, id)
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.subscribers.Set(0)
	}
	if len(members) == 0 {
		return nil
	}

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, m := range members {
			wg.Add(1)
			go func(m *member) {
				defer wg.Done()
				if err := m.close(); err != nil {
					r.logger.Debug("Subscriber close failed", "subscriber_id", m.id, "error", err)
				}
			}(m)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Closed all subscribers", "count", len(members))
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Registry", "CloseAll", "close subscribers")
	}
}

// Stats returns cumulative counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Subscribers: r.Len(),
		Broadcasts:  r.broadcasts.Load(),
		Delivered:   r.delivered.Load(),
		Failed:      r.failed.Load(),
		BytesSent:   r.bytesSent.Load(),
	}
}

// Stats holds cumulative registry counters.
type Stats struct {
	Subscribers int
	Broadcasts  int64
	Delivered   int64
	Failed      int64
	BytesSent   int64
}

func (r *Registry) recordFailure(reason string) {
	if r.metrics != nil {
		r.metrics.failures.WithLabelValues(reason).Inc()
	}
}

func (r *Registry) recordRemoval(reason string, count int) {
	if r.metrics != nil {
		r.metrics.removals.WithLabelValues(reason).Inc()
		r.metrics.subscribers.Set(float64(count))
	}
}
