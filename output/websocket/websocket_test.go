package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuhl33d/ODC-Embedded-Linux/broadcast"
	"github.com/kuhl33d/ODC-Embedded-Linux/component"
	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
)

func newTestOutput(t *testing.T, mr *metric.MetricsRegistry) (*Output, *broadcast.Registry) {
	t.Helper()
	reg, err := broadcast.NewRegistry(broadcast.Deps{Config: broadcast.Config{SendTimeout: time.Second}})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	out, err := New(Deps{Config: cfg, Registry: reg, MetricsRegistry: mr})
	require.NoError(t, err)
	return out, reg
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func broadcastText(t *testing.T, reg *broadcast.Registry, text string) broadcast.Result {
	t.Helper()
	res, err := reg.Broadcast(context.Background(), func() ([]byte, error) { return []byte(text), nil })
	require.NoError(t, err)
	return res
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty addr", func(c *Config) { c.Addr = "" }, true},
		{"no paths", func(c *Config) { c.Paths = nil }, true},
		{"relative path", func(c *Config) { c.Paths = []string{"ws"} }, true},
		{"zero ping", func(c *Config) { c.PingInterval = 0 }, true},
		{"read timeout below ping", func(c *Config) { c.ReadTimeout = c.PingInterval / 2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_RequiresRegistry(t *testing.T) {
	_, err := New(Deps{Config: DefaultConfig()})
	assert.Error(t, err)
}

func TestOutput_ClientReceivesBroadcast(t *testing.T) {
	out, reg := newTestOutput(t, nil)
	srv := httptest.NewServer(out.Handler())
	defer srv.Close()

	for _, path := range []string{"/", "/ws"} {
		t.Run(path, func(t *testing.T) {
			conn := dial(t, wsURL(srv.URL, path))
			defer conn.Close()

			require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

			res := broadcastText(t, reg, `{"cpu_average":1}`)
			assert.Equal(t, 1, res.Delivered)

			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			mt, data, err := conn.ReadMessage()
			require.NoError(t, err)
			assert.Equal(t, websocket.TextMessage, mt)
			assert.Equal(t, `{"cpu_average":1}`, string(data))

			require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
			require.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestOutput_InboundMessagesIgnored(t *testing.T) {
	out, reg := newTestOutput(t, nil)
	srv := httptest.NewServer(out.Handler())
	defer srv.Close()

	conn := dial(t, wsURL(srv.URL, "/ws"))
	defer conn.Close()
	require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	broadcastText(t, reg, "tick")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "tick", string(data))
	assert.Equal(t, 1, reg.Len())
}

func TestOutput_DisconnectedClientDoesNotAffectOthers(t *testing.T) {
	mr := metric.NewMetricsRegistry()
	out, reg := newTestOutput(t, mr)
	srv := httptest.NewServer(out.Handler())
	defer srv.Close()

	a := dial(t, wsURL(srv.URL, "/"))
	defer a.Close()
	b := dial(t, wsURL(srv.URL, "/"))
	require.Eventually(t, func() bool { return reg.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	// Abrupt close without a close handshake.
	require.NoError(t, b.UnderlyingConn().Close())
	require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	res := broadcastText(t, reg, "still here")
	assert.Equal(t, 1, res.Delivered)

	_ = a.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := a.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "still here", string(data))

	assert.Equal(t, float64(2), testutil.ToFloat64(out.metrics.connectionTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(out.metrics.clientsConnected))
	assert.Equal(t, 1, out.ClientCount())
}

func TestOutput_RejectsWhileDraining(t *testing.T) {
	out, reg := newTestOutput(t, nil)
	srv := httptest.NewServer(out.Handler())
	defer srv.Close()

	reg.SetAccepting(false)

	conn := dial(t, wsURL(srv.URL, "/ws"))
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	assert.Equal(t, 0, reg.Len())
}

func TestOutput_CloseAllClosesConnections(t *testing.T) {
	out, reg := newTestOutput(t, nil)
	srv := httptest.NewServer(out.Handler())
	defer srv.Close()

	conn := dial(t, wsURL(srv.URL, "/"))
	defer conn.Close()
	require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, reg.CloseAll(ctx))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool { return out.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOutput_Lifecycle(t *testing.T) {
	out, reg := newTestOutput(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, out.Open(ctx))
	assert.True(t, out.Health().Healthy)
	assert.Error(t, out.Open(ctx), "second Open fails")

	runErr := make(chan error, 1)
	go func() { runErr <- out.Run(ctx) }()

	conn := dial(t, "ws://"+out.Addr()+"/ws")
	defer conn.Close()
	require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	broadcastText(t, reg, "x")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Greater(t, out.DataFlow().MessagesPerSecond, 0.0)

	require.NoError(t, out.Stop(2*time.Second))
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	assert.False(t, out.Health().Healthy)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, out.ClientCount())
	assert.NoError(t, out.Stop(time.Second), "Stop is idempotent")
}

func TestOutput_OpenBindFailure(t *testing.T) {
	reg, err := broadcast.NewRegistry(broadcast.Deps{})
	require.NoError(t, err)

	first, err := New(Deps{Config: func() Config { c := DefaultConfig(); c.Addr = "127.0.0.1:0"; return c }(), Registry: reg})
	require.NoError(t, err)
	require.NoError(t, first.Open(context.Background()))
	defer first.Stop(time.Second)

	cfg := DefaultConfig()
	cfg.Addr = first.Addr()
	second, err := New(Deps{Config: cfg, Registry: reg})
	require.NoError(t, err)
	assert.Error(t, second.Open(context.Background()))
}

func TestOutput_LifecycleContract(t *testing.T) {
	component.StandardLifecycleTests(t, func(t *testing.T) component.LifecycleComponent {
		out, _ := newTestOutput(t, nil)
		return out
	})
}
