package natsclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_PublishSubscribe(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}

	tc := NewTestClient(t)
	require.True(t, tc.Client.IsHealthy())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan []byte, 1)
	require.NoError(t, tc.Client.Subscribe(ctx, "sysmon.metrics", func(_ context.Context, data []byte) {
		received <- data
	}))
	require.NoError(t, tc.Client.Flush(ctx))

	require.NoError(t, tc.Client.Publish(ctx, "sysmon.metrics", []byte(`{"cpu_average":3.5}`)))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"cpu_average":3.5}`, string(data))
	case <-ctx.Done():
		t.Fatal("message not received")
	}

	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}
