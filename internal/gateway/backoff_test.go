package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}

	require.Equal(t, 100*time.Millisecond, b.Delay(0))
	require.Equal(t, 200*time.Millisecond, b.Delay(1))
	require.Equal(t, 800*time.Millisecond, b.Delay(3))
	require.Equal(t, time.Second, b.Delay(4))
	require.Equal(t, time.Second, b.Delay(30)) // capped, no overflow
}

func TestReconnector_Cycle(t *testing.T) {
	r := NewReconnector(Backoff{Base: 100 * time.Millisecond, Max: time.Second})
	require.Equal(t, StateDisconnected, r.State())

	require.Equal(t, 100*time.Millisecond, r.Wait())
	require.Equal(t, StateBackoff, r.State())
	r.Connecting()
	require.Equal(t, StateConnecting, r.State())
	r.Disconnected()

	// Failed attempts keep doubling the delay.
	require.Equal(t, 200*time.Millisecond, r.Wait())
	r.Connecting()
	r.Connected()
	require.Equal(t, StateConnected, r.State())

	// A successful connect resets the schedule.
	r.Disconnected()
	require.Equal(t, 100*time.Millisecond, r.Wait())
}
