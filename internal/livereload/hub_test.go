package livereload

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain returns every message currently queued for c.
func drain(c *Client) []Message {
	var out []Message
	for {
		select {
		case m := <-c.Messages():
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestHubBroadcastReachesEveryClientOnce(t *testing.T) {
	hub := NewHub(nil)

	const n = 5
	clients := make([]*Client, n)
	for i := range clients {
		c, err := hub.Register(TransportSSE)
		require.NoError(t, err)
		clients[i] = c
	}
	require.Equal(t, n, hub.Len())

	sent := hub.Broadcast(ReloadMessage())
	assert.Equal(t, n, sent)

	for _, c := range clients {
		msgs := drain(c)
		require.Len(t, msgs, 1)
		assert.Equal(t, ReloadEvent, msgs[0].Type)
		assert.Equal(t, ReloadBody, msgs[0].Content)
		assert.False(t, msgs[0].Timestamp.IsZero())
	}
}

func TestHubDisconnectedClientReceivesNothing(t *testing.T) {
	hub := NewHub(nil)
	stay, err := hub.Register(TransportSSE)
	require.NoError(t, err)
	gone, err := hub.Register(TransportWebSocket)
	require.NoError(t, err)

	assert.True(t, hub.Unregister(gone))
	hub.Broadcast(ReloadMessage())

	assert.Len(t, drain(stay), 1)
	assert.Empty(t, drain(gone))
	assert.False(t, hub.Has(gone.ID))
	assert.True(t, hub.Has(stay.ID))

	select {
	case <-gone.Done():
	default:
		t.Fatal("unregistered client not marked done")
	}
}

func TestHubUnregisterExactlyOnce(t *testing.T) {
	hub := NewHub(nil)
	c, err := hub.Register(TransportSSE)
	require.NoError(t, err)

	assert.True(t, hub.Unregister(c))
	assert.False(t, hub.Unregister(c))
	assert.False(t, hub.Unregister(nil))
	assert.Equal(t, 0, hub.Len())
}

func TestHubDropsFullClients(t *testing.T) {
	hub := NewHub(nil)
	slow, err := hub.Register(TransportSSE)
	require.NoError(t, err)

	for i := 0; i < clientBuffer; i++ {
		assert.Equal(t, 1, hub.Broadcast(ReloadMessage()))
	}
	assert.Equal(t, 0, hub.Broadcast(ReloadMessage()))
	assert.False(t, hub.Has(slow.ID))
	assert.Len(t, drain(slow), clientBuffer)
}

func TestHubCloseAll(t *testing.T) {
	hub := NewHub(nil)
	a, err := hub.Register(TransportSSE)
	require.NoError(t, err)
	b, err := hub.Register(TransportWebSocket)
	require.NoError(t, err)

	hub.CloseAll()

	assert.Equal(t, 0, hub.Len())
	for _, c := range []*Client{a, b} {
		select {
		case <-c.Done():
		case <-time.After(time.Second):
			t.Fatal("client not closed")
		}
	}
	assert.False(t, hub.Unregister(a))

	_, err = hub.Register(TransportSSE)
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestHubConcurrentMembership(t *testing.T) {
	hub := NewHub(nil)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c, err := hub.Register(TransportSSE)
				if err != nil {
					return
				}
				hub.Broadcast(ReloadMessage())
				hub.Unregister(c)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, hub.Len())
}

func TestClientIDsAreUnique(t *testing.T) {
	hub := NewHub(nil)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		c, err := hub.Register(TransportSSE)
		require.NoError(t, err)
		require.False(t, seen[c.ID])
		seen[c.ID] = true
	}
}
