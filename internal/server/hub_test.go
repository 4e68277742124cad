package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_RegisterUnregister(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	client := NewClient("c1")
	hub.Register(client)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	hub.Unregister(client)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	c1 := NewClient("c1")
	c2 := NewClient("c2")
	hub.Register(c1)
	hub.Register(c2)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 2
	}, time.Second, 10*time.Millisecond)

	hub.Broadcast(NewMarketMessage(map[string]string{"symbol": "BTCUSDT"}))

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.GetSendChan():
			assert.Equal(t, TypeMarket, msg.Type)
		case <-time.After(time.Second):
			t.Fatalf("client %s did not receive broadcast", c.id)
		}
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := NewClient("c1")
	hub.Register(client)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, 0, hub.ClientCount())
	_, open := <-client.GetSendChan()
	assert.False(t, open, "send channel should be closed after shutdown")
}

func TestClient_SendAfterCloseIsSafe(t *testing.T) {
	client := NewClient("c1")
	client.Close()
	client.Close() // idempotent

	assert.False(t, client.Send(NewMarketMessage(nil)))
}

func TestClient_SendDropsWhenFull(t *testing.T) {
	client := NewClient("c1")
	for i := 0; i < 256; i++ {
		require.True(t, client.Send(NewMarketMessage(i)))
	}
	assert.False(t, client.Send(NewMarketMessage("overflow")))
}
