package broadcast

import (
	"context"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	c1 := &Client{ID: "c1", UserID: "u1", Name: "one"}
	c2 := &Client{ID: "c2", UserID: "u2", Name: "two"}

	hub.Register(c1)
	hub.Register(c2)
	waitFor(t, func() bool { return hub.ClientCount() == 2 })

	if hub.GetClient("c1") != c1 {
		t.Error("GetClient(c1) should return the registered client")
	}

	hub.Unregister(c1)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	// Unregistering twice is harmless.
	hub.Unregister(c1)
	hub.Unregister(c2)
	waitFor(t, func() bool { return hub.ClientCount() == 0 })

	cancel()
	hub.Wait()
}

func TestClient_SendDropsWhenFull(t *testing.T) {
	client := &Client{ID: "slow", send: make(chan []byte, 2)}

	if !client.Send([]byte("a")) || !client.Send([]byte("b")) {
		t.Fatal("sends within capacity should succeed")
	}
	// Queue full: the frame is dropped, the caller is never blocked.
	if client.Send([]byte("c")) {
		t.Error("Send() on a full queue should report a drop")
	}

	client.close()
	// Closing twice is safe.
	client.close()
}

func TestHub_BroadcastNeverBlocksOnSlowClients(t *testing.T) {
	hub := NewHub()

	slow := &Client{ID: "slow", send: make(chan []byte, 1)}
	fast := &Client{ID: "fast", send: make(chan []byte, 8)}
	hub.clients[slow.ID] = slow
	hub.clients[fast.ID] = fast

	// Fill the slow client's queue; nobody is draining it.
	slow.Send([]byte("backlog"))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.handleBroadcast(&Frame{Type: FrameTaskUpdated, Payload: map[string]string{"id": "t1"}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}

	// The fast client received every frame despite its slow peer.
	if got := len(fast.send); got != 5 {
		t.Errorf("fast client queued frames = %d, want 5", got)
	}
	// The slow client kept its backlog and nothing more than capacity.
	if got := len(slow.send); got != 1 {
		t.Errorf("slow client queued frames = %d, want 1", got)
	}
}
