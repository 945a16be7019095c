package pubsub

import (
	"sync"
	"testing"
	"time"

	"github.com/seasidesky/swiftscout/internal/ids"
	"github.com/seasidesky/swiftscout/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(discard{}, logger.LevelError, "[test]")
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testID() ids.ObjectID { return ids.ObjectID{Table: "t", Key: "k", TypeTag: "counter"} }

func TestNotifyDeliversToSubscriber(t *testing.T) {
	h, err := New(4, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	id := testID()
	received := make(chan Update, 1)
	cancel := h.Subscribe(id, func(u Update) { received <- u })
	defer cancel()

	h.Notify(Update{ID: id, Payload: "hello"})

	select {
	case u := <-received:
		if u.Payload != "hello" {
			t.Fatalf("unexpected payload: %v", u.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestCancelledSubscriberNeverFires(t *testing.T) {
	h, err := New(4, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	id := testID()
	var mu sync.Mutex
	fired := false
	cancel := h.Subscribe(id, func(u Update) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	cancel()

	h.Notify(Update{ID: id, Payload: "x"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatal("a cancelled subscriber must never fire")
	}
}

func TestStagedUpdatesOnlyDeliverOnCommit(t *testing.T) {
	h, err := New(4, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	id := testID()
	received := make(chan Update, 1)
	h.Subscribe(id, func(u Update) { received <- u })

	h.Stage(Update{ID: id, Payload: "staged"})

	select {
	case <-received:
		t.Fatal("staged update must not be delivered before CommitStaged")
	case <-time.After(50 * time.Millisecond):
	}

	h.CommitStaged(id)

	select {
	case u := <-received:
		if u.Payload != "staged" {
			t.Fatalf("unexpected payload: %v", u.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for staged delivery after commit")
	}
}

func TestDiscardStagedDropsUpdate(t *testing.T) {
	h, err := New(4, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	id := testID()
	received := make(chan Update, 1)
	h.Subscribe(id, func(u Update) { received <- u })

	h.Stage(Update{ID: id, Payload: "discarded"})
	h.DiscardStaged(id)
	h.CommitStaged(id)

	select {
	case u := <-received:
		t.Fatalf("expected no delivery for a discarded staged update, got %v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHasSubscribersReflectsState(t *testing.T) {
	h, err := New(4, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	id := testID()
	if h.HasSubscribers(id) {
		t.Fatal("expected no subscribers initially")
	}
	cancel := h.Subscribe(id, func(Update) {})
	if !h.HasSubscribers(id) {
		t.Fatal("expected a subscriber to be registered")
	}
	cancel()
	if h.HasSubscribers(id) {
		t.Fatal("expected subscriber count to drop to zero after cancel")
	}
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	h, err := New(4, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	id := testID()
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		h.Subscribe(id, func(u Update) { wg.Done() })
	}

	h.Notify(Update{ID: id, Payload: "broadcast"})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all subscribers received the notification")
	}
}
