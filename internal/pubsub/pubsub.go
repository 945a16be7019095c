// Package pubsub implements the scout's subscription and notification
// layer (C9): per-object listener registration, at-most-once dispatch of
// surrogate-pushed updates, and staging of not-yet-committed updates so a
// transaction's own writes are only announced to subscribers once they
// have actually committed locally.
//
// Dispatch is fanned out through an ants.Pool rather than one goroutine
// per notification, the same worker-pool idiom the teacher's
// internal/pool/scheduler.go uses for request dispatch — a burst of
// updates across many objects must not spawn an unbounded number of
// goroutines.
package pubsub

import (
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/seasidesky/swiftscout/internal/ids"
	"github.com/seasidesky/swiftscout/internal/logger"
	"github.com/seasidesky/swiftscout/internal/metrics"
)

// closeTimeout bounds how long Close waits for in-flight dispatches to
// drain before giving up on the pool, mirroring the teacher's scheduler
// ReleaseTimeout call.
const closeTimeout = 3 * time.Second

// Update is one object update handed to subscribers, deliberately narrow
// (an object id and an opaque payload) so pubsub stays independent of the
// CRDT and wire packages.
type Update struct {
	ID      ids.ObjectID
	Payload interface{}
}

// Handler receives updates for objects it subscribed to.
type Handler func(Update)

type subscriber struct {
	handle  int
	handler Handler
}

// Hub fans out updates to per-object subscribers.
type Hub struct {
	mu          sync.Mutex
	subscribers map[ids.ObjectID][]subscriber
	nextHandle  int

	staged map[ids.ObjectID][]Update

	pool *ants.Pool
	log  *logger.Logger
}

// defaultDispatchWorkers is used when New is given a non-positive worker
// count.
const defaultDispatchWorkers = 32

// New creates a Hub backed by an ants.Pool sized workers (0 or negative
// falls back to defaultDispatchWorkers).
func New(workers int, log *logger.Logger) (*Hub, error) {
	log = log.With("pubsub")
	if workers <= 0 {
		workers = defaultDispatchWorkers
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v interface{}) {
		log.Error("subscriber callback panicked: %v", v)
	}))
	if err != nil {
		return nil, err
	}
	return &Hub{
		subscribers: make(map[ids.ObjectID][]subscriber),
		staged:      make(map[ids.ObjectID][]Update),
		pool:        pool,
		log:         log,
	}, nil
}

// Subscribe registers handler for updates to id, returning a cancel
// function that unregisters it. A cancelled handler is guaranteed never to
// fire again, even for an update already queued in the pool at the moment
// of cancellation — the dispatch closure re-checks membership before
// invoking the handler.
func (h *Hub) Subscribe(id ids.ObjectID, handler Handler) func() {
	h.mu.Lock()
	handle := h.nextHandle
	h.nextHandle++
	h.subscribers[id] = append(h.subscribers[id], subscriber{handle: handle, handler: handler})
	h.mu.Unlock()

	return func() { h.unsubscribe(id, handle) }
}

func (h *Hub) unsubscribe(id ids.ObjectID, handle int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[id]
	for i, s := range subs {
		if s.handle == handle {
			h.subscribers[id] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[id]) == 0 {
		delete(h.subscribers, id)
	}
}

// HasSubscribers reports whether id currently has at least one live
// subscriber.
func (h *Hub) HasSubscribers(id ids.ObjectID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[id]) > 0
}

// Notify dispatches an update to id's current subscribers immediately,
// used for updates the surrogate pushes for objects this scout never
// wrote itself.
func (h *Hub) Notify(update Update) {
	h.dispatch(update)
}

// Stage holds an update produced by this scout's own not-yet-committed
// transaction. It is not delivered to subscribers until CommitStaged is
// called for the same object id.
func (h *Hub) Stage(update Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.staged[update.ID] = append(h.staged[update.ID], update)
}

// CommitStaged flushes and delivers every staged update for id, in the
// order they were staged.
func (h *Hub) CommitStaged(id ids.ObjectID) {
	h.mu.Lock()
	updates := h.staged[id]
	delete(h.staged, id)
	h.mu.Unlock()

	for _, u := range updates {
		h.dispatch(u)
	}
}

// DiscardStaged drops staged updates for id without delivering them, used
// when the transaction that produced them is cancelled instead of
// committed.
func (h *Hub) DiscardStaged(id ids.ObjectID) {
	h.mu.Lock()
	delete(h.staged, id)
	h.mu.Unlock()
}

func (h *Hub) dispatch(update Update) {
	h.mu.Lock()
	subs := make([]subscriber, len(h.subscribers[update.ID]))
	copy(subs, h.subscribers[update.ID])
	h.mu.Unlock()

	for _, s := range subs {
		s := s
		err := h.pool.Submit(func() {
			h.mu.Lock()
			_, stillSubscribed := h.indexOf(update.ID, s.handle)
			h.mu.Unlock()
			if !stillSubscribed {
				return
			}
			metrics.NotificationsDeliveredTotal.Inc()
			s.handler(update)
		})
		if err != nil {
			h.log.Warn("dropping notification for %s: %v", update.ID, err)
		}
	}
}

// indexOf must be called with h.mu held.
func (h *Hub) indexOf(id ids.ObjectID, handle int) (int, bool) {
	for i, s := range h.subscribers[id] {
		if s.handle == handle {
			return i, true
		}
	}
	return -1, false
}

// Close releases the dispatch pool, waiting up to closeTimeout for
// in-flight callbacks to finish.
func (h *Hub) Close() error {
	return h.pool.ReleaseTimeout(closeTimeout)
}
