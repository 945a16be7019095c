package rpc

import (
	"context"
	"sync"

	"github.com/seasidesky/swiftscout/internal/clock"
	"github.com/seasidesky/swiftscout/internal/ids"
)

// fakeObject is one object's durable state as the fake surrogate sees it:
// every individually-committed update plus the clock those updates add up
// to, and (if ever pruned) the clock below which individual updates are no
// longer separable — mirroring what a real store reports to
// BatchFetchObjectVersion.
type fakeObject struct {
	typeTag    string
	clock      *clock.Clock
	pruneClock *clock.Clock
	updates    []UpdateEntry
}

// FakeSurrogate is an in-process Surrogate double: no network, no
// persistence, used by the scout's own tests and by cmd/scoutsh in place of
// a real datacenter. It supports the same retry-worthy statuses a
// real store would (VERSION_MISSING when a requested clock entry hasn't
// arrived yet but might, VERSION_PRUNED when it never will) so the fetch
// pipeline and committer can be exercised end to end without a server.
type FakeSurrogate struct {
	mu      sync.Mutex
	dc      *clock.Clock
	objects map[ids.ObjectID]*fakeObject

	handlersMu sync.Mutex
	handlers   map[int]func(BatchUpdatesNotification)
	nextHandle int

	// Delay controls, for tests exercising the fetch pipeline's retry
	// loop: an object requested before it reaches this count of fetch
	// attempts is reported VERSION_MISSING.
	missingUntilAttempt map[ids.ObjectID]int
	attempts            map[ids.ObjectID]int
}

// NewFakeSurrogate returns an empty fake surrogate.
func NewFakeSurrogate() *FakeSurrogate {
	return &FakeSurrogate{
		dc:                  clock.New(),
		objects:             make(map[ids.ObjectID]*fakeObject),
		handlers:            make(map[int]func(BatchUpdatesNotification)),
		missingUntilAttempt: make(map[ids.ObjectID]int),
		attempts:            make(map[ids.ObjectID]int),
	}
}

// Seed directly installs an object's state, bypassing BatchCommitUpdates —
// used by tests to set up a starting fixture.
func (f *FakeSurrogate) Seed(id ids.ObjectID, typeTag string, updates []UpdateEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj := &fakeObject{typeTag: typeTag, clock: clock.New(), pruneClock: clock.New()}
	for _, u := range updates {
		obj.updates = append(obj.updates, u)
		obj.clock.Record(u.Timestamp)
		f.dc.Record(u.Timestamp)
	}
	f.objects[id] = obj
}

// DelayUntilAttempt makes id report VERSION_MISSING for every fetch before
// the given attempt number (1-indexed), then serve normally thereafter.
func (f *FakeSurrogate) DelayUntilAttempt(id ids.ObjectID, attempt int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missingUntilAttempt[id] = attempt
}

func (f *FakeSurrogate) LatestKnownClock(ctx context.Context, req LatestKnownClockRequest) (LatestKnownClockReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return LatestKnownClockReply{Clock: f.dc.Clone()}, nil
}

func (f *FakeSurrogate) BatchFetchObjectVersion(ctx context.Context, req BatchFetchObjectVersionRequest) (BatchFetchObjectVersionReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reply := BatchFetchObjectVersionReply{Results: make([]ObjectVersionResult, len(req.Requests))}
	for i, r := range req.Requests {
		f.attempts[r.ID]++

		obj, ok := f.objects[r.ID]
		if !ok {
			reply.Results[i] = ObjectVersionResult{ID: r.ID, Status: StatusNotFound}
			continue
		}

		if need := f.missingUntilAttempt[r.ID]; need > 0 && f.attempts[r.ID] < need {
			reply.Results[i] = ObjectVersionResult{ID: r.ID, Status: StatusVersionMissing}
			continue
		}

		if cmp := r.At.CompareTo(obj.clock); cmp != clock.Dominated && cmp != clock.Equal {
			reply.Results[i] = ObjectVersionResult{ID: r.ID, Status: StatusVersionMissing}
			continue
		}
		if cmp := obj.pruneClock.CompareTo(r.At); cmp != clock.Dominated && cmp != clock.Equal {
			reply.Results[i] = ObjectVersionResult{ID: r.ID, Status: StatusVersionPruned}
			continue
		}

		var updates []UpdateEntry
		for _, u := range obj.updates {
			updates = append(updates, u)
		}
		reply.Results[i] = ObjectVersionResult{
			ID:      r.ID,
			Status:  StatusOK,
			TypeTag: obj.typeTag,
			Clock:   obj.clock.Clone(),
			Updates: updates,
		}
	}
	return reply, nil
}

func (f *FakeSurrogate) BatchCommitUpdates(ctx context.Context, req BatchCommitUpdatesRequest) (BatchCommitUpdatesReply, error) {
	f.mu.Lock()

	reply := BatchCommitUpdatesReply{
		Results:      make([]CommitResult, len(req.Commits)),
		DummyResults: make([]DummyCommitResult, len(req.Dummies)),
	}
	for i, ts := range req.Dummies {
		f.dc.Record(ts)
		reply.DummyResults[i] = DummyCommitResult{Timestamp: ts, Status: StatusOK, SystemTimestamp: ts}
	}
	var pushed []NotifyEntry
	for i, c := range req.Commits {
		obj, ok := f.objects[c.ID]
		if !ok {
			obj = &fakeObject{typeTag: "", clock: clock.New(), pruneClock: clock.New()}
			f.objects[c.ID] = obj
		}
		entry := UpdateEntry{Timestamp: c.Timestamp, Payload: c.Payload}
		obj.updates = append(obj.updates, entry)
		obj.clock.Record(c.Timestamp)
		f.dc.Record(c.Timestamp)

		reply.Results[i] = CommitResult{ID: c.ID, Status: StatusOK, SystemTimestamp: c.Timestamp}
		pushed = append(pushed, NotifyEntry{ID: c.ID, Timestamp: c.Timestamp, Payload: c.Payload})
	}
	dcSnapshot := f.dc.Clone()
	f.mu.Unlock()

	f.handlersMu.Lock()
	handlers := make([]func(BatchUpdatesNotification), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.handlersMu.Unlock()

	if len(pushed) > 0 {
		notif := BatchUpdatesNotification{DCClock: dcSnapshot, Updates: pushed}
		for _, h := range handlers {
			h(notif)
		}
	}

	return reply, nil
}

func (f *FakeSurrogate) Subscribe(handler func(BatchUpdatesNotification)) func() {
	f.handlersMu.Lock()
	handle := f.nextHandle
	f.nextHandle++
	f.handlers[handle] = handler
	f.handlersMu.Unlock()

	return func() {
		f.handlersMu.Lock()
		delete(f.handlers, handle)
		f.handlersMu.Unlock()
	}
}

func (f *FakeSurrogate) Close() error { return nil }

var _ Surrogate = (*FakeSurrogate)(nil)
