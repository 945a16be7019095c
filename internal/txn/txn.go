// Package txn implements the scout's transaction handles (C5): the
// client-visible object a session gets back from BeginTxn, carrying
// the transaction's isolation level, its fixed read snapshot, the set of
// per-object updates it has buffered, and the state machine that tracks it
// from PENDING through to COMMITTED_GLOBAL or CANCELLED.
//
// Grounded on the teacher's MVCC-lite transaction-id/snapshot machinery
// (internal/docdb/mvcc.go): NewTxID there becomes issuing a client
// timestamp here, and IsVisible's version-bounding becomes the handle's
// snapshot clock bounding which updates a read may see.
package txn

import (
	"sync"

	"github.com/seasidesky/swiftscout/internal/clock"
	"github.com/seasidesky/swiftscout/internal/ids"
	"github.com/seasidesky/swiftscout/internal/scouterr"
)

// State is a transaction handle's lifecycle stage.
type State int

const (
	// Pending: open, accepting reads and (for SI) buffered writes.
	Pending State = iota
	// CommittedLocal: writes applied to the scout's own cache and clock,
	// dispatched to the committer, but not yet globally stable.
	CommittedLocal
	// CommittedGlobal: the store has durably, globally committed every
	// write in this transaction.
	CommittedGlobal
	// Cancelled: discarded before any write was locally committed.
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case CommittedLocal:
		return "COMMITTED_LOCAL"
	case CommittedGlobal:
		return "COMMITTED_GLOBAL"
	default:
		return "CANCELLED"
	}
}

// Isolation selects the transaction's read semantics.
type Isolation int

const (
	// SnapshotIsolation: reads see a fixed snapshot plus the
	// transaction's own buffered writes; writes are allowed.
	SnapshotIsolation Isolation = iota
	// RepeatableRead: reads are pinned per-object to whatever clock
	// first answered them, so re-reading the same object within the
	// transaction is guaranteed to return the same version; no writes.
	RepeatableRead
)

func (i Isolation) String() string {
	if i == RepeatableRead {
		return "REPEATABLE_READ"
	}
	return "SNAPSHOT_ISOLATION"
}

// opGroup buffers the updates issued against one object within a
// transaction, in issue order.
type opGroup struct {
	id  ids.ObjectID
	ops []interface{}
}

// Handle is one open (or settled) transaction.
type Handle struct {
	mu sync.Mutex

	sessionID string
	isolation Isolation
	state     State

	ts clock.Timestamp

	snapshotClock *clock.Clock
	depsClock     *clock.Clock

	readSet map[ids.ObjectID]*clock.Clock
	ops     map[ids.ObjectID]*opGroup
	order   []ids.ObjectID // object ids in first-write order, for deterministic commit batching
}

// New creates an open transaction handle bound to ts (the transaction's own
// client-timestamp, already issued from the scout's tsid.Source) reading
// against snapshot.
func New(sessionID string, isolation Isolation, ts clock.Timestamp, snapshot *clock.Clock) *Handle {
	return &Handle{
		sessionID:     sessionID,
		isolation:     isolation,
		state:         Pending,
		ts:            ts,
		snapshotClock: snapshot.Clone(),
		depsClock:     snapshot.Clone(),
		readSet:       make(map[ids.ObjectID]*clock.Clock),
		ops:           make(map[ids.ObjectID]*opGroup),
	}
}

func (h *Handle) SessionID() string         { return h.sessionID }
func (h *Handle) Isolation() Isolation      { return h.isolation }
func (h *Handle) Timestamp() clock.Timestamp { return h.ts }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SnapshotClock returns a clone of the transaction's fixed read snapshot.
func (h *Handle) SnapshotClock() *clock.Clock {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotClock.Clone()
}

// DependencyClock returns a clone of the clock this transaction's commit
// must depend on: the union of the initial snapshot and every clock used
// to answer a read during the transaction.
func (h *Handle) DependencyClock() *clock.Clock {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.depsClock.Clone()
}

// RecordRead registers that object id was read at clock asOf. For
// RepeatableRead handles, a second read of the same object must reuse the
// clock recorded by the first — RecordRead enforces this by returning the
// pinned clock instead of accepting a different one.
func (h *Handle) RecordRead(id ids.ObjectID, asOf *clock.Clock) (*clock.Clock, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Pending {
		return nil, scouterr.ErrIllegalState
	}
	if existing, ok := h.readSet[id]; ok {
		return existing.Clone(), nil
	}
	pinned := asOf.Clone()
	h.readSet[id] = pinned
	h.depsClock.Merge(pinned)
	return pinned.Clone(), nil
}

// Buffer appends a write's update payload for id. Only SnapshotIsolation
// handles may write.
func (h *Handle) Buffer(id ids.ObjectID, payload interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Pending {
		return scouterr.ErrIllegalState
	}
	if h.isolation == RepeatableRead {
		return scouterr.ErrUnsupported
	}

	g, ok := h.ops[id]
	if !ok {
		g = &opGroup{id: id}
		h.ops[id] = g
		h.order = append(h.order, id)
	}
	g.ops = append(g.ops, payload)
	return nil
}

// PendingOpsFor returns a copy of the buffered update payloads for id, in
// issue order — used to fold a transaction's own writes on top of a cached
// snapshot so a later read within the same transaction sees them.
func (h *Handle) PendingOpsFor(id ids.ObjectID) []interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.ops[id]
	if !ok {
		return nil
	}
	out := make([]interface{}, len(g.ops))
	copy(out, g.ops)
	return out
}

// WrittenObjects returns the ids touched by a write, in first-write order.
func (h *Handle) WrittenObjects() []ids.ObjectID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ids.ObjectID, len(h.order))
	copy(out, h.order)
	return out
}

// IsReadOnly reports whether the transaction has buffered no writes.
func (h *Handle) IsReadOnly() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order) == 0
}

// MarkCommittedLocal transitions a pending transaction to COMMITTED_LOCAL,
// after its writes have been applied to the scout's cache and dispatched to
// the committer.
func (h *Handle) MarkCommittedLocal() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Pending {
		return scouterr.ErrIllegalState
	}
	h.state = CommittedLocal
	return nil
}

// MarkCommittedGlobal transitions a locally-committed transaction to
// COMMITTED_GLOBAL once the store has durably accepted every write.
func (h *Handle) MarkCommittedGlobal() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != CommittedLocal {
		return scouterr.ErrIllegalState
	}
	h.state = CommittedGlobal
	return nil
}

// Cancel discards a still-pending transaction. A transaction that has
// already committed locally cannot be cancelled.
func (h *Handle) Cancel() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Pending {
		return scouterr.ErrIllegalState
	}
	h.state = Cancelled
	return nil
}
