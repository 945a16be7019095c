// Package crdt implements the managed CRDT wrapper (C3): a value trait any
// concrete conflict-free replicated type must satisfy, plus the Managed
// object that pairs such a value with its causal clock and prune-clock and
// knows how to execute updates, answer snapshot reads at an arbitrary past
// clock, merge two independently-fetched copies, and report which updates a
// caller is still missing.
//
// Grounded on the teacher's internal/docdb/mvcc.go, which bounds a row's
// visible versions by transaction id the same way Managed bounds a CRDT's
// visible state by clock; the polymorphic Value trait itself replaces what
// spec.md's source system models as a deep class hierarchy per spec.md §9.
package crdt

import (
	"sync"

	"github.com/seasidesky/swiftscout/internal/clock"
	"github.com/seasidesky/swiftscout/internal/ids"
	"github.com/seasidesky/swiftscout/internal/scouterr"
)

// DependencyPolicy controls how strictly Execute checks that an update's
// causal predecessors are already reflected before applying it.
type DependencyPolicy int

const (
	// CheckDependencies refuses an update whose same-source predecessor
	// counter is missing.
	CheckDependencies DependencyPolicy = iota
	// IgnoreDependencies applies the update regardless of ordering; used
	// where delivery order is not guaranteed to match causal order (pushed
	// notifications, fetch replies).
	IgnoreDependencies
	// RecordBlindly applies and records the update without the predecessor
	// check, exactly as IgnoreDependencies does (an already-recorded
	// timestamp is still skipped); used when splicing a locally-committed
	// update whose dependencies are trivially satisfied (it was just issued
	// by this same scout).
	RecordBlindly
)

// Value is the generic CRDT trait. A concrete type (Counter, LWWRegister,
// ...) only needs to know how to apply one of its own update payloads, copy
// itself and merge two independently-derived replicas of itself — Managed
// supplies everything clock- and history-related on top.
type Value interface {
	// Apply mutates the receiver by applying payload, which must be a
	// value of the concrete type's own update-payload type.
	Apply(payload interface{}) error
	// Copy returns a deep copy.
	Copy() Value
	// Merge folds other's state into the receiver. Both sides must be
	// the same concrete type. Merge must be commutative, associative and
	// idempotent — the CRDT merge contract.
	Merge(other Value) error
	// TypeTag names the concrete CRDT type, stored alongside the object
	// id so a cache miss can be diagnosed as ErrWrongType rather than a
	// silent miscast.
	TypeTag() string
}

// update is one applied operation, recorded so Managed can replay a subset
// of its history to answer a snapshot read at an older clock.
type update struct {
	Timestamp clock.Timestamp
	Payload   interface{}
}

// Managed wraps one CRDT object with the bookkeeping spec.md §4.3
// describes: a base snapshot, the updates layered on top of it since the
// last prune, the clock of everything it has seen, the prune-clock up to
// which individual updates have been irreversibly collapsed into the base,
// and whether the store considers this object registered (i.e. has ever
// been durably created).
type Managed struct {
	mu         sync.RWMutex
	id         ids.ObjectID
	base       Value
	clock      *clock.Clock
	pruneClock *clock.Clock
	history    []update
	registered bool
}

// NewManaged creates a managed CRDT wrapper around an empty concrete value.
func NewManaged(id ids.ObjectID, empty Value) *Managed {
	return &Managed{
		id:         id,
		base:       empty,
		clock:      clock.New(),
		pruneClock: clock.New(),
	}
}

// ID returns the object's identifier.
func (m *Managed) ID() ids.ObjectID {
	return m.id
}

// TypeTag returns the concrete CRDT's type tag.
func (m *Managed) TypeTag() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.base.TypeTag()
}

// Registered reports whether the store has ever durably created this
// object.
func (m *Managed) Registered() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registered
}

// MarkRegistered flips the registered-in-store flag.
func (m *Managed) MarkRegistered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = true
}

// Clock returns a clone of the object's current clock.
func (m *Managed) Clock() *clock.Clock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clock.Clone()
}

// PruneClock returns a clone of the object's current prune-clock.
func (m *Managed) PruneClock() *clock.Clock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pruneClock.Clone()
}

// Execute applies one update at timestamp ts, subject to the given
// dependency policy. It reports whether the update was newly applied (false
// both when it was already known and when CheckDependencies rejected it).
func (m *Managed) Execute(ts clock.Timestamp, payload interface{}, policy DependencyPolicy) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.clock.Includes(ts) {
		return false, nil
	}

	if policy == CheckDependencies && ts.Counter > 1 {
		prev := clock.Timestamp{Source: ts.Source, Counter: ts.Counter - 1}
		if !m.clock.Includes(prev) {
			return false, scouterr.ErrCausalGap
		}
	}

	// Validate the payload against a scratch copy before recording it, so
	// a rejected update never partially mutates the base.
	scratch := m.base.Copy()
	if err := scratch.Apply(payload); err != nil {
		return false, err
	}

	m.history = append(m.history, update{Timestamp: ts, Payload: payload})
	m.clock.Record(ts)
	m.registered = true
	return true, nil
}

// ExecuteBatch applies every payload in payloads under the same timestamp
// ts, as a single atomic unit of history: GetVersion only ever reveals
// either all of them or none of them for a given query clock, since they
// share one clock entry. This is how a transaction's whole write-set for
// one object becomes visible together once its single client-timestamp is
// included in a query clock, rather than op-by-op.
func (m *Managed) ExecuteBatch(ts clock.Timestamp, payloads []interface{}, policy DependencyPolicy) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.clock.Includes(ts) {
		return false, nil
	}
	if policy == CheckDependencies && ts.Counter > 1 {
		prev := clock.Timestamp{Source: ts.Source, Counter: ts.Counter - 1}
		if !m.clock.Includes(prev) {
			return false, scouterr.ErrCausalGap
		}
	}

	scratch := m.base.Copy()
	for _, payload := range payloads {
		if err := scratch.Apply(payload); err != nil {
			return false, err
		}
	}

	for _, payload := range payloads {
		m.history = append(m.history, update{Timestamp: ts, Payload: payload})
	}
	m.clock.Record(ts)
	m.registered = true
	return true, nil
}

// Prune collapses every recorded update covered by point into the base
// snapshot, advancing the prune-clock. point must already be included in
// the object's clock (pruning beyond known history is rejected).
func (m *Managed) Prune(point *clock.Clock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmp := point.CompareTo(m.clock)
	if cmp != clock.Dominated && cmp != clock.Equal {
		return scouterr.ErrPruneBelowRange
	}

	remaining := m.history[:0:0]
	for _, u := range m.history {
		if point.Includes(u.Timestamp) {
			if err := m.base.Apply(u.Payload); err != nil {
				return err
			}
			continue
		}
		remaining = append(remaining, u)
	}
	m.history = remaining
	m.pruneClock.Merge(point)
	return nil
}

// GetVersion reconstructs the object's state as of query clock q. q must
// satisfy pruneClock ⊑ q ⊑ clock; outside that window individual updates
// are no longer separable (collapsed into the base) or simply unknown yet.
func (m *Managed) GetVersion(q *clock.Clock) (Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if cmp := m.pruneClock.CompareTo(q); cmp != clock.Dominated && cmp != clock.Equal {
		return nil, scouterr.ErrVersionNotFound
	}
	if cmp := q.CompareTo(m.clock); cmp != clock.Dominated && cmp != clock.Equal {
		return nil, scouterr.ErrVersionNotFound
	}

	v := m.base.Copy()
	for _, u := range m.history {
		if q.Includes(u.Timestamp) {
			if err := v.Apply(u.Payload); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

// Snapshot returns the object's latest known state (GetVersion at the
// object's own clock can never fail, so this is a convenience wrapper).
func (m *Managed) Snapshot() Value {
	v, _ := m.GetVersion(m.Clock())
	return v
}

// Merge folds another independently-fetched copy of the same object into
// the receiver. It requires the two prune-clocks to overlap — either one
// is empty (a freshly cached, never-pruned copy), or their intersection is
// non-empty — because otherwise there is no common baseline the two
// histories can be reconciled against, and the caller must drop its cached
// copy and refetch instead.
func (m *Managed) Merge(other *Managed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	selfEmpty := m.pruneClock.IsEmpty()
	otherEmpty := other.pruneClock.IsEmpty()
	if !selfEmpty && !otherEmpty {
		inter := m.pruneClock.IntersectedWith(other.pruneClock)
		if inter.IsEmpty() {
			return scouterr.ErrMergeDisjoint
		}
	}

	if err := m.base.Merge(other.base); err != nil {
		return err
	}
	for _, u := range other.history {
		if !m.clock.Includes(u.Timestamp) {
			m.history = append(m.history, u)
			m.clock.Record(u.Timestamp)
		}
	}
	m.clock.Merge(other.clock)

	// Whichever side had pruned further already folded those updates into
	// its base, so the base merge above now reflects the union of both
	// prune-clocks, not just the receiver's own. The prune-clock must
	// advance to match, and any history entries that union now covers have
	// to be dropped — they're already accounted for in the merged base,
	// and replaying them again would double them (e.g. a PN-counter's
	// per-source total counted once in base and once more from history).
	m.pruneClock.Merge(other.pruneClock)
	remaining := m.history[:0:0]
	for _, u := range m.history {
		if !m.pruneClock.Includes(u.Timestamp) {
			remaining = append(remaining, u)
		}
	}
	m.history = remaining

	if m.registered || other.registered {
		m.registered = true
	}
	return nil
}

// GetUpdatesTimestampMappingsSince reports the timestamps of updates the
// object has recorded that are not yet covered by q. It fails if q does not
// cover the object's prune-clock, since updates older than that have
// already been collapsed and can no longer be enumerated individually.
func (m *Managed) GetUpdatesTimestampMappingsSince(q *clock.Clock) ([]clock.Timestamp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if cmp := m.pruneClock.CompareTo(q); cmp != clock.Dominated && cmp != clock.Equal {
		return nil, scouterr.ErrVersionNotFound
	}

	var out []clock.Timestamp
	for _, u := range m.history {
		if !q.Includes(u.Timestamp) {
			out = append(out, u.Timestamp)
		}
	}
	return out, nil
}

// AugmentWithDCClockWithoutMappings widens the object's clock with c
// without recording any new individual updates — used when a scout learns
// a datacenter's latest-known-clock and wants to fold that knowledge in
// without being able to enumerate the updates behind it.
func (m *Managed) AugmentWithDCClockWithoutMappings(c *clock.Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock.Merge(c)
}

// AugmentWithScoutTimestamp records a single timestamp into the object's
// clock without an accompanying update payload — used for a local
// read-your-writes entry whose payload already lives in the base via a
// prior Execute call under a different policy.
func (m *Managed) AugmentWithScoutTimestamp(ts clock.Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock.Record(ts)
}
