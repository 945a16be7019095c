package crdt

import (
	"testing"

	"github.com/seasidesky/swiftscout/internal/clock"
	"github.com/seasidesky/swiftscout/internal/ids"
	"github.com/seasidesky/swiftscout/internal/scouterr"
)

func testID() ids.ObjectID {
	return ids.ObjectID{Table: "accounts", Key: "alice", TypeTag: "counter"}
}

func TestExecuteAppliesAndRecords(t *testing.T) {
	m := NewManaged(testID(), NewCounter())
	ts := clock.Timestamp{Source: "scout-1", Counter: 1}

	applied, err := m.Execute(ts, CounterOp{Source: "scout-1", Delta: 5}, CheckDependencies)
	if err != nil || !applied {
		t.Fatalf("expected update to apply cleanly, got applied=%v err=%v", applied, err)
	}
	if !m.Clock().Includes(ts) {
		t.Fatal("clock must include the applied timestamp")
	}

	snap := m.Snapshot().(*Counter)
	if snap.Value() != 5 {
		t.Fatalf("expected counter value 5, got %d", snap.Value())
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	m := NewManaged(testID(), NewCounter())
	ts := clock.Timestamp{Source: "scout-1", Counter: 1}

	m.Execute(ts, CounterOp{Source: "scout-1", Delta: 5}, CheckDependencies)
	applied, err := m.Execute(ts, CounterOp{Source: "scout-1", Delta: 5}, CheckDependencies)
	if err != nil || applied {
		t.Fatalf("re-applying a known timestamp must be a silent no-op, got applied=%v err=%v", applied, err)
	}
}

func TestExecuteChecksCausalGap(t *testing.T) {
	m := NewManaged(testID(), NewCounter())
	ts2 := clock.Timestamp{Source: "scout-1", Counter: 2}

	_, err := m.Execute(ts2, CounterOp{Source: "scout-1", Delta: 1}, CheckDependencies)
	if err != scouterr.ErrCausalGap {
		t.Fatalf("expected ErrCausalGap for out-of-order same-source update, got %v", err)
	}

	_, err = m.Execute(ts2, CounterOp{Source: "scout-1", Delta: 1}, IgnoreDependencies)
	if err != nil {
		t.Fatalf("IgnoreDependencies must accept an out-of-order update, got %v", err)
	}
}

func TestGetVersionBoundsByPruneClockAndClock(t *testing.T) {
	m := NewManaged(testID(), NewCounter())
	ts1 := clock.Timestamp{Source: "scout-1", Counter: 1}
	ts2 := clock.Timestamp{Source: "scout-1", Counter: 2}
	m.Execute(ts1, CounterOp{Source: "scout-1", Delta: 1}, CheckDependencies)
	m.Execute(ts2, CounterOp{Source: "scout-1", Delta: 1}, CheckDependencies)

	q := clock.New()
	q.Record(ts1)
	v, err := m.GetVersion(q)
	if err != nil {
		t.Fatalf("unexpected error reading version at ts1: %v", err)
	}
	if got := v.(*Counter).Value(); got != 1 {
		t.Fatalf("expected snapshot at ts1 to read 1, got %d", got)
	}

	beyond := clock.New()
	beyond.Record(clock.Timestamp{Source: "scout-1", Counter: 99})
	if _, err := m.GetVersion(beyond); err != scouterr.ErrVersionNotFound {
		t.Fatalf("expected ErrVersionNotFound reading beyond clock, got %v", err)
	}
}

func TestPruneCollapsesHistoryAndAdvancesPruneClock(t *testing.T) {
	m := NewManaged(testID(), NewCounter())
	ts1 := clock.Timestamp{Source: "scout-1", Counter: 1}
	ts2 := clock.Timestamp{Source: "scout-1", Counter: 2}
	m.Execute(ts1, CounterOp{Source: "scout-1", Delta: 3}, CheckDependencies)
	m.Execute(ts2, CounterOp{Source: "scout-1", Delta: 4}, CheckDependencies)

	point := clock.New()
	point.Record(ts1)
	if err := m.Prune(point); err != nil {
		t.Fatalf("unexpected prune error: %v", err)
	}
	if cmp := m.PruneClock().CompareTo(point); cmp != clock.Equal {
		t.Fatal("prune-clock must advance to exactly the pruned point")
	}

	// Reading strictly below the prune-clock is no longer possible: the
	// update at ts1 is not separable from the base any more.
	if _, err := m.GetVersion(clock.New()); err != scouterr.ErrVersionNotFound {
		t.Fatalf("expected ErrVersionNotFound for a snapshot below prune-clock, got %v", err)
	}
	// But the full clock is still readable and the total is preserved.
	full := m.Clock()
	v, err := m.GetVersion(full)
	if err != nil {
		t.Fatalf("unexpected error reading at full clock after prune: %v", err)
	}
	if got := v.(*Counter).Value(); got != 7 {
		t.Fatalf("expected total 7 after prune, got %d", got)
	}
}

func TestPruneRejectsUnknownPoint(t *testing.T) {
	m := NewManaged(testID(), NewCounter())
	point := clock.New()
	point.Record(clock.Timestamp{Source: "scout-1", Counter: 5})
	if err := m.Prune(point); err != scouterr.ErrPruneBelowRange {
		t.Fatalf("expected ErrPruneBelowRange pruning beyond known clock, got %v", err)
	}
}

func TestMergeRequiresPruneClockOverlap(t *testing.T) {
	a := NewManaged(testID(), NewCounter())
	b := NewManaged(testID(), NewCounter())

	a.Execute(clock.Timestamp{Source: "s1", Counter: 1}, CounterOp{Source: "s1", Delta: 1}, CheckDependencies)
	aPoint := clock.New()
	aPoint.Record(clock.Timestamp{Source: "s1", Counter: 1})
	a.Prune(aPoint)

	b.Execute(clock.Timestamp{Source: "s2", Counter: 1}, CounterOp{Source: "s2", Delta: 1}, CheckDependencies)
	bPoint := clock.New()
	bPoint.Record(clock.Timestamp{Source: "s2", Counter: 1})
	b.Prune(bPoint)

	if err := a.Merge(b); err != scouterr.ErrMergeDisjoint {
		t.Fatalf("expected ErrMergeDisjoint merging unrelated pruned replicas, got %v", err)
	}
}

func TestMergeCombinesHistoriesFromBootstrapReplicas(t *testing.T) {
	a := NewManaged(testID(), NewCounter())
	b := NewManaged(testID(), NewCounter())

	a.Execute(clock.Timestamp{Source: "s1", Counter: 1}, CounterOp{Source: "s1", Delta: 3}, CheckDependencies)
	b.Execute(clock.Timestamp{Source: "s2", Counter: 1}, CounterOp{Source: "s2", Delta: 4}, CheckDependencies)

	if err := a.Merge(b); err != nil {
		t.Fatalf("unexpected merge error between two never-pruned replicas: %v", err)
	}
	snap := a.Snapshot().(*Counter)
	if snap.Value() != 7 {
		t.Fatalf("expected merged value 7, got %d", snap.Value())
	}
}

func TestGetUpdatesTimestampMappingsSince(t *testing.T) {
	m := NewManaged(testID(), NewCounter())
	ts1 := clock.Timestamp{Source: "s1", Counter: 1}
	ts2 := clock.Timestamp{Source: "s1", Counter: 2}
	m.Execute(ts1, CounterOp{Source: "s1", Delta: 1}, CheckDependencies)
	m.Execute(ts2, CounterOp{Source: "s1", Delta: 1}, CheckDependencies)

	q := clock.New()
	q.Record(ts1)
	missing, err := m.GetUpdatesTimestampMappingsSince(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(missing) != 1 || missing[0] != ts2 {
		t.Fatalf("expected exactly [ts2] missing, got %v", missing)
	}
}

func TestAugmentWithScoutTimestampWidensClockOnly(t *testing.T) {
	m := NewManaged(testID(), NewCounter())
	ts := clock.Timestamp{Source: "s1", Counter: 1}
	m.AugmentWithScoutTimestamp(ts)

	if !m.Clock().Includes(ts) {
		t.Fatal("clock must include the augmented timestamp")
	}
	snap := m.Snapshot().(*Counter)
	if snap.Value() != 0 {
		t.Fatalf("augmenting must not change the value, got %d", snap.Value())
	}
}

func TestCounterMergeIsCommutativeAndIdempotent(t *testing.T) {
	a := NewCounter()
	a.Apply(CounterOp{Source: "s1", Delta: 5})
	a.Apply(CounterOp{Source: "s2", Delta: -2})

	b := NewCounter()
	b.Apply(CounterOp{Source: "s1", Delta: 5})
	b.Apply(CounterOp{Source: "s3", Delta: 10})

	ab := a.Copy().(*Counter)
	ab.Merge(b)
	ba := b.Copy().(*Counter)
	ba.Merge(a)

	if ab.Value() != ba.Value() {
		t.Fatalf("merge must be commutative: a.Merge(b)=%d b.Merge(a)=%d", ab.Value(), ba.Value())
	}

	again := ab.Copy().(*Counter)
	again.Merge(b)
	if again.Value() != ab.Value() {
		t.Fatal("merge must be idempotent")
	}
}

func TestLWWRegisterHigherPriorityWins(t *testing.T) {
	r := NewLWWRegister()
	r.Apply(RegisterOp{Priority: 1, Source: "s1", Value: "first"})
	r.Apply(RegisterOp{Priority: 2, Source: "s2", Value: "second"})
	r.Apply(RegisterOp{Priority: 1, Source: "s3", Value: "stale"})

	v, set := r.Get()
	if !set || v != "second" {
		t.Fatalf("expected highest-priority write to win, got %v (set=%v)", v, set)
	}
}

func TestLWWRegisterTieBreaksOnSource(t *testing.T) {
	a := NewLWWRegister()
	a.Apply(RegisterOp{Priority: 1, Source: "a", Value: "from-a"})
	b := NewLWWRegister()
	b.Apply(RegisterOp{Priority: 1, Source: "z", Value: "from-z"})

	merged := a.Copy().(*LWWRegister)
	merged.Merge(b)
	v, _ := merged.Get()
	if v != "from-z" {
		t.Fatalf("tie-break on source should favor the lexicographically greater source, got %v", v)
	}
}
