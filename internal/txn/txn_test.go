package txn

import (
	"testing"

	"github.com/seasidesky/swiftscout/internal/clock"
	"github.com/seasidesky/swiftscout/internal/ids"
	"github.com/seasidesky/swiftscout/internal/scouterr"
)

func testID() ids.ObjectID {
	return ids.ObjectID{Table: "t", Key: "k", TypeTag: "counter"}
}

func TestNewHandleStartsPending(t *testing.T) {
	snap := clock.New()
	h := New("sess-1", SnapshotIsolation, clock.Timestamp{Source: "sess-1", Counter: 1}, snap)
	if h.State() != Pending {
		t.Fatalf("expected Pending, got %s", h.State())
	}
	if !h.IsReadOnly() {
		t.Fatal("a freshly created handle must be read-only")
	}
}

func TestBufferRejectedForRepeatableRead(t *testing.T) {
	h := New("sess-1", RepeatableRead, clock.Timestamp{Source: "sess-1", Counter: 1}, clock.New())
	if err := h.Buffer(testID(), "payload"); err != scouterr.ErrUnsupported {
		t.Fatalf("expected ErrUnsupported buffering a write on a RepeatableRead handle, got %v", err)
	}
}

func TestBufferAccumulatesOpsInOrder(t *testing.T) {
	h := New("sess-1", SnapshotIsolation, clock.Timestamp{Source: "sess-1", Counter: 1}, clock.New())
	h.Buffer(testID(), 1)
	h.Buffer(testID(), 2)

	ops := h.PendingOpsFor(testID())
	if len(ops) != 2 || ops[0] != 1 || ops[1] != 2 {
		t.Fatalf("expected buffered ops [1,2], got %v", ops)
	}
	if h.IsReadOnly() {
		t.Fatal("a handle with buffered writes is not read-only")
	}
}

func TestRecordReadPinsClockForRepeatableRead(t *testing.T) {
	h := New("sess-1", RepeatableRead, clock.Timestamp{Source: "sess-1", Counter: 1}, clock.New())
	id := testID()

	first := clock.New()
	first.Record(clock.Timestamp{Source: "dc1", Counter: 1})
	pinned, err := h.RecordRead(id, first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := clock.New()
	second.Record(clock.Timestamp{Source: "dc1", Counter: 2})
	again, err := h.RecordRead(id, second)
	if err != nil {
		t.Fatalf("unexpected error on repeated read: %v", err)
	}
	if again.CompareTo(pinned) != clock.Equal {
		t.Fatal("a repeated read of the same object must return the originally pinned clock")
	}
}

func TestDependencyClockAccumulatesReads(t *testing.T) {
	h := New("sess-1", SnapshotIsolation, clock.Timestamp{Source: "sess-1", Counter: 1}, clock.New())
	asOf := clock.New()
	asOf.Record(clock.Timestamp{Source: "dc1", Counter: 3})
	h.RecordRead(testID(), asOf)

	deps := h.DependencyClock()
	if !deps.Includes(clock.Timestamp{Source: "dc1", Counter: 3}) {
		t.Fatal("dependency clock must include the clock used to answer a read")
	}
}

func TestStateMachineTransitions(t *testing.T) {
	h := New("sess-1", SnapshotIsolation, clock.Timestamp{Source: "sess-1", Counter: 1}, clock.New())

	if err := h.MarkCommittedGlobal(); err != scouterr.ErrIllegalState {
		t.Fatalf("cannot go straight to COMMITTED_GLOBAL, got %v", err)
	}
	if err := h.MarkCommittedLocal(); err != nil {
		t.Fatalf("unexpected error committing locally: %v", err)
	}
	if h.State() != CommittedLocal {
		t.Fatalf("expected CommittedLocal, got %s", h.State())
	}
	if err := h.Cancel(); err != scouterr.ErrIllegalState {
		t.Fatalf("cannot cancel after local commit, got %v", err)
	}
	if err := h.MarkCommittedGlobal(); err != nil {
		t.Fatalf("unexpected error committing globally: %v", err)
	}
	if h.State() != CommittedGlobal {
		t.Fatalf("expected CommittedGlobal, got %s", h.State())
	}
}

func TestCancelFromPending(t *testing.T) {
	h := New("sess-1", SnapshotIsolation, clock.Timestamp{Source: "sess-1", Counter: 1}, clock.New())
	if err := h.Cancel(); err != nil {
		t.Fatalf("unexpected error cancelling a pending handle: %v", err)
	}
	if h.State() != Cancelled {
		t.Fatalf("expected Cancelled, got %s", h.State())
	}
	if err := h.Buffer(testID(), 1); err != scouterr.ErrIllegalState {
		t.Fatalf("buffering on a cancelled handle must fail, got %v", err)
	}
}

func TestWrittenObjectsPreservesFirstWriteOrder(t *testing.T) {
	h := New("sess-1", SnapshotIsolation, clock.Timestamp{Source: "sess-1", Counter: 1}, clock.New())
	idA := ids.ObjectID{Table: "t", Key: "a", TypeTag: "counter"}
	idB := ids.ObjectID{Table: "t", Key: "b", TypeTag: "counter"}

	h.Buffer(idB, 1)
	h.Buffer(idA, 1)
	h.Buffer(idB, 2)

	got := h.WrittenObjects()
	if len(got) != 2 || got[0] != idB || got[1] != idA {
		t.Fatalf("expected [idB, idA] in first-write order, got %v", got)
	}
}
