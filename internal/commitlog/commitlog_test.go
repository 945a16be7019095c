package commitlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/seasidesky/swiftscout/internal/clock"
	"github.com/seasidesky/swiftscout/internal/ids"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "commit.log")

	log, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	dep := clock.New()
	dep.Record(clock.Timestamp{Source: "other", Counter: 3})

	entry1 := Entry{
		ClientTimestamp: clock.Timestamp{Source: "scout1", Counter: 1},
		DependencyClock: dep,
		Writes: []Write{
			{ID: ids.ObjectID{Table: "accounts", Key: "a1", TypeTag: "counter"}, Payload: []byte("payload1")},
		},
	}
	entry2 := Entry{
		ClientTimestamp: clock.Timestamp{Source: "scout1", Counter: 2},
		DependencyClock: clock.New(),
		Dummy:           true,
	}

	if err := log.Append(entry1); err != nil {
		t.Fatalf("Append entry1: %v", err)
	}
	if err := log.Append(entry2); err != nil {
		t.Fatalf("Append entry2: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ClientTimestamp != entry1.ClientTimestamp {
		t.Errorf("entry1 client timestamp mismatch: got %v", entries[0].ClientTimestamp)
	}
	if len(entries[0].Writes) != 1 || string(entries[0].Writes[0].Payload) != "payload1" {
		t.Errorf("entry1 writes mismatch: got %+v", entries[0].Writes)
	}
	if !entries[1].Dummy {
		t.Errorf("entry2 expected Dummy=true")
	}
}

func TestReplayMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	entries, err := Replay(filepath.Join(dir, "does-not-exist.log"))
	if err != nil {
		t.Fatalf("Replay of missing file: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestReplayAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "commit.log")

	log, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 1; i <= 5; i++ {
		e := Entry{
			ClientTimestamp: clock.Timestamp{Source: "scout1", Counter: uint64(i)},
			DependencyClock: clock.New(),
		}
		if err := log.Append(e); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}

	rebuilt := RebuildDependencyClock(entries)
	for i := 1; i <= 5; i++ {
		ts := clock.Timestamp{Source: "scout1", Counter: uint64(i)}
		if !rebuilt.Includes(ts) {
			t.Errorf("rebuilt clock missing %v", ts)
		}
	}
}

func TestTruncatedTrailingRecordStopsReplayWithoutError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "commit.log")

	log, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	good := Entry{ClientTimestamp: clock.Timestamp{Source: "scout1", Counter: 1}, DependencyClock: clock.New()}
	if err := log.Append(good); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("reopen for corruption: %v", err)
	}
	if _, err := f.Write([]byte{0x01, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF}); err != nil {
		t.Fatalf("writing torn header: %v", err)
	}
	f.Close()

	entries, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay should tolerate a torn trailing record: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the one complete entry, got %d", len(entries))
	}
}
