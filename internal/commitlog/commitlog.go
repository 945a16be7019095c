// Package commitlog implements the scout's optional durable client-side
// commit log (spec.md §6 "Persisted state"): one record per
// locally-committed transaction, appended before the scout returns from
// Commit, so a restarted scout can replay its own history and rebuild
// lastLocallyCommittedTxnClock before any session is allowed to open a
// transaction — without this, a scout that crashed between a local and a
// global commit could otherwise reissue a client-timestamp it had already
// used.
//
// Grounded on the teacher's internal/wal package (bundoc/internal/wal):
// the same length-prefixed, CRC32-checked record framing, with a header
// laid out by hand the way wal.Record.Encode/Decode do, trading the
// teacher's segment rotation and LSN machinery (unneeded here — a commit
// log has no checkpoint/compaction story of its own; the scout prunes its
// own clocks, not this log) for a single append-only file.
package commitlog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"os"
	"sync"

	"github.com/seasidesky/swiftscout/internal/clock"
	"github.com/seasidesky/swiftscout/internal/ids"
)

// Write is one object's payload within a logged transaction.
type Write struct {
	ID      ids.ObjectID
	Payload []byte
}

// Entry is one locally-committed transaction as recorded in the log, at
// the point it is known to have committed locally: SystemTimestamps is
// typically empty at append time (the global commit outcome arrives
// later, asynchronously); RebuildDependencyClock reconstructs
// lastLocallyCommittedTxnClock from each transaction's own
// client-timestamp and dependency-clock, plus any system timestamps a
// record does carry.
type Entry struct {
	ClientTimestamp  clock.Timestamp
	DependencyClock  *clock.Clock
	SystemTimestamps []clock.Timestamp
	Writes           []Write
	Dummy            bool
}

func init() {
	gob.Register(Entry{})
}

// recordHeaderSize is length(4) + crc32(4).
const recordHeaderSize = 8

// Log is an append-only sequence of Entry records backed by one file.
type Log struct {
	mu            sync.Mutex
	file          *os.File
	w             *bufio.Writer
	flushOnCommit bool
}

// Open creates or reopens the commit log at path for appending. When
// flushOnCommit is true, Append fsyncs after every record; otherwise the
// caller (or a periodic timer) must call Flush explicitly.
func Open(path string, flushOnCommit bool) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("commitlog: opening %s: %w", path, err)
	}
	return &Log{
		file:          f,
		w:             bufio.NewWriter(f),
		flushOnCommit: flushOnCommit,
	}, nil
}

// encode serializes an entry into the on-disk record shape: a 4-byte
// little-endian length, a 4-byte CRC32 of the gob body, then the body
// itself — the same header-then-payload order as the teacher's
// wal.Record.Encode, minus the fields (LSN, TxnID, fixed-width Key/Value)
// that only make sense for the teacher's document WAL.
func encode(e Entry) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(e); err != nil {
		return nil, err
	}
	payload := body.Bytes()

	buf := make([]byte, recordHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(payload))
	copy(buf[recordHeaderSize:], payload)
	return buf, nil
}

// Append writes e to the log, flushing the buffered writer (and, if
// flushOnCommit is set, fsyncing the file) before returning.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf, err := encode(e)
	if err != nil {
		return err
	}
	if _, err := l.w.Write(buf); err != nil {
		return fmt.Errorf("commitlog: append: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("commitlog: flush buffer: %w", err)
	}
	if l.flushOnCommit {
		return l.file.Sync()
	}
	return nil
}

// Flush fsyncs the log to disk. Safe to call even when flushOnCommit is
// true (Append has already synced, so this is a harmless no-op cost).
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// Replay reads every record in the log at path, in append order. A torn
// trailing record — a crash mid-write of the header or body of the last
// append — ends replay at the last complete record rather than failing
// outright, the same tolerance the teacher's segment reader has for a
// partially written tail. A CRC mismatch on a complete-length record,
// which points at corruption rather than an interrupted write, is a hard
// error.
func Replay(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("commitlog: opening %s for replay: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var entries []Entry
	for {
		header := make([]byte, recordHeaderSize)
		if _, err := readFull(r, header); err != nil {
			return entries, nil
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		wantCRC := binary.LittleEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		if _, err := readFull(r, payload); err != nil {
			return entries, nil
		}
		if gotCRC := crc32.ChecksumIEEE(payload); gotCRC != wantCRC {
			return entries, fmt.Errorf("commitlog: CRC mismatch decoding record %d, stopping replay", len(entries))
		}

		var e Entry
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&e); err != nil {
			return entries, fmt.Errorf("commitlog: decoding record %d: %w", len(entries), err)
		}
		entries = append(entries, e)
	}
}

// readFull reads exactly len(buf) bytes, or reports an error the moment
// the stream runs dry, whether that happens on the first byte (a clean
// end-of-log) or partway through (a torn write) — Replay treats either
// the same way, as the end of readable history.
func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// RebuildDependencyClock folds every entry's client-timestamp,
// dependency-clock and system timestamps into one clock, for use as the scout's
// lastLocallyCommittedTxnClock immediately after replay.
func RebuildDependencyClock(entries []Entry) *clock.Clock {
	c := clock.New()
	for _, e := range entries {
		c.Record(e.ClientTimestamp)
		if e.DependencyClock != nil {
			c.Merge(e.DependencyClock)
		}
		for _, ts := range e.SystemTimestamps {
			c.Record(ts)
		}
	}
	return c
}
