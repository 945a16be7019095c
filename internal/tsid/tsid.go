// Package tsid implements the scout's timestamp source (C2): a strictly
// increasing per-scout counter, plus the timestamp-mapping that ties one
// client-issued timestamp to the system timestamps the store eventually
// assigns it. Grounded on the teacher's MVCC.NextTxID monotonic counter
// (internal/docdb/mvcc.go), extended with the ability to give a timestamp
// back when a transaction turns out not to need one.
package tsid

import (
	"sync"

	"github.com/seasidesky/swiftscout/internal/clock"
)

// Source issues strictly increasing counters scoped to one scout id.
type Source struct {
	mu         sync.Mutex
	scoutID    string
	counter    uint64
	lastIssued uint64
}

// NewSource creates a timestamp source for the given scout id, starting
// counters at 1.
func NewSource(scoutID string) *Source {
	return &Source{scoutID: scoutID}
}

// GenerateNew issues the next client-timestamp.
func (s *Source) GenerateNew() clock.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	s.lastIssued = s.counter
	return clock.Timestamp{Source: s.scoutID, Counter: s.counter}
}

// ReturnLastTimestamp decrements the counter iff ts is still the most
// recently issued value (nothing has been generated since). This is how a
// discarded read-only transaction, or a transaction cancelled before any
// write, avoids leaving a permanent hole in the scout's own vector clock
// entry. It reports whether the counter was actually returned.
func (s *Source) ReturnLastTimestamp(ts clock.Timestamp) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts.Source != s.scoutID || ts.Counter != s.lastIssued || ts.Counter != s.counter {
		return false
	}
	s.counter--
	s.lastIssued--
	return true
}

// Current returns the most recently issued counter value without
// generating a new one.
func (s *Source) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// ScoutID returns the source's scout id.
func (s *Source) ScoutID() string {
	return s.scoutID
}

// Mapping ties one client-side timestamp to zero or more system
// timestamps assigned by the store across retries. Once a system
// timestamp is attached it is never removed.
type Mapping struct {
	mu       sync.Mutex
	client   clock.Timestamp
	systemTs []clock.Timestamp
}

// NewMapping creates a mapping for a freshly issued client-timestamp.
func NewMapping(client clock.Timestamp) *Mapping {
	return &Mapping{client: client}
}

// Client returns the client-side timestamp.
func (m *Mapping) Client() clock.Timestamp {
	return m.client
}

// AppendSystem records a system timestamp assigned to this mapping. It is
// idempotent: appending the same timestamp twice has no extra effect.
func (m *Mapping) AppendSystem(ts clock.Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.systemTs {
		if existing == ts {
			return
		}
	}
	m.systemTs = append(m.systemTs, ts)
}

// SystemTimestamps returns a copy of the system timestamps bound so far.
func (m *Mapping) SystemTimestamps() []clock.Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]clock.Timestamp, len(m.systemTs))
	copy(out, m.systemTs)
	return out
}

// AnyTimestampIncluded reports whether the client-timestamp or any bound
// system timestamp is included in c.
func (m *Mapping) AnyTimestampIncluded(c *clock.Clock) bool {
	if c.Includes(m.client) {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ts := range m.systemTs {
		if c.Includes(ts) {
			return true
		}
	}
	return false
}

// HasSystemTimestamp reports whether the store has bound at least one
// system timestamp to this mapping (i.e. the transaction it belongs to
// has globally committed at least once).
func (m *Mapping) HasSystemTimestamp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.systemTs) > 0
}
