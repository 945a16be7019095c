package scout

import (
	"sync"

	"github.com/seasidesky/swiftscout/internal/clock"
	"github.com/seasidesky/swiftscout/internal/ids"
	"github.com/seasidesky/swiftscout/internal/tsid"
	"github.com/seasidesky/swiftscout/internal/txn"
)

// Txn is the session-facing transaction handle returned by BeginTxn: a
// thin wrapper around txn.Handle that additionally tracks which objects
// this transaction is holding eviction protection for, so Commit/Discard
// can release exactly what Get acquired.
type Txn struct {
	handle      *txn.Handle
	mapping     *tsid.Mapping
	cachePolicy CachePolicy
	readOnly    bool
	scout       *Scout

	mu        sync.Mutex
	protected map[ids.ObjectID]struct{}
}

// SessionID returns the session this transaction was opened under.
func (t *Txn) SessionID() string { return t.handle.SessionID() }

// Isolation returns the transaction's isolation level.
func (t *Txn) Isolation() txn.Isolation { return t.handle.Isolation() }

// Timestamp returns the transaction's client-issued timestamp.
func (t *Txn) Timestamp() clock.Timestamp { return t.handle.Timestamp() }

// State returns the transaction's current lifecycle state.
func (t *Txn) State() txn.State { return t.handle.State() }

// protect records that id's cache entry is being held open for this
// transaction and reports whether this is the first time the transaction
// has protected it. The cache itself is refcounted per protection call
// (Cache.Protect/RemoveProtection), so a caller must only protect an id
// once per transaction regardless of how many times the transaction reads
// it — otherwise the one RemoveProtection issued at finish time leaves the
// cache's refcount stuck above zero, pinning the entry forever.
func (t *Txn) protect(id ids.ObjectID) (first bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.protected == nil {
		t.protected = make(map[ids.ObjectID]struct{})
	}
	if _, ok := t.protected[id]; ok {
		return false
	}
	t.protected[id] = struct{}{}
	return true
}

// protectedIDs returns every object id this transaction protected via Get.
func (t *Txn) protectedIDs() map[ids.ObjectID]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.protected
}
