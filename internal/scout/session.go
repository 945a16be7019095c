package scout

import (
	"context"

	"github.com/seasidesky/swiftscout/internal/clock"
	"github.com/seasidesky/swiftscout/internal/crdt"
	"github.com/seasidesky/swiftscout/internal/ids"
	"github.com/seasidesky/swiftscout/internal/txn"
)

// Session is the thin, consumer-facing handle spec.md §6 names
// SwiftSession: a session id plus the scout it was opened against. It
// carries no state of its own beyond that — every transaction it opens is
// independent, and concurrency across sessions is arbitrated entirely by
// the scout's own coarse lock.
type Session struct {
	id    string
	scout *Scout
}

// NewSession returns a session identified by sessionID, talking to s.
// Mirrors spec.md §6's newSession(sessionId) -> SwiftSession.
func (s *Scout) NewSession(sessionID string) *Session {
	return &Session{id: sessionID, scout: s}
}

// ID returns the session's own id.
func (sess *Session) ID() string { return sess.id }

// BeginTxn opens a transaction handle under this session. Mirrors
// spec.md §6's beginTxn(isolation, cachePolicy, readOnly) -> TxnHandle.
func (sess *Session) BeginTxn(ctx context.Context, isolation txn.Isolation, policy CachePolicy, readOnly bool) (*TxnHandle, error) {
	t, err := sess.scout.BeginTxn(ctx, sess.id, isolation, policy, readOnly)
	if err != nil {
		return nil, err
	}
	return &TxnHandle{txn: t, session: sess}, nil
}

// TxnHandle is the application-visible transaction object spec.md §6
// describes: get/put/commit/rollback/getStatus layered over the scout's
// internal *Txn and the scout core's Get/Put/Commit/Discard operations.
type TxnHandle struct {
	txn     *Txn
	session *Session
}

// Get reads id, optionally creating it if absent, optionally registering
// listener to fire at most once when a strictly newer globally-committed
// update appears. Mirrors spec.md §6's get(id, createIfMissing, version?, listener?);
// the "version?" parameter is the handle's own fixed read clock (SI:
// snapshot-clock, RR: first-access-pinned clock) and is never supplied by
// the caller directly.
func (h *TxnHandle) Get(ctx context.Context, id ids.ObjectID, createIfMissing bool, listener func()) (crdt.Value, error) {
	return h.session.scout.Get(ctx, h.txn, id, createIfMissing, listener)
}

// Put buffers operation as a write to id within this transaction.
func (h *TxnHandle) Put(id ids.ObjectID, operation interface{}) error {
	return h.session.scout.Put(h.txn, id, operation)
}

// Commit finalizes the transaction.
func (h *TxnHandle) Commit(ctx context.Context) error {
	return h.session.scout.Commit(ctx, h.txn)
}

// Rollback discards the transaction. Mirrors spec.md §6's rollback(),
// named Discard on the scout core.
func (h *TxnHandle) Rollback(ctx context.Context) error {
	return h.session.scout.Discard(ctx, h.txn)
}

// GetStatus reports the transaction's current lifecycle state.
func (h *TxnHandle) GetStatus() txn.State {
	return h.txn.State()
}

// Timestamp returns the transaction's client-issued timestamp.
func (h *TxnHandle) Timestamp() clock.Timestamp {
	return h.txn.Timestamp()
}

// Isolation returns the transaction's isolation level.
func (h *TxnHandle) Isolation() txn.Isolation {
	return h.txn.Isolation()
}
