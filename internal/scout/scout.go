// Package scout implements the scout core (C6): the orchestrator that owns
// the cache, the causal clocks, the committer and the fetch pipeline, and
// exposes the session-facing begin/read/commit/discard operations spec.md
// §4.6 describes. Every other package in this module (clock, tsid, crdt,
// cache, txn, fetch, committer, pubsub, rpc) is a leaf collaborator; this
// is where they are wired together, the same role the teacher's
// internal/docdb.LogicalDB plays for its own sub-managers — one coarse
// mutex over shared state, a handful of background goroutines, and a
// NewX(cfg, logger) constructor.
package scout

import (
	"context"
	"fmt"
	"sync"

	"github.com/seasidesky/swiftscout/internal/cache"
	"github.com/seasidesky/swiftscout/internal/clock"
	"github.com/seasidesky/swiftscout/internal/commitlog"
	"github.com/seasidesky/swiftscout/internal/committer"
	"github.com/seasidesky/swiftscout/internal/config"
	"github.com/seasidesky/swiftscout/internal/crdt"
	"github.com/seasidesky/swiftscout/internal/fetch"
	"github.com/seasidesky/swiftscout/internal/ids"
	"github.com/seasidesky/swiftscout/internal/logger"
	"github.com/seasidesky/swiftscout/internal/metrics"
	"github.com/seasidesky/swiftscout/internal/pubsub"
	"github.com/seasidesky/swiftscout/internal/rpc"
	"github.com/seasidesky/swiftscout/internal/scouterr"
	"github.com/seasidesky/swiftscout/internal/tsid"
	"github.com/seasidesky/swiftscout/internal/txn"
)

// CachePolicy selects how a transaction's reads resolve staleness against
// the local cache (spec.md §6).
type CachePolicy int

const (
	// Cached serves a cache hit directly if the cached version satisfies
	// the read; otherwise it falls through to a fetch.
	Cached CachePolicy = iota
	// MostRecent refreshes the scout's known committed clock against the
	// surrogate at begin-txn, best-effort: a failure does not fail Begin.
	MostRecent
	// StrictlyMostRecent is like MostRecent but a failed refresh fails
	// Begin outright with NETWORK.
	StrictlyMostRecent
)

// deferredListener is one Get call's "notify me when something newer than
// what I just read becomes globally visible" registration (spec.md §4.9).
type deferredListener struct {
	notBefore *clock.Clock
	fn        func()
	once      sync.Once
}

// Scout is one client-side library instance: the top-level orchestrator
// owning the cache, clocks, committer, fetch pipeline and notification
// hub. Construct with New, Start it, and Stop it (gracefully or not) when
// done.
type Scout struct {
	id  string
	cfg *config.Config
	log *logger.Logger

	surrogate rpc.Surrogate
	tsSource  *tsid.Source
	cache     *cache.Cache
	fetchP    *fetch.Pipeline
	committer *committer.Committer
	hub       *pubsub.Hub
	clog      *commitlog.Log

	mu                       sync.Mutex
	committedVersion         *clock.Clock
	committedDisasterDurable *clock.Clock
	lastLocallyCommitted     *clock.Clock
	nextAvailableSnapshot    *clock.Clock
	pendingTxns              map[uint64]*Txn

	deferredMu sync.Mutex
	deferred   map[ids.ObjectID][]*deferredListener

	stopOnce        sync.Once
	stopped         bool
	unsubscribePush func()
}

// New constructs a scout with a freshly minted scout id, talking to
// surrogate, per cfg. Call Start before beginning any transaction.
func New(cfg *config.Config, surrogate rpc.Surrogate, log *logger.Logger) (*Scout, error) {
	if log == nil {
		log = logger.Default()
	}
	scoutID := ids.NewScoutID()

	hub, err := pubsub.New(0, log)
	if err != nil {
		return nil, fmt.Errorf("scout: creating notification hub: %w", err)
	}

	onEvict := func(id ids.ObjectID) {
		// Eviction drops any staged (not yet committed) updates for the
		// object; its Hub subscriptions and any deferred listeners
		// registered for it are left in place.
		hub.DiscardStaged(id)
	}
	objCache, err := cache.New(cfg.Cache.CacheSize, cfg.CacheEvictionTTL(), onEvict)
	if err != nil {
		return nil, fmt.Errorf("scout: creating object cache: %w", err)
	}
	objCache.StartSweeper(cfg.CacheEvictionTTL())

	lastLocallyCommitted := clock.New()
	var clog *commitlog.Log
	if cfg.Log.LogFilename != "" {
		entries, err := commitlog.Replay(cfg.Log.LogFilename)
		if err != nil {
			return nil, fmt.Errorf("scout: replaying commit log: %w", err)
		}
		lastLocallyCommitted = commitlog.RebuildDependencyClock(entries)

		clog, err = commitlog.Open(cfg.Log.LogFilename, cfg.Log.LogFlushOnCommit)
		if err != nil {
			return nil, fmt.Errorf("scout: opening commit log: %w", err)
		}
	}

	s := &Scout{
		id:                       scoutID,
		cfg:                      cfg,
		log:                      log.With("scout"),
		surrogate:                surrogate,
		tsSource:                 tsid.NewSource(scoutID),
		cache:                    objCache,
		fetchP:                   fetch.New(surrogate, scoutID, log),
		committer:                committer.New(surrogate, scoutID, cfg.Committer.MaxAsyncTransactionsQueued, cfg.Committer.MaxCommitBatchSize, committerRetryRate, committerRetryBurst, log),
		hub:                      hub,
		clog:                     clog,
		committedVersion:         clock.New(),
		committedDisasterDurable: clock.New(),
		lastLocallyCommitted:     lastLocallyCommitted,
		nextAvailableSnapshot:    clock.New(),
		pendingTxns:              make(map[uint64]*Txn),
		deferred:                 make(map[ids.ObjectID][]*deferredListener),
	}
	return s, nil
}

// committerRetryRate/committerRetryBurst throttle the committer's
// stubborn-retry loop (spec.md §7: "commit retries forever on timeout").
const (
	committerRetryRate  = 5
	committerRetryBurst = 2
)

// ID returns the scout's own opaque id.
func (s *Scout) ID() string { return s.id }

// CacheStats reports the object cache's hit/miss/eviction counters, for
// diagnostic display (e.g. cmd/scoutsh's status command).
func (s *Scout) CacheStats() cache.Stats { return s.cache.Snapshot() }

// PendingCount returns the number of currently open transaction handles.
func (s *Scout) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingTxns)
}

// CommittedVersion returns a clone of the scout's known-committed clock.
func (s *Scout) CommittedVersion() *clock.Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committedVersion.Clone()
}

// Start launches the committer and, if the configured protocol wants
// pushed updates, subscribes to the surrogate's notification channel.
func (s *Scout) Start() {
	s.committer.Start()
	if s.cfg.Cache.CacheUpdateProtocol == config.CausalNotificationsStream {
		s.unsubscribePush = s.surrogate.Subscribe(s.handleNotification)
	}
}

// Stop halts the committer (draining it first iff graceful), releases the
// push subscription and the cache sweeper.
func (s *Scout) Stop(graceful bool) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		if s.unsubscribePush != nil {
			s.unsubscribePush()
		}
		s.committer.Stop(graceful)
		s.cache.Stop()
		if err := s.hub.Close(); err != nil {
			s.log.Warn("closing notification hub: %v", err)
		}
		if s.clog != nil {
			if err := s.clog.Close(); err != nil {
				s.log.Warn("closing commit log: %v", err)
			}
		}
	})
}

// visibleSnapshot returns a clone of whichever committed clock
// disasterSafe selects (committedDisasterDurable or committedVersion).
// RepeatableRead reads pin each object to it on first access; it does not
// include nextAvailableSnapshot or this scout's own local commits, and
// BeginTxn does not use it.
func (s *Scout) visibleSnapshot() *clock.Clock {
	if s.cfg.Endpoints.DisasterSafe {
		return s.committedDisasterDurable.Clone()
	}
	return s.committedVersion.Clone()
}

// advanceCommitted merges newly learned committed knowledge into the
// scout's committed clocks (and, under any cache-update protocol other than
// NoCacheOrUncoordinated, nextAvailableSnapshot), then fires any deferred listeners this newly
// covers. Must be called without s.mu held.
func (s *Scout) advanceCommitted(committed, disasterDurable *clock.Clock) {
	s.mu.Lock()
	if committed != nil {
		s.committedVersion.Merge(committed)
		if s.cfg.Cache.CacheUpdateProtocol != config.NoCacheOrUncoordinated {
			s.nextAvailableSnapshot.Merge(committed)
		}
	}
	if disasterDurable != nil {
		s.committedDisasterDurable.Merge(disasterDurable)
	}
	snapshot := s.committedVersion.Clone()
	s.mu.Unlock()

	s.fireDeferred(snapshot)
}

// fireDeferred invokes, exactly once each, every deferred listener whose
// notBefore clock no longer dominates the newly committed clock — i.e. an
// update strictly newer than the listener's read has become visible.
func (s *Scout) fireDeferred(committed *clock.Clock) {
	s.deferredMu.Lock()
	var toFire []*deferredListener
	for id, list := range s.deferred {
		var remaining []*deferredListener
		for _, d := range list {
			switch committed.CompareTo(d.notBefore) {
			case clock.Dominates, clock.Concurrent:
				toFire = append(toFire, d)
			default:
				// Equal or Dominated: committed hasn't moved strictly past
				// the snapshot the listener is waiting on yet.
				remaining = append(remaining, d)
			}
		}
		if len(remaining) == 0 {
			delete(s.deferred, id)
		} else {
			s.deferred[id] = remaining
		}
	}
	s.deferredMu.Unlock()

	for _, d := range toFire {
		d.once.Do(d.fn)
	}
}

// attachListener registers fn, filed under id, to fire the first time the
// scout's committed clock moves strictly past notBefore (see fireDeferred).
// The check is against the scout-wide committed clock, so a newer commit
// to any object can fire it.
func (s *Scout) attachListener(id ids.ObjectID, notBefore *clock.Clock, fn func()) {
	s.deferredMu.Lock()
	s.deferred[id] = append(s.deferred[id], &deferredListener{notBefore: notBefore, fn: fn})
	s.deferredMu.Unlock()
}

// handleNotification applies a pushed BatchUpdatesNotification to every
// cached object it touches (spec.md §4.9), with IgnoreDependencies since
// link-level delivery order is not guaranteed to match causal order.
func (s *Scout) handleNotification(n rpc.BatchUpdatesNotification) {
	byID := make(map[ids.ObjectID][]rpc.NotifyEntry)
	for _, u := range n.Updates {
		byID[u.ID] = append(byID[u.ID], u)
	}
	for id, entries := range byID {
		managed, ok := s.cache.GetWithoutTouch(id)
		if !ok {
			continue
		}
		for _, e := range entries {
			ops, err := decodeOpsFromWire(managed.TypeTag(), e.Payload)
			if err != nil {
				s.log.Warn("dropping unparseable notification for %s: %v", id, err)
				continue
			}
			if _, err := managed.ExecuteBatch(e.Timestamp, ops, crdt.IgnoreDependencies); err != nil {
				s.log.Warn("applying pushed update to %s: %v", id, err)
				continue
			}
			s.hub.Notify(pubsub.Update{ID: id, Payload: ops})
		}
	}
	s.advanceCommitted(n.DCClock, n.DCClock)
	for id := range byID {
		s.maybePrune(id)
	}
}

// maybePrune collapses id's history up to the lowest point that is both
// (a) covered by the scout's committed clock and (b) not needed by any
// fetch still in flight for id — the guard spec.md §4.7/§8 (property 3,
// scenario S6) requires so an in-flight fetch's requested clock is never
// pruned out from under it.
func (s *Scout) maybePrune(id ids.ObjectID) {
	managed, ok := s.cache.GetWithoutTouch(id)
	if !ok {
		return
	}
	s.mu.Lock()
	target := s.committedVersion.IntersectedWith(managed.Clock())
	s.mu.Unlock()

	if inFlight, ok := s.fetchP.InProgress()[id]; ok {
		target = target.IntersectedWith(inFlight)
	}
	if target.CompareTo(managed.PruneClock()) != clock.Dominates {
		return
	}
	if err := managed.Prune(target); err != nil {
		s.log.Debug("prune skipped for %s: %v", id, err)
	}
}

// BeginTxn opens a new transaction handle for sessionID. For MostRecent
// and StrictlyMostRecent cache policies it first refreshes the scout's
// committed clocks from the surrogate (spec.md §4.6).
func (s *Scout) BeginTxn(ctx context.Context, sessionID string, isolation txn.Isolation, policy CachePolicy, readOnly bool) (*Txn, error) {
	if isolation != txn.SnapshotIsolation && isolation != txn.RepeatableRead {
		return nil, scouterr.ErrUnsupported
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, scouterr.ErrNetwork
	}
	if !s.cfg.Txn.ConcurrentOpenTransactions && len(s.pendingTxns) > 0 {
		s.mu.Unlock()
		return nil, scouterr.ErrIllegalState
	}
	s.mu.Unlock()

	if policy == MostRecent || policy == StrictlyMostRecent {
		reply, err := s.surrogate.LatestKnownClock(ctx, rpc.LatestKnownClockRequest{ScoutID: s.id})
		if err != nil {
			if policy == StrictlyMostRecent {
				return nil, scouterr.ErrNetwork
			}
			s.log.Warn("best-effort clock refresh failed: %v", err)
		} else {
			s.advanceCommitted(reply.Clock, reply.Clock)
		}
	}

	ts := s.tsSource.GenerateNew()
	mapping := tsid.NewMapping(ts)

	s.mu.Lock()
	snapshot := s.nextAvailableSnapshot.MergedWith(s.lastLocallyCommitted)
	s.mu.Unlock()

	handle := txn.New(sessionID, isolation, ts, snapshot)
	t := &Txn{
		handle:      handle,
		mapping:     mapping,
		cachePolicy: policy,
		readOnly:    readOnly,
		scout:       s,
	}

	s.mu.Lock()
	s.pendingTxns[ts.Counter] = t
	s.mu.Unlock()

	metrics.TransactionsTotal.WithLabelValues("begun").Inc()
	return t, nil
}

// resolveReadClock returns the clock a read of id within t should target:
// the transaction's fixed snapshot for SI, or the pinned-on-first-access
// clock for RR.
func (t *Txn) resolveReadClock(id ids.ObjectID) (*clock.Clock, error) {
	var asOf *clock.Clock
	if t.handle.Isolation() == txn.RepeatableRead {
		asOf = t.scout.visibleSnapshot()
	} else {
		asOf = t.handle.SnapshotClock()
	}
	return t.handle.RecordRead(id, asOf)
}

// Get resolves id's value for t, per t's cache policy, folding in any of
// t's own not-yet-committed writes to id (read-your-own-writes within the
// transaction). If listener is non-nil, it fires at most once, the first
// time an update strictly newer than this read becomes globally visible.
func (s *Scout) Get(ctx context.Context, t *Txn, id ids.ObjectID, createIfMissing bool, listener func()) (crdt.Value, error) {
	if t.handle.State() != txn.Pending {
		return nil, scouterr.ErrIllegalState
	}

	asOf, err := t.resolveReadClock(id)
	if err != nil {
		return nil, err
	}

	value, err := s.readAt(ctx, id, asOf, createIfMissing)
	if err != nil {
		return nil, err
	}

	if t.protect(id) {
		s.cache.Protect(id)
	}

	for _, payload := range t.handle.PendingOpsFor(id) {
		if err := value.Apply(payload); err != nil {
			return nil, err
		}
	}

	if listener != nil {
		notBefore := asOf.Clone()
		s.attachListener(id, notBefore, listener)
	}

	return value, nil
}

// readAt returns id's value as of asOf, trying the cache first (per
// spec.md §4.6 step 1) and falling through to the fetch pipeline on a
// miss or a prune race (step 2-6).
func (s *Scout) readAt(ctx context.Context, id ids.ObjectID, asOf *clock.Clock, createIfMissing bool) (crdt.Value, error) {
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if managed, ok := s.cache.GetAndTouch(id); ok {
			v, err := managed.GetVersion(asOf)
			if err == nil {
				return v, nil
			}
			if err != scouterr.ErrVersionNotFound {
				return nil, err
			}
			// Falls through to a fetch: either not yet replicated, or
			// raced with a concurrent prune — retried below.
		}

		result, err := s.fetchP.Fetch(ctx, id, asOf.DropSelf(s.id), s.cfg.DeadlineDuration())
		if err != nil {
			if err == scouterr.ErrNoSuchObject {
				if !createIfMissing {
					return nil, scouterr.ErrNoSuchObject
				}
				return s.installEmpty(id, asOf)
			}
			return nil, err
		}

		if err := s.mergeFetchResult(id, result); err != nil {
			return nil, err
		}
		s.maybePrune(id)
	}
	return nil, scouterr.ErrVersionNotFound
}

// installEmpty creates a fresh empty CRDT for id when the store reports
// OBJECT_NOT_FOUND and the caller asked for create-if-missing semantics.
func (s *Scout) installEmpty(id ids.ObjectID, asOf *clock.Clock) (crdt.Value, error) {
	empty, err := emptyValue(id.TypeTag)
	if err != nil {
		return nil, err
	}
	managed := crdt.NewManaged(id, empty)
	s.cache.Add(id, managed)
	return managed.Snapshot(), nil
}

// mergeFetchResult installs or merges a fetch reply into the cache and
// advances the scout's committed-clock knowledge (spec.md §4.6 step 5).
func (s *Scout) mergeFetchResult(id ids.ObjectID, result rpc.ObjectVersionResult) error {
	if result.TypeTag != "" && result.TypeTag != id.TypeTag {
		return scouterr.ErrWrongType
	}

	managed, ok := s.cache.GetWithoutTouch(id)
	if !ok {
		typeTag := result.TypeTag
		if typeTag == "" {
			typeTag = id.TypeTag
		}
		empty, err := emptyValue(typeTag)
		if err != nil {
			return err
		}
		managed = crdt.NewManaged(id, empty)
		s.cache.Add(id, managed)
	} else if managed.TypeTag() != id.TypeTag {
		return scouterr.ErrWrongType
	}

	for _, u := range result.Updates {
		ops, err := decodeOpsFromWire(managed.TypeTag(), u.Payload)
		if err != nil {
			return err
		}
		if _, err := managed.ExecuteBatch(u.Timestamp, ops, crdt.IgnoreDependencies); err != nil && err != scouterr.ErrCausalGap {
			return err
		}
	}
	if result.Clock != nil {
		managed.AugmentWithDCClockWithoutMappings(result.Clock)
		managed.MarkRegistered()
		s.advanceCommitted(result.Clock, nil)
	}
	return nil
}

// Put buffers a write of payload to id within t. Only SnapshotIsolation
// transactions may write.
func (s *Scout) Put(t *Txn, id ids.ObjectID, payload interface{}) error {
	if t.handle.State() != txn.Pending {
		return scouterr.ErrIllegalState
	}
	return t.handle.Buffer(id, payload)
}

// Commit finalizes t. Read-only transactions never touch the committer:
// they transition straight to COMMITTED_GLOBAL. Update transactions apply
// their buffered writes to the cache for read-your-writes, enqueue to the
// committer, and (per spec.md §4.6) block only if the async queue is
// saturated.
func (s *Scout) Commit(ctx context.Context, t *Txn) error {
	if t.handle.State() != txn.Pending {
		return scouterr.ErrIllegalState
	}

	if t.readOnly || t.handle.IsReadOnly() {
		s.tsSource.ReturnLastTimestamp(t.handle.Timestamp())
		if err := t.handle.MarkCommittedLocal(); err != nil {
			return err
		}
		if err := t.handle.MarkCommittedGlobal(); err != nil {
			return err
		}
		s.finishTxn(t)
		metrics.TransactionsTotal.WithLabelValues("committed_readonly").Inc()
		return nil
	}

	ts := t.handle.Timestamp()
	writes := make([]committer.CommitWrite, 0, len(t.handle.WrittenObjects()))
	logWrites := make([]commitlog.Write, 0, len(t.handle.WrittenObjects()))
	for _, id := range t.handle.WrittenObjects() {
		ops := t.handle.PendingOpsFor(id)

		managed, ok := s.cache.GetWithoutTouch(id)
		if !ok {
			empty, err := emptyValue(id.TypeTag)
			if err != nil {
				return err
			}
			managed = crdt.NewManaged(id, empty)
			s.cache.Add(id, managed)
		}
		if _, err := managed.ExecuteBatch(ts, ops, crdt.RecordBlindly); err != nil {
			return err
		}
		s.hub.Stage(pubsub.Update{ID: id, Payload: ops})

		payload, err := encodeOpsForWire(ops)
		if err != nil {
			return err
		}
		writes = append(writes, committer.CommitWrite{
			ID:        id,
			Payload:   payload,
			DependsOn: t.handle.DependencyClock(),
		})
		logWrites = append(logWrites, commitlog.Write{ID: id, Payload: payload})
	}

	s.mu.Lock()
	s.lastLocallyCommitted.Record(ts)
	s.mu.Unlock()

	if s.clog != nil {
		entry := commitlog.Entry{
			ClientTimestamp: ts,
			DependencyClock: t.handle.DependencyClock(),
			Writes:          logWrites,
		}
		if err := s.clog.Append(entry); err != nil {
			s.log.Warn("appending to commit log: %v", err)
		}
	}

	if err := t.handle.MarkCommittedLocal(); err != nil {
		return err
	}
	// No longer open: a new transaction may begin before the global commit.
	s.mu.Lock()
	delete(s.pendingTxns, ts.Counter)
	s.mu.Unlock()
	for _, id := range t.handle.WrittenObjects() {
		s.hub.CommitStaged(id)
	}

	done := make(chan error, 1)
	task := &committer.Task{Mapping: t.mapping, Writes: writes, Done: done}
	if err := s.committer.SubmitBlocking(ctx, task); err != nil {
		return err
	}

	go s.awaitGlobalCommit(t, done)

	metrics.TransactionsTotal.WithLabelValues("committed_local").Inc()
	return nil
}

// awaitGlobalCommit finishes t's lifecycle once the committer reports the
// outcome of its BatchCommitUpdates RPC, advancing committed-clock
// knowledge and releasing eviction protection.
func (s *Scout) awaitGlobalCommit(t *Txn, done chan error) {
	err := <-done
	if err != nil {
		s.log.Warn("transaction %v failed to commit globally: %v", t.handle.Timestamp(), err)
		s.finishTxn(t)
		return
	}
	if commitErr := t.handle.MarkCommittedGlobal(); commitErr != nil {
		s.log.Warn("marking %v committed-global: %v", t.handle.Timestamp(), commitErr)
	}
	committed := clock.New()
	committed.Record(t.handle.Timestamp())
	for _, ts := range t.mapping.SystemTimestamps() {
		committed.Record(ts)
	}
	s.advanceCommitted(committed, nil)
	for _, id := range t.handle.WrittenObjects() {
		s.maybePrune(id)
	}
	metrics.TransactionsTotal.WithLabelValues("committed_global").Inc()
	s.finishTxn(t)
}

// Discard cancels t. A read-only (or write-free) transaction simply gives
// its client-timestamp back. An update transaction that never committed
// still must emit a dummy global commit for the same timestamp-mapping
// (spec.md §4.6, §9, §8 scenario S5) so no other scout ever observes a
// gap in this scout's vector-clock contribution.
func (s *Scout) Discard(ctx context.Context, t *Txn) error {
	if t.handle.State() != txn.Pending {
		return scouterr.ErrIllegalState
	}

	if t.handle.IsReadOnly() {
		s.tsSource.ReturnLastTimestamp(t.handle.Timestamp())
		if err := t.handle.Cancel(); err != nil {
			return err
		}
		s.finishTxn(t)
		metrics.TransactionsTotal.WithLabelValues("discarded").Inc()
		return nil
	}

	for _, id := range t.handle.WrittenObjects() {
		s.hub.DiscardStaged(id)
	}

	if s.clog != nil {
		entry := commitlog.Entry{
			ClientTimestamp: t.handle.Timestamp(),
			DependencyClock: t.handle.DependencyClock(),
			Dummy:           true,
		}
		if err := s.clog.Append(entry); err != nil {
			s.log.Warn("appending dummy commit to commit log: %v", err)
		}
	}

	done := make(chan error, 1)
	task := &committer.Task{Mapping: t.mapping, Dummy: true, Done: done}
	if err := s.committer.SubmitBlocking(ctx, task); err != nil {
		return err
	}
	if err := t.handle.Cancel(); err != nil {
		return err
	}
	s.finishTxn(t)

	go func() {
		if err := <-done; err != nil {
			s.log.Warn("dummy commit for discarded transaction %v failed: %v", t.handle.Timestamp(), err)
		}
	}()

	metrics.TransactionsTotal.WithLabelValues("discarded_with_dummy").Inc()
	return nil
}

// finishTxn releases every protection t was holding and removes it from
// the pending set.
func (s *Scout) finishTxn(t *Txn) {
	for id := range t.protectedIDs() {
		s.cache.RemoveProtection(id)
	}
	s.mu.Lock()
	delete(s.pendingTxns, t.handle.Timestamp().Counter)
	s.mu.Unlock()
}

