// Package committer implements the scout's committer (C8): the single
// background worker that turns locally-committed transactions into
// BatchCommitUpdates RPCs, batches concurrently-queued transactions
// together, splices the system timestamps the store assigns back into
// each transaction's timestamp mapping, and retries stubbornly (a commit
// must eventually land — there is no user-visible failure mode for "the
// store rejected my commit" once it has been accepted locally) while a
// rate limiter keeps those retries from hammering a struggling store.
//
// Grounded on the teacher's internal/docdb/worker_pool.go (single task
// queue, backpressure via ErrQueueFull on a full channel, one dispatcher
// goroutine per pool) and internal/pool/shutdown.go's GracefulShutdown
// (stop accepting, drain with a timeout, then force-close) for Stop.
package committer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/seasidesky/swiftscout/internal/clock"
	"github.com/seasidesky/swiftscout/internal/ids"
	"github.com/seasidesky/swiftscout/internal/logger"
	"github.com/seasidesky/swiftscout/internal/metrics"
	"github.com/seasidesky/swiftscout/internal/rpc"
	"github.com/seasidesky/swiftscout/internal/scouterr"
	"github.com/seasidesky/swiftscout/internal/tsid"
)

// drainTimeout bounds how long a graceful Stop waits for outstanding
// commits to finish before giving up, mirroring the teacher's
// ShutdownTimeout.
const drainTimeout = 30 * time.Second

// CommitWrite is one object's write within a committing transaction.
type CommitWrite struct {
	ID        ids.ObjectID
	Payload   []byte
	DependsOn *clock.Clock
}

// Task is one transaction's commit request. A Dummy task carries no
// writes at all — it exists purely so the store assigns a system
// timestamp to Mapping's client-timestamp, the discard-with-dummy path
// spec.md §4.6/§9 requires so a discarded update transaction never leaves
// a hole in the scout's own vector-clock entry.
type Task struct {
	Mapping *tsid.Mapping
	Writes  []CommitWrite
	Dummy   bool
	Done    chan error
}

// Committer is the scout's single background commit dispatcher.
type Committer struct {
	surrogate rpc.Surrogate
	scoutID   string
	log       *logger.Logger
	clsfr     *scouterr.Classifier

	maxBatch int
	limiter  *rate.Limiter

	mu      sync.Mutex
	stopped bool
	queue   chan *Task

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a committer. queueSize bounds MaxAsyncTransactionsQueued;
// maxBatch bounds MaxCommitBatchSize; retryRate/retryBurst throttle the
// stubborn-retry loop.
func New(surrogate rpc.Surrogate, scoutID string, queueSize, maxBatch int, retryRate rate.Limit, retryBurst int, log *logger.Logger) *Committer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Committer{
		surrogate: surrogate,
		scoutID:   scoutID,
		log:       log.With("committer"),
		clsfr:     scouterr.NewClassifier(),
		maxBatch:  maxBatch,
		limiter:   rate.NewLimiter(retryRate, retryBurst),
		queue:     make(chan *Task, queueSize),
		runCtx:    ctx,
		cancelRun: cancel,
	}
}

// Start launches the dispatcher goroutine.
func (c *Committer) Start() {
	c.wg.Add(1)
	go c.run()
}

// Submit enqueues a commit task, failing with ErrPoolStopped if the
// committer has been stopped or ErrQueueFull if the queue is saturated —
// backpressure reported to the caller rather than blocking indefinitely.
// Scout.Commit and Scout.Discard use SubmitBlocking instead.
func (c *Committer) Submit(task *Task) error {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return scouterr.ErrPoolStopped
	}

	select {
	case c.queue <- task:
		return nil
	default:
		return scouterr.ErrQueueFull
	}
}

// SubmitBlocking enqueues task, blocking until room is available rather
// than failing immediately — this is spec.md §4.6's backpressure point:
// "the calling session blocks on the queue condition" when the async
// queue is full and the commit cannot be reordered ahead of it.
func (c *Committer) SubmitBlocking(ctx context.Context, task *Task) error {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return scouterr.ErrPoolStopped
	}

	select {
	case c.queue <- task:
		return nil
	case <-ctx.Done():
		return scouterr.ErrNetwork
	}
}

func (c *Committer) run() {
	defer c.wg.Done()
	for {
		batch, ok := c.collectBatch()
		if len(batch) > 0 {
			c.commitBatch(batch)
		}
		if !ok {
			return
		}
	}
}

// collectBatch blocks for the first task, then greedily drains up to
// maxBatch-1 more without blocking, batching whatever has queued up since
// the last dispatch in submission order. Each transaction in a batch keeps
// its own dependency clock.
func (c *Committer) collectBatch() ([]*Task, bool) {
	first, ok := <-c.queue
	if !ok {
		return nil, false
	}
	batch := []*Task{first}
	for len(batch) < c.maxBatch {
		select {
		case t, ok := <-c.queue:
			if !ok {
				return batch, false
			}
			batch = append(batch, t)
		default:
			return batch, true
		}
	}
	return batch, true
}

func (c *Committer) commitBatch(batch []*Task) {
	req := rpc.BatchCommitUpdatesRequest{ScoutID: c.scoutID}
	// taskForIndex maps each CommitEntry back to the task it belongs to;
	// taskForDummyIndex does the same for req.Dummies.
	var taskForIndex []*Task
	var taskForDummyIndex []*Task
	for _, t := range batch {
		for _, w := range t.Writes {
			req.Commits = append(req.Commits, rpc.CommitEntry{
				ID:        w.ID,
				Timestamp: t.Mapping.Client(),
				Payload:   w.Payload,
				DependsOn: w.DependsOn,
			})
			taskForIndex = append(taskForIndex, t)
		}
		if t.Dummy {
			req.Dummies = append(req.Dummies, t.Mapping.Client())
			taskForDummyIndex = append(taskForDummyIndex, t)
		}
	}
	if len(req.Commits) == 0 && len(req.Dummies) == 0 {
		// Every task in the batch was a read-only transaction with
		// nothing to commit.
		for _, t := range batch {
			t.Done <- nil
		}
		return
	}
	metrics.CommitBatchSize.Observe(float64(len(req.Commits)))

	reply, err := c.commitWithStubbornRetry(req)
	if err != nil {
		for _, t := range batch {
			t.Done <- err
		}
		return
	}

	failed := make(map[*Task]error)
	for i, result := range reply.Results {
		t := taskForIndex[i]
		switch result.Status {
		case rpc.StatusOK:
			t.Mapping.AppendSystem(result.SystemTimestamp)
		case rpc.StatusClockRange:
			// Globally committed, but the store gave us no explicit system
			// timestamp to splice in — only the fact that one exists
			// somewhere in its reported clock range.
		case rpc.StatusInvalidOperation:
			failed[t] = scouterr.ErrInvalidOperation
		default:
			failed[t] = scouterr.ErrNetwork
		}
	}
	for i, result := range reply.DummyResults {
		t := taskForDummyIndex[i]
		switch result.Status {
		case rpc.StatusOK:
			t.Mapping.AppendSystem(result.SystemTimestamp)
		case rpc.StatusClockRange:
		case rpc.StatusInvalidOperation:
			failed[t] = scouterr.ErrInvalidOperation
		default:
			failed[t] = scouterr.ErrNetwork
		}
	}
	for _, t := range batch {
		t.Done <- failed[t]
	}
}

// commitWithStubbornRetry retries a commit batch until it succeeds or the
// committer is cancelled (an ungraceful Stop). Transient and network
// errors are always retried — a commit that was already accepted locally
// has no other path forward. The rate limiter paces retries so a struggling
// store isn't hammered.
func (c *Committer) commitWithStubbornRetry(req rpc.BatchCommitUpdatesRequest) (rpc.BatchCommitUpdatesReply, error) {
	for {
		reply, err := c.surrogate.BatchCommitUpdates(c.runCtx, req)
		if err == nil {
			return reply, nil
		}

		category := c.clsfr.Classify(err)
		if c.clsfr.IsCritical(category) {
			return rpc.BatchCommitUpdatesReply{}, err
		}

		metrics.CommitRetriesTotal.Inc()
		c.log.Warn("commit batch failed (%v), retrying", err)
		if waitErr := c.limiter.Wait(c.runCtx); waitErr != nil {
			return rpc.BatchCommitUpdatesReply{}, scouterr.ErrPoolStopped
		}
	}
}

// Stop stops accepting new tasks, then either drains the queue (graceful)
// or cancels outstanding stubborn retries (not graceful) before waiting up
// to drainTimeout for the dispatcher goroutine to exit.
func (c *Committer) Stop(graceful bool) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.queue)
	if !graceful {
		c.cancelRun()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.log.Info("committer stopped cleanly")
	case <-time.After(drainTimeout):
		c.log.Warn("committer drain timed out, forcing cancellation")
		c.cancelRun()
		<-done
	}
}
