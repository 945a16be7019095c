// Package fetch implements the scout's fetch pipeline (C7): the path a
// cache miss or a too-old cached version takes to reach the surrogate.
// Concurrent callers asking for the same object id are folded into one
// physical RPC request via golang.org/x/sync/singleflight (the pack's idiom
// for request coalescing); a VERSION_MISSING reply is retried with backoff
// until the caller's deadline, while VERSION_PRUNED is never retried —
// the data is gone, not merely late.
package fetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seasidesky/swiftscout/internal/clock"
	"github.com/seasidesky/swiftscout/internal/ids"
	"github.com/seasidesky/swiftscout/internal/logger"
	"github.com/seasidesky/swiftscout/internal/metrics"
	"github.com/seasidesky/swiftscout/internal/rpc"
	"github.com/seasidesky/swiftscout/internal/scouterr"
)

// Backoff parameters for the retry-on-VERSION_MISSING loop.
const (
	initialBackoff = 20 * time.Millisecond
	maxBackoff     = 500 * time.Millisecond
)

// Pipeline is the scout's fetch pipeline.
type Pipeline struct {
	surrogate rpc.Surrogate
	scoutID   string
	log       *logger.Logger

	group singleflight.Group

	mu         sync.Mutex
	inProgress map[ids.ObjectID]*clock.Clock
}

// New creates a fetch pipeline against surrogate.
func New(surrogate rpc.Surrogate, scoutID string, log *logger.Logger) *Pipeline {
	return &Pipeline{
		surrogate:  surrogate,
		scoutID:    scoutID,
		log:        log.With("fetch"),
		inProgress: make(map[ids.ObjectID]*clock.Clock),
	}
}

// Fetch retrieves id's version as of at, retrying on VERSION_MISSING with
// exponential backoff until deadline elapses. Concurrent Fetch calls for
// the same id share one physical request.
func (p *Pipeline) Fetch(ctx context.Context, id ids.ObjectID, at *clock.Clock, deadline time.Duration) (rpc.ObjectVersionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	defer func() { metrics.FetchLatency.Observe(time.Since(start).Seconds()) }()

	p.track(id, at)
	defer p.untrack(id)

	backoff := initialBackoff
	for {
		v, err, _ := p.group.Do(id.String(), func() (interface{}, error) {
			return p.fetchOnce(ctx, id, at)
		})

		if err != nil {
			if ctx.Err() != nil {
				return rpc.ObjectVersionResult{}, scouterr.ErrFetchDeadline
			}
			return rpc.ObjectVersionResult{}, scouterr.ErrNetwork
		}

		result := v.(rpc.ObjectVersionResult)
		metrics.FetchAttemptsTotal.WithLabelValues(result.Status.String()).Inc()
		switch result.Status {
		case rpc.StatusOK:
			return result, nil
		case rpc.StatusVersionPruned:
			return result, scouterr.ErrVersionNotFound
		case rpc.StatusNotFound:
			return result, scouterr.ErrNoSuchObject
		case rpc.StatusVersionMissing:
			if ctx.Err() != nil {
				return result, scouterr.ErrFetchDeadline
			}
			p.log.Debug("version missing for %s, backing off %s", id, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return result, scouterr.ErrFetchDeadline
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		default:
			return result, scouterr.ErrInvalidOperation
		}
	}
}

func (p *Pipeline) fetchOnce(ctx context.Context, id ids.ObjectID, at *clock.Clock) (rpc.ObjectVersionResult, error) {
	reply, err := p.surrogate.BatchFetchObjectVersion(ctx, rpc.BatchFetchObjectVersionRequest{
		ScoutID:  p.scoutID,
		Requests: []rpc.ObjectVersionRequest{{ID: id, At: at}},
	})
	if err != nil {
		return rpc.ObjectVersionResult{}, err
	}
	if len(reply.Results) != 1 {
		return rpc.ObjectVersionResult{}, scouterr.ErrNetwork
	}
	return reply.Results[0], nil
}

// track merges at into the in-flight clock recorded for id for the whole
// duration of a Fetch call, retries included, so the scout's own prune
// step (Scout.maybePrune) never collapses id's history below a clock an
// outstanding fetch still depends on.
func (p *Pipeline) track(id ids.ObjectID, at *clock.Clock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.inProgress[id]; ok {
		existing.Merge(at)
		return
	}
	p.inProgress[id] = at.Clone()
}

func (p *Pipeline) untrack(id ids.ObjectID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inProgress, id)
}

// InProgress returns a snapshot of objects with an outstanding fetch and
// the clock they are waiting for, for prune-safety reporting.
func (p *Pipeline) InProgress() map[ids.ObjectID]*clock.Clock {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[ids.ObjectID]*clock.Clock, len(p.inProgress))
	for id, c := range p.inProgress {
		out[id] = c.Clone()
	}
	return out
}
