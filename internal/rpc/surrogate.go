package rpc

import "context"

// Surrogate is the scout's view of a datacenter-side store: the three
// request/reply RPCs of spec.md's wire catalogue, plus a way to subscribe
// for the fourth message kind, pushed notifications. Two implementations
// exist: Client (a real net.Conn-backed transport, grounded on the
// teacher's pkg/client/client.go) and FakeSurrogate (an in-process double
// used by the scout's own tests and by cmd/scoutsh).
type Surrogate interface {
	LatestKnownClock(ctx context.Context, req LatestKnownClockRequest) (LatestKnownClockReply, error)
	BatchFetchObjectVersion(ctx context.Context, req BatchFetchObjectVersionRequest) (BatchFetchObjectVersionReply, error)
	BatchCommitUpdates(ctx context.Context, req BatchCommitUpdatesRequest) (BatchCommitUpdatesReply, error)

	// Subscribe registers handler to receive pushed update notifications
	// until the returned cancel function is called.
	Subscribe(handler func(BatchUpdatesNotification)) (cancel func())

	Close() error
}
