// Package config holds the scout's recognised configuration options,
// structured the way the teacher's internal/config package groups its
// options into named sub-structs with a DefaultConfig constructor.
package config

import "time"

// CacheUpdateProtocol selects how the local cache learns about remote
// commits (spec.md §6).
type CacheUpdateProtocol int

const (
	// NoCacheOrUncoordinated never refreshes cached entries proactively;
	// staleness is only resolved by explicit MOST_RECENT/STRICTLY_MOST_RECENT reads.
	NoCacheOrUncoordinated CacheUpdateProtocol = iota
	// CausalNotificationsStream subscribes to a server push channel and
	// applies updates as they arrive (C9).
	CausalNotificationsStream
	// CausalPeriodicRefresh, like CausalNotificationsStream, lets fetched
	// and committed clocks advance the snapshot new transactions begin
	// against, but opens no push subscription. The scout runs no periodic
	// LatestKnownClock poll and no refresh barrier for it.
	CausalPeriodicRefresh
)

// Config is the complete set of options the scout core recognises.
type Config struct {
	Endpoints EndpointConfig
	Txn       TxnConfig
	Cache     CacheConfig
	Committer CommitterConfig
	Log       LogConfig
}

// EndpointConfig names the remote surrogates the scout talks to.
type EndpointConfig struct {
	// ServerHostnames: comma-separated endpoints, first = primary.
	ServerHostnames []string
	// DisasterSafe: if true, reads use the disaster-durable committed clock.
	DisasterSafe bool
	// DeadlineMillis: per-operation RPC deadline.
	DeadlineMillis int
}

// TxnConfig governs transaction-handle lifecycle options.
type TxnConfig struct {
	// ConcurrentOpenTransactions: allow multiple pending handles per scout.
	ConcurrentOpenTransactions bool
}

// CacheConfig governs the LRU object cache (C4).
type CacheConfig struct {
	// CacheSize: cache capacity in entries.
	CacheSize int
	// CacheEvictionTimeMillis: TTL for unused cache entries.
	CacheEvictionTimeMillis int64
	// CacheUpdateProtocol selects the staleness-resolution strategy.
	CacheUpdateProtocol CacheUpdateProtocol
	// CacheRefreshPeriodMillis: refresh period for CausalPeriodicRefresh.
	// No component reads it, since the scout runs no periodic refresh.
	CacheRefreshPeriodMillis int64
}

// CommitterConfig governs the committer worker (C8).
type CommitterConfig struct {
	// MaxAsyncTransactionsQueued: backpressure threshold on the commit queue.
	MaxAsyncTransactionsQueued int
	// MaxCommitBatchSize: committer batch upper bound.
	MaxCommitBatchSize int
	// ShareDependenciesInBatch: no component reads this option; the
	// committer always sends each batched transaction's own dependency
	// clock, never a shared over-approximation.
	ShareDependenciesInBatch bool
}

// LogConfig governs the optional durable client-side commit log.
type LogConfig struct {
	// LogFilename: path to the append-only commit log; empty disables it.
	LogFilename string
	// LogFlushOnCommit: fsync the commit log after every locally-committed
	// transaction is appended.
	LogFlushOnCommit bool
}

// DefaultConfig returns the scout's default configuration, the same way
// the teacher's DefaultConfig() seeds every sub-struct with conservative
// production defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoints: EndpointConfig{
			ServerHostnames: nil,
			DisasterSafe:    false,
			DeadlineMillis:  5000,
		},
		Txn: TxnConfig{
			ConcurrentOpenTransactions: false,
		},
		Cache: CacheConfig{
			CacheSize:                10_000,
			CacheEvictionTimeMillis:  int64(30 * time.Minute / time.Millisecond),
			CacheUpdateProtocol:      NoCacheOrUncoordinated,
			CacheRefreshPeriodMillis: int64(10 * time.Second / time.Millisecond),
		},
		Committer: CommitterConfig{
			MaxAsyncTransactionsQueued: 1000,
			MaxCommitBatchSize:         100,
			ShareDependenciesInBatch:   false,
		},
		Log: LogConfig{
			LogFilename:      "",
			LogFlushOnCommit: false,
		},
	}
}

// DeadlineDuration is a convenience accessor for EndpointConfig.DeadlineMillis.
func (c *Config) DeadlineDuration() time.Duration {
	return time.Duration(c.Endpoints.DeadlineMillis) * time.Millisecond
}

// CacheEvictionTTL is a convenience accessor for CacheConfig.CacheEvictionTimeMillis.
func (c *Config) CacheEvictionTTL() time.Duration {
	return time.Duration(c.Cache.CacheEvictionTimeMillis) * time.Millisecond
}

// CacheRefreshPeriod is a convenience accessor for CacheConfig.CacheRefreshPeriodMillis.
func (c *Config) CacheRefreshPeriod() time.Duration {
	return time.Duration(c.Cache.CacheRefreshPeriodMillis) * time.Millisecond
}
