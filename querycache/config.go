package querycache

import (
	"time"

	"github.com/goliatone/go-query-cache/internal/cacheinfra"
)

// Config exposes store configuration options.
type Config struct {
	// StaleTime is how long a successful fetch stays fresh. Zero means data
	// is stale as soon as it arrives and is refetched on the next mount.
	StaleTime time.Duration

	// GCTime is how long an entry without observers is retained.
	GCTime time.Duration

	// Capacity bounds the number of retained idle entries.
	Capacity           int
	NumShards          int
	EvictionPercentage int
	EvictionInterval   time.Duration

	// Retry is how many times a failed read is retried before the error
	// is surfaced. Writes are never retried.
	Retry          int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// StructuralSharing keeps the previous data reference when a refetch
	// returns an equivalent value.
	StructuralSharing bool
}

// NeverStale keeps data fresh until it is invalidated.
const NeverStale time.Duration = 1<<63 - 1

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	idle := cacheinfra.DefaultConfig()
	return Config{
		StaleTime:          0,
		GCTime:             idle.GCTime,
		Capacity:           idle.Capacity,
		NumShards:          idle.NumShards,
		EvictionPercentage: idle.EvictionPercentage,
		EvictionInterval:   idle.EvictionInterval,
		Retry:              3,
		RetryBaseDelay:     time.Second,
		RetryMaxDelay:      30 * time.Second,
		StructuralSharing:  true,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if err := c.toIdle().Validate(); err != nil {
		return err
	}
	if c.StaleTime < 0 {
		return &cacheinfra.ConfigError{Field: "StaleTime", Message: "must be non-negative"}
	}
	if c.Retry < 0 {
		return &cacheinfra.ConfigError{Field: "Retry", Message: "must be non-negative"}
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0 {
		return &cacheinfra.ConfigError{Field: "RetryBaseDelay", Message: "must be non-negative"}
	}
	return nil
}

func (c Config) toIdle() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		GCTime:             c.GCTime,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}
