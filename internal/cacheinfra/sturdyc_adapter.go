package cacheinfra

import (
	"errors"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the idle tier.
// Entries that nobody observes are retained here until GCTime elapses or the
// tier runs out of capacity.
type Config struct {
	// Capacity defines the maximum number of idle entries retained.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of shards for concurrent access.
	// Must be greater than 0. Default: 256
	NumShards int

	// GCTime is how long an unobserved entry survives before eviction.
	// Must be greater than 0.
	GCTime time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the tier reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often expired entries are swept.
	// Zero value uses the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		GCTime:             5 * time.Minute,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the Config to sturdyc options.
// Capacity, NumShards, GCTime and EvictionPercentage go to sturdyc.New directly.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
// Returns a *ConfigError naming the first offending field.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Capacity,
			validation.Required.Error("must be greater than 0"),
			validation.Min(1).Error("must be greater than 0"),
		),
		validation.Field(&c.NumShards,
			validation.Required.Error("must be greater than 0"),
			validation.Min(1).Error("must be greater than 0"),
		),
		validation.Field(&c.GCTime,
			validation.Required.Error("must be greater than 0"),
			validation.Min(time.Duration(1)).Error("must be greater than 0"),
		),
		validation.Field(&c.EvictionPercentage,
			validation.Required.Error("must be between 1 and 100"),
			validation.Min(1).Error("must be between 1 and 100"),
			validation.Max(100).Error("must be between 1 and 100"),
		),
		validation.Field(&c.EvictionInterval,
			validation.Min(time.Duration(0)).Error("must be non-negative"),
		),
	)
	return toConfigError(err)
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

func toConfigError(err error) error {
	if err == nil {
		return nil
	}
	var fields validation.Errors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return err
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return &ConfigError{Field: names[0], Message: fields[names[0]].Error()}
}

// IdleTier retains values that currently have no observers.
// It is safe for concurrent use.
type IdleTier[V any] struct {
	client *sturdyc.Client[V]
	cfg    Config
}

// NewIdleTier validates cfg and initializes a sturdyc client with it.
//
// Version compatibility note: this implementation assumes the sturdyc v1.x API.
func NewIdleTier[V any](cfg Config) (*IdleTier[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[V](
		cfg.Capacity,
		cfg.NumShards,
		cfg.GCTime,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &IdleTier[V]{client: client, cfg: cfg}, nil
}

// Config returns the configuration the tier was built with.
func (t *IdleTier[V]) Config() Config {
	return t.cfg
}

// Get returns the retained value for key, if it has not been evicted.
func (t *IdleTier[V]) Get(key string) (V, bool) {
	return t.client.Get(key)
}

// Set retains value under key and restarts its GC window.
func (t *IdleTier[V]) Set(key string, value V) {
	t.client.Set(key, value)
}

// Delete drops key from the tier.
func (t *IdleTier[V]) Delete(key string) {
	t.client.Delete(key)
}

// Scan calls fn for every retained entry until fn returns false.
// Entries added or evicted during the scan may or may not be visited.
func (t *IdleTier[V]) Scan(fn func(key string, value V) bool) {
	for _, key := range t.client.ScanKeys() {
		value, ok := t.client.Get(key)
		if !ok {
			continue
		}
		if !fn(key, value) {
			return
		}
	}
}

// Len reports how many entries are retained.
func (t *IdleTier[V]) Len() int {
	return t.client.Size()
}

// Clear drops every retained entry.
func (t *IdleTier[V]) Clear() {
	for _, key := range t.client.ScanKeys() {
		t.client.Delete(key)
	}
}
