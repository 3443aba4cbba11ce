// Package config loads runtime settings from MENTOR_* environment variables
// and optional dotenv files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/goliatone/go-query-cache/internal/cacheinfra"
	"github.com/goliatone/go-query-cache/querycache"
)

// EnvPrefix prefixes every variable read by Load, e.g. MENTOR_API_BASE_URL.
const EnvPrefix = "MENTOR"

type Config struct {
	// Env selects the dotenv file: dev (default), test, qa or prod.
	Env string

	API     APIConfig
	Cache   CacheConfig
	Log     LogConfig
	MockAPI MockAPIConfig
}

type APIConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type CacheConfig struct {
	StaleTime          time.Duration
	GCTime             time.Duration
	Capacity           int
	NumShards          int
	EvictionPercentage int
	Retry              int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	StructuralSharing  bool
}

type LogConfig struct {
	Verbose bool
	JSON    bool
}

type MockAPIConfig struct {
	Addr        string
	DSN         string
	Seed        bool
	RequestLogs bool
}

// LoadOption tweaks how Load finds its inputs.
type LoadOption func(*loader)

type loader struct {
	dir     string
	environ map[string]string
}

// WithDir looks for dotenv files in dir instead of the working directory.
func WithDir(dir string) LoadOption {
	return func(l *loader) { l.dir = dir }
}

// WithEnv overrides variables without touching the process environment.
// Keys are the full variable names, e.g. MENTOR_API_TOKEN.
func WithEnv(env map[string]string) LoadOption {
	return func(l *loader) { l.environ = env }
}

func defaults(v *viper.Viper) {
	store := querycache.DefaultConfig()

	v.SetDefault("env", "dev")
	v.SetDefault("api.base_url", "http://localhost:8080/v1")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 30*time.Second)

	v.SetDefault("cache.stale_time", 30*time.Second)
	v.SetDefault("cache.gc_time", store.GCTime)
	v.SetDefault("cache.capacity", store.Capacity)
	v.SetDefault("cache.num_shards", store.NumShards)
	v.SetDefault("cache.eviction_percentage", store.EvictionPercentage)
	v.SetDefault("cache.retry", store.Retry)
	v.SetDefault("cache.retry_base_delay", store.RetryBaseDelay)
	v.SetDefault("cache.retry_max_delay", store.RetryMaxDelay)
	v.SetDefault("cache.structural_sharing", store.StructuralSharing)

	v.SetDefault("log.verbose", false)
	v.SetDefault("log.json", false)

	v.SetDefault("mockapi.addr", ":8080")
	v.SetDefault("mockapi.dsn", "file::memory:?cache=shared")
	v.SetDefault("mockapi.seed", true)
	v.SetDefault("mockapi.request_logs", true)
}

// Load reads the configuration. Values come from, in order of precedence,
// the process environment (or WithEnv), .env.<env> and .env in the load
// directory, and the defaults. Missing dotenv files are ignored.
func Load(opts ...LoadOption) (Config, error) {
	l := &loader{}
	for _, opt := range opts {
		opt(l)
	}
	if l.dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("config: getwd: %w", err)
		}
		l.dir = wd
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	env := strings.ToLower(l.lookup(EnvPrefix + "_ENV"))
	if env == "" {
		env = v.GetString("env")
	}
	seen := make(map[string]bool)
	for _, name := range []string{".env." + env, ".env"} {
		if err := l.loadDotEnv(v, filepath.Join(l.dir, name), seen); err != nil {
			return Config{}, err
		}
	}
	for key, value := range l.environ {
		if name, ok := envKey(key); ok {
			v.Set(name, value)
		}
	}

	cfg := Config{
		Env: env,
		API: APIConfig{
			BaseURL: v.GetString("api.base_url"),
			Token:   v.GetString("api.token"),
			Timeout: v.GetDuration("api.timeout"),
		},
		Cache: CacheConfig{
			StaleTime:          v.GetDuration("cache.stale_time"),
			GCTime:             v.GetDuration("cache.gc_time"),
			Capacity:           v.GetInt("cache.capacity"),
			NumShards:          v.GetInt("cache.num_shards"),
			EvictionPercentage: v.GetInt("cache.eviction_percentage"),
			Retry:              v.GetInt("cache.retry"),
			RetryBaseDelay:     v.GetDuration("cache.retry_base_delay"),
			RetryMaxDelay:      v.GetDuration("cache.retry_max_delay"),
			StructuralSharing:  v.GetBool("cache.structural_sharing"),
		},
		Log: LogConfig{
			Verbose: v.GetBool("log.verbose"),
			JSON:    v.GetBool("log.json"),
		},
		MockAPI: MockAPIConfig{
			Addr:        v.GetString("mockapi.addr"),
			DSN:         v.GetString("mockapi.dsn"),
			Seed:        v.GetBool("mockapi.seed"),
			RequestLogs: v.GetBool("mockapi.request_logs"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l *loader) lookup(key string) string {
	if v, ok := l.environ[key]; ok {
		return v
	}
	return os.Getenv(key)
}

// loadDotEnv applies the file's MENTOR_* entries below the environment.
// Files loaded earlier win over later ones.
func (l *loader) loadDotEnv(v *viper.Viper, path string, seen map[string]bool) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	for key, value := range values {
		name, ok := envKey(key)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		v.SetDefault(name, value)
	}
	return nil
}

// envKey maps MENTOR_CACHE_STALE_TIME to cache.stale_time.
func envKey(variable string) (string, bool) {
	name, ok := strings.CutPrefix(variable, EnvPrefix+"_")
	if !ok || name == "" {
		return "", false
	}
	return strings.ToLower(strings.Replace(name, "_", ".", 1)), true
}

// Validate checks every section and returns the first problem as a
// *cacheinfra.ConfigError.
func (c Config) Validate() error {
	if err := validation.ValidateStruct(&c.API,
		validation.Field(&c.API.BaseURL, validation.Required, is.RequestURL),
		validation.Field(&c.API.Timeout, validation.Min(time.Duration(0))),
	); err != nil {
		return sectionError("API", err)
	}
	if err := validation.ValidateStruct(&c.MockAPI,
		validation.Field(&c.MockAPI.Addr, validation.Required),
		validation.Field(&c.MockAPI.DSN, validation.Required),
	); err != nil {
		return sectionError("MockAPI", err)
	}
	return c.Store().Validate()
}

func sectionError(section string, err error) error {
	var fields validation.Errors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return err
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return &cacheinfra.ConfigError{Field: section + "." + names[0], Message: fields[names[0]].Error()}
}

// Store converts the cache section into a store configuration.
func (c Config) Store() querycache.Config {
	cfg := querycache.DefaultConfig()
	cfg.StaleTime = c.Cache.StaleTime
	cfg.GCTime = c.Cache.GCTime
	cfg.Capacity = c.Cache.Capacity
	cfg.NumShards = c.Cache.NumShards
	cfg.EvictionPercentage = c.Cache.EvictionPercentage
	cfg.Retry = c.Cache.Retry
	cfg.RetryBaseDelay = c.Cache.RetryBaseDelay
	cfg.RetryMaxDelay = c.Cache.RetryMaxDelay
	cfg.StructuralSharing = c.Cache.StructuralSharing
	return cfg
}
