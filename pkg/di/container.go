// Package di wires the query cache, the API client and the resource bindings
// from one configuration.
package di

import (
	"fmt"
	"net/http"

	"github.com/goliatone/go-query-cache/api"
	"github.com/goliatone/go-query-cache/internal/config"
	"github.com/goliatone/go-query-cache/internal/logging"
	"github.com/goliatone/go-query-cache/mentor"
	"github.com/goliatone/go-query-cache/querycache"
)

// Option customizes a Container before its components are built.
type Option func(*options)

type options struct {
	logger     logging.Logger
	httpClient *http.Client
	token      api.TokenSource
	apiOpts    []api.Option
	queryOpts  []querycache.QueryOption
}

// WithLogger replaces the logger derived from the log section.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient replaces the client built from the api timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithTokenSource authenticates requests. It takes precedence over the
// configured static token.
func WithTokenSource(ts api.TokenSource) Option {
	return func(o *options) { o.token = ts }
}

// WithAPIOptions passes extra options to the API client.
func WithAPIOptions(opts ...api.Option) Option {
	return func(o *options) { o.apiOpts = append(o.apiOpts, opts...) }
}

// WithQueryOptions applies opts to every read query of the bindings.
func WithQueryOptions(opts ...querycache.QueryOption) Option {
	return func(o *options) { o.queryOpts = append(o.queryOpts, opts...) }
}

// Container holds one instance of every application component. Build one
// per session: every service shares the same store.
type Container struct {
	config   config.Config
	logger   logging.Logger
	store    *querycache.Store
	client   *api.Client
	services *mentor.Services
}

// NewContainer validates cfg and builds the logger, the store, the API client
// and the bindings, in that order.
func NewContainer(cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("di: invalid config: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = logging.NewSlogAdapter(logging.New(logging.Options{
			Verbose: cfg.Log.Verbose,
			JSON:    cfg.Log.JSON,
		}))
	}

	store, err := querycache.New(cfg.Store(),
		querycache.WithLogger(logger),
		querycache.WithRetryPolicy(api.RetryPolicy),
	)
	if err != nil {
		return nil, err
	}

	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.API.Timeout}
	}
	apiOpts := []api.Option{api.WithHTTPClient(hc), api.WithLogger(logger)}
	switch {
	case o.token != nil:
		apiOpts = append(apiOpts, api.WithTokenSource(o.token))
	case cfg.API.Token != "":
		apiOpts = append(apiOpts, api.WithTokenSource(api.StaticToken(cfg.API.Token)))
	}
	client, err := api.New(cfg.API.BaseURL, append(apiOpts, o.apiOpts...)...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Debug("container ready", "base_url", client.BaseURL(), "env", cfg.Env)

	return &Container{
		config:   cfg,
		logger:   logger,
		store:    store,
		client:   client,
		services: mentor.NewServices(store, client, o.queryOpts...),
	}, nil
}

// NewContainerWithDefaults loads the configuration from the environment and
// dotenv files in the working directory.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewContainer(cfg, opts...)
}

// Config returns the configuration the container was built from.
func (c *Container) Config() config.Config {
	return c.config
}

func (c *Container) Logger() logging.Logger {
	return c.logger
}

// Store returns the shared query cache.
func (c *Container) Store() *querycache.Store {
	return c.store
}

func (c *Container) Client() *api.Client {
	return c.client
}

// Services returns the resource bindings.
func (c *Container) Services() *mentor.Services {
	return c.services
}

// Reset drops every cached query, e.g. on sign-out.
func (c *Container) Reset() {
	c.store.Clear()
	c.logger.Info("query cache cleared")
}

// Close stops in-flight fetches and releases the store.
func (c *Container) Close() error {
	return c.store.Close()
}
