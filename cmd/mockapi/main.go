// Command mockapi serves the seeded development backend. Configuration comes
// from MENTOR_* variables and dotenv files; flags override the mockapi
// section.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-query-cache/internal/config"
	"github.com/goliatone/go-query-cache/internal/logging"
	"github.com/goliatone/go-query-cache/internal/mockapi"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	fs := flag.NewFlagSet("mockapi", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.MockAPI.Addr, "addr", cfg.MockAPI.Addr, "listen address")
	fs.StringVar(&cfg.MockAPI.DSN, "dsn", cfg.MockAPI.DSN, "SQLite data source")
	fs.BoolVar(&cfg.MockAPI.Seed, "seed", cfg.MockAPI.Seed, "seed an empty database")
	fs.BoolVar(&cfg.MockAPI.RequestLogs, "request-logs", cfg.MockAPI.RequestLogs, "log every request")
	fs.BoolVar(&cfg.Log.Verbose, "verbose", cfg.Log.Verbose, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	logger := logging.NewSlogAdapter(logging.New(logging.Options{
		Verbose: cfg.Log.Verbose,
		JSON:    cfg.Log.JSON,
		Writer:  stderr,
	}))

	srv, err := mockapi.NewServer(ctx, mockapi.Options{
		Address:        cfg.MockAPI.Addr,
		DSN:            cfg.MockAPI.DSN,
		Seed:           cfg.MockAPI.Seed,
		DisableReqLogs: !cfg.MockAPI.RequestLogs,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("start mock api", "err", err)
		return 1
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	_, _ = fmt.Fprintf(stdout, "mock api listening on %s, resources under /v1\n", cfg.MockAPI.Addr)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("serve", "err", err)
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
		return 1
	}
	return 0
}
