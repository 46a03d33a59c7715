// Package main is the docjobs command line client.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiranshivaraju/docjobs/internal/cache"
	"github.com/kiranshivaraju/docjobs/internal/config"
	"github.com/kiranshivaraju/docjobs/internal/job"
	"github.com/kiranshivaraju/docjobs/internal/processing"
	"github.com/kiranshivaraju/docjobs/internal/remote"
	"github.com/kiranshivaraju/docjobs/internal/store"
)

const usage = `usage: docjobs <command> [flags] [args]

commands:
  convert      convert or combine files
  ocr          recognize text into a searchable pdf
  split        split a document into page ranges
  redact       redact regex matches into a pdf or plain text
  resume       wait for a previously submitted process
  health       check the ledger and cache connections`

var errUsage = errors.New(usage)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		slog.Error("docjobs failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w\n\nunknown command %q", errUsage, args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	return cmd(ctx, a, args[1:], stdout)
}

// app holds the wired service and the optional backends behind it.
type app struct {
	svc     *processing.Service
	ledger  store.Store
	cache   cache.Cache
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := slog.Default()
	a := &app{ledger: store.NopStore{}}

	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
			a.close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		a.ledger = store.NewPostgresStore(pool)
		logger.Info("job ledger enabled")
	}

	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create redis cache: %w", err)
		}
		a.closers = append(a.closers, func() { _ = redisCache.Close() })
		a.cache = redisCache
		logger.Info("redis job cache enabled")
	} else {
		a.cache = cache.NewMemoryCache()
	}

	client := remote.NewClient(cfg.Remote.BaseURL,
		remote.WithAPIKey(cfg.Remote.APIKey),
		remote.WithTimeout(cfg.Remote.Timeout),
		remote.WithLogger(logger),
	)
	poller := job.NewPoller(client,
		job.WithBackoff(job.ExponentialBackoff(cfg.Polling.Interval, cfg.Polling.MaxInterval, cfg.Polling.Multiplier)),
		job.WithCache(a.cache),
		job.WithPollLedger(a.ledger),
		job.WithPollLogger(logger),
	)

	svc, err := processing.NewService(processing.Dependencies{
		Client: client,
		Poller: poller,
		Ledger: a.ledger,
		Logger: logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.svc = svc
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
