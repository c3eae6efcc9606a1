// colonybridge tails the Elite Dangerous journal and keeps a remote
// colonization tracking service in sync: construction depot needs, commander
// contributions and fleet carrier cargo.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"colonybridge/internal/buildinfo"
	"colonybridge/internal/carrier"
	"colonybridge/internal/config"
	"colonybridge/internal/dispatch"
	"colonybridge/internal/engine"
	"colonybridge/internal/journal"
	"colonybridge/internal/logging"
	"colonybridge/internal/metrics"
	"colonybridge/internal/outbox"
	"colonybridge/internal/rcapi"
	"colonybridge/internal/status"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "colonybridge:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath = flag.String("config", "", "path to YAML config file")
		version = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println(buildinfo.Info())
		return nil
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Info("starting", zap.String("version", buildinfo.Version), zap.String("journalDir", cfg.JournalDir))

	metrics.RegisterDefault()

	if _, err := os.Stat(cfg.JournalDir); err != nil {
		return fmt.Errorf("journal directory: %w", err)
	}

	client := rcapi.New(cfg.API.BaseURL, buildinfo.UserAgent(), cfg.API.Timeout, cfg.API.RatePerSec, log)

	var broker status.Broker
	if cfg.Status.RedisURL != "" {
		broker, err = status.NewRedisBroker(cfg.Status.RedisURL, log)
		if err != nil {
			return fmt.Errorf("redis broker: %w", err)
		}
	} else {
		broker = status.NewMemoryBroker()
	}
	defer broker.Close()
	sink := status.NewSink(broker, log)

	queue := dispatch.New(256, 3*cfg.API.Timeout, log, sink)

	var store outbox.Store
	if cfg.Outbox.Path != "" {
		store, err = outbox.NewSQLiteStore(cfg.Outbox.Path)
		if err != nil {
			return err
		}
	} else {
		store = outbox.NewMemoryStore()
	}
	defer store.Close()

	worker := outbox.NewWorker(store, client, nil, cfg.Outbox.Interval, cfg.Outbox.MaxAttempts, log)
	fc := carrier.NewHandler(client, queue, worker, log)
	worker.SetCache(fc)

	scanner := &journal.Scanner{Dir: cfg.JournalDir, Log: log}
	tracker := engine.NewTracker(client, queue, sink, scanner, fc, cfg.API.Key, log)
	if cfg.Stealth {
		tracker.SetStealth(true)
	}
	if cfg.API.Commander != "" {
		tracker.Bootstrap(cfg.API.Commander)
	}

	watcher, err := journal.NewWatcher(cfg.JournalDir, log)
	if err != nil {
		return fmt.Errorf("journal watcher: %w", err)
	}
	server := status.NewServer(cfg.Status.Addr, tracker, fc, store, broker, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue.Start()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error {
		for rec := range watcher.Records() {
			tracker.Handle(rec)
		}
		return nil
	})
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	err = g.Wait()
	log.Info("shutting down")
	if cerr := queue.Close(10 * time.Second); cerr != nil {
		log.Warn("dispatch queue shutdown", zap.Error(cerr))
	}
	return err
}
