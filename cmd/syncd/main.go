// Package main runs the TipSync daemon: it opens the durable operation
// queue, connects to the remote document store, and keeps the two reconciled
// on a background schedule.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/autogratuity/tipsync/internal/db"
	"github.com/autogratuity/tipsync/internal/logging"
	"github.com/autogratuity/tipsync/internal/queue"
	"github.com/autogratuity/tipsync/internal/remote"
	"github.com/autogratuity/tipsync/internal/scheduler"
	syncpkg "github.com/autogratuity/tipsync/internal/sync"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logging.Error("Invalid configuration", err, nil)
		os.Exit(1)
	}

	logging.Init(os.Stdout, cfg.LogLevel)
	logging.Info("TipSync daemon starting", map[string]interface{}{
		"version":  Version,
		"data_dir": cfg.DataDir,
	})

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logging.Error("Failed to open database", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Migrate(); err != nil {
		logging.Error("Failed to migrate database", err, nil)
		os.Exit(1)
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	store := queue.NewStore(repo, cfg.QueueMaxSize)
	if _, err := store.Recover(); err != nil {
		logging.Error("Failed to recover operation queue", err, nil)
		os.Exit(1)
	}

	docs := remote.NewHTTPClient(remote.Config{
		BaseURL:   cfg.RemoteBaseURL,
		AuthToken: cfg.RemoteAuthToken,
		Timeout:   cfg.RemoteTimeout,
	})

	coordinator := syncpkg.NewCoordinator(store, docs,
		syncpkg.WithCallTimeout(cfg.RemoteTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(coordinator, scheduler.Config{Interval: cfg.SyncInterval})
	sched.Start(ctx)

	// Drain whatever queued up while the daemon was down.
	sched.TriggerSync(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	cancel()
	sched.Stop()
}
