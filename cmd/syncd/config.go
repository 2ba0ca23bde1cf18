package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/autogratuity/tipsync/internal/logging"
)

// config holds daemon settings, loaded from the environment with an optional
// .env file for local development.
type config struct {
	DataDir         string
	RemoteBaseURL   string
	RemoteAuthToken string
	RemoteTimeout   time.Duration
	SyncInterval    time.Duration
	QueueMaxSize    int
	LogLevel        logging.LogLevel
}

func loadConfig() (*config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &config{
		DataDir:         envOr("TIPSYNC_DATA_DIR", "./data"),
		RemoteBaseURL:   os.Getenv("TIPSYNC_REMOTE_URL"),
		RemoteAuthToken: os.Getenv("TIPSYNC_REMOTE_TOKEN"),
		RemoteTimeout:   envDuration("TIPSYNC_REMOTE_TIMEOUT", 30*time.Second),
		SyncInterval:    envDuration("TIPSYNC_SYNC_INTERVAL", 15*time.Minute),
		QueueMaxSize:    envInt("TIPSYNC_QUEUE_MAX", 1000),
		LogLevel:        logging.LogLevel(envOr("TIPSYNC_LOG_LEVEL", string(logging.LevelInfo))),
	}

	if cfg.RemoteBaseURL == "" {
		return nil, fmt.Errorf("TIPSYNC_REMOTE_URL is required")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
