package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"

	"github.com/sogeor/flow/domain"
	"github.com/sogeor/flow/storage"
)

type sweeperConfig struct {
	Debug                   bool          `env:"DEBUG"`
	StorageConnectionString string        `env:"STORAGE_CONNECTION_STRING,required"`
	AccountsTable           string        `env:"ACCOUNTS_TABLE" envDefault:"accounts"`
	BoardsTable             string        `env:"BOARDS_TABLE" envDefault:"boards"`
	WorkflowsTable          string        `env:"WORKFLOWS_TABLE" envDefault:"workflows"`
	CascadeQueue            string        `env:"CASCADE_QUEUE" envDefault:"cascade-intents"`
	Lease                   time.Duration `env:"CASCADE_LEASE" envDefault:"2m"`
	IdleWait                time.Duration `env:"SWEEP_IDLE_WAIT" envDefault:"10s"`
	MaxDequeue              int64         `env:"CASCADE_MAX_DEQUEUE" envDefault:"5"`
	RedisConnectionString   string        `env:"REDIS_CONNECTION_STRING"`
	CacheTTL                time.Duration `env:"CACHE_TTL" envDefault:"1m"`
}

func main() {
	var cfg sweeperConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	logger.Info("cascade sweeper starting")

	tables, err := storage.NewTables(cfg.StorageConnectionString, cfg.AccountsTable, cfg.BoardsTable, cfg.WorkflowsTable)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	var store domain.Store = tables.WithLogger(logger)
	// Replayed deletes must evict the listings the API caches.
	if cfg.RedisConnectionString != "" {
		rc := storage.NewRedisClient(cfg.RedisConnectionString)
		defer rc.Close()
		store = storage.NewCache(store, rc, cfg.CacheTTL)
	}

	queue, err := storage.NewQueueIntentLog(cfg.StorageConnectionString, cfg.CascadeQueue, cfg.Lease)
	if err != nil {
		logger.Fatalf("queue client: %v", err)
	}

	s := &sweeper{
		intents:    queue,
		cascade:    domain.NewOrchestrator(store, domain.WithLogger(logger)),
		lease:      cfg.Lease,
		idleWait:   cfg.IdleWait,
		maxDequeue: cfg.MaxDequeue,
		log:        logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	s.run(ctx)
	logger.Info("cascade sweeper stopped")
}
