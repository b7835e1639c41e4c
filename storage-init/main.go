package main

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"
)

type initConfig struct {
	Debug                   bool   `env:"DEBUG"`
	StorageConnectionString string `env:"STORAGE_CONNECTION_STRING,required"`
	AccountsTable           string `env:"ACCOUNTS_TABLE" envDefault:"accounts"`
	BoardsTable             string `env:"BOARDS_TABLE" envDefault:"boards"`
	WorkflowsTable          string `env:"WORKFLOWS_TABLE" envDefault:"workflows"`
	CascadeQueue            string `env:"CASCADE_QUEUE" envDefault:"cascade-intents"`
}

func main() {
	var cfg initConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := createTables(ctx, cfg.StorageConnectionString, []string{
		cfg.AccountsTable,
		cfg.BoardsTable,
		cfg.WorkflowsTable,
	}); err != nil {
		log.Fatalf("create tables: %v", err)
	}

	if err := createQueues(ctx, cfg.StorageConnectionString, []string{
		cfg.CascadeQueue,
	}); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
			return err
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	svc, err := azqueue.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewQueueClient(name).Create(ctx, nil)
		if err != nil && !alreadyExists(err, "QueueAlreadyExists") {
			return err
		}
		log.WithField("queue", name).Debug("queue ready")
	}
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
