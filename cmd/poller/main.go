// Command poller runs the schedule poller (§4.9): it scans active
// workflows every 30 seconds and enqueues an execution for any
// schedule-trigger node whose interval has elapsed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowforge/workflow-engine/clockid"
	"github.com/flowforge/workflow-engine/config"
	"github.com/flowforge/workflow-engine/poller"
	"github.com/flowforge/workflow-engine/queue"
	"github.com/flowforge/workflow-engine/storegw"
	"github.com/go-logr/zapr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	zapLog, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zapLog.Sync()
	logger := zapr.NewLogger(zapLog)

	cfg, err := config.Load(os.Getenv("FLOWFORGE_CONFIG_FILE"))
	if err != nil {
		logger.Error(err, "failed to load config")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store storegw.Gateway
	switch cfg.Database.Driver {
	case "mysql":
		store, err = storegw.NewMySQLGateway(ctx, cfg.Database.DSN)
	default:
		store, err = storegw.NewSQLiteGateway(ctx, cfg.Database.DSN)
	}
	if err != nil {
		logger.Error(err, "failed to open storage gateway")
		os.Exit(1)
	}
	defer store.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%d", cfg.Queue.RedisHost, cfg.Queue.RedisPort)})
	defer redisClient.Close()
	q := queue.New(redisClient)

	p := poller.New(store, q, clockid.System{}, clockid.System{})

	logger.Info("poller started")
	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error(err, "poller exited")
		os.Exit(1)
	}
	logger.Info("poller shutting down")
}
