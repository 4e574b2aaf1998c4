// Command apigateway exposes ExecutionService and KnowledgeService (§6)
// over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowforge/workflow-engine/apigateway"
	"github.com/flowforge/workflow-engine/clockid"
	"github.com/flowforge/workflow-engine/config"
	"github.com/flowforge/workflow-engine/knowledge"
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

	clock := clockid.System{}
	idgen := clockid.System{}
	knowledgeSvc := knowledge.NewService(store, clock, idgen)

	gw := apigateway.New(store, q, knowledgeSvc, clock, idgen)

	addr := cfg.HTTP.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: gw.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("apigateway listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "apigateway exited")
		os.Exit(1)
	}
	logger.Info("apigateway shut down")
}
