// Command worker runs the execution worker (§4.8): it consumes the
// workflow-execution and knowledge-ingestion queues and drives jobs to
// completion against the configured storage backend.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowforge/workflow-engine/clockid"
	"github.com/flowforge/workflow-engine/config"
	"github.com/flowforge/workflow-engine/emit"
	"github.com/flowforge/workflow-engine/engine"
	"github.com/flowforge/workflow-engine/knowledge"
	"github.com/flowforge/workflow-engine/model"
	"github.com/flowforge/workflow-engine/model/anthropic"
	"github.com/flowforge/workflow-engine/model/google"
	"github.com/flowforge/workflow-engine/model/groq"
	"github.com/flowforge/workflow-engine/model/openai"
	"github.com/flowforge/workflow-engine/nodes"
	"github.com/flowforge/workflow-engine/queue"
	"github.com/flowforge/workflow-engine/retrieval"
	"github.com/flowforge/workflow-engine/storegw"
	"github.com/flowforge/workflow-engine/worker"
	"github.com/go-logr/zapr"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// llmRegistryAdapter satisfies nodes.LLMCaller over a model.Registry, so
// the nodes package never imports model directly (per nodes/deps.go's
// doc comment, assembled once here).
type llmRegistryAdapter struct {
	registry *model.Registry
}

func (a *llmRegistryAdapter) Call(provider string, req nodes.LLMRequest) (nodes.LLMResponse, error) {
	m, ok := a.registry.Resolve(provider)
	if !ok {
		return nodes.LLMResponse{}, fmt.Errorf("llm: provider %q not configured", provider)
	}
	resp, err := model.Generate(context.Background(), m, provider, req.Model, req.Prompt, model.GenerateOptions{
		MaxTokens: req.MaxTokens, Temperature: req.Temperature,
		SystemPrompt: req.SystemPrompt, TimeoutMs: req.TimeoutMs,
	})
	if err != nil {
		return nodes.LLMResponse{}, err
	}
	return nodes.LLMResponse{
		Content: resp.Content, Model: resp.Model,
		InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func buildModelRegistry() *model.Registry {
	reg := model.NewRegistry()
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		reg.Register("anthropic", anthropic.NewChatModel(key, "claude-sonnet-4"))
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		reg.Register("openai", openai.NewChatModel(key, "gpt-4o"))
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		reg.Register("gemini", google.NewChatModel(key, "gemini-1.5-pro"))
	}
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		reg.Register("groq", groq.NewChatModel(key, "llama-3.3-70b-versatile"))
	}
	return reg
}

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
	orchestrator := retrieval.NewOrchestrator(knowledgeSvc.RetrieveFunc(), clock)

	registry := nodes.NewRegistry(nodes.Dependencies{
		HTTPClient:  http.DefaultClient,
		LLMRegistry: &llmRegistryAdapter{registry: buildModelRegistry()},
	})

	defaults := engine.ExecutionDefaults{
		MaxLoops:               cfg.ExecutionDefaults.MaxLoops,
		MaxRetries:             cfg.ExecutionDefaults.MaxRetries,
		MaxRetrievalRequests:   cfg.ExecutionDefaults.MaxRetrievalRequests,
		MaxRetrievalFailures:   cfg.ExecutionDefaults.MaxRetrievalFailures,
		MaxRetrievalDurationMs: cfg.ExecutionDefaults.MaxRetrievalDurationMs,
	}

	tracerProvider := sdktrace.NewTracerProvider()
	defer tracerProvider.Shutdown(ctx)
	eventEmitter := emit.NewMultiEmitter(
		emit.NewLogEmitter(os.Stdout, true),
		emit.NewOTelEmitter(tracerProvider.Tracer("flowforge-worker")),
	)

	eng, err := engine.New(
		engine.WithRegistry(registry),
		engine.WithClock(clock),
		engine.WithIDGen(idgen),
		engine.WithLogger(logger),
		engine.WithDefaults(defaults),
		engine.WithKnowledgeIngest(knowledgeSvc.IngestFunc()),
		engine.WithKnowledgeRetrieve(orchestrator.Func()),
		engine.WithSnapshotSink(worker.SnapshotEmitter(store, idgen, logger)),
	)
	if err != nil {
		logger.Error(err, "failed to build engine")
		os.Exit(1)
	}

	w := worker.New(store, eng, knowledgeSvc.Ingest)

	drainer := worker.NewOutboxDrainer(store, eventEmitter, logger)
	go drainer.Run(ctx, 2*time.Second)

	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- q.Consume(ctx, queue.WorkflowExecutionQueue, concurrency, w.ExecuteWorkflowHandler())
	}()
	go func() {
		errCh <- q.Consume(ctx, queue.KnowledgeIngestionQueue, concurrency, w.IngestDocumentHandler())
	}()

	logger.Info("worker started", "concurrency", concurrency)
	select {
	case <-ctx.Done():
		logger.Info("worker shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error(err, "queue consumer exited")
		}
	}
}
