// Package config loads process configuration from environment
// variables (and optional config files) via viper, per the options
// enumerated for the worker, poller, and API gateway processes.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config is the full set of environment-driven options shared by the
// worker, poller, and apigateway entrypoints. Each process reads only
// the sections it needs.
type Config struct {
	Worker          WorkerConfig
	Queue           QueueConfig
	RateLimit       RateLimitConfig
	WebhookRateLimit RateLimitConfig
	ExecutionDefaults ExecutionDefaultsConfig
	Database        DatabaseConfig
	HTTP            HTTPConfig
}

// WorkerConfig controls the queue consumer process.
type WorkerConfig struct {
	Concurrency int
	QueueName   string
}

// QueueConfig points the queue client at Redis.
type QueueConfig struct {
	RedisHost string
	RedisPort int
	RedisDB   int
}

// RateLimitConfig bounds requests per window for a given surface
// (API requests or inbound webhook triggers).
type RateLimitConfig struct {
	Max      int
	WindowMs int
}

// ExecutionDefaultsConfig seeds per-execution bounds when a workflow
// node doesn't declare its own.
type ExecutionDefaultsConfig struct {
	MaxLoops               int
	MaxRetries             int
	MaxRetrievalRequests   int
	MaxRetrievalFailures   int
	MaxRetrievalDurationMs int64
}

// DatabaseConfig selects and configures the storage gateway backend.
type DatabaseConfig struct {
	Driver string // "sqlite" or "mysql"
	DSN    string
}

// HTTPConfig controls the apigateway's listener.
type HTTPConfig struct {
	Addr string
}

// Load reads configuration from environment variables (prefix FLOWFORGE_,
// nested keys joined with "_") with defaults matching a single-process
// local deployment, and an optional config file if configPath is set.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("flowforge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.queueName", "workflow-execution")
	v.SetDefault("queue.redis.host", "localhost")
	v.SetDefault("queue.redis.port", 6379)
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("rateLimit.max", 100)
	v.SetDefault("rateLimit.windowMs", 60000)
	v.SetDefault("webhookRateLimit.max", 30)
	v.SetDefault("webhookRateLimit.windowMs", 60000)
	v.SetDefault("execution.defaults.maxLoops", 100)
	v.SetDefault("execution.defaults.maxRetries", 3)
	v.SetDefault("execution.defaults.maxRetrievalRequests", 50)
	v.SetDefault("execution.defaults.maxRetrievalFailures", 10)
	v.SetDefault("execution.defaults.maxRetrievalDurationMs", 60000)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "flowforge.db")
	v.SetDefault("http.addr", ":8080")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	return Config{
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
			QueueName:   v.GetString("worker.queueName"),
		},
		Queue: QueueConfig{
			RedisHost: v.GetString("queue.redis.host"),
			RedisPort: v.GetInt("queue.redis.port"),
			RedisDB:   v.GetInt("queue.redis.db"),
		},
		RateLimit: RateLimitConfig{
			Max:      v.GetInt("rateLimit.max"),
			WindowMs: v.GetInt("rateLimit.windowMs"),
		},
		WebhookRateLimit: RateLimitConfig{
			Max:      v.GetInt("webhookRateLimit.max"),
			WindowMs: v.GetInt("webhookRateLimit.windowMs"),
		},
		ExecutionDefaults: ExecutionDefaultsConfig{
			MaxLoops:               v.GetInt("execution.defaults.maxLoops"),
			MaxRetries:             v.GetInt("execution.defaults.maxRetries"),
			MaxRetrievalRequests:   v.GetInt("execution.defaults.maxRetrievalRequests"),
			MaxRetrievalFailures:   v.GetInt("execution.defaults.maxRetrievalFailures"),
			MaxRetrievalDurationMs: v.GetInt64("execution.defaults.maxRetrievalDurationMs"),
		},
		Database: DatabaseConfig{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		HTTP: HTTPConfig{
			Addr: v.GetString("http.addr"),
		},
	}, nil
}
