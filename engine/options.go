package engine

import (
	"time"

	"github.com/flowforge/workflow-engine/clockid"
)

// ExecutionDefaults mirrors the execution.defaults block of §6's config
// surface: the bounds every execution is seeded with unless the
// workflow/trigger overrides them.
type ExecutionDefaults struct {
	MaxLoops               int
	MaxRetries             int
	MaxRetrievalRequests   int
	MaxRetrievalFailures   int
	MaxRetrievalDurationMs int64
	MaxDuration            time.Duration
	RetryBaseDelay         time.Duration
}

// DefaultExecutionDefaults returns the literal values named in §6.
func DefaultExecutionDefaults() ExecutionDefaults {
	return ExecutionDefaults{
		MaxLoops:               100,
		MaxRetries:             3,
		MaxRetrievalRequests:   50,
		MaxRetrievalFailures:   10,
		MaxRetrievalDurationMs: 60000,
		MaxDuration:            15 * time.Minute,
		RetryBaseDelay:         500 * time.Millisecond,
	}
}

// Config is the engine's assembled configuration after options apply.
type Config struct {
	Defaults          ExecutionDefaults
	Registry          Registry
	Clock             clockid.Clock
	IDGen             clockid.IDGen
	Logger            Logger
	IngestKnowledge   KnowledgeIngestFunc
	RetrieveKnowledge RetrieveKnowledgeFunc
	SnapshotSink      func(snapshot SnapshotArgs)
	MaxConcurrency    int
}

// SnapshotArgs is what the engine hands its SnapshotSink each time a
// context snapshot is taken (init, post-step, final, or error).
type SnapshotArgs struct {
	ExecutionID string
	Sequence    int
	Reason      string
	NodeID      string
	NodeType    string
	State       *ContextState
}

// Option configures a Config. Errors surface at New time so
// invalid combinations never reach a running execution.
type Option func(*Config) error

// WithRegistry sets the node-type registry. Required.
func WithRegistry(r Registry) Option {
	return func(c *Config) error {
		c.Registry = r
		return nil
	}
}

// WithDefaults overrides the execution.defaults bounds.
func WithDefaults(d ExecutionDefaults) Option {
	return func(c *Config) error {
		c.Defaults = d
		return nil
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(clk clockid.Clock) Option {
	return func(c *Config) error {
		c.Clock = clk
		return nil
	}
}

// WithIDGen overrides the ID generator, primarily for tests.
func WithIDGen(gen clockid.IDGen) Option {
	return func(c *Config) error {
		c.IDGen = gen
		return nil
	}
}

// WithLogger sets the structured logger handed to every node.
func WithLogger(l Logger) Option {
	return func(c *Config) error {
		c.Logger = l
		return nil
	}
}

// WithKnowledgeIngest wires the knowledge-ingest capability. Nodes of
// kind knowledge-ingest fail with CapabilityMissing if left unset.
func WithKnowledgeIngest(fn KnowledgeIngestFunc) Option {
	return func(c *Config) error {
		c.IngestKnowledge = fn
		return nil
	}
}

// WithKnowledgeRetrieve wires the knowledge-retrieve capability.
func WithKnowledgeRetrieve(fn RetrieveKnowledgeFunc) Option {
	return func(c *Config) error {
		c.RetrieveKnowledge = fn
		return nil
	}
}

// WithSnapshotSink registers a callback invoked every time the engine
// takes a context snapshot, letting the caller persist/emit it.
func WithSnapshotSink(fn func(SnapshotArgs)) Option {
	return func(c *Config) error {
		c.SnapshotSink = fn
		return nil
	}
}

// WithMaxConcurrency bounds how many nodes in a single wave may run
// concurrently. Zero or negative means unbounded (errgroup default).
func WithMaxConcurrency(n int) Option {
	return func(c *Config) error {
		c.MaxConcurrency = n
		return nil
	}
}

func newConfig(opts ...Option) (*Config, error) {
	c := &Config{
		Defaults: DefaultExecutionDefaults(),
		Clock:    clockid.System{},
		IDGen:    clockid.System{},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.Registry == nil {
		return nil, errMissingRegistry
	}
	return c, nil
}
