package engine

import (
	"context"

	"github.com/flowforge/workflow-engine/domain"
)

// NodeInput is what a node's Execute receives: the merged output of its
// active parents (or the execution's trigger payload for a root node)
// plus a snapshot of its own static config.
type NodeInput struct {
	Data     map[string]interface{}
	Metadata NodeInputMetadata
}

// NodeInputMetadata carries the node's static config alongside its data.
type NodeInputMetadata struct {
	NodeConfig map[string]interface{}
}

// NodeOutput is what a node's Execute returns on success.
type NodeOutput struct {
	Data     map[string]interface{}
	Metadata map[string]interface{}
}

// ValidationResult is returned by a node's Validate(config).
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ContextPatch is a partial update a node applies via
// NodeContext.UpdateExecutionContext. Zero-value fields are no-ops
// except for the pointer-typed Terminate, which is explicit tri-state.
type ContextPatch struct {
	Memory          map[string]interface{}
	Knowledge       map[string]interface{}
	Terminate       *bool
	LoopCount       *int
	RetryCount      *int
	MaxLoops        *int
	MaxRetries      *int
	ActiveNodeID    string
	LastCompletedID string
}

// KnowledgeMatch is one scored chunk returned by a retrieval query.
type KnowledgeMatch struct {
	ChunkID    string                 `json:"chunkId"`
	DocumentID string                 `json:"documentId"`
	CorpusID   string                 `json:"corpusId"`
	Content    string                 `json:"content"`
	Score      float64                `json:"score"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// KnowledgeIngestRequest carries a knowledge-ingest node's config and
// its resolved input data (for path/template resolution) to the
// engine-supplied ingestion capability.
type KnowledgeIngestRequest struct {
	UserID      string
	WorkflowID  string
	ExecutionID string
	Config      map[string]interface{}
	InputData   map[string]interface{}
}

// KnowledgeIngestedDocument reports one document ingested by a single
// knowledge-ingest node invocation.
type KnowledgeIngestedDocument struct {
	DocumentID string `json:"documentId"`
	ChunkCount int    `json:"chunkCount"`
	Status     string `json:"status"`
}

// KnowledgeIngestResult is the outcome of KnowledgeIngestFunc.
type KnowledgeIngestResult struct {
	CorpusID  string
	Documents []KnowledgeIngestedDocument
}

// KnowledgeIngestFunc is the capability a knowledge-ingest node invokes
// through its NodeContext. Nil when the engine was started without the
// knowledge capability wired (CapabilityMissing).
type KnowledgeIngestFunc func(ctx context.Context, req KnowledgeIngestRequest) (KnowledgeIngestResult, error)

// OrchestrationInfo describes how a retrieval call resolved its matches.
type OrchestrationInfo struct {
	Strategy             string   `json:"strategy"`
	Speculative          bool     `json:"speculative"`
	RetrieversTried      []string `json:"retrieversTried"`
	SelectedRetrieverKey string   `json:"selectedRetrieverKey"`
	BranchCount          int      `json:"branchCount"`
}

// KnowledgeRetrieveRequest carries a knowledge-retrieve node's
// `retrieval` config block to the engine-supplied retrieval capability.
type KnowledgeRetrieveRequest struct {
	UserID      string
	WorkflowID  string
	ExecutionID string
	Config      map[string]interface{}
	GetMemory   func(path string) (interface{}, bool)
}

// KnowledgeRetrieveResult is the outcome of RetrieveKnowledgeFunc.
type KnowledgeRetrieveResult struct {
	Matches       []KnowledgeMatch
	Orchestration OrchestrationInfo
}

// RetrieveKnowledgeFunc is the capability a knowledge-retrieve node
// invokes through its NodeContext. emitEvent is called once per branch
// attempt so the runner can persist ExecutionRetrievalEvent rows. Nil
// when the engine was started without the retrieval capability wired.
type RetrieveKnowledgeFunc func(ctx context.Context, req KnowledgeRetrieveRequest, emitEvent func(domain.ExecutionRetrievalEvent)) (KnowledgeRetrieveResult, error)

// Logger is the minimal structured logging surface a node's execute
// function is handed. Satisfied by github.com/go-logr/logr.Logger.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(err error, msg string, keysAndValues ...interface{})
}

// NodeContext is the capability bundle a node's Execute receives beside
// its input. It is single-writer: the runner holds it for the duration
// of exactly one node's attempt loop.
type NodeContext struct {
	ExecutionID string
	WorkflowID  string
	UserID      string
	NodeID      string
	NodeType    string
	Attempt     int

	Logger Logger

	GetAPIKey func(provider string) (string, error)

	GetMemory func(path string) (interface{}, bool)
	SetMemory func(path string, value interface{})

	UpdateExecutionContext func(patch ContextPatch)

	IngestKnowledge   KnowledgeIngestFunc
	RetrieveKnowledge RetrieveKnowledgeFunc
}

// NodeDefinition is the contract every built-in and custom node kind
// implements. Type identifies the kind in the registry; Validate runs
// once at DAG-validation time; Execute runs once per retry attempt.
type NodeDefinition interface {
	Type() string
	Validate(config map[string]interface{}) ValidationResult
	Execute(ctx context.Context, input NodeInput, nctx *NodeContext) (NodeOutput, error)
}

// Registry resolves a node type name to its NodeDefinition. Populated
// once at process start and treated as read-mostly thereafter.
type Registry interface {
	Lookup(nodeType string) (NodeDefinition, bool)
}
