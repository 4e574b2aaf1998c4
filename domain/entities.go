// Package domain holds the persisted entity shapes and cross-cutting
// error kinds shared by every other package in the engine. It has no
// dependencies on the rest of the tree so any package may import it.
package domain

import "time"

// WorkflowStatus is the lifecycle state of a Workflow.
type WorkflowStatus string

const (
	WorkflowActive   WorkflowStatus = "active"
	WorkflowInactive WorkflowStatus = "inactive"
)

// Workflow is a persisted DAG definition produced by the visual editor.
type Workflow struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      WorkflowStatus `json:"status"`
	Nodes       []WorkflowNode `json:"nodes"`
	Edges       []WorkflowEdge `json:"edges"`
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// WorkflowNode is one vertex of the DAG.
type WorkflowNode struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Label    string                 `json:"label"`
	Position Position               `json:"position"`
	Config   map[string]interface{} `json:"config"`
}

// Position is the visual editor's canvas coordinate. The engine never
// reads it; it round-trips it for the editor's benefit.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// WorkflowEdge is one directed connection between two nodes.
type WorkflowEdge struct {
	ID        string      `json:"id"`
	Source    string      `json:"source"`
	Target    string      `json:"target"`
	Condition interface{} `json:"condition,omitempty"`
}

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCanceled  ExecutionStatus = "canceled"
)

// Execution is one run of a Workflow.
type Execution struct {
	ID             string                 `json:"id"`
	WorkflowID     string                 `json:"workflowId"`
	Status         ExecutionStatus        `json:"status"`
	TriggerPayload map[string]interface{} `json:"triggerPayload"`
	StartedAt      *time.Time             `json:"startedAt,omitempty"`
	FinishedAt     *time.Time             `json:"finishedAt,omitempty"`
	ErrorMessage   string                 `json:"errorMessage,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
}

// StepStatus is the terminal state of an ExecutionStep.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// ExecutionStep is the one terminal record per node attempted in a run.
type ExecutionStep struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"executionId"`
	NodeID      string                 `json:"nodeId"`
	NodeType    string                 `json:"nodeType"`
	Status      StepStatus             `json:"status"`
	Input       map[string]interface{} `json:"input"`
	Output      map[string]interface{} `json:"output,omitempty"`
	DurationMs  *int64                 `json:"durationMs,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// AttemptStatus is the outcome of a single node execution attempt.
type AttemptStatus string

const (
	AttemptCompleted AttemptStatus = "completed"
	AttemptRetry     AttemptStatus = "retry"
	AttemptFailed    AttemptStatus = "failed"
)

// ExecutionStepAttempt is one attempt within a node's retry loop.
type ExecutionStepAttempt struct {
	ExecutionID string        `json:"executionId"`
	NodeID      string        `json:"nodeId"`
	NodeType    string        `json:"nodeType"`
	Attempt     int           `json:"attempt"`
	Status      AttemptStatus `json:"status"`
	DurationMs  int64         `json:"durationMs"`
	Reason      string        `json:"reason,omitempty"`
}

// SnapshotReason classifies why a context snapshot was taken.
type SnapshotReason string

const (
	SnapshotInit  SnapshotReason = "init"
	SnapshotStep  SnapshotReason = "step"
	SnapshotFinal SnapshotReason = "final"
	SnapshotError SnapshotReason = "error"
)

// ExecutionContextSnapshot is a persisted copy of the execution context
// at a specific sequence point. Sequences are dense, start at 0 with
// reason=init, and end with final or error.
type ExecutionContextSnapshot struct {
	ExecutionID string              `json:"executionId"`
	Sequence    int                 `json:"sequence"`
	Reason      SnapshotReason      `json:"reason"`
	NodeID      string              `json:"nodeId,omitempty"`
	NodeType    string              `json:"nodeType,omitempty"`
	State       ExecutionContextState `json:"state"`
}

// RetrievalStatus is the outcome of one retrieval branch attempt.
type RetrievalStatus string

const (
	RetrievalSuccess RetrievalStatus = "success"
	RetrievalEmpty   RetrievalStatus = "empty"
	RetrievalFailed  RetrievalStatus = "failed"
)

// ExecutionRetrievalEvent records one branch attempt made by the
// retrieval orchestrator.
type ExecutionRetrievalEvent struct {
	ExecutionID     string          `json:"executionId"`
	NodeID          string          `json:"nodeId"`
	NodeType        string          `json:"nodeType"`
	Query           string          `json:"query"`
	TopK            int             `json:"topK"`
	Attempt         int             `json:"attempt"`
	MaxAttempts     int             `json:"maxAttempts"`
	Status          RetrievalStatus `json:"status"`
	MatchesCount    int             `json:"matchesCount"`
	DurationMs      int64           `json:"durationMs"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	ScopeType       string          `json:"scopeType,omitempty"`
	CorpusID        string          `json:"corpusId,omitempty"`
	WorkflowIDScope string          `json:"workflowIdScope,omitempty"`
	ExecutionIDScope string         `json:"executionIdScope,omitempty"`
	Strategy        string          `json:"strategy,omitempty"`
	RetrieverKey    string          `json:"retrieverKey,omitempty"`
	BranchIndex     int             `json:"branchIndex,omitempty"`
	Selected        bool            `json:"selected,omitempty"`
}

// ControlState tracks loop/retry bounds and the terminate flag.
type ControlState struct {
	LoopCount  int  `json:"loopCount"`
	RetryCount int  `json:"retryCount"`
	MaxLoops   int  `json:"maxLoops"`
	MaxRetries int  `json:"maxRetries"`
	Terminate  bool `json:"terminate"`
}

// RetrievalCounters accumulates retrieval orchestration totals for the
// whole execution, used to enforce the bounds in ControlState.
type RetrievalCounters struct {
	TotalRequests    int   `json:"totalRequests"`
	TotalSuccesses   int   `json:"totalSuccesses"`
	TotalEmpties     int   `json:"totalEmpties"`
	TotalFailures    int   `json:"totalFailures"`
	TotalDurationMs  int64 `json:"totalDurationMs"`
	MaxRequests      int   `json:"maxRequests"`
	MaxFailures      int   `json:"maxFailures"`
	MaxDurationMs    int64 `json:"maxDurationMs"`
}

// RuntimeState tracks wall-clock bookkeeping for the execution.
type RuntimeState struct {
	StartedAt         time.Time `json:"startedAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	ActiveNodeID      string    `json:"activeNodeId,omitempty"`
	LastCompletedNodeID string  `json:"lastCompletedNodeId,omitempty"`
}

// ExecutionContextState is the v1 versioned state shared across nodes.
type ExecutionContextState struct {
	Version   int                    `json:"version"`
	Memory    map[string]interface{} `json:"memory"`
	Knowledge map[string]interface{} `json:"knowledge"`
	Control   ControlState           `json:"control"`
	Retrieval RetrievalCounters      `json:"retrieval"`
	Runtime   RuntimeState           `json:"runtime"`
}

// CorpusScope identifies the scoping rule of a KnowledgeCorpus.
type CorpusScope string

const (
	ScopeUser      CorpusScope = "user"
	ScopeWorkflow  CorpusScope = "workflow"
	ScopeExecution CorpusScope = "execution"
)

// CorpusStatus is the ingestion rollup status of a KnowledgeCorpus.
type CorpusStatus string

const (
	CorpusIngesting CorpusStatus = "ingesting"
	CorpusReady     CorpusStatus = "ready"
	CorpusFailed    CorpusStatus = "failed"
)

// KnowledgeCorpus is a named container of documents for retrieval.
type KnowledgeCorpus struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"userId"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	ScopeType   CorpusScope            `json:"scopeType"`
	WorkflowID  string                 `json:"workflowId,omitempty"`
	ExecutionID string                 `json:"executionId,omitempty"`
	Status      CorpusStatus           `json:"status"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// DocumentSourceType is the origin of a KnowledgeDocument's content.
type DocumentSourceType string

const (
	SourceUpload DocumentSourceType = "upload"
	SourceInline DocumentSourceType = "inline"
	SourceAPI    DocumentSourceType = "api"
)

// DocumentStatus is the ingestion state of one KnowledgeDocument.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentReady      DocumentStatus = "ready"
	DocumentFailed     DocumentStatus = "failed"
)

// KnowledgeDocument is one source document owned by a KnowledgeCorpus.
type KnowledgeDocument struct {
	ID          string                 `json:"id"`
	CorpusID    string                 `json:"corpusId"`
	UserID      string                 `json:"userId"`
	SourceType  DocumentSourceType     `json:"sourceType"`
	Title       string                 `json:"title"`
	MimeType    string                 `json:"mimeType,omitempty"`
	ContentText string                 `json:"contentText"`
	Status      DocumentStatus         `json:"status"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// KnowledgeChunk is one embedded slice of a KnowledgeDocument's content.
type KnowledgeChunk struct {
	ID             string                 `json:"id"`
	CorpusID       string                 `json:"corpusId"`
	DocumentID     string                 `json:"documentId"`
	ChunkIndex     int                    `json:"chunkIndex"`
	Content        string                 `json:"content"`
	TokenCount     int                    `json:"tokenCount,omitempty"`
	Embedding      []float64              `json:"embedding"`
	EmbeddingModel string                 `json:"embeddingModel"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
}
