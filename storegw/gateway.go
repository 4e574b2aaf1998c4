// Package storegw persists every entity in the data model (§3) behind
// a single Gateway interface, with SQLite and MySQL implementations
// adapted from the teacher's graph/store package.
package storegw

import (
	"context"
	"errors"

	"github.com/flowforge/workflow-engine/domain"
)

// ErrNotFound is returned when a requested id does not exist.
var ErrNotFound = errors.New("storegw: not found")

// Gateway is the persistence boundary every other package depends on.
// worker, poller, and apigateway all go through Gateway rather than
// touching *sql.DB directly.
type Gateway interface {
	// Workflows
	SaveWorkflow(ctx context.Context, wf domain.Workflow) error
	GetWorkflow(ctx context.Context, id string) (domain.Workflow, error)
	ListWorkflows(ctx context.Context, userID string, limit, offset int) ([]domain.Workflow, error)
	ListActiveWorkflows(ctx context.Context) ([]domain.Workflow, error)

	// Executions
	CreateExecution(ctx context.Context, ex domain.Execution) error
	UpdateExecution(ctx context.Context, ex domain.Execution) error
	GetExecution(ctx context.Context, id string) (domain.Execution, error)
	ListExecutions(ctx context.Context, workflowID string, limit, offset int) ([]domain.Execution, error)

	// Steps and attempts
	SaveStep(ctx context.Context, step domain.ExecutionStep) error
	ListSteps(ctx context.Context, executionID string) ([]domain.ExecutionStep, error)
	SaveAttempt(ctx context.Context, attempt domain.ExecutionStepAttempt) error
	ListAttempts(ctx context.Context, executionID, nodeID string) ([]domain.ExecutionStepAttempt, error)

	// Context snapshots
	SaveContextSnapshot(ctx context.Context, snap domain.ExecutionContextSnapshot) error
	LatestContextSnapshot(ctx context.Context, executionID string) (domain.ExecutionContextSnapshot, error)
	ListContextSnapshots(ctx context.Context, executionID string) ([]domain.ExecutionContextSnapshot, error)

	// Retrieval events
	SaveRetrievalEvent(ctx context.Context, ev domain.ExecutionRetrievalEvent) error
	ListRetrievalEvents(ctx context.Context, executionID string) ([]domain.ExecutionRetrievalEvent, error)

	// Knowledge corpora/documents/chunks
	SaveCorpus(ctx context.Context, c domain.KnowledgeCorpus) error
	GetCorpus(ctx context.Context, id string) (domain.KnowledgeCorpus, error)
	FindCorpusByScope(ctx context.Context, userID string, scope domain.CorpusScope, workflowID, executionID string) (domain.KnowledgeCorpus, bool, error)
	SaveDocument(ctx context.Context, d domain.KnowledgeDocument) error
	GetDocument(ctx context.Context, id string) (domain.KnowledgeDocument, error)
	ListDocumentsByCorpus(ctx context.Context, corpusID string) ([]domain.KnowledgeDocument, error)
	DeleteChunksForDocument(ctx context.Context, documentID string) error
	SaveChunk(ctx context.Context, c domain.KnowledgeChunk) error
	ListChunksByCorpus(ctx context.Context, corpusID string, limit int) ([]domain.KnowledgeChunk, error)

	// Outbox
	SaveOutboxEvent(ctx context.Context, id, runID string, eventJSON []byte) error
	PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkEventsEmitted(ctx context.Context, eventIDs []string) error

	Close() error
}

// OutboxEvent is one row of the transactional outbox: a persisted
// emit.Event payload awaiting delivery to the observability sink.
type OutboxEvent struct {
	ID        string
	RunID     string
	EventJSON string
}
