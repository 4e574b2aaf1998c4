package storegw

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/flowforge/workflow-engine/domain"
	_ "modernc.org/sqlite"
)

// SQLiteGateway is a single-file SQLite-backed Gateway, the engine's
// zero-setup persistence for development and single-process workers.
// Modeled on the teacher's SQLiteStore: WAL mode, a single writer
// connection, and JSON-serialized payload columns.
type SQLiteGateway struct {
	db *sql.DB
}

// NewSQLiteGateway opens path (":memory:" for ephemeral tests), enables
// WAL mode, and migrates the schema.
func NewSQLiteGateway(ctx context.Context, path string) (*SQLiteGateway, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storegw: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storegw: %s: %w", pragma, err)
		}
	}

	g := &SQLiteGateway{db: db}
	if err := g.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

func (g *SQLiteGateway) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY, user_id TEXT NOT NULL, name TEXT NOT NULL,
			description TEXT, status TEXT NOT NULL, nodes TEXT NOT NULL,
			edges TEXT NOT NULL, version INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL, updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_user ON workflows(user_id)`,

		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY, workflow_id TEXT NOT NULL, status TEXT NOT NULL,
			trigger_payload TEXT, started_at TIMESTAMP, finished_at TIMESTAMP,
			error_message TEXT, created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS execution_steps (
			id TEXT NOT NULL, execution_id TEXT NOT NULL, node_id TEXT NOT NULL,
			node_type TEXT NOT NULL, status TEXT NOT NULL, input TEXT, output TEXT,
			duration_ms INTEGER, error TEXT,
			PRIMARY KEY (execution_id, node_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_execution ON execution_steps(execution_id)`,

		`CREATE TABLE IF NOT EXISTS execution_step_attempts (
			execution_id TEXT NOT NULL, node_id TEXT NOT NULL, node_type TEXT NOT NULL,
			attempt INTEGER NOT NULL, status TEXT NOT NULL, duration_ms INTEGER NOT NULL,
			reason TEXT,
			PRIMARY KEY (execution_id, node_id, attempt)
		)`,

		`CREATE TABLE IF NOT EXISTS execution_context_snapshots (
			execution_id TEXT NOT NULL, sequence INTEGER NOT NULL, reason TEXT NOT NULL,
			node_id TEXT, node_type TEXT, state TEXT NOT NULL,
			PRIMARY KEY (execution_id, sequence)
		)`,

		`CREATE TABLE IF NOT EXISTS execution_retrieval_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT, execution_id TEXT NOT NULL,
			node_id TEXT NOT NULL, node_type TEXT NOT NULL, query TEXT, top_k INTEGER,
			attempt INTEGER, max_attempts INTEGER, status TEXT NOT NULL,
			matches_count INTEGER, duration_ms INTEGER, error_message TEXT,
			scope_type TEXT, corpus_id TEXT, workflow_id_scope TEXT, execution_id_scope TEXT,
			strategy TEXT, retriever_key TEXT, branch_index INTEGER, selected INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_retrieval_execution ON execution_retrieval_events(execution_id)`,

		`CREATE TABLE IF NOT EXISTS knowledge_corpora (
			id TEXT PRIMARY KEY, user_id TEXT NOT NULL, name TEXT NOT NULL,
			description TEXT, scope_type TEXT NOT NULL, workflow_id TEXT, execution_id TEXT,
			status TEXT NOT NULL, metadata TEXT,
			created_at TIMESTAMP NOT NULL, updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_corpora_scope ON knowledge_corpora(user_id, scope_type, workflow_id, execution_id)`,

		`CREATE TABLE IF NOT EXISTS knowledge_documents (
			id TEXT PRIMARY KEY, corpus_id TEXT NOT NULL, user_id TEXT NOT NULL,
			source_type TEXT NOT NULL, title TEXT, mime_type TEXT, content_text TEXT,
			status TEXT NOT NULL, error TEXT, metadata TEXT,
			created_at TIMESTAMP NOT NULL, updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_corpus ON knowledge_documents(corpus_id)`,

		`CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id TEXT PRIMARY KEY, corpus_id TEXT NOT NULL, document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL, content TEXT NOT NULL, token_count INTEGER,
			embedding TEXT NOT NULL, embedding_model TEXT, metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_corpus ON knowledge_chunks(corpus_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_document ON knowledge_chunks(document_id)`,

		`CREATE TABLE IF NOT EXISTS events_outbox (
			id TEXT PRIMARY KEY, run_id TEXT NOT NULL, event_data TEXT NOT NULL,
			emitted_at TIMESTAMP, created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_pending ON events_outbox(emitted_at, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := g.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storegw: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (g *SQLiteGateway) Close() error { return g.db.Close() }

func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// --- Workflows ---

func (g *SQLiteGateway) SaveWorkflow(ctx context.Context, wf domain.Workflow) error {
	nodesJSON, err := marshalJSON(wf.Nodes)
	if err != nil {
		return err
	}
	edgesJSON, err := marshalJSON(wf.Edges)
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO workflows (id, user_id, name, description, status, nodes, edges, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id=excluded.user_id, name=excluded.name, description=excluded.description,
			status=excluded.status, nodes=excluded.nodes, edges=excluded.edges,
			version=excluded.version, updated_at=excluded.updated_at
	`, wf.ID, wf.UserID, wf.Name, wf.Description, wf.Status, nodesJSON, edgesJSON, wf.Version, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storegw: save workflow: %w", err)
	}
	return nil
}

func (g *SQLiteGateway) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	var wf domain.Workflow
	var nodesJSON, edgesJSON string
	err := g.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, status, nodes, edges, version, created_at, updated_at
		FROM workflows WHERE id = ?
	`, id).Scan(&wf.ID, &wf.UserID, &wf.Name, &wf.Description, &wf.Status, &nodesJSON, &edgesJSON, &wf.Version, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Workflow{}, ErrNotFound
	}
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("storegw: get workflow: %w", err)
	}
	if err := json.Unmarshal([]byte(nodesJSON), &wf.Nodes); err != nil {
		return domain.Workflow{}, fmt.Errorf("storegw: unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(edgesJSON), &wf.Edges); err != nil {
		return domain.Workflow{}, fmt.Errorf("storegw: unmarshal edges: %w", err)
	}
	return wf, nil
}

func (g *SQLiteGateway) ListWorkflows(ctx context.Context, userID string, limit, offset int) ([]domain.Workflow, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, status, nodes, edges, version, created_at, updated_at
		FROM workflows WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storegw: list workflows: %w", err)
	}
	defer rows.Close()

	var out []domain.Workflow
	for rows.Next() {
		var wf domain.Workflow
		var nodesJSON, edgesJSON string
		if err := rows.Scan(&wf.ID, &wf.UserID, &wf.Name, &wf.Description, &wf.Status, &nodesJSON, &edgesJSON, &wf.Version, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storegw: scan workflow: %w", err)
		}
		json.Unmarshal([]byte(nodesJSON), &wf.Nodes)
		json.Unmarshal([]byte(edgesJSON), &wf.Edges)
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (g *SQLiteGateway) ListActiveWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, status, nodes, edges, version, created_at, updated_at
		FROM workflows WHERE status = ? ORDER BY created_at ASC
	`, domain.WorkflowActive)
	if err != nil {
		return nil, fmt.Errorf("storegw: list active workflows: %w", err)
	}
	defer rows.Close()

	var out []domain.Workflow
	for rows.Next() {
		var wf domain.Workflow
		var nodesJSON, edgesJSON string
		if err := rows.Scan(&wf.ID, &wf.UserID, &wf.Name, &wf.Description, &wf.Status, &nodesJSON, &edgesJSON, &wf.Version, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storegw: scan workflow: %w", err)
		}
		json.Unmarshal([]byte(nodesJSON), &wf.Nodes)
		json.Unmarshal([]byte(edgesJSON), &wf.Edges)
		out = append(out, wf)
	}
	return out, rows.Err()
}

// --- Executions ---

func (g *SQLiteGateway) CreateExecution(ctx context.Context, ex domain.Execution) error {
	payloadJSON, err := marshalJSON(ex.TriggerPayload)
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, status, trigger_payload, started_at, finished_at, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ex.ID, ex.WorkflowID, ex.Status, payloadJSON, ex.StartedAt, ex.FinishedAt, ex.ErrorMessage, ex.CreatedAt)
	if err != nil {
		return fmt.Errorf("storegw: create execution: %w", err)
	}
	return nil
}

func (g *SQLiteGateway) UpdateExecution(ctx context.Context, ex domain.Execution) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE executions SET status=?, started_at=?, finished_at=?, error_message=? WHERE id=?
	`, ex.Status, ex.StartedAt, ex.FinishedAt, ex.ErrorMessage, ex.ID)
	if err != nil {
		return fmt.Errorf("storegw: update execution: %w", err)
	}
	return nil
}

func (g *SQLiteGateway) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
	var ex domain.Execution
	var payloadJSON string
	err := g.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, trigger_payload, started_at, finished_at, error_message, created_at
		FROM executions WHERE id = ?
	`, id).Scan(&ex.ID, &ex.WorkflowID, &ex.Status, &payloadJSON, &ex.StartedAt, &ex.FinishedAt, &ex.ErrorMessage, &ex.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.Execution{}, ErrNotFound
	}
	if err != nil {
		return domain.Execution{}, fmt.Errorf("storegw: get execution: %w", err)
	}
	json.Unmarshal([]byte(payloadJSON), &ex.TriggerPayload)
	return ex, nil
}

func (g *SQLiteGateway) ListExecutions(ctx context.Context, workflowID string, limit, offset int) ([]domain.Execution, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, workflow_id, status, trigger_payload, started_at, finished_at, error_message, created_at
		FROM executions WHERE workflow_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, workflowID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storegw: list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		var ex domain.Execution
		var payloadJSON string
		if err := rows.Scan(&ex.ID, &ex.WorkflowID, &ex.Status, &payloadJSON, &ex.StartedAt, &ex.FinishedAt, &ex.ErrorMessage, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("storegw: scan execution: %w", err)
		}
		json.Unmarshal([]byte(payloadJSON), &ex.TriggerPayload)
		out = append(out, ex)
	}
	return out, rows.Err()
}

// --- Steps and attempts ---

func (g *SQLiteGateway) SaveStep(ctx context.Context, step domain.ExecutionStep) error {
	inputJSON, err := marshalJSON(step.Input)
	if err != nil {
		return err
	}
	outputJSON, err := marshalJSON(step.Output)
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO execution_steps (id, execution_id, node_id, node_type, status, input, output, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id, node_id) DO UPDATE SET
			status=excluded.status, input=excluded.input, output=excluded.output,
			duration_ms=excluded.duration_ms, error=excluded.error
	`, step.ID, step.ExecutionID, step.NodeID, step.NodeType, step.Status, inputJSON, outputJSON, step.DurationMs, step.Error)
	if err != nil {
		return fmt.Errorf("storegw: save step: %w", err)
	}
	return nil
}

func (g *SQLiteGateway) ListSteps(ctx context.Context, executionID string) ([]domain.ExecutionStep, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, execution_id, node_id, node_type, status, input, output, duration_ms, error
		FROM execution_steps WHERE execution_id = ? ORDER BY rowid
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("storegw: list steps: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionStep
	for rows.Next() {
		var s domain.ExecutionStep
		var inputJSON, outputJSON string
		if err := rows.Scan(&s.ID, &s.ExecutionID, &s.NodeID, &s.NodeType, &s.Status, &inputJSON, &outputJSON, &s.DurationMs, &s.Error); err != nil {
			return nil, fmt.Errorf("storegw: scan step: %w", err)
		}
		json.Unmarshal([]byte(inputJSON), &s.Input)
		json.Unmarshal([]byte(outputJSON), &s.Output)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (g *SQLiteGateway) SaveAttempt(ctx context.Context, a domain.ExecutionStepAttempt) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO execution_step_attempts (execution_id, node_id, node_type, attempt, status, duration_ms, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id, node_id, attempt) DO UPDATE SET
			status=excluded.status, duration_ms=excluded.duration_ms, reason=excluded.reason
	`, a.ExecutionID, a.NodeID, a.NodeType, a.Attempt, a.Status, a.DurationMs, a.Reason)
	if err != nil {
		return fmt.Errorf("storegw: save attempt: %w", err)
	}
	return nil
}

func (g *SQLiteGateway) ListAttempts(ctx context.Context, executionID, nodeID string) ([]domain.ExecutionStepAttempt, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT execution_id, node_id, node_type, attempt, status, duration_ms, reason
		FROM execution_step_attempts WHERE execution_id = ? AND node_id = ? ORDER BY attempt
	`, executionID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("storegw: list attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionStepAttempt
	for rows.Next() {
		var a domain.ExecutionStepAttempt
		if err := rows.Scan(&a.ExecutionID, &a.NodeID, &a.NodeType, &a.Attempt, &a.Status, &a.DurationMs, &a.Reason); err != nil {
			return nil, fmt.Errorf("storegw: scan attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Context snapshots ---

func (g *SQLiteGateway) SaveContextSnapshot(ctx context.Context, snap domain.ExecutionContextSnapshot) error {
	stateJSON, err := marshalJSON(snap.State)
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO execution_context_snapshots (execution_id, sequence, reason, node_id, node_type, state)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id, sequence) DO UPDATE SET state=excluded.state
	`, snap.ExecutionID, snap.Sequence, snap.Reason, snap.NodeID, snap.NodeType, stateJSON)
	if err != nil {
		return fmt.Errorf("storegw: save snapshot: %w", err)
	}
	return nil
}

func (g *SQLiteGateway) LatestContextSnapshot(ctx context.Context, executionID string) (domain.ExecutionContextSnapshot, error) {
	var snap domain.ExecutionContextSnapshot
	var stateJSON string
	err := g.db.QueryRowContext(ctx, `
		SELECT execution_id, sequence, reason, node_id, node_type, state
		FROM execution_context_snapshots WHERE execution_id = ? ORDER BY sequence DESC LIMIT 1
	`, executionID).Scan(&snap.ExecutionID, &snap.Sequence, &snap.Reason, &snap.NodeID, &snap.NodeType, &stateJSON)
	if err == sql.ErrNoRows {
		return domain.ExecutionContextSnapshot{}, ErrNotFound
	}
	if err != nil {
		return domain.ExecutionContextSnapshot{}, fmt.Errorf("storegw: latest snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &snap.State); err != nil {
		return domain.ExecutionContextSnapshot{}, fmt.Errorf("storegw: unmarshal snapshot state: %w", err)
	}
	return snap, nil
}

func (g *SQLiteGateway) ListContextSnapshots(ctx context.Context, executionID string) ([]domain.ExecutionContextSnapshot, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT execution_id, sequence, reason, node_id, node_type, state
		FROM execution_context_snapshots WHERE execution_id = ? ORDER BY sequence ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("storegw: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionContextSnapshot
	for rows.Next() {
		var snap domain.ExecutionContextSnapshot
		var stateJSON string
		if err := rows.Scan(&snap.ExecutionID, &snap.Sequence, &snap.Reason, &snap.NodeID, &snap.NodeType, &stateJSON); err != nil {
			return nil, fmt.Errorf("storegw: scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &snap.State); err != nil {
			return nil, fmt.Errorf("storegw: unmarshal snapshot state: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// --- Retrieval events ---

func (g *SQLiteGateway) SaveRetrievalEvent(ctx context.Context, ev domain.ExecutionRetrievalEvent) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO execution_retrieval_events (
			execution_id, node_id, node_type, query, top_k, attempt, max_attempts, status,
			matches_count, duration_ms, error_message, scope_type, corpus_id,
			workflow_id_scope, execution_id_scope, strategy, retriever_key, branch_index, selected
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ExecutionID, ev.NodeID, ev.NodeType, ev.Query, ev.TopK, ev.Attempt, ev.MaxAttempts, ev.Status,
		ev.MatchesCount, ev.DurationMs, ev.ErrorMessage, ev.ScopeType, ev.CorpusID,
		ev.WorkflowIDScope, ev.ExecutionIDScope, ev.Strategy, ev.RetrieverKey, ev.BranchIndex, ev.Selected)
	if err != nil {
		return fmt.Errorf("storegw: save retrieval event: %w", err)
	}
	return nil
}

func (g *SQLiteGateway) ListRetrievalEvents(ctx context.Context, executionID string) ([]domain.ExecutionRetrievalEvent, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT execution_id, node_id, node_type, query, top_k, attempt, max_attempts, status,
			matches_count, duration_ms, error_message, scope_type, corpus_id,
			workflow_id_scope, execution_id_scope, strategy, retriever_key, branch_index, selected
		FROM execution_retrieval_events WHERE execution_id = ? ORDER BY id
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("storegw: list retrieval events: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRetrievalEvent
	for rows.Next() {
		var ev domain.ExecutionRetrievalEvent
		if err := rows.Scan(&ev.ExecutionID, &ev.NodeID, &ev.NodeType, &ev.Query, &ev.TopK, &ev.Attempt, &ev.MaxAttempts, &ev.Status,
			&ev.MatchesCount, &ev.DurationMs, &ev.ErrorMessage, &ev.ScopeType, &ev.CorpusID,
			&ev.WorkflowIDScope, &ev.ExecutionIDScope, &ev.Strategy, &ev.RetrieverKey, &ev.BranchIndex, &ev.Selected); err != nil {
			return nil, fmt.Errorf("storegw: scan retrieval event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- Knowledge ---

func (g *SQLiteGateway) SaveCorpus(ctx context.Context, c domain.KnowledgeCorpus) error {
	metaJSON, err := marshalJSON(c.Metadata)
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO knowledge_corpora (id, user_id, name, description, scope_type, workflow_id, execution_id, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description, status=excluded.status,
			metadata=excluded.metadata, updated_at=excluded.updated_at
	`, c.ID, c.UserID, c.Name, c.Description, c.ScopeType, c.WorkflowID, c.ExecutionID, c.Status, metaJSON, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storegw: save corpus: %w", err)
	}
	return nil
}

func (g *SQLiteGateway) GetCorpus(ctx context.Context, id string) (domain.KnowledgeCorpus, error) {
	var c domain.KnowledgeCorpus
	var metaJSON string
	err := g.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, scope_type, workflow_id, execution_id, status, metadata, created_at, updated_at
		FROM knowledge_corpora WHERE id = ?
	`, id).Scan(&c.ID, &c.UserID, &c.Name, &c.Description, &c.ScopeType, &c.WorkflowID, &c.ExecutionID, &c.Status, &metaJSON, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.KnowledgeCorpus{}, ErrNotFound
	}
	if err != nil {
		return domain.KnowledgeCorpus{}, fmt.Errorf("storegw: get corpus: %w", err)
	}
	json.Unmarshal([]byte(metaJSON), &c.Metadata)
	return c, nil
}

func (g *SQLiteGateway) FindCorpusByScope(ctx context.Context, userID string, scope domain.CorpusScope, workflowID, executionID string) (domain.KnowledgeCorpus, bool, error) {
	var c domain.KnowledgeCorpus
	var metaJSON string
	err := g.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, scope_type, workflow_id, execution_id, status, metadata, created_at, updated_at
		FROM knowledge_corpora WHERE user_id = ? AND scope_type = ? AND workflow_id = ? AND execution_id = ?
		LIMIT 1
	`, userID, scope, workflowID, executionID).Scan(&c.ID, &c.UserID, &c.Name, &c.Description, &c.ScopeType, &c.WorkflowID, &c.ExecutionID, &c.Status, &metaJSON, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.KnowledgeCorpus{}, false, nil
	}
	if err != nil {
		return domain.KnowledgeCorpus{}, false, fmt.Errorf("storegw: find corpus: %w", err)
	}
	json.Unmarshal([]byte(metaJSON), &c.Metadata)
	return c, true, nil
}

func (g *SQLiteGateway) SaveDocument(ctx context.Context, d domain.KnowledgeDocument) error {
	metaJSON, err := marshalJSON(d.Metadata)
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO knowledge_documents (id, corpus_id, user_id, source_type, title, mime_type, content_text, status, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, error=excluded.error, metadata=excluded.metadata, updated_at=excluded.updated_at
	`, d.ID, d.CorpusID, d.UserID, d.SourceType, d.Title, d.MimeType, d.ContentText, d.Status, d.Error, metaJSON, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storegw: save document: %w", err)
	}
	return nil
}

func (g *SQLiteGateway) GetDocument(ctx context.Context, id string) (domain.KnowledgeDocument, error) {
	var d domain.KnowledgeDocument
	var metaJSON string
	err := g.db.QueryRowContext(ctx, `
		SELECT id, corpus_id, user_id, source_type, title, mime_type, content_text, status, error, metadata, created_at, updated_at
		FROM knowledge_documents WHERE id = ?
	`, id).Scan(&d.ID, &d.CorpusID, &d.UserID, &d.SourceType, &d.Title, &d.MimeType, &d.ContentText, &d.Status, &d.Error, &metaJSON, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.KnowledgeDocument{}, ErrNotFound
	}
	if err != nil {
		return domain.KnowledgeDocument{}, fmt.Errorf("storegw: get document: %w", err)
	}
	json.Unmarshal([]byte(metaJSON), &d.Metadata)
	return d, nil
}

func (g *SQLiteGateway) ListDocumentsByCorpus(ctx context.Context, corpusID string) ([]domain.KnowledgeDocument, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, corpus_id, user_id, source_type, title, mime_type, content_text, status, error, metadata, created_at, updated_at
		FROM knowledge_documents WHERE corpus_id = ? ORDER BY created_at
	`, corpusID)
	if err != nil {
		return nil, fmt.Errorf("storegw: list documents: %w", err)
	}
	defer rows.Close()

	var out []domain.KnowledgeDocument
	for rows.Next() {
		var d domain.KnowledgeDocument
		var metaJSON string
		if err := rows.Scan(&d.ID, &d.CorpusID, &d.UserID, &d.SourceType, &d.Title, &d.MimeType, &d.ContentText, &d.Status, &d.Error, &metaJSON, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storegw: scan document: %w", err)
		}
		json.Unmarshal([]byte(metaJSON), &d.Metadata)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (g *SQLiteGateway) DeleteChunksForDocument(ctx context.Context, documentID string) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("storegw: delete chunks: %w", err)
	}
	return nil
}

func (g *SQLiteGateway) SaveChunk(ctx context.Context, c domain.KnowledgeChunk) error {
	embJSON, err := marshalJSON(c.Embedding)
	if err != nil {
		return err
	}
	metaJSON, err := marshalJSON(c.Metadata)
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO knowledge_chunks (id, corpus_id, document_id, chunk_index, content, token_count, embedding, embedding_model, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.CorpusID, c.DocumentID, c.ChunkIndex, c.Content, c.TokenCount, embJSON, c.EmbeddingModel, metaJSON, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("storegw: save chunk: %w", err)
	}
	return nil
}

func (g *SQLiteGateway) ListChunksByCorpus(ctx context.Context, corpusID string, limit int) ([]domain.KnowledgeChunk, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, corpus_id, document_id, chunk_index, content, token_count, embedding, embedding_model, metadata, created_at
		FROM knowledge_chunks WHERE corpus_id = ? LIMIT ?
	`, corpusID, limit)
	if err != nil {
		return nil, fmt.Errorf("storegw: list chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.KnowledgeChunk
	for rows.Next() {
		var c domain.KnowledgeChunk
		var embJSON, metaJSON string
		if err := rows.Scan(&c.ID, &c.CorpusID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.TokenCount, &embJSON, &c.EmbeddingModel, &metaJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storegw: scan chunk: %w", err)
		}
		json.Unmarshal([]byte(embJSON), &c.Embedding)
		json.Unmarshal([]byte(metaJSON), &c.Metadata)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Outbox ---

func (g *SQLiteGateway) SaveOutboxEvent(ctx context.Context, id, runID string, eventJSON []byte) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO events_outbox (id, run_id, event_data, created_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	`, id, runID, string(eventJSON))
	if err != nil {
		return fmt.Errorf("storegw: save outbox event: %w", err)
	}
	return nil
}

func (g *SQLiteGateway) PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, run_id, event_data FROM events_outbox WHERE emitted_at IS NULL ORDER BY created_at LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storegw: pending events: %w", err)
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.EventJSON); err != nil {
			return nil, fmt.Errorf("storegw: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *SQLiteGateway) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	placeholders := ""
	args := make([]interface{}, len(eventIDs))
	for i, id := range eventIDs {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = id
	}
	_, err := g.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE events_outbox SET emitted_at = CURRENT_TIMESTAMP WHERE id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("storegw: mark events emitted: %w", err)
	}
	return nil
}
