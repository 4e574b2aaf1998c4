package storegw

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowforge/workflow-engine/domain"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLGateway is the production, multi-worker-safe Gateway: connection
// pooled, for deployments where several worker processes share one
// database. Adapted from the teacher's MySQLStore connection settings.
type MySQLGateway struct {
	db *sql.DB
}

// NewMySQLGateway opens dsn (e.g. "user:pass@tcp(host:3306)/workflows?parseTime=true")
// and migrates the schema.
func NewMySQLGateway(ctx context.Context, dsn string) (*MySQLGateway, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("storegw: open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storegw: ping mysql: %w", err)
	}

	g := &MySQLGateway{db: db}
	if err := g.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

func (g *MySQLGateway) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(64) PRIMARY KEY, user_id VARCHAR(64) NOT NULL, name VARCHAR(255) NOT NULL,
			description TEXT, status VARCHAR(32) NOT NULL, nodes JSON NOT NULL,
			edges JSON NOT NULL, version INT NOT NULL,
			created_at DATETIME(3) NOT NULL, updated_at DATETIME(3) NOT NULL,
			INDEX idx_workflows_user (user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(64) PRIMARY KEY, workflow_id VARCHAR(64) NOT NULL, status VARCHAR(32) NOT NULL,
			trigger_payload JSON, started_at DATETIME(3) NULL, finished_at DATETIME(3) NULL,
			error_message TEXT, created_at DATETIME(3) NOT NULL,
			INDEX idx_executions_workflow (workflow_id, created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS execution_steps (
			id VARCHAR(64) NOT NULL, execution_id VARCHAR(64) NOT NULL, node_id VARCHAR(64) NOT NULL,
			node_type VARCHAR(64) NOT NULL, status VARCHAR(32) NOT NULL, input JSON, output JSON,
			duration_ms BIGINT NULL, error TEXT,
			PRIMARY KEY (execution_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS execution_step_attempts (
			execution_id VARCHAR(64) NOT NULL, node_id VARCHAR(64) NOT NULL, node_type VARCHAR(64) NOT NULL,
			attempt INT NOT NULL, status VARCHAR(32) NOT NULL, duration_ms BIGINT NOT NULL,
			reason TEXT,
			PRIMARY KEY (execution_id, node_id, attempt)
		)`,
		`CREATE TABLE IF NOT EXISTS execution_context_snapshots (
			execution_id VARCHAR(64) NOT NULL, sequence INT NOT NULL, reason VARCHAR(16) NOT NULL,
			node_id VARCHAR(64), node_type VARCHAR(64), state JSON NOT NULL,
			PRIMARY KEY (execution_id, sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS execution_retrieval_events (
			id BIGINT AUTO_INCREMENT PRIMARY KEY, execution_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(64) NOT NULL, node_type VARCHAR(64) NOT NULL, query TEXT, top_k INT,
			attempt INT, max_attempts INT, status VARCHAR(16) NOT NULL,
			matches_count INT, duration_ms BIGINT, error_message TEXT,
			scope_type VARCHAR(32), corpus_id VARCHAR(64), workflow_id_scope VARCHAR(64), execution_id_scope VARCHAR(64),
			strategy VARCHAR(32), retriever_key VARCHAR(64), branch_index INT, selected BOOLEAN,
			INDEX idx_retrieval_execution (execution_id)
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_corpora (
			id VARCHAR(64) PRIMARY KEY, user_id VARCHAR(64) NOT NULL, name VARCHAR(255) NOT NULL,
			description TEXT, scope_type VARCHAR(32) NOT NULL, workflow_id VARCHAR(64), execution_id VARCHAR(64),
			status VARCHAR(32) NOT NULL, metadata JSON,
			created_at DATETIME(3) NOT NULL, updated_at DATETIME(3) NOT NULL,
			INDEX idx_corpora_scope (user_id, scope_type, workflow_id, execution_id)
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_documents (
			id VARCHAR(64) PRIMARY KEY, corpus_id VARCHAR(64) NOT NULL, user_id VARCHAR(64) NOT NULL,
			source_type VARCHAR(32) NOT NULL, title VARCHAR(255), mime_type VARCHAR(128), content_text LONGTEXT,
			status VARCHAR(32) NOT NULL, error TEXT, metadata JSON,
			created_at DATETIME(3) NOT NULL, updated_at DATETIME(3) NOT NULL,
			INDEX idx_documents_corpus (corpus_id)
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id VARCHAR(64) PRIMARY KEY, corpus_id VARCHAR(64) NOT NULL, document_id VARCHAR(64) NOT NULL,
			chunk_index INT NOT NULL, content LONGTEXT NOT NULL, token_count INT,
			embedding JSON NOT NULL, embedding_model VARCHAR(64), metadata JSON,
			created_at DATETIME(3) NOT NULL,
			INDEX idx_chunks_corpus (corpus_id), INDEX idx_chunks_document (document_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			id VARCHAR(64) PRIMARY KEY, run_id VARCHAR(64) NOT NULL, event_data JSON NOT NULL,
			emitted_at DATETIME(3) NULL, created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
			INDEX idx_events_pending (emitted_at, created_at)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := g.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storegw: migrate mysql: %w", err)
		}
	}
	return nil
}

func (g *MySQLGateway) Close() error { return g.db.Close() }

func (g *MySQLGateway) SaveWorkflow(ctx context.Context, wf domain.Workflow) error {
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
		ON DUPLICATE KEY UPDATE
			user_id=VALUES(user_id), name=VALUES(name), description=VALUES(description),
			status=VALUES(status), nodes=VALUES(nodes), edges=VALUES(edges),
			version=VALUES(version), updated_at=VALUES(updated_at)
	`, wf.ID, wf.UserID, wf.Name, wf.Description, wf.Status, nodesJSON, edgesJSON, wf.Version, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storegw: save workflow: %w", err)
	}
	return nil
}

func (g *MySQLGateway) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
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
	json.Unmarshal([]byte(nodesJSON), &wf.Nodes)
	json.Unmarshal([]byte(edgesJSON), &wf.Edges)
	return wf, nil
}

func (g *MySQLGateway) ListWorkflows(ctx context.Context, userID string, limit, offset int) ([]domain.Workflow, error) {
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

func (g *MySQLGateway) ListActiveWorkflows(ctx context.Context) ([]domain.Workflow, error) {
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

func (g *MySQLGateway) CreateExecution(ctx context.Context, ex domain.Execution) error {
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

func (g *MySQLGateway) UpdateExecution(ctx context.Context, ex domain.Execution) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE executions SET status=?, started_at=?, finished_at=?, error_message=? WHERE id=?
	`, ex.Status, ex.StartedAt, ex.FinishedAt, ex.ErrorMessage, ex.ID)
	if err != nil {
		return fmt.Errorf("storegw: update execution: %w", err)
	}
	return nil
}

func (g *MySQLGateway) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
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

func (g *MySQLGateway) ListExecutions(ctx context.Context, workflowID string, limit, offset int) ([]domain.Execution, error) {
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

func (g *MySQLGateway) SaveStep(ctx context.Context, step domain.ExecutionStep) error {
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
		ON DUPLICATE KEY UPDATE
			status=VALUES(status), input=VALUES(input), output=VALUES(output),
			duration_ms=VALUES(duration_ms), error=VALUES(error)
	`, step.ID, step.ExecutionID, step.NodeID, step.NodeType, step.Status, inputJSON, outputJSON, step.DurationMs, step.Error)
	if err != nil {
		return fmt.Errorf("storegw: save step: %w", err)
	}
	return nil
}

func (g *MySQLGateway) ListSteps(ctx context.Context, executionID string) ([]domain.ExecutionStep, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, execution_id, node_id, node_type, status, input, output, duration_ms, error
		FROM execution_steps WHERE execution_id = ?
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

func (g *MySQLGateway) SaveAttempt(ctx context.Context, a domain.ExecutionStepAttempt) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO execution_step_attempts (execution_id, node_id, node_type, attempt, status, duration_ms, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE status=VALUES(status), duration_ms=VALUES(duration_ms), reason=VALUES(reason)
	`, a.ExecutionID, a.NodeID, a.NodeType, a.Attempt, a.Status, a.DurationMs, a.Reason)
	if err != nil {
		return fmt.Errorf("storegw: save attempt: %w", err)
	}
	return nil
}

func (g *MySQLGateway) ListAttempts(ctx context.Context, executionID, nodeID string) ([]domain.ExecutionStepAttempt, error) {
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

func (g *MySQLGateway) SaveContextSnapshot(ctx context.Context, snap domain.ExecutionContextSnapshot) error {
	stateJSON, err := marshalJSON(snap.State)
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO execution_context_snapshots (execution_id, sequence, reason, node_id, node_type, state)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE state=VALUES(state)
	`, snap.ExecutionID, snap.Sequence, snap.Reason, snap.NodeID, snap.NodeType, stateJSON)
	if err != nil {
		return fmt.Errorf("storegw: save snapshot: %w", err)
	}
	return nil
}

func (g *MySQLGateway) LatestContextSnapshot(ctx context.Context, executionID string) (domain.ExecutionContextSnapshot, error) {
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
	json.Unmarshal([]byte(stateJSON), &snap.State)
	return snap, nil
}

func (g *MySQLGateway) ListContextSnapshots(ctx context.Context, executionID string) ([]domain.ExecutionContextSnapshot, error) {
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
		json.Unmarshal([]byte(stateJSON), &snap.State)
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (g *MySQLGateway) SaveRetrievalEvent(ctx context.Context, ev domain.ExecutionRetrievalEvent) error {
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

func (g *MySQLGateway) ListRetrievalEvents(ctx context.Context, executionID string) ([]domain.ExecutionRetrievalEvent, error) {
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

func (g *MySQLGateway) SaveCorpus(ctx context.Context, c domain.KnowledgeCorpus) error {
	metaJSON, err := marshalJSON(c.Metadata)
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO knowledge_corpora (id, user_id, name, description, scope_type, workflow_id, execution_id, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name=VALUES(name), description=VALUES(description), status=VALUES(status),
			metadata=VALUES(metadata), updated_at=VALUES(updated_at)
	`, c.ID, c.UserID, c.Name, c.Description, c.ScopeType, c.WorkflowID, c.ExecutionID, c.Status, metaJSON, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storegw: save corpus: %w", err)
	}
	return nil
}

func (g *MySQLGateway) GetCorpus(ctx context.Context, id string) (domain.KnowledgeCorpus, error) {
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

func (g *MySQLGateway) FindCorpusByScope(ctx context.Context, userID string, scope domain.CorpusScope, workflowID, executionID string) (domain.KnowledgeCorpus, bool, error) {
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

func (g *MySQLGateway) SaveDocument(ctx context.Context, d domain.KnowledgeDocument) error {
	metaJSON, err := marshalJSON(d.Metadata)
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO knowledge_documents (id, corpus_id, user_id, source_type, title, mime_type, content_text, status, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE status=VALUES(status), error=VALUES(error), metadata=VALUES(metadata), updated_at=VALUES(updated_at)
	`, d.ID, d.CorpusID, d.UserID, d.SourceType, d.Title, d.MimeType, d.ContentText, d.Status, d.Error, metaJSON, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storegw: save document: %w", err)
	}
	return nil
}

func (g *MySQLGateway) GetDocument(ctx context.Context, id string) (domain.KnowledgeDocument, error) {
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

func (g *MySQLGateway) ListDocumentsByCorpus(ctx context.Context, corpusID string) ([]domain.KnowledgeDocument, error) {
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

func (g *MySQLGateway) DeleteChunksForDocument(ctx context.Context, documentID string) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("storegw: delete chunks: %w", err)
	}
	return nil
}

func (g *MySQLGateway) SaveChunk(ctx context.Context, c domain.KnowledgeChunk) error {
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

func (g *MySQLGateway) ListChunksByCorpus(ctx context.Context, corpusID string, limit int) ([]domain.KnowledgeChunk, error) {
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

func (g *MySQLGateway) SaveOutboxEvent(ctx context.Context, id, runID string, eventJSON []byte) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO events_outbox (id, run_id, event_data, created_at) VALUES (?, ?, ?, NOW(3))
	`, id, runID, string(eventJSON))
	if err != nil {
		return fmt.Errorf("storegw: save outbox event: %w", err)
	}
	return nil
}

func (g *MySQLGateway) PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
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

func (g *MySQLGateway) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
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
		UPDATE events_outbox SET emitted_at = NOW(3) WHERE id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("storegw: mark events emitted: %w", err)
	}
	return nil
}
