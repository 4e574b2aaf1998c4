// Package apigateway exposes ExecutionService and KnowledgeService (§6)
// over HTTP via a chi router. Authentication and rate limiting are
// external collaborators per §9's scope notes; every handler here
// trusts its caller and takes userId as a plain request parameter.
package apigateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/flowforge/workflow-engine/clockid"
	"github.com/flowforge/workflow-engine/domain"
	"github.com/flowforge/workflow-engine/knowledge"
	"github.com/flowforge/workflow-engine/queue"
	"github.com/flowforge/workflow-engine/storegw"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Gateway wires the Gateway persistence layer, the durable queue, and
// the knowledge service behind an HTTP API.
type Gateway struct {
	Store     storegw.Gateway
	Queue     *queue.RedisQueue
	Knowledge *knowledge.Service
	Clock     clockid.Clock
	IDGen     clockid.IDGen
}

// New builds a Gateway.
func New(store storegw.Gateway, q *queue.RedisQueue, ks *knowledge.Service, clock clockid.Clock, idgen clockid.IDGen) *Gateway {
	return &Gateway{Store: store, Queue: q, Knowledge: ks, Clock: clock, IDGen: idgen}
}

// Router assembles the chi router exposing every endpoint.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/workflows", func(r chi.Router) {
		r.Post("/{workflowId}/trigger", g.handleTrigger)
		r.Get("/{workflowId}/executions", g.handleListExecutions)
	})

	r.Route("/executions", func(r chi.Router) {
		r.Get("/{executionId}", g.handleGetExecution)
		r.Get("/{executionId}/steps", g.handleGetSteps)
		r.Get("/{executionId}/attempts", g.handleListAttempts)
		r.Get("/{executionId}/retrieval-events", g.handleListRetrievalEvents)
		r.Get("/{executionId}/context-snapshots", g.handleListContextSnapshots)
	})

	r.Route("/knowledge", func(r chi.Router) {
		r.Post("/corpora", g.handleCreateCorpus)
		r.Get("/corpora/{corpusId}/documents", g.handleListDocuments)
		r.Post("/corpora/{corpusId}/documents", g.handleIngestDocument)
		r.Get("/corpora/{corpusId}/chunks", g.handleListChunks)
		r.Post("/query", g.handleQuery)
	})

	return r
}

// --- ExecutionService ---

func (g *Gateway) handleTrigger(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowId")
	userID := r.URL.Query().Get("userId")

	var body struct {
		Payload map[string]interface{} `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	wf, err := g.Store.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if wf.Status != domain.WorkflowActive {
		writeError(w, http.StatusConflict, errNotActive)
		return
	}

	now := g.Clock.Now()
	executionID := g.IDGen.NewID()
	execution := domain.Execution{
		ID: executionID, WorkflowID: workflowID, Status: domain.ExecutionPending,
		TriggerPayload: body.Payload, CreatedAt: now,
	}
	if err := g.Store.CreateExecution(r.Context(), execution); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	payload := queue.ExecuteWorkflowPayload{
		ExecutionID: executionID, WorkflowID: workflowID, UserID: userID,
		TriggerPayload: body.Payload,
	}
	if err := g.Queue.Enqueue(r.Context(), queue.WorkflowExecutionQueue, executionID, payload); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"executionId": executionID})
}

func (g *Gateway) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	ex, err := g.Store.GetExecution(r.Context(), chi.URLParam(r, "executionId"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (g *Gateway) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	out, err := g.Store.ListExecutions(r.Context(), chi.URLParam(r, "workflowId"), limit, (page-1)*limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"page": page, "limit": limit, "items": out})
}

func (g *Gateway) handleGetSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := g.Store.ListSteps(r.Context(), chi.URLParam(r, "executionId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, steps)
}

func (g *Gateway) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := g.Store.ListAttempts(r.Context(), chi.URLParam(r, "executionId"), r.URL.Query().Get("nodeId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (g *Gateway) handleListRetrievalEvents(w http.ResponseWriter, r *http.Request) {
	events, err := g.Store.ListRetrievalEvents(r.Context(), chi.URLParam(r, "executionId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (g *Gateway) handleListContextSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := g.Store.ListContextSnapshots(r.Context(), chi.URLParam(r, "executionId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// --- KnowledgeService ---

func (g *Gateway) handleCreateCorpus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID      string `json:"userId"`
		ScopeType   string `json:"scopeType"`
		WorkflowID  string `json:"workflowId"`
		ExecutionID string `json:"executionId"`
		Name        string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	corpus, err := g.Knowledge.ResolveCorpus(r.Context(), body.UserID, domain.CorpusScope(body.ScopeType), body.WorkflowID, body.ExecutionID, body.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, corpus)
}

func (g *Gateway) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := g.Store.ListDocumentsByCorpus(r.Context(), chi.URLParam(r, "corpusId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (g *Gateway) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	corpusID := chi.URLParam(r, "corpusId")
	var body struct {
		UserID     string `json:"userId"`
		SourceType string `json:"sourceType"`
		Title      string `json:"title"`
		MimeType   string `json:"mimeType"`
		Content    string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	doc, err := g.Knowledge.CreateDocument(r.Context(), corpusID, body.UserID, domain.DocumentSourceType(body.SourceType), body.Title, body.MimeType, body.Content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	jobID := "ingest-" + doc.ID
	payload := queue.IngestDocumentPayload{CorpusID: corpusID, DocumentID: doc.ID, UserID: body.UserID}
	if err := g.Queue.Enqueue(r.Context(), queue.KnowledgeIngestionQueue, jobID, payload); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (g *Gateway) handleListChunks(w http.ResponseWriter, r *http.Request) {
	_, limit := pagination(r)
	chunks, err := g.Store.ListChunksByCorpus(r.Context(), chi.URLParam(r, "corpusId"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

func (g *Gateway) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req knowledge.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	matches, err := g.Knowledge.Query(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

// --- helpers ---

var errNotActive = &domain.ValidationError{Message: "workflow is not active"}

// pagination parses {page>=1, limit in [1,200]} per §6, defaulting to
// page=1, limit=50.
func pagination(r *http.Request) (page, limit int) {
	page = 1
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v >= 1 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v >= 1 && v <= 200 {
		limit = v
	}
	return page, limit
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": domain.SanitizeErrorMessage(err.Error())})
}
