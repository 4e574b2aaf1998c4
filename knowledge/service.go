package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/flowforge/workflow-engine/clockid"
	"github.com/flowforge/workflow-engine/domain"
	"github.com/flowforge/workflow-engine/engine"
	"github.com/flowforge/workflow-engine/storegw"
)

// EmbeddingDim is the dimensionality (D) of BuildDeterministicEmbedding
// vectors throughout the service.
const EmbeddingDim = 64

const embeddingModel = "deterministic-sha256-v1"

const (
	defaultChunkSizeChars    = 1200
	defaultChunkOverlapChars = 200
)

// Service implements the knowledge ingestion pipeline and query path
// (§4.6) against a storegw.Gateway.
type Service struct {
	Gateway storegw.Gateway
	Clock   clockid.Clock
	IDGen   clockid.IDGen
}

// NewService constructs a Service over gw.
func NewService(gw storegw.Gateway, clock clockid.Clock, idgen clockid.IDGen) *Service {
	return &Service{Gateway: gw, Clock: clock, IDGen: idgen}
}

// ResolveCorpus finds the corpus matching (userID, scope, workflowID,
// executionID), creating one named name if none exists yet.
func (s *Service) ResolveCorpus(ctx context.Context, userID string, scope domain.CorpusScope, workflowID, executionID, name string) (domain.KnowledgeCorpus, error) {
	existing, found, err := s.Gateway.FindCorpusByScope(ctx, userID, scope, workflowID, executionID)
	if err != nil {
		return domain.KnowledgeCorpus{}, fmt.Errorf("knowledge: find corpus: %w", err)
	}
	if found {
		return existing, nil
	}

	now := s.Clock.Now()
	corpus := domain.KnowledgeCorpus{
		ID:          s.IDGen.NewID(),
		UserID:      userID,
		Name:        name,
		ScopeType:   scope,
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Status:      domain.CorpusIngesting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Gateway.SaveCorpus(ctx, corpus); err != nil {
		return domain.KnowledgeCorpus{}, fmt.Errorf("knowledge: create corpus: %w", err)
	}
	return corpus, nil
}

// CreateDocument persists a new pending document under corpusID.
func (s *Service) CreateDocument(ctx context.Context, corpusID, userID string, sourceType domain.DocumentSourceType, title, mimeType, content string) (domain.KnowledgeDocument, error) {
	now := s.Clock.Now()
	doc := domain.KnowledgeDocument{
		ID:          s.IDGen.NewID(),
		CorpusID:    corpusID,
		UserID:      userID,
		SourceType:  sourceType,
		Title:       title,
		MimeType:    mimeType,
		ContentText: content,
		Status:      domain.DocumentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Gateway.SaveDocument(ctx, doc); err != nil {
		return domain.KnowledgeDocument{}, fmt.Errorf("knowledge: create document: %w", err)
	}
	return doc, nil
}

// Ingest runs the 7-step ingestion pipeline (§4.6) for an already
// persisted document: lock, chunk, delete old chunks, embed, insert,
// roll up status. Called synchronously from the knowledge-ingest node
// and from the ingestion queue consumer alike.
func (s *Service) Ingest(ctx context.Context, documentID string) error {
	doc, err := s.Gateway.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("knowledge: load document: %w", err)
	}

	doc.Status = domain.DocumentProcessing
	doc.Error = ""
	doc.UpdatedAt = s.Clock.Now()
	if err := s.Gateway.SaveDocument(ctx, doc); err != nil {
		return fmt.Errorf("knowledge: lock document: %w", err)
	}
	if err := s.markCorpusIngesting(ctx, doc.CorpusID); err != nil {
		return err
	}

	if ingestErr := s.ingestChunks(ctx, doc); ingestErr != nil {
		doc.Status = domain.DocumentFailed
		doc.Error = domain.SanitizeErrorMessage(ingestErr.Error())
		doc.UpdatedAt = s.Clock.Now()
		_ = s.Gateway.SaveDocument(ctx, doc)
		_ = s.rollupCorpus(ctx, doc.CorpusID)
		return fmt.Errorf("knowledge: ingest %s: %w", documentID, ingestErr)
	}

	doc.Status = domain.DocumentReady
	doc.UpdatedAt = s.Clock.Now()
	if err := s.Gateway.SaveDocument(ctx, doc); err != nil {
		return fmt.Errorf("knowledge: finalize document: %w", err)
	}
	return s.rollupCorpus(ctx, doc.CorpusID)
}

func (s *Service) ingestChunks(ctx context.Context, doc domain.KnowledgeDocument) error {
	if err := s.Gateway.DeleteChunksForDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete existing chunks: %w", err)
	}

	chunks := ChunkText(doc.ContentText, defaultChunkSizeChars, defaultChunkOverlapChars)
	now := s.Clock.Now()
	for _, c := range chunks {
		chunk := domain.KnowledgeChunk{
			ID:             s.IDGen.NewID(),
			CorpusID:       doc.CorpusID,
			DocumentID:     doc.ID,
			ChunkIndex:     c.Index,
			Content:        c.Content,
			TokenCount:     TokenCount(c.Content),
			Embedding:      BuildDeterministicEmbedding(c.Content, EmbeddingDim),
			EmbeddingModel: embeddingModel,
			CreatedAt:      now,
		}
		if err := s.Gateway.SaveChunk(ctx, chunk); err != nil {
			return fmt.Errorf("save chunk %d: %w", c.Index, err)
		}
	}
	return nil
}

// markCorpusIngesting flips corpus to the ingesting status at the start
// of a document's pipeline run, unless it's already failed.
func (s *Service) markCorpusIngesting(ctx context.Context, corpusID string) error {
	corpus, err := s.Gateway.GetCorpus(ctx, corpusID)
	if err != nil {
		return fmt.Errorf("knowledge: load corpus: %w", err)
	}
	if corpus.Status == domain.CorpusFailed {
		return nil
	}
	corpus.Status = domain.CorpusIngesting
	corpus.UpdatedAt = s.Clock.Now()
	return s.Gateway.SaveCorpus(ctx, corpus)
}

// rollupCorpus recomputes a corpus's status from its documents' states,
// per §4.6 step 6: failed if any sibling failed, ingesting if any is
// still pending/processing, else ready.
func (s *Service) rollupCorpus(ctx context.Context, corpusID string) error {
	corpus, err := s.Gateway.GetCorpus(ctx, corpusID)
	if err != nil {
		return fmt.Errorf("knowledge: load corpus for rollup: %w", err)
	}
	docs, err := s.Gateway.ListDocumentsByCorpus(ctx, corpusID)
	if err != nil {
		return fmt.Errorf("knowledge: list documents for rollup: %w", err)
	}

	status := domain.CorpusReady
	for _, d := range docs {
		if d.Status == domain.DocumentFailed {
			status = domain.CorpusFailed
			break
		}
		if d.Status == domain.DocumentPending || d.Status == domain.DocumentProcessing {
			status = domain.CorpusIngesting
		}
	}
	corpus.Status = status
	corpus.UpdatedAt = s.Clock.Now()
	return s.Gateway.SaveCorpus(ctx, corpus)
}

// QueryRequest scopes and parameterizes a retrieval query.
type QueryRequest struct {
	UserID      string
	CorpusID    string
	ScopeType   domain.CorpusScope
	WorkflowID  string
	ExecutionID string
	Query       string
	TopK        int
}

// Query filters to a single corpus, ranks its chunks by cosine
// similarity to the query embedding, and returns the top TopK matches
// (§4.6's query path).
func (s *Service) Query(ctx context.Context, req QueryRequest) ([]engine.KnowledgeMatch, error) {
	corpus, err := s.resolveQueryCorpus(ctx, req)
	if err != nil {
		return nil, err
	}
	if corpus.ID == "" {
		return nil, nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	topK = clampInt(topK, 1, 50)
	candidateLimit := clampInt(topK*40, topK*5, 1000)

	chunks, err := s.Gateway.ListChunksByCorpus(ctx, corpus.ID, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("knowledge: list chunks: %w", err)
	}

	queryEmbedding := BuildDeterministicEmbedding(req.Query, EmbeddingDim)
	type scored struct {
		chunk domain.KnowledgeChunk
		score float64
	}
	candidates := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		score := CosineSimilarity(queryEmbedding, c.Embedding)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		candidates = append(candidates, scored{chunk: c, score: score})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	matches := make([]engine.KnowledgeMatch, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, engine.KnowledgeMatch{
			ChunkID:    c.chunk.ID,
			DocumentID: c.chunk.DocumentID,
			CorpusID:   c.chunk.CorpusID,
			Content:    c.chunk.Content,
			Score:      c.score,
			Metadata:   c.chunk.Metadata,
		})
	}
	return matches, nil
}

func (s *Service) resolveQueryCorpus(ctx context.Context, req QueryRequest) (domain.KnowledgeCorpus, error) {
	if req.CorpusID != "" {
		corpus, err := s.Gateway.GetCorpus(ctx, req.CorpusID)
		if err == storegw.ErrNotFound {
			return domain.KnowledgeCorpus{}, nil
		}
		if err != nil {
			return domain.KnowledgeCorpus{}, fmt.Errorf("knowledge: get corpus: %w", err)
		}
		return corpus, nil
	}
	scope := req.ScopeType
	if scope == "" {
		scope = domain.ScopeUser
	}
	corpus, found, err := s.Gateway.FindCorpusByScope(ctx, req.UserID, scope, req.WorkflowID, req.ExecutionID)
	if err != nil {
		return domain.KnowledgeCorpus{}, fmt.Errorf("knowledge: find corpus: %w", err)
	}
	if !found {
		return domain.KnowledgeCorpus{}, nil
	}
	return corpus, nil
}
