package knowledge

import (
	"context"
	"fmt"

	"github.com/flowforge/workflow-engine/domain"
	"github.com/flowforge/workflow-engine/engine"
)

type documentInput struct {
	title    string
	mimeType string
	content  string
}

// IngestFunc adapts Service to engine.KnowledgeIngestFunc: it resolves
// the knowledge-ingest node's config (contentPath/contentTemplate for a
// single document, documentsPath for a batch) against the node's input,
// creates each document, and ingests it synchronously.
func (s *Service) IngestFunc() engine.KnowledgeIngestFunc {
	return func(ctx context.Context, req engine.KnowledgeIngestRequest) (engine.KnowledgeIngestResult, error) {
		scope := domain.CorpusScope(stringConfig(req.Config, "scopeType", "user"))
		corpusName := stringConfig(req.Config, "corpusName", "default")

		corpus, err := s.ResolveCorpus(ctx, req.UserID, scope, req.WorkflowID, req.ExecutionID, corpusName)
		if err != nil {
			return engine.KnowledgeIngestResult{}, err
		}

		docs := resolveDocumentInputs(req.Config, req.InputData)
		result := engine.KnowledgeIngestResult{CorpusID: corpus.ID}

		for _, d := range docs {
			if d.content == "" {
				continue
			}
			doc, err := s.CreateDocument(ctx, corpus.ID, req.UserID, domain.SourceInline, d.title, d.mimeType, d.content)
			if err != nil {
				return engine.KnowledgeIngestResult{}, err
			}

			status := string(domain.DocumentReady)
			if ingestErr := s.Ingest(ctx, doc.ID); ingestErr != nil {
				status = string(domain.DocumentFailed)
			}
			chunkCount := len(ChunkText(d.content, defaultChunkSizeChars, defaultChunkOverlapChars))
			result.Documents = append(result.Documents, engine.KnowledgeIngestedDocument{
				DocumentID: doc.ID,
				ChunkCount: chunkCount,
				Status:     status,
			})
		}
		return result, nil
	}
}

func resolveDocumentInputs(config, inputData map[string]interface{}) []documentInput {
	if documentsPath, ok := config["documentsPath"].(string); ok && documentsPath != "" {
		raw, found := engine.MemoryGet(inputData, documentsPath)
		if !found {
			return nil
		}
		arr, _ := raw.([]interface{})
		out := make([]documentInput, 0, len(arr))
		for _, item := range arr {
			m, _ := item.(map[string]interface{})
			out = append(out, documentInput{
				title:    stringField(m, "title"),
				mimeType: stringField(m, "mimeType"),
				content:  stringField(m, "content"),
			})
		}
		return out
	}

	if contentPath, ok := config["contentPath"].(string); ok && contentPath != "" {
		raw, _ := engine.MemoryGet(inputData, contentPath)
		content, _ := raw.(string)
		return []documentInput{{
			title:    stringConfig(config, "title", ""),
			mimeType: stringConfig(config, "mimeType", ""),
			content:  content,
		}}
	}

	if tmpl, ok := config["contentTemplate"].(string); ok && tmpl != "" {
		return []documentInput{{
			title:    stringConfig(config, "title", ""),
			mimeType: stringConfig(config, "mimeType", ""),
			content:  engine.Interpolate(tmpl, inputData),
		}}
	}

	return nil
}

// RetrieveFunc adapts Service.Query to a single-retriever callable used
// by the retrieval orchestrator. It binds no corpus of its own: the
// corpus, query text and topK all come from each call's QueryRequest.
func (s *Service) RetrieveFunc() func(ctx context.Context, q QueryRequest) ([]engine.KnowledgeMatch, error) {
	return func(ctx context.Context, q QueryRequest) ([]engine.KnowledgeMatch, error) {
		matches, err := s.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("knowledge: query: %w", err)
		}
		return matches, nil
	}
}

func stringConfig(config map[string]interface{}, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}
