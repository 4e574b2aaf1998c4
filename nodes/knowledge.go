package nodes

import (
	"context"
	"fmt"

	"github.com/flowforge/workflow-engine/domain"
	"github.com/flowforge/workflow-engine/engine"
)

// knowledgeIngestNode synchronously ingests one or more documents
// through the engine's knowledge-ingestion capability, resolving its
// content/title from the node's config against the current input.
type knowledgeIngestNode struct{}

func (n *knowledgeIngestNode) Type() string { return "knowledge-ingest" }

func (n *knowledgeIngestNode) Validate(config map[string]interface{}) engine.ValidationResult {
	_, hasContentPath := config["contentPath"].(string)
	_, hasContentTemplate := config["contentTemplate"].(string)
	_, hasDocumentsPath := config["documentsPath"].(string)
	if !hasContentPath && !hasContentTemplate && !hasDocumentsPath {
		return engine.ValidationResult{Errors: []string{"knowledge-ingest requires contentPath, contentTemplate, or documentsPath"}}
	}
	return engine.ValidationResult{Valid: true}
}

func (n *knowledgeIngestNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	if nctx.IngestKnowledge == nil {
		return engine.NodeOutput{}, &domain.CapabilityMissing{Capability: "knowledge-ingest", NodeID: nctx.NodeID}
	}
	res, err := nctx.IngestKnowledge(ctx, engine.KnowledgeIngestRequest{
		UserID:      nctx.UserID,
		WorkflowID:  nctx.WorkflowID,
		ExecutionID: nctx.ExecutionID,
		Config:      input.Metadata.NodeConfig,
		InputData:   input.Data,
	})
	if err != nil {
		return engine.NodeOutput{}, fmt.Errorf("knowledge-ingest: %w", err)
	}

	docs := make([]interface{}, 0, len(res.Documents))
	for _, d := range res.Documents {
		docs = append(docs, map[string]interface{}{
			"corpusId":   res.CorpusID,
			"documentId": d.DocumentID,
			"chunkCount": d.ChunkCount,
			"status":     d.Status,
		})
	}

	if nctx.SetMemory != nil {
		nctx.SetMemory("knowledge.activeCorpusId", res.CorpusID)
	}

	return engine.NodeOutput{Data: map[string]interface{}{"documents": docs, "corpusId": res.CorpusID}}, nil
}

// knowledgeRetrieveNode runs a retrieval orchestration strategy through
// the engine's knowledge-retrieval capability and surfaces its matches.
type knowledgeRetrieveNode struct{}

func (n *knowledgeRetrieveNode) Type() string { return "knowledge-retrieve" }

func (n *knowledgeRetrieveNode) Validate(config map[string]interface{}) engine.ValidationResult {
	_, hasRetrieval := config["retrieval"].(map[string]interface{})
	if !hasRetrieval {
		return engine.ValidationResult{Errors: []string{"knowledge-retrieve requires a retrieval config block"}}
	}
	return engine.ValidationResult{Valid: true}
}

func (n *knowledgeRetrieveNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	if nctx.RetrieveKnowledge == nil {
		return engine.NodeOutput{}, &domain.CapabilityMissing{Capability: "knowledge-retrieve", NodeID: nctx.NodeID}
	}
	retrievalCfg, _ := input.Metadata.NodeConfig["retrieval"].(map[string]interface{})

	res, err := nctx.RetrieveKnowledge(ctx, engine.KnowledgeRetrieveRequest{
		UserID:      nctx.UserID,
		WorkflowID:  nctx.WorkflowID,
		ExecutionID: nctx.ExecutionID,
		Config:      retrievalCfg,
		GetMemory:   nctx.GetMemory,
	}, nil)
	if err != nil {
		return engine.NodeOutput{}, fmt.Errorf("knowledge-retrieve: %w", err)
	}

	matches := make([]interface{}, 0, len(res.Matches))
	for _, m := range res.Matches {
		matches = append(matches, map[string]interface{}{
			"chunkId":    m.ChunkID,
			"documentId": m.DocumentID,
			"corpusId":   m.CorpusID,
			"content":    m.Content,
			"score":      m.Score,
			"metadata":   m.Metadata,
		})
	}

	return engine.NodeOutput{Data: map[string]interface{}{
		"_knowledge": map[string]interface{}{
			"matches": matches,
			"orchestration": map[string]interface{}{
				"strategy":             res.Orchestration.Strategy,
				"speculative":          res.Orchestration.Speculative,
				"retrieversTried":      res.Orchestration.RetrieversTried,
				"selectedRetrieverKey": res.Orchestration.SelectedRetrieverKey,
				"branchCount":          res.Orchestration.BranchCount,
			},
		},
	}}, nil
}
