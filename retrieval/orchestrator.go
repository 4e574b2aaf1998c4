// Package retrieval implements the retrieval orchestrator (§4.4): the
// five branch strategies a knowledge-retrieve node can select
// (single, first-non-empty, best-score, merge, adaptive), each
// emitting one ExecutionRetrievalEvent per branch attempt.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/flowforge/workflow-engine/clockid"
	"github.com/flowforge/workflow-engine/domain"
	"github.com/flowforge/workflow-engine/engine"
	"github.com/flowforge/workflow-engine/knowledge"
)

// QueryFunc executes a single retriever branch against the knowledge
// store. Implemented by knowledge.Service.RetrieveFunc in production.
type QueryFunc func(ctx context.Context, req knowledge.QueryRequest) ([]engine.KnowledgeMatch, error)

// Orchestrator runs the five retrieval strategies over a QueryFunc.
type Orchestrator struct {
	Query QueryFunc
	Clock clockid.Clock
}

// NewOrchestrator builds an Orchestrator backed by query.
func NewOrchestrator(query QueryFunc, clock clockid.Clock) *Orchestrator {
	return &Orchestrator{Query: query, Clock: clock}
}

type retrieverSpec struct {
	Key       string
	Query     string
	TopK      int
	CorpusID  string
	ScopeType domain.CorpusScope
}

// Func adapts the Orchestrator to engine.RetrieveKnowledgeFunc.
func (o *Orchestrator) Func() engine.RetrieveKnowledgeFunc {
	return func(ctx context.Context, req engine.KnowledgeRetrieveRequest, emit func(domain.ExecutionRetrievalEvent)) (engine.KnowledgeRetrieveResult, error) {
		strategy, _ := req.Config["strategy"].(string)
		if strategy == "" {
			strategy = "single"
		}
		retrievers := parseRetrievers(req.Config)
		if len(retrievers) == 0 {
			return engine.KnowledgeRetrieveResult{}, fmt.Errorf("retrieval: no retrievers configured")
		}
		speculative, _ := req.Config["speculative"].(bool)

		run := func(idx int, r retrieverSpec) ([]engine.KnowledgeMatch, domain.ExecutionRetrievalEvent) {
			return o.runBranch(ctx, req, idx, r, strategy)
		}

		switch strategy {
		case "single":
			matches, ev := run(0, retrievers[0])
			ev.Selected = true
			emitAll(emit, ev)
			return engine.KnowledgeRetrieveResult{
				Matches: matches,
				Orchestration: engine.OrchestrationInfo{
					Strategy: strategy, RetrieversTried: []string{retrievers[0].Key},
					SelectedRetrieverKey: retrievers[0].Key, BranchCount: 1,
				},
			}, nil

		case "best-score":
			return o.runBestScore(ctx, req, retrievers, run, emit), nil

		case "merge":
			return o.runMerge(ctx, req, retrievers, run, emit), nil

		case "adaptive":
			ordered := reorderByPreference(retrievers, req)
			return o.runFirstNonEmpty(ctx, req, ordered, run, speculative, "adaptive", emit), nil

		default: // "first-non-empty"
			return o.runFirstNonEmpty(ctx, req, retrievers, run, speculative, "first-non-empty", emit), nil
		}
	}
}

// emitAll forwards each event to emit, in order, if emit is non-nil.
func emitAll(emit func(domain.ExecutionRetrievalEvent), events ...domain.ExecutionRetrievalEvent) {
	if emit == nil {
		return
	}
	for _, ev := range events {
		emit(ev)
	}
}

// runBranch queries a single retriever and builds its event, but does
// not set Selected or emit: every strategy below only learns which
// branch(es) won after all its branches have run, so emission is
// deferred to the caller once Selected can be set correctly.
func (o *Orchestrator) runBranch(ctx context.Context, req engine.KnowledgeRetrieveRequest, idx int, r retrieverSpec, strategy string) ([]engine.KnowledgeMatch, domain.ExecutionRetrievalEvent) {
	start := o.Clock.Now()
	matches, err := o.Query(ctx, knowledge.QueryRequest{
		UserID: req.UserID, WorkflowID: req.WorkflowID, ExecutionID: req.ExecutionID,
		CorpusID: r.CorpusID, ScopeType: r.ScopeType, Query: r.Query, TopK: r.TopK,
	})
	durationMs := o.Clock.Now().Sub(start).Milliseconds()

	ev := domain.ExecutionRetrievalEvent{
		Query: r.Query, TopK: r.TopK, Attempt: idx + 1, MaxAttempts: 1,
		Strategy: strategy, RetrieverKey: r.Key, BranchIndex: idx,
		DurationMs: durationMs, CorpusID: r.CorpusID, ScopeType: string(r.ScopeType),
		WorkflowIDScope: req.WorkflowID, ExecutionIDScope: req.ExecutionID,
	}
	if err != nil {
		ev.Status = domain.RetrievalFailed
		ev.ErrorMessage = domain.SanitizeErrorMessage(err.Error())
	} else {
		ev.MatchesCount = len(matches)
		if len(matches) == 0 {
			ev.Status = domain.RetrievalEmpty
		} else {
			ev.Status = domain.RetrievalSuccess
		}
	}
	return matches, ev
}

func (o *Orchestrator) runFirstNonEmpty(ctx context.Context, req engine.KnowledgeRetrieveRequest, retrievers []retrieverSpec, run func(int, retrieverSpec) ([]engine.KnowledgeMatch, domain.ExecutionRetrievalEvent), speculative bool, strategy string, emit func(domain.ExecutionRetrievalEvent)) engine.KnowledgeRetrieveResult {
	var tried []string
	var events []domain.ExecutionRetrievalEvent
	var selectedKey string
	var selectedMatches []engine.KnowledgeMatch
	found := false

	for i, r := range retrievers {
		if found && !speculative {
			break
		}
		matches, ev := run(i, r)
		tried = append(tried, r.Key)
		events = append(events, ev)
		if !found && ev.Status == domain.RetrievalSuccess {
			selectedKey = r.Key
			selectedMatches = matches
			found = true
			if !speculative {
				break
			}
		}
	}

	for i := range events {
		if events[i].RetrieverKey == selectedKey && selectedKey != "" {
			events[i].Selected = true
		}
	}
	emitAll(emit, events...)

	return engine.KnowledgeRetrieveResult{
		Matches: selectedMatches,
		Orchestration: engine.OrchestrationInfo{
			Strategy: strategy, Speculative: speculative, RetrieversTried: tried,
			SelectedRetrieverKey: selectedKey, BranchCount: len(tried),
		},
	}
}

func (o *Orchestrator) runBestScore(ctx context.Context, req engine.KnowledgeRetrieveRequest, retrievers []retrieverSpec, run func(int, retrieverSpec) ([]engine.KnowledgeMatch, domain.ExecutionRetrievalEvent), emit func(domain.ExecutionRetrievalEvent)) engine.KnowledgeRetrieveResult {
	var tried []string
	var events []domain.ExecutionRetrievalEvent
	var bestKey string
	var bestMatches []engine.KnowledgeMatch
	bestScore := -1.0

	for i, r := range retrievers {
		matches, ev := run(i, r)
		tried = append(tried, r.Key)
		events = append(events, ev)
		if len(matches) == 0 {
			continue
		}
		if matches[0].Score > bestScore {
			bestScore = matches[0].Score
			bestKey = r.Key
			bestMatches = matches
		}
	}

	for i := range events {
		if events[i].RetrieverKey == bestKey && bestKey != "" {
			events[i].Selected = true
		}
	}
	emitAll(emit, events...)

	return engine.KnowledgeRetrieveResult{
		Matches: bestMatches,
		Orchestration: engine.OrchestrationInfo{
			Strategy: "best-score", RetrieversTried: tried,
			SelectedRetrieverKey: bestKey, BranchCount: len(tried),
		},
	}
}

func (o *Orchestrator) runMerge(ctx context.Context, req engine.KnowledgeRetrieveRequest, retrievers []retrieverSpec, run func(int, retrieverSpec) ([]engine.KnowledgeMatch, domain.ExecutionRetrievalEvent), emit func(domain.ExecutionRetrievalEvent)) engine.KnowledgeRetrieveResult {
	var tried []string
	var events []domain.ExecutionRetrievalEvent
	type originMatch struct {
		match engine.KnowledgeMatch
		key   string
	}
	byChunk := map[string]originMatch{}

	for i, r := range retrievers {
		matches, ev := run(i, r)
		tried = append(tried, r.Key)
		events = append(events, ev)
		for _, m := range matches {
			existing, ok := byChunk[m.ChunkID]
			if !ok || m.Score > existing.match.Score {
				byChunk[m.ChunkID] = originMatch{match: m, key: r.Key}
			}
		}
	}

	merged := make([]engine.KnowledgeMatch, 0, len(byChunk))
	for _, om := range byChunk {
		merged = append(merged, om.match)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })

	topK := topKFromConfig(req.Config)
	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}

	// A branch is selected if any of its matches survived into the
	// final, topK-truncated merged set.
	contributing := make(map[string]bool, len(merged))
	for _, m := range merged {
		contributing[byChunk[m.ChunkID].key] = true
	}
	for i := range events {
		if contributing[events[i].RetrieverKey] {
			events[i].Selected = true
		}
	}
	emitAll(emit, events...)

	return engine.KnowledgeRetrieveResult{
		Matches: merged,
		Orchestration: engine.OrchestrationInfo{
			Strategy: "merge", RetrieversTried: tried, BranchCount: len(tried),
		},
	}
}

func reorderByPreference(retrievers []retrieverSpec, req engine.KnowledgeRetrieveRequest) []retrieverSpec {
	preferredKey, _ := req.Config["preferredRetrieverMemoryKey"].(string)
	if preferredKey == "" || req.GetMemory == nil {
		return retrievers
	}
	preferred, found := req.GetMemory(preferredKey)
	if !found {
		return retrievers
	}
	preferredStr, _ := preferred.(string)
	if preferredStr == "" {
		return retrievers
	}

	out := make([]retrieverSpec, 0, len(retrievers))
	var match *retrieverSpec
	for i := range retrievers {
		if retrievers[i].Key == preferredStr {
			r := retrievers[i]
			match = &r
			continue
		}
		out = append(out, retrievers[i])
	}
	if match == nil {
		return retrievers
	}
	return append([]retrieverSpec{*match}, out...)
}

func parseRetrievers(config map[string]interface{}) []retrieverSpec {
	defaultTopK := topKFromConfig(config)
	raw, _ := config["retrievers"].([]interface{})
	out := make([]retrieverSpec, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		key, _ := m["key"].(string)
		query, _ := m["query"].(string)
		corpusID, _ := m["corpusId"].(string)
		scopeType, _ := m["scopeType"].(string)
		topK := defaultTopK
		if v, ok := m["topK"].(float64); ok && v > 0 {
			topK = int(v)
		}
		out = append(out, retrieverSpec{
			Key: key, Query: query, TopK: topK,
			CorpusID: corpusID, ScopeType: domain.CorpusScope(scopeType),
		})
	}
	return out
}

func topKFromConfig(config map[string]interface{}) int {
	if v, ok := config["topK"].(float64); ok && v > 0 {
		return int(v)
	}
	return 10
}
