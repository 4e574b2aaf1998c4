package engine

import (
	"time"

	"github.com/flowforge/workflow-engine/domain"
)

// ContextState is the live, versioned execution context the runner
// hands nodes a window onto. It mirrors domain.ExecutionContextState
// but is the mutable in-memory form the scheduler operates on; snapshots
// are taken by copying it into a domain.ExecutionContextState.
type ContextState struct {
	Version   int
	Memory    map[string]interface{}
	Knowledge map[string]interface{}
	Control   domain.ControlState
	Retrieval domain.RetrievalCounters
	Runtime   domain.RuntimeState

	// retrievalBase is the Retrieval snapshot this state started from,
	// captured by Clone. MergeInto diffs against it so only the delta a
	// node's own clone accumulated is folded back into the canonical
	// state, never the base it was cloned from.
	retrievalBase domain.RetrievalCounters
}

// NewContextState builds the initial state for an execution, applying
// the §6 execution.defaults bounds.
func NewContextState(now time.Time, defaults ExecutionDefaults) *ContextState {
	return &ContextState{
		Version:   0,
		Memory:    map[string]interface{}{},
		Knowledge: map[string]interface{}{},
		Control: domain.ControlState{
			MaxLoops:   defaults.MaxLoops,
			MaxRetries: defaults.MaxRetries,
		},
		Retrieval: domain.RetrievalCounters{
			MaxRequests:   defaults.MaxRetrievalRequests,
			MaxFailures:   defaults.MaxRetrievalFailures,
			MaxDurationMs: defaults.MaxRetrievalDurationMs,
		},
		Runtime: domain.RuntimeState{
			StartedAt: now,
			UpdatedAt: now,
		},
	}
}

// Snapshot copies the live state into the persisted domain shape.
func (s *ContextState) Snapshot() domain.ExecutionContextState {
	mem := make(map[string]interface{}, len(s.Memory))
	for k, v := range s.Memory {
		mem[k] = v
	}
	kn := make(map[string]interface{}, len(s.Knowledge))
	for k, v := range s.Knowledge {
		kn[k] = v
	}
	return domain.ExecutionContextState{
		Version:   s.Version,
		Memory:    mem,
		Knowledge: kn,
		Control:   s.Control,
		Retrieval: s.Retrieval,
		Runtime:   s.Runtime,
	}
}

// Clone produces an isolated copy for a single node's execution within
// a wave; concurrent nodes in the same wave each mutate their own clone,
// merged back at the wave barrier via MergeInto.
func (s *ContextState) Clone() *ContextState {
	mem := make(map[string]interface{}, len(s.Memory))
	for k, v := range s.Memory {
		mem[k] = v
	}
	kn := make(map[string]interface{}, len(s.Knowledge))
	for k, v := range s.Knowledge {
		kn[k] = v
	}
	return &ContextState{
		Version:       s.Version,
		Memory:        mem,
		Knowledge:     kn,
		Control:       s.Control,
		Retrieval:     s.Retrieval,
		Runtime:       s.Runtime,
		retrievalBase: s.Retrieval,
	}
}

// ApplyPatch applies a single node's mutation directly to the state
// (used outside wave-concurrent execution, i.e. the common sequential
// path and within a clone during concurrent wave execution).
func (s *ContextState) ApplyPatch(patch ContextPatch, nodeID string, now time.Time) {
	changed := false
	for k, v := range patch.Memory {
		s.Memory = MemorySet(s.Memory, k, v)
		changed = true
	}
	for k, v := range patch.Knowledge {
		s.Knowledge[k] = v
		changed = true
	}
	if patch.Terminate != nil {
		s.Control.Terminate = s.Control.Terminate || *patch.Terminate
		changed = true
	}
	if patch.LoopCount != nil {
		if *patch.LoopCount > s.Control.LoopCount {
			s.Control.LoopCount = *patch.LoopCount
		}
		changed = true
	}
	if patch.RetryCount != nil {
		if *patch.RetryCount > s.Control.RetryCount {
			s.Control.RetryCount = *patch.RetryCount
		}
		changed = true
	}
	if patch.MaxLoops != nil {
		s.Control.MaxLoops = *patch.MaxLoops
		changed = true
	}
	if patch.MaxRetries != nil {
		s.Control.MaxRetries = *patch.MaxRetries
		changed = true
	}
	if patch.ActiveNodeID != "" {
		s.Runtime.ActiveNodeID = patch.ActiveNodeID
		changed = true
	}
	if patch.LastCompletedID != "" {
		s.Runtime.LastCompletedNodeID = patch.LastCompletedID
		changed = true
	}
	if changed {
		s.Version++
		s.Runtime.UpdatedAt = now
	}
	_ = nodeID
}

// MergeInto folds a wave-concurrent clone's mutations back into the
// canonical state at the wave barrier, per §4.3's merge rule:
// memory/knowledge last-writer-wins by insertion order, retrieval
// counters add, control.terminate logical-ORs, loop/retry counts take
// the max, and runtime fields last-writer-wins by timestamp.
func MergeInto(dst *ContextState, src *ContextState) {
	for k, v := range src.Memory {
		dst.Memory[k] = v
	}
	for k, v := range src.Knowledge {
		dst.Knowledge[k] = v
	}
	dst.Control.Terminate = dst.Control.Terminate || src.Control.Terminate
	if src.Control.LoopCount > dst.Control.LoopCount {
		dst.Control.LoopCount = src.Control.LoopCount
	}
	if src.Control.RetryCount > dst.Control.RetryCount {
		dst.Control.RetryCount = src.Control.RetryCount
	}
	// src.Retrieval holds src's base (what it was cloned from) plus
	// whatever this node's own execution accumulated; only the delta
	// belongs back on dst; the base is already there.
	dst.Retrieval.TotalRequests += src.Retrieval.TotalRequests - src.retrievalBase.TotalRequests
	dst.Retrieval.TotalSuccesses += src.Retrieval.TotalSuccesses - src.retrievalBase.TotalSuccesses
	dst.Retrieval.TotalEmpties += src.Retrieval.TotalEmpties - src.retrievalBase.TotalEmpties
	dst.Retrieval.TotalFailures += src.Retrieval.TotalFailures - src.retrievalBase.TotalFailures
	dst.Retrieval.TotalDurationMs += src.Retrieval.TotalDurationMs - src.retrievalBase.TotalDurationMs
	if src.Runtime.UpdatedAt.After(dst.Runtime.UpdatedAt) {
		dst.Runtime = src.Runtime
	}
	if src.Version > dst.Version {
		dst.Version = src.Version
	} else {
		dst.Version++
	}
}
