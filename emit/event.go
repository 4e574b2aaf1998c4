package emit

// Event is one observability event raised during an execution, almost
// always a domain.ExecutionContextSnapshot translated by
// worker.SnapshotEmitter. NodeType and Reason are first-class because
// every snapshot carries them; everything else that varies by snapshot
// reason (loop counts, retrieval totals) stays in Meta.
type Event struct {
	// RunID is the execution ID that raised this event.
	RunID string

	// Step is the snapshot sequence number (0-indexed, per execution).
	Step int

	// NodeID is the node the snapshot was taken around; empty for
	// execution-level snapshots (init, final, error).
	NodeID string

	// NodeType is the workflow node type registered in the node
	// registry (e.g. "llm", "knowledge-retrieve"); empty when
	// NodeID is empty.
	NodeType string

	// Reason is the domain.SnapshotReason string (init, step, error, final).
	Reason string

	// Msg is a short human-readable description of the event.
	Msg string

	// Meta carries snapshot-reason-specific data not promoted to a
	// field above (loopCount, retrievalRequests, ...).
	Meta map[string]interface{}
}
