package engine

import "errors"

// ErrNoProgress indicates the scheduler found no runnable nodes while
// the frontier still has unresolved waves — a structural deadlock that
// should never occur for a validated DAG, kept as a defensive guard.
var ErrNoProgress = errors.New("engine: no progress, scheduler deadlocked")

// ErrMaxDurationExceeded indicates the execution's overall maxDurationMs
// bound (§5) elapsed before the DAG finished.
var ErrMaxDurationExceeded = errors.New("engine: execution exceeded maximum duration")

// errMissingRegistry is returned by New when no WithRegistry
// option was supplied; every execution needs one to resolve node types.
var errMissingRegistry = errors.New("engine: no node registry configured")

// ErrCycleDetected is returned when a workflow's edges form a cycle,
// making topological layering impossible.
var ErrCycleDetected = errors.New("cycle detected in workflow graph")
