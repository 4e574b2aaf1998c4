// Package poller implements the schedule poller (§4.9): a 30s ticker
// that scans active workflows for schedule-trigger nodes and enqueues
// an execution once each node's effective interval has elapsed.
package poller

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flowforge/workflow-engine/clockid"
	"github.com/flowforge/workflow-engine/domain"
	"github.com/flowforge/workflow-engine/queue"
	"github.com/flowforge/workflow-engine/storegw"
	"github.com/robfig/cron/v3"
)

const tickInterval = 30 * time.Second

// Enqueuer is the subset of queue.RedisQueue the poller needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobID string, body interface{}) error
}

// Poller periodically scans active workflows and fires due schedules.
type Poller struct {
	Gateway storegw.Gateway
	Queue   Enqueuer
	Clock   clockid.Clock
	IDGen   clockid.IDGen

	mu        sync.Mutex
	lastRunAt map[string]time.Time // "workflowId/nodeId" -> last fire time
}

// New builds a Poller.
func New(gw storegw.Gateway, q Enqueuer, clock clockid.Clock, idgen clockid.IDGen) *Poller {
	return &Poller{
		Gateway:   gw,
		Queue:     q,
		Clock:     clock,
		IDGen:     idgen,
		lastRunAt: make(map[string]time.Time),
	}
}

// Run blocks, ticking every 30s until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	workflows, err := p.Gateway.ListActiveWorkflows(ctx)
	if err != nil {
		return
	}
	now := p.Clock.Now()
	for _, wf := range workflows {
		for _, node := range wf.Nodes {
			if node.Type != "schedule-trigger" {
				continue
			}
			p.maybeFire(ctx, wf, node, now)
		}
	}
}

func (p *Poller) maybeFire(ctx context.Context, wf domain.Workflow, node domain.WorkflowNode, now time.Time) {
	interval := effectiveInterval(node.Config)
	if interval <= 0 {
		return
	}
	key := wf.ID + "/" + node.ID

	p.mu.Lock()
	last, seen := p.lastRunAt[key]
	due := !seen || now.Sub(last) >= interval
	p.mu.Unlock()
	if !due {
		return
	}

	executionID := p.IDGen.NewID()
	triggerPayload := map[string]interface{}{
		"_trigger":     "schedule",
		"_scheduledAt": now.UTC().Format(time.RFC3339),
	}
	execution := domain.Execution{
		ID: executionID, WorkflowID: wf.ID, Status: domain.ExecutionPending,
		TriggerPayload: triggerPayload, CreatedAt: now,
	}
	if err := p.Gateway.CreateExecution(ctx, execution); err != nil {
		return
	}

	payload := queue.ExecuteWorkflowPayload{
		ExecutionID: executionID, WorkflowID: wf.ID, UserID: wf.UserID,
		TriggerPayload: triggerPayload,
	}
	if err := p.Queue.Enqueue(ctx, queue.WorkflowExecutionQueue, executionID, payload); err != nil {
		return
	}

	p.mu.Lock()
	p.lastRunAt[key] = now
	p.mu.Unlock()
}

// effectiveInterval derives intervalMs ?? approximateCronInterval(cron).
func effectiveInterval(config map[string]interface{}) time.Duration {
	if v, ok := config["intervalMs"].(float64); ok && v > 0 {
		return time.Duration(v) * time.Millisecond
	}
	if cronExpr, ok := config["cron"].(string); ok && cronExpr != "" {
		return approximateCronInterval(cronExpr)
	}
	return 0
}

// approximateCronInterval implements §4.9's approximation table. A full
// robfig/cron schedule is parsed only to validate well-formedness before
// falling back to the fixed pattern match below (a proper next-fire
// computation is out of scope per §9 — the 30s ticker polls instead of
// computing an exact next-run time).
func approximateCronInterval(expr string) time.Duration {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return time.Hour
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return time.Hour
	}
	minute, hour := fields[0], fields[1]

	switch {
	case minute == "*":
		return time.Minute
	case strings.HasPrefix(minute, "*/"):
		n, err := strconv.Atoi(strings.TrimPrefix(minute, "*/"))
		if err != nil || n <= 0 {
			return time.Hour
		}
		return time.Duration(n) * time.Minute
	case isFixedMinute(minute) && hour == "*":
		return time.Hour
	case isFixedMinute(minute) && isFixedMinute(hour):
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

func isFixedMinute(field string) bool {
	_, err := strconv.Atoi(field)
	return err == nil
}
