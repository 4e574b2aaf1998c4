// Package queue implements the durable job queue (§4.7): two named
// Redis-backed queues, per-job-id dedupe within a retention window,
// bounded retries with exponential backoff, and configurable consumer
// concurrency. Modeled on the pack's RedisTaskQueue (LPUSH/BRPOP
// reliable-queue pattern) with retention and retry semantics layered on.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const (
	// WorkflowExecutionQueue carries execute-workflow jobs.
	WorkflowExecutionQueue = "workflow-execution"
	// KnowledgeIngestionQueue carries ingest-knowledge-document jobs.
	KnowledgeIngestionQueue = "knowledge-ingestion"

	maxCompletedRetained = 1000
	maxFailedRetained    = 5000
	maxAttempts          = 3
)

var retryBaseDelay = 2 * time.Second

// ErrDuplicateJob is returned by Enqueue when jobId was already enqueued
// within the retention window.
var ErrDuplicateJob = errors.New("queue: duplicate job id")

// ExecuteWorkflowPayload is the execute-workflow job body; job id is
// always the executionId so a requeue of the same execution dedupes.
type ExecuteWorkflowPayload struct {
	ExecutionID    string                 `json:"executionId"`
	WorkflowID     string                 `json:"workflowId"`
	TriggerPayload map[string]interface{} `json:"triggerPayload"`
	UserID         string                 `json:"userId"`
}

// IngestDocumentPayload is the ingest-knowledge-document job body; job id
// is "ingest-<documentId>".
type IngestDocumentPayload struct {
	CorpusID   string `json:"corpusId"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
}

// Job is one enqueued unit of work: an id for dedupe, a queue name, and
// an opaque JSON body the consumer unmarshals per queue.
type Job struct {
	ID      string          `json:"id"`
	Queue   string          `json:"queue"`
	Body    json.RawMessage `json:"body"`
	Attempt int             `json:"attempt"`
}

// Handler processes one job. Returning an error that satisfies
// IsPermanent moves the job straight to the failed set without a
// retry; any other error is retried with exponential backoff, for at
// most maxAttempts attempts in all, before landing in the failed set.
type Handler func(ctx context.Context, job Job) error

// permanentError marks a business failure that must not be retried —
// the queue-level analogue of domain.ValidationError (§4.10).
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so the queue will not retry it.
func Permanent(err error) error { return &permanentError{err: err} }

// IsPermanent reports whether err (or a wrapped cause) was marked
// Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RedisQueue is the Redis-backed implementation of both named queues,
// using an LPUSH/BRPOP list per queue for delivery, a per-queue set of
// seen job ids for dedupe, and bounded lists of completed/failed ids
// for retention bookkeeping.
type RedisQueue struct {
	client *redis.Client
}

// New wraps an already-connected *redis.Client.
func New(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func listKey(queue string) string     { return "queue:" + queue + ":jobs" }
func seenKey(queue string) string     { return "queue:" + queue + ":seen" }
func completedKey(queue string) string { return "queue:" + queue + ":completed" }
func failedKey(queue string) string   { return "queue:" + queue + ":failed" }

// Enqueue pushes body onto queue under jobId, unless jobId was already
// enqueued, completed, or failed within the retention window — in which
// case it returns ErrDuplicateJob and the caller treats enqueue as a
// no-op success (§4.7's "duplicate ids within retention window are
// suppressed").
func (q *RedisQueue) Enqueue(ctx context.Context, queue, jobID string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("queue: marshal job %s: %w", jobID, err)
	}
	job := Job{ID: jobID, Queue: queue, Body: raw}
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal envelope %s: %w", jobID, err)
	}

	for _, key := range []string{completedKey(queue), failedKey(queue)} {
		_, err := q.client.LPos(ctx, key, jobID, redis.LPosArgs{}).Result()
		if err == nil {
			return ErrDuplicateJob
		}
		if !errors.Is(err, redis.Nil) {
			return fmt.Errorf("queue: dedupe check: %w", err)
		}
	}

	added, err := q.client.SAdd(ctx, seenKey(queue), jobID).Result()
	if err != nil {
		return fmt.Errorf("queue: dedupe check: %w", err)
	}
	if added == 0 {
		return ErrDuplicateJob
	}

	if err := q.client.LPush(ctx, listKey(queue), jobJSON).Err(); err != nil {
		q.client.SRem(ctx, seenKey(queue), jobID)
		return fmt.Errorf("queue: enqueue %s: %w", jobID, err)
	}
	return nil
}

// Consume blocks in a loop dequeuing from queue and invoking handler,
// running up to concurrency jobs at once, until ctx is canceled. Each
// job is attempted in-process up to maxAttempts times in all, with
// exponential backoff starting at retryBaseDelay between attempts,
// before being recorded as failed.
func (q *RedisQueue) Consume(ctx context.Context, queueName string, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 5
	}
	slots := make(chan struct{}, concurrency)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := q.client.BRPop(ctx, 5*time.Second, listKey(queueName)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("queue: dequeue %s: %w", queueName, err)
		}
		if len(res) < 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			continue
		}

		slots <- struct{}{}
		go func(j Job) {
			defer func() { <-slots }()
			q.runWithRetry(ctx, j, handler)
		}(job)
	}
}

func (q *RedisQueue) runWithRetry(ctx context.Context, job Job, handler Handler) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBaseDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	var lastErr error
	for job.Attempt = 1; job.Attempt <= maxAttempts; job.Attempt++ {
		err := handler(ctx, job)
		if err == nil {
			q.recordOutcome(ctx, job.Queue, completedKey(job.Queue), job.ID, maxCompletedRetained)
			return
		}
		lastErr = err
		if IsPermanent(err) {
			break
		}
		if job.Attempt < maxAttempts {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return
			}
		}
	}
	_ = lastErr
	q.recordOutcome(ctx, job.Queue, failedKey(job.Queue), job.ID, maxFailedRetained)
}

// recordOutcome appends jobID to the completed/failed retention list
// and trims it to maxLen, matching §4.7's "keep last N" retention rule.
func (q *RedisQueue) recordOutcome(ctx context.Context, queue, key, jobID string, maxLen int) {
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, key, jobID)
	pipe.LTrim(ctx, key, 0, int64(maxLen-1))
	pipe.SRem(ctx, seenKey(queue), jobID)
	pipe.Exec(ctx)
}
