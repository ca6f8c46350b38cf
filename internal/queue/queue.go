// Package queue is the durable job layer between the subscription manager
// and the worker pool, backed by asynq on Redis. Enqueue is gated by the
// dedup set so each (signature, account) pair is queued at most once.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/solwatch/swapfeed/internal/domain"
)

// TypeProcessSignature is the single task type the pipeline uses.
const TypeProcessSignature = "signature:process"

// Queue names per account kind.
const (
	QueueWhale = "signature-processing"
	QueueKOL   = "signature-processing-kol"
)

const (
	// MaxRetry bounds delivery attempts per job.
	MaxRetry = 3
	// retryBaseDelay seeds the exponential retry schedule.
	retryBaseDelay = 2 * time.Second

	// Completed and dead task retention caps.
	retention = 24 * time.Hour
)

// QueueFor maps an account kind to its queue name.
func QueueFor(kind domain.AccountKind) string {
	if kind == domain.KindKOL {
		return QueueKOL
	}
	return QueueWhale
}

// Job is the queued payload. RawTx carries the notification's transaction
// when available so workers can skip the RPC re-fetch.
type Job struct {
	// ID is a per-enqueue identifier for log correlation across retries.
	ID         string             `json:"id"`
	Signature  string             `json:"signature"`
	Account    string             `json:"account"`
	Kind       domain.AccountKind `json:"kind"`
	RawTx      json.RawMessage    `json:"rawTx,omitempty"`
	EnqueuedAt time.Time          `json:"enqueuedAt"`
}

// NewTask serializes a job into an asynq task.
func NewTask(job Job) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return asynq.NewTask(TypeProcessSignature, payload), nil
}

// ParseJob deserializes a task payload.
func ParseJob(t *asynq.Task) (Job, error) {
	var job Job
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	if job.Signature == "" || job.Account == "" {
		return Job{}, fmt.Errorf("job missing signature or account")
	}
	return job, nil
}

// RetryDelay is the exponential schedule applied between attempts:
// 2 s, 4 s, 8 s.
func RetryDelay(attempt int) time.Duration {
	delay := retryBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
