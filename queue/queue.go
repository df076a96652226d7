// Package queue provides a durable, at-least-once background job queue backed
// by a pluggable store. Producers enqueue jobs on a topic with an action
// discriminator; a Worker polls the topic, dispatches by action, and retries
// failures with exponential backoff until attempts are exhausted.
package queue

import (
	"context"
	"encoding/json"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Topics used by the identity module. Callers can enqueue on arbitrary
// topics; these are the ones wired out of the box.
const (
	TopicAuth     = "auth"
	TopicWebhooks = "webhooks"
)

// Status tracks where a job is in its lifecycle. Succeeded jobs are deleted
// rather than kept in a terminal state.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusFailed  Status = "failed"
)

const (
	// DefaultMaxAttempts is how many times a job runs before it is parked as
	// failed.
	DefaultMaxAttempts = 3
	// DefaultBackoffBase seeds the exponential retry delay: base, 2x base,
	// 4x base, and so on per completed attempt.
	DefaultBackoffBase = time.Second
)

// Job is a unit of deferred work. Payload is opaque JSON decoded by the
// handler registered for Action.
type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:job"`

	ID          uuid.UUID       `bun:"id,pk,notnull" json:"id"`
	Topic       string          `bun:"topic,notnull" json:"topic"`
	Action      string          `bun:"action,notnull" json:"action"`
	Payload     json.RawMessage `bun:"payload,type:jsonb" json:"payload"`
	Status      Status          `bun:"status,notnull" json:"status"`
	Attempts    int             `bun:"attempts,notnull" json:"attempts"`
	MaxAttempts int             `bun:"max_attempts,notnull" json:"max_attempts"`
	BackoffBase time.Duration   `bun:"backoff_base,notnull" json:"backoff_base"`
	RunAt       time.Time       `bun:"run_at,notnull" json:"run_at"`
	LastError   string          `bun:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time       `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt   time.Time       `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// NextDelay is the backoff before the given attempt number reruns, doubling
// per attempt already spent.
func (j *Job) NextDelay() time.Duration {
	base := j.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	delay := base
	for i := 1; i < j.Attempts; i++ {
		delay *= 2
	}
	return delay
}

// Option customizes a single enqueue call.
type Option func(*jobOptions)

type jobOptions struct {
	maxAttempts int
	backoffBase time.Duration
	delay       time.Duration
}

// WithMaxAttempts overrides how many runs the job gets before failing
// permanently.
func WithMaxAttempts(n int) Option {
	return func(o *jobOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithBackoffBase overrides the initial retry delay.
func WithBackoffBase(d time.Duration) Option {
	return func(o *jobOptions) {
		if d > 0 {
			o.backoffBase = d
		}
	}
}

// WithDelay schedules the first run in the future instead of immediately.
func WithDelay(d time.Duration) Option {
	return func(o *jobOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// Queue is the producer surface: fire and forget a job onto a topic.
type Queue interface {
	Enqueue(ctx context.Context, topic, action string, data any, opts ...Option) (*Job, error)
}

type queue struct {
	store Store
	now   func() time.Time
}

// New creates a Queue writing through the given store.
func New(store Store) Queue {
	return &queue{store: store, now: time.Now}
}

func (q *queue) Enqueue(ctx context.Context, topic, action string, data any, opts ...Option) (*Job, error) {
	if topic == "" {
		return nil, goerrors.New("job topic is required", goerrors.CategoryBadInput)
	}
	if action == "" {
		return nil, goerrors.New("job action is required", goerrors.CategoryBadInput)
	}

	options := jobOptions{
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
	}
	for _, opt := range opts {
		opt(&options)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to encode job payload")
	}

	now := q.now().UTC()
	job := &Job{
		ID:          uuid.New(),
		Topic:       topic,
		Action:      action,
		Payload:     payload,
		Status:      StatusPending,
		Attempts:    0,
		MaxAttempts: options.maxAttempts,
		BackoffBase: options.backoffBase,
		RunAt:       now.Add(options.delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := q.store.Insert(ctx, job); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to enqueue job")
	}

	return job, nil
}
