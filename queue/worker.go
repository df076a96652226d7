package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// DefaultConcurrency is how many jobs a worker runs at once per topic.
	DefaultConcurrency = 5
	// DefaultPollInterval is how long a worker sleeps between empty polls.
	DefaultPollInterval = time.Second
)

// ErrTerminal marks a handler failure that retrying cannot fix, e.g. a
// payload that does not decode. Jobs failing this way are parked immediately
// regardless of remaining attempts.
var ErrTerminal = errors.New("terminal job failure")

// Terminal wraps err so the worker parks the job without retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTerminal, err)
}

// Handler processes one claimed job.
type Handler func(ctx context.Context, job *Job) error

// Bind adapts a typed function into a Handler, decoding the job payload into
// T. Decode failures are terminal; the payload will not get better on retry.
func Bind[T any](fn func(ctx context.Context, data T) error) Handler {
	return func(ctx context.Context, job *Job) error {
		var data T
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &data); err != nil {
				return Terminal(goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode job payload"))
			}
		}
		return fn(ctx, data)
	}
}

// Logger is the minimal logging surface the worker needs.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type defLogger struct{}

func (defLogger) Debug(format string, args ...any) { fmt.Printf("[DBG] QUEUE "+format+"\n", args...) }
func (defLogger) Info(format string, args ...any)  { fmt.Printf("[INF] QUEUE "+format+"\n", args...) }
func (defLogger) Warn(format string, args ...any)  { fmt.Printf("[WRN] QUEUE "+format+"\n", args...) }
func (defLogger) Error(format string, args ...any) { fmt.Printf("[ERR] QUEUE "+format+"\n", args...) }

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithConcurrency bounds how many jobs run simultaneously.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithPollInterval sets the sleep between polls.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithLogger replaces the default stdout logger.
func WithLogger(l Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// Worker polls one topic and dispatches claimed jobs to the handler
// registered for their action. Jobs with no registered handler complete with
// a warning instead of erroring, so deploys that drop an action do not wedge
// the queue with poison rows.
type Worker struct {
	store        Store
	topic        string
	concurrency  int
	pollInterval time.Duration
	logger       Logger
	now          func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewWorker creates a Worker for a topic. Register handlers with Handle
// before calling Start.
func NewWorker(store Store, topic string, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:        store,
		topic:        topic,
		concurrency:  DefaultConcurrency,
		pollInterval: DefaultPollInterval,
		logger:       defLogger{},
		now:          time.Now,
		handlers:     map[string]Handler{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle registers the handler for an action, replacing any previous one.
func (w *Worker) Handle(action string, h Handler) *Worker {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[action] = h
	return w
}

// Start polls until ctx is canceled. It blocks; run it in a goroutine. In
//-flight jobs finish before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker started topic=%s concurrency=%d", w.topic, w.concurrency)

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			w.logger.Info("worker stopped topic=%s", w.topic)
			return ctx.Err()
		case <-ticker.C:
		}

		free := w.concurrency - len(sem)
		if free <= 0 {
			continue
		}

		jobs, err := w.store.Claim(ctx, w.topic, free, w.now().UTC())
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return ctx.Err()
			}
			w.logger.Error("worker claim failed topic=%s: %v", w.topic, err)
			continue
		}

		for _, job := range jobs {
			sem <- struct{}{}
			wg.Add(1)
			go func(job *Job) {
				defer wg.Done()
				defer func() { <-sem }()
				w.process(ctx, job)
			}(job)
		}
	}
}

// Drain claims and processes due jobs synchronously until the topic is
// empty, used by tests and one-shot maintenance commands.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		jobs, err := w.store.Claim(ctx, w.topic, w.concurrency, w.now().UTC())
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		for _, job := range jobs {
			w.process(ctx, job)
		}
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	job.Attempts++

	handler := w.handler(job.Action)
	if handler == nil {
		w.logger.Warn("no handler for action=%s topic=%s job=%s", job.Action, w.topic, job.ID)
		if err := w.store.Succeed(ctx, job); err != nil {
			w.logger.Error("failed to discard unhandled job=%s: %v", job.ID, err)
		}
		return
	}

	err := w.run(ctx, handler, job)
	if err == nil {
		w.logger.Debug("job done action=%s job=%s attempts=%d", job.Action, job.ID, job.Attempts)
		if err := w.store.Succeed(ctx, job); err != nil {
			w.logger.Error("failed to remove finished job=%s: %v", job.ID, err)
		}
		return
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	if errors.Is(err, ErrTerminal) || job.Attempts >= maxAttempts {
		w.logger.Error("job failed permanently action=%s job=%s attempts=%d: %v",
			job.Action, job.ID, job.Attempts, err)
		if ferr := w.store.Fail(ctx, job, err.Error()); ferr != nil {
			w.logger.Error("failed to park job=%s: %v", job.ID, ferr)
		}
		return
	}

	delay := job.NextDelay()
	runAt := w.now().UTC().Add(delay)
	w.logger.Warn("job failed action=%s job=%s attempt=%d/%d retry_in=%s: %v",
		job.Action, job.ID, job.Attempts, maxAttempts, delay, err)
	if rerr := w.store.Retry(ctx, job, runAt, err.Error()); rerr != nil {
		w.logger.Error("failed to reschedule job=%s: %v", job.ID, rerr)
	}
}

func (w *Worker) run(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (w *Worker) handler(action string) Handler {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.handlers[action]
}
