package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists jobs and hands them to workers. Claim must be exclusive: a
// job handed to one caller is not handed out again until it is released by a
// Retry.
type Store interface {
	// Insert adds a new pending job.
	Insert(ctx context.Context, job *Job) error
	// Claim atomically moves up to limit due pending jobs on the topic to
	// active and returns them.
	Claim(ctx context.Context, topic string, limit int, now time.Time) ([]*Job, error)
	// Succeed removes a job that completed. Finished work leaves no row
	// behind.
	Succeed(ctx context.Context, job *Job) error
	// Retry releases an active job back to pending, scheduled at runAt.
	Retry(ctx context.Context, job *Job, runAt time.Time, lastErr string) error
	// Fail parks a job in the terminal failed state.
	Fail(ctx context.Context, job *Job, lastErr string) error
	// FindFailed lists parked jobs on a topic, for inspection and replay.
	FindFailed(ctx context.Context, topic string) ([]*Job, error)
}

// MemoryStore is an in-process Store for tests and single-node setups that
// do not need durability.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]*Job{}}
}

func (s *MemoryStore) Insert(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *job
	s.jobs[job.ID.String()] = &clone
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, topic string, limit int, now time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job
	for _, job := range s.jobs {
		if job.Topic == topic && job.Status == StatusPending && !job.RunAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*Job, 0, len(due))
	for _, job := range due {
		job.Status = StatusActive
		job.UpdatedAt = now
		clone := *job
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemoryStore) Succeed(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, job.ID.String())
	return nil
}

func (s *MemoryStore) Retry(_ context.Context, job *Job, runAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[job.ID.String()]
	if !ok {
		return nil
	}
	stored.Status = StatusPending
	stored.Attempts = job.Attempts
	stored.RunAt = runAt
	stored.LastError = lastErr
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, job *Job, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[job.ID.String()]
	if !ok {
		return nil
	}
	stored.Status = StatusFailed
	stored.Attempts = job.Attempts
	stored.LastError = lastErr
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) FindFailed(_ context.Context, topic string) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, job := range s.jobs {
		if job.Topic == topic && job.Status == StatusFailed {
			clone := *job
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
