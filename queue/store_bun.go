package queue

import (
	"context"
	"database/sql"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultVisibilityTimeout is how long a claimed job may sit active before
// it is handed out again. A worker that dies mid-job releases its claims
// after this window instead of stranding them.
const DefaultVisibilityTimeout = 5 * time.Minute

// BunStore persists jobs in a relational table through bun.
type BunStore struct {
	db         *bun.DB
	visibility time.Duration
}

// NewBunStore creates a Store backed by the given database.
func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{
		db:         db,
		visibility: DefaultVisibilityTimeout,
	}
}

// WithVisibilityTimeout overrides how long an active claim is honored
// before the job becomes claimable again.
func (s *BunStore) WithVisibilityTimeout(d time.Duration) *BunStore {
	if d > 0 {
		s.visibility = d
	}
	return s
}

var _ Store = (*BunStore)(nil)

func (s *BunStore) Insert(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if _, err := s.db.NewInsert().Model(job).Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to insert job")
	}
	return nil
}

// Claim selects due pending rows and flips them to active inside one
// transaction, so two dispatchers polling the same topic never both receive
// a job. Active rows whose claim is older than the visibility timeout are
// treated as abandoned and handed out again.
func (s *BunStore) Claim(ctx context.Context, topic string, limit int, now time.Time) ([]*Job, error) {
	var claimed []*Job
	cutoff := now.Add(-s.visibility)

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var due []*Job
		q := tx.NewSelect().
			Model(&due).
			Where("topic = ?", topic).
			Where("(status = ? AND run_at <= ?) OR (status = ? AND updated_at <= ?)",
				StatusPending, now, StatusActive, cutoff).
			Order("run_at ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		if err := q.Scan(ctx); err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(due))
		for _, job := range due {
			ids = append(ids, job.ID)
		}

		res, err := tx.NewUpdate().
			Model((*Job)(nil)).
			Set("status = ?", StatusActive).
			Set("updated_at = ?", now).
			Where("id IN (?)", bun.In(ids)).
			Where("status = ? OR (status = ? AND updated_at <= ?)",
				StatusPending, StatusActive, cutoff).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected != int64(len(ids)) {
			// Another claimant raced us; the transaction retries on the
			// next poll.
			return sql.ErrTxDone
		}

		for _, job := range due {
			job.Status = StatusActive
			job.UpdatedAt = now
		}
		claimed = due
		return nil
	})

	if err != nil {
		if err == sql.ErrTxDone {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to claim jobs")
	}

	return claimed, nil
}

func (s *BunStore) Succeed(ctx context.Context, job *Job) error {
	_, err := s.db.NewDelete().
		Model((*Job)(nil)).
		Where("id = ?", job.ID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to remove finished job")
	}
	return nil
}

func (s *BunStore) Retry(ctx context.Context, job *Job, runAt time.Time, lastErr string) error {
	_, err := s.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", StatusPending).
		Set("attempts = ?", job.Attempts).
		Set("run_at = ?", runAt).
		Set("last_error = ?", lastErr).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", job.ID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reschedule job")
	}
	return nil
}

func (s *BunStore) Fail(ctx context.Context, job *Job, lastErr string) error {
	_, err := s.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", StatusFailed).
		Set("attempts = ?", job.Attempts).
		Set("last_error = ?", lastErr).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", job.ID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to park job")
	}
	return nil
}

func (s *BunStore) FindFailed(ctx context.Context, topic string) ([]*Job, error) {
	var jobs []*Job
	err := s.db.NewSelect().
		Model(&jobs).
		Where("topic = ?", topic).
		Where("status = ?", StatusFailed).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list failed jobs")
	}
	return jobs, nil
}
