package queue_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/goliatone/go-identity/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newBunStore(t *testing.T) (*queue.BunStore, *bun.DB) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	_, err = db.NewCreateTable().Model((*queue.Job)(nil)).IfNotExists().Exec(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return queue.NewBunStore(db), db
}

func TestBunStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store, db := newBunStore(t)
	q := queue.New(store)

	job, err := q.Enqueue(ctx, "auth", "ping", map[string]string{"value": "one"})
	require.NoError(t, err)

	t.Run("claim flips pending to active", func(t *testing.T) {
		claimed, err := store.Claim(ctx, "auth", 10, time.Now().UTC())
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, job.ID, claimed[0].ID)
		assert.Equal(t, queue.StatusActive, claimed[0].Status)

		// Active jobs are not handed out again.
		again, err := store.Claim(ctx, "auth", 10, time.Now().UTC())
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("retry releases the job for a later poll", func(t *testing.T) {
		runAt := time.Now().UTC().Add(time.Minute)
		require.NoError(t, store.Retry(ctx, job, runAt, "transient"))

		due, err := store.Claim(ctx, "auth", 10, time.Now().UTC())
		require.NoError(t, err)
		assert.Empty(t, due)

		due, err = store.Claim(ctx, "auth", 10, runAt.Add(time.Second))
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "transient", due[0].LastError)
	})

	t.Run("succeed removes the row", func(t *testing.T) {
		require.NoError(t, store.Succeed(ctx, job))

		count, err := db.NewSelect().Model((*queue.Job)(nil)).Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestBunStore_ReclaimsAbandonedClaims(t *testing.T) {
	ctx := context.Background()
	store, _ := newBunStore(t)
	q := queue.New(store)

	job, err := q.Enqueue(ctx, "auth", "ping", nil)
	require.NoError(t, err)

	claimedAt := time.Now().UTC()
	claimed, err := store.Claim(ctx, "auth", 10, claimedAt)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	t.Run("active rows stay invisible inside the window", func(t *testing.T) {
		again, err := store.Claim(ctx, "auth", 10, claimedAt.Add(time.Minute))
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("a stale claim is handed out again", func(t *testing.T) {
		reclaimed, err := store.Claim(ctx, "auth", 10, claimedAt.Add(queue.DefaultVisibilityTimeout))
		require.NoError(t, err)
		require.Len(t, reclaimed, 1)
		assert.Equal(t, job.ID, reclaimed[0].ID)
		assert.Equal(t, queue.StatusActive, reclaimed[0].Status)
	})

	t.Run("the timeout is tunable", func(t *testing.T) {
		short, _ := newBunStore(t)
		short = short.WithVisibilityTimeout(time.Second)
		sq := queue.New(short)

		_, err := sq.Enqueue(ctx, "auth", "ping", nil)
		require.NoError(t, err)

		now := time.Now().UTC()
		first, err := short.Claim(ctx, "auth", 10, now)
		require.NoError(t, err)
		require.Len(t, first, 1)

		second, err := short.Claim(ctx, "auth", 10, now.Add(time.Second))
		require.NoError(t, err)
		assert.Len(t, second, 1)
	})
}

func TestBunStore_FailedJobs(t *testing.T) {
	ctx := context.Background()
	store, _ := newBunStore(t)
	q := queue.New(store)

	job, err := q.Enqueue(ctx, "auth", "doomed", nil)
	require.NoError(t, err)

	_, err = store.Claim(ctx, "auth", 10, time.Now().UTC())
	require.NoError(t, err)

	job.Attempts = 3
	require.NoError(t, store.Fail(ctx, job, "gave up"))

	t.Run("failed rows are terminal for claiming", func(t *testing.T) {
		due, err := store.Claim(ctx, "auth", 10, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("failed rows remain inspectable", func(t *testing.T) {
		failed, err := store.FindFailed(ctx, "auth")
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, 3, failed[0].Attempts)
		assert.Equal(t, "gave up", failed[0].LastError)
	})

	t.Run("other topics are unaffected", func(t *testing.T) {
		failed, err := store.FindFailed(ctx, "webhooks")
		require.NoError(t, err)
		assert.Empty(t, failed)
	})
}
