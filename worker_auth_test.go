package identity_test

import (
	"context"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []identity.Email
}

func (r *recordingSender) Send(_ context.Context, email identity.Email) error {
	r.sent = append(r.sent, email)
	return nil
}

func authWorkerConfig() identity.SimpleConfig {
	return identity.SimpleConfig{
		SigningKey: "test-signing-key-0123456789",
		Issuer:     "identity-test",
		ClientURL:  "https://app.example.com",
	}
}

func TestAuthWorker_Signup(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack(t)
	sender := &recordingSender{}

	worker := identity.NewAuthWorker(stack.store, stack.repo.Users(), stack.queue, stack.tokens, authWorkerConfig(), sender, nil)

	user, _, err := stack.auther.Signup(ctx, identity.SignupInput{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Password:  "super-secret-password",
	})
	require.NoError(t, err)

	require.NoError(t, worker.Drain(ctx))

	require.Len(t, sender.sent, 1)
	email := sender.sent[0]
	assert.Equal(t, "ada@example.com", email.To)
	assert.Contains(t, email.Body, "https://app.example.com/verify-email?token=")

	count, err := stack.db.NewSelect().
		Model((*identity.Token)(nil)).
		Where("type = ?", identity.TokenTypeVerifyEmail).
		Where("user_id = ?", user.ID).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "worker issued the verification token")
}

func TestAuthWorker_SignupUserRemoved(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack(t)
	sender := &recordingSender{}

	worker := identity.NewAuthWorker(stack.store, stack.repo.Users(), stack.queue, stack.tokens, authWorkerConfig(), sender, nil)

	user, _, err := stack.auther.Signup(ctx, identity.SignupInput{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Password:  "super-secret-password",
	})
	require.NoError(t, err)

	// The account disappears between the enqueue and the worker's poll.
	_, err = stack.db.NewDelete().
		Model((*identity.User)(nil)).
		Where("id = ?", user.ID).
		Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, worker.Drain(ctx))

	assert.Empty(t, sender.sent, "no email for a removed account")

	count, err := stack.db.NewSelect().
		Model((*identity.Token)(nil)).
		Where("type = ?", identity.TokenTypeVerifyEmail).
		Where("user_id = ?", user.ID).
		Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "no verification token issued")

	remaining, err := stack.store.Claim(ctx, queue.TopicAuth, 0, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, remaining, "the job completed instead of parking as failed")
}

func TestAuthWorker_PasswordReset(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack(t)
	sender := &recordingSender{}

	worker := identity.NewAuthWorker(stack.store, stack.repo.Users(), stack.queue, stack.tokens, authWorkerConfig(), sender, nil)

	createTestUser(t, stack, "ada@example.com")
	require.NoError(t, stack.auther.ForgotPassword(ctx, "ada@example.com"))

	require.NoError(t, worker.Drain(ctx))

	require.Len(t, sender.sent, 1)
	email := sender.sent[0]
	assert.Equal(t, "ada@example.com", email.To)
	assert.Contains(t, email.Subject, "Reset")
	assert.Contains(t, email.Body, "https://app.example.com/reset-password?token=")
}

func TestAuthWorker_EmailVerifiedFansOutWebhook(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack(t)

	worker := identity.NewAuthWorker(stack.store, stack.repo.Users(), stack.queue, stack.tokens, authWorkerConfig(), &recordingSender{}, nil)

	user := createTestUser(t, stack, "ada@example.com")
	raw, _, err := stack.tokens.IssueSingleUse(ctx, user.ID, identity.TokenTypeVerifyEmail)
	require.NoError(t, err)
	require.NoError(t, stack.auther.VerifyEmail(ctx, raw))

	require.NoError(t, worker.Drain(ctx))

	jobs, err := stack.store.Claim(ctx, queue.TopicWebhooks, 0, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, identity.WebhookActionDeliver, jobs[0].Action)
}

func TestWebhooksWorker(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	q := queue.New(store)

	var delivered []identity.WebhookJob
	sink := webhookSinkFunc(func(_ context.Context, event identity.WebhookJob) error {
		delivered = append(delivered, event)
		return nil
	})

	worker := identity.NewWebhooksWorker(store, sink, nil)

	_, err := q.Enqueue(ctx, queue.TopicWebhooks, identity.WebhookActionDeliver, identity.WebhookJob{
		Event:  "user.email_verified",
		UserID: "some-user",
	})
	require.NoError(t, err)

	require.NoError(t, worker.Drain(ctx))

	require.Len(t, delivered, 1)
	assert.Equal(t, "user.email_verified", delivered[0].Event)
}

type webhookSinkFunc func(ctx context.Context, event identity.WebhookJob) error

func (f webhookSinkFunc) Deliver(ctx context.Context, event identity.WebhookJob) error {
	return f(ctx, event)
}
