package identity

import (
	"context"

	"github.com/goliatone/go-identity/queue"
	"github.com/goliatone/go-repository-bun"
)

// NewAuthWorker builds the consumer for the auth topic. Signup jobs reload
// the user, issue the verification token, and email the link; password
// reset jobs only deliver, the token was issued in the request flow.
// Handlers re-derive account state from the store instead of trusting the
// payload, so replaying a job against a deleted or changed account is safe.
func NewAuthWorker(
	store queue.Store,
	users Users,
	jobs queue.Queue,
	tokens TokenService,
	cfg Config,
	sender Sender,
	logger Logger,
	opts ...queue.WorkerOption,
) *queue.Worker {
	if logger == nil {
		logger = defLogger{}
	}
	if sender == nil {
		sender = LogSender{Logger: logger}
	}

	clientURL := cfg.GetClientURL()

	worker := queue.NewWorker(store, queue.TopicAuth, opts...)

	worker.Handle(AuthActionUserSignup, queue.Bind(func(ctx context.Context, data UserSignupJob) error {
		user, err := users.GetByID(ctx, data.UserID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				logger.Info("signup notification skipped, user %s no longer exists", data.UserID)
				return nil
			}
			return err
		}

		raw, _, err := tokens.IssueSingleUse(ctx, user.ID, TokenTypeVerifyEmail)
		if err != nil {
			return err
		}
		return sender.Send(ctx, VerificationEmail(clientURL, user.Email, user.FirstName, raw))
	}))

	worker.Handle(AuthActionPasswordReset, queue.Bind(func(ctx context.Context, data PasswordResetJob) error {
		return sender.Send(ctx, PasswordResetEmail(clientURL, data.Email, data.FirstName, data.Token, data.ExpiresAt))
	}))

	worker.Handle(AuthActionUserLogin, queue.Bind(func(ctx context.Context, data UserLoginJob) error {
		logger.Info("user %s logged in at %s", data.UserID, data.LoginAt)
		return nil
	}))

	worker.Handle(AuthActionEmailVerified, queue.Bind(func(ctx context.Context, data EmailVerifiedJob) error {
		logger.Info("user %s verified email", data.UserID)
		if jobs != nil {
			_, err := jobs.Enqueue(ctx, queue.TopicWebhooks, WebhookActionDeliver, WebhookJob{
				Event:  "user.email_verified",
				UserID: data.UserID.String(),
			})
			return err
		}
		return nil
	}))

	return worker
}

// WebhookActionDeliver is the single action on the webhooks topic.
const WebhookActionDeliver = "deliver"

// WebhookJob describes an event to push to external subscribers.
type WebhookJob struct {
	Event  string `json:"event"`
	UserID string `json:"user_id,omitempty"`
}

// WebhookSink receives webhook events; the default implementation only logs
// them.
type WebhookSink interface {
	Deliver(ctx context.Context, event WebhookJob) error
}

type logWebhookSink struct{ logger Logger }

func (s logWebhookSink) Deliver(_ context.Context, event WebhookJob) error {
	s.logger.Info("webhook event=%s user=%s", event.Event, event.UserID)
	return nil
}

// NewWebhooksWorker builds the consumer for the webhooks topic.
func NewWebhooksWorker(store queue.Store, sink WebhookSink, logger Logger, opts ...queue.WorkerOption) *queue.Worker {
	if logger == nil {
		logger = defLogger{}
	}
	if sink == nil {
		sink = logWebhookSink{logger: logger}
	}

	worker := queue.NewWorker(store, queue.TopicWebhooks, opts...)
	worker.Handle(WebhookActionDeliver, queue.Bind(func(ctx context.Context, data WebhookJob) error {
		return sink.Deliver(ctx, data)
	}))
	return worker
}
