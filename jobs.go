package identity

import (
	"time"

	"github.com/google/uuid"
)

// Actions dispatched on the auth topic. The payload structs below are the
// contract between the flows that enqueue and the worker that consumes.
const (
	AuthActionUserSignup    = "user-signup"
	AuthActionUserLogin     = "user-login"
	AuthActionPasswordReset = "password-reset"
	AuthActionEmailVerified = "user-email-verified"
)

// UserSignupJob is enqueued after a new account commits. The worker loads
// the user, issues the verification token, and emails the link; carrying
// only the id keeps the handler honest about the current account state.
type UserSignupJob struct {
	UserID uuid.UUID `json:"user_id"`
}

// UserLoginJob records a successful login for downstream consumers.
type UserLoginJob struct {
	UserID  uuid.UUID `json:"user_id"`
	LoginAt time.Time `json:"login_at"`
}

// PasswordResetJob carries an already issued reset token; the worker only
// delivers it.
type PasswordResetJob struct {
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EmailVerifiedJob announces that an address finished verification.
type EmailVerifiedJob struct {
	UserID uuid.UUID `json:"user_id"`
}
