package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity/queue"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Auther orchestrates the account lifecycle: signup, login, logout, session
// rotation, password reset, and email verification. It owns no policy of its
// own beyond wiring the token service, the repositories, and the job queue
// together transactionally.
type Auther struct {
	repo             RepositoryManager
	tokens           TokenService
	hasher           PasswordAuthenticator
	jobs             queue.Queue
	logger           Logger
	deterministicIDs bool
}

// NewAuther returns a new Auther
func NewAuther(repo RepositoryManager, tokens TokenService, jobs queue.Queue) *Auther {
	return &Auther{
		repo:   repo,
		tokens: tokens,
		hasher: NewPasswordAuthenticator(),
		jobs:   jobs,
		logger: defLogger{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithPasswordAuthenticator swaps the hashing implementation.
func (s *Auther) WithPasswordAuthenticator(hasher PasswordAuthenticator) *Auther {
	if hasher != nil {
		s.hasher = hasher
	}
	return s
}

// WithDeterministicIDs derives new user ids from the email instead of
// generating random ones, useful when accounts are provisioned from an
// external directory and re-imports must be idempotent.
func (s *Auther) WithDeterministicIDs(enabled bool) *Auther {
	s.deterministicIDs = enabled
	return s
}

// TokenService returns the TokenService instance used by this Auther
func (s *Auther) TokenService() TokenService {
	return s.tokens
}

// SignupInput carries the fields a new account is created from.
type SignupInput struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone_number"`
	Password  string `json:"password"`
}

// Signup registers a new account and opens its first session. The user row
// and both session tokens commit in one transaction. The signup job, which
// triggers the verification email, is enqueued only after the commit.
func (s *Auther) Signup(ctx context.Context, input SignupInput) (*User, *TokenPair, error) {
	email := NormalizeEmail(input.Email)

	if _, err := s.repo.Users().GetByEmail(ctx, email); err == nil {
		return nil, nil, ErrEmailRegistered
	} else if !repository.IsRecordNotFound(err) {
		return nil, nil, WrapStorageErr(err, "signup lookup failed")
	}

	hash, err := s.hasher.HashPassword(input.Password)
	if err != nil {
		return nil, nil, err
	}

	user := &User{
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Email:        email,
		Phone:        input.Phone,
		PasswordHash: hash,
	}

	if s.deterministicIDs {
		if id, err := hashid.NewUUID(email); err == nil {
			user.ID = id
		}
	}

	var pair *TokenPair

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := s.repo.Users().CreateTx(ctx, tx, user)
		if err != nil {
			return err
		}
		user = created

		pair, err = s.tokens.IssueSessionPairTx(ctx, tx, user.ID)
		return err
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, nil, richErr
		}
		return nil, nil, WrapStorageErr(err, "signup failed")
	}

	s.enqueue(ctx, AuthActionUserSignup, UserSignupJob{UserID: user.ID})

	return user, pair, nil
}

// Login authenticates an email/password pair and opens a session. Unknown
// emails and wrong passwords fail identically.
func (s *Auther) Login(ctx context.Context, email, password string) (*User, *TokenPair, error) {
	user, err := s.repo.Users().GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			s.logger.Debug("Login attempt for unknown email")
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, WrapStorageErr(err, "login lookup failed")
	}

	if err := s.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	if err := s.repo.Users().TrackSuccessfulLogin(ctx, user); err != nil {
		// Login still succeeds; the timestamp is advisory.
		s.logger.Warn("Login could not update last_login_at for user %s: %v", user.ID, err)
	}

	pair, err := s.tokens.IssueSessionPair(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	loginAt := time.Now().UTC()
	if user.LastLoginAt != nil {
		loginAt = *user.LastLoginAt
	}

	s.enqueue(ctx, AuthActionUserLogin, UserLoginJob{
		UserID:  user.ID,
		LoginAt: loginAt,
	})

	return user, pair, nil
}

// Logout ends the session the refresh token belongs to: the presented
// refresh token and every access token of that user are revoked in one
// transaction. The caller is the authenticated user, so a refresh token
// minted for a different account is rejected.
func (s *Auther) Logout(ctx context.Context, userID uuid.UUID, rawRefresh string) error {
	record, err := s.tokens.Verify(ctx, rawRefresh, TokenTypeRefresh)
	if err != nil {
		return err
	}

	if record.UserID != userID {
		return invalidTokenErr().
			WithMetadata(map[string]any{"reason": "refresh token belongs to another account"})
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.repo.Tokens().RevokeTx(ctx, tx, RevokeCriteria{
			Token: record.Token,
			Types: []TokenType{TokenTypeRefresh},
		}); err != nil {
			return err
		}

		_, err := s.repo.Tokens().RevokeTx(ctx, tx, RevokeCriteria{
			UserID: record.UserID,
			Types:  []TokenType{TokenTypeAccess},
		})
		return err
	})

	if err != nil {
		return WrapStorageErr(err, "logout failed")
	}

	return nil
}

// Refresh rotates a session: the presented refresh token is consumed and a
// new pair issued atomically. When two requests race on the same token
// exactly one wins; the other gets the generic invalid-token error.
func (s *Auther) Refresh(ctx context.Context, rawRefresh string) (*TokenPair, error) {
	record, err := s.tokens.Verify(ctx, rawRefresh, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	// A token can outlive its account; a deleted user must not refresh.
	if _, err := s.repo.Users().GetByID(ctx, record.UserID.String()); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, invalidTokenErr()
		}
		return nil, WrapStorageErr(err, "refresh lookup failed")
	}

	return s.tokens.RotateSessionPair(ctx, record)
}

// ForgotPassword issues a reset token and queues the delivery email. Unknown
// emails report success with no side effects, so the endpoint does not
// confirm which addresses have accounts.
func (s *Auther) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.repo.Users().GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			s.logger.Info("Password reset requested for unknown email")
			return nil
		}
		return WrapStorageErr(err, "password reset lookup failed")
	}

	raw, expiresAt, err := s.tokens.IssueSingleUse(ctx, user.ID, TokenTypeResetPassword)
	if err != nil {
		return err
	}

	s.enqueue(ctx, AuthActionPasswordReset, PasswordResetJob{
		Email:     user.Email,
		FirstName: user.FirstName,
		Token:     raw,
		ExpiresAt: expiresAt,
	})

	return nil
}

// ResetPassword consumes a reset token and replaces the account password.
// The token row is deleted in the same transaction as the hash update, so a
// second use of the same token fails.
func (s *Auther) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	record, err := s.tokens.Verify(ctx, rawToken, TokenTypeResetPassword)
	if err != nil {
		return err
	}

	hash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return err
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		affected, err := s.repo.Tokens().RevokeTx(ctx, tx, RevokeCriteria{
			Token: record.Token,
			Types: []TokenType{TokenTypeResetPassword},
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return invalidTokenErr().
				WithMetadata(map[string]any{"reason": "reset token already consumed"})
		}

		return s.repo.Users().SetPasswordHashTx(ctx, tx, record.UserID, hash)
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return WrapStorageErr(err, "password reset failed")
	}

	return nil
}

// VerifyEmail consumes a verification token and marks the address verified.
func (s *Auther) VerifyEmail(ctx context.Context, rawToken string) error {
	record, err := s.tokens.Verify(ctx, rawToken, TokenTypeVerifyEmail)
	if err != nil {
		return err
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		affected, err := s.repo.Tokens().RevokeTx(ctx, tx, RevokeCriteria{
			Token: record.Token,
			Types: []TokenType{TokenTypeVerifyEmail},
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return invalidTokenErr().
				WithMetadata(map[string]any{"reason": "verification token already consumed"})
		}

		// Older outstanding verification tokens are dead weight once the
		// address is verified; sweep them in the same transaction.
		if _, err := s.repo.Tokens().RevokeTx(ctx, tx, RevokeCriteria{
			UserID: record.UserID,
			Types:  []TokenType{TokenTypeVerifyEmail},
		}); err != nil {
			return err
		}

		return s.repo.Users().MarkEmailVerifiedTx(ctx, tx, record.UserID)
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return WrapStorageErr(err, "email verification failed")
	}

	s.enqueue(ctx, AuthActionEmailVerified, EmailVerifiedJob{UserID: record.UserID})

	return nil
}

// ResendVerificationEmail re-runs the signup notification for an account
// whose address is still unverified. Unknown emails report success, same as
// ForgotPassword.
func (s *Auther) ResendVerificationEmail(ctx context.Context, email string) error {
	user, err := s.repo.Users().GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			s.logger.Info("Verification email requested for unknown email")
			return nil
		}
		return WrapStorageErr(err, "verification lookup failed")
	}

	if user.EmailVerified {
		return ErrAlreadyVerified
	}

	s.enqueue(ctx, AuthActionUserSignup, UserSignupJob{UserID: user.ID})

	return nil
}

// UpdatePassword replaces the password of an authenticated user after
// re-checking the current one.
func (s *Auther) UpdatePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	user, err := s.repo.Users().GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrUserNotFound
		}
		return WrapStorageErr(err, "password update lookup failed")
	}

	if err := s.hasher.ComparePasswordAndHash(current, user.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := s.hasher.HashPassword(next)
	if err != nil {
		return err
	}

	if err := s.repo.Users().SetPasswordHash(ctx, userID, hash); err != nil {
		return WrapStorageErr(err, "password update failed")
	}

	return nil
}

// GetProfile loads the account behind an authenticated session.
func (s *Auther) GetProfile(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := s.repo.Users().GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, WrapStorageErr(err, "profile lookup failed")
	}
	return user, nil
}

// UpdateProfileInput holds partial profile updates. Nil fields are left
// untouched.
type UpdateProfileInput struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone_number"`
	Password  *string `json:"password"`
}

// UpdateProfile applies a partial update to the authenticated account.
// Changing the email resets its verified flag and re-runs the conflict
// check; changing the password re-hashes it.
func (s *Auther) UpdateProfile(ctx context.Context, userID uuid.UUID, input UpdateProfileInput) (*User, error) {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if input.FirstName != nil {
		user.FirstName = *input.FirstName
	}
	if input.LastName != nil {
		user.LastName = *input.LastName
	}
	if input.Phone != nil {
		user.Phone = *input.Phone
	}

	if input.Email != nil {
		email := NormalizeEmail(*input.Email)
		if email != user.Email {
			if existing, err := s.repo.Users().GetByEmail(ctx, email); err == nil && existing.ID != user.ID {
				return nil, ErrEmailRegistered
			} else if err != nil && !repository.IsRecordNotFound(err) {
				return nil, WrapStorageErr(err, "profile update lookup failed")
			}
			user.Email = email
			user.EmailVerified = false
		}
	}

	if input.Password != nil {
		hash, err := s.hasher.HashPassword(*input.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}

	updated, err := s.repo.Users().Update(ctx, user)
	if err != nil {
		return nil, WrapStorageErr(err, "profile update failed")
	}

	return updated, nil
}

// enqueue is fail soft: the primary operation already committed, so a queue
// outage degrades to a log line instead of rolling back user-visible work.
func (s *Auther) enqueue(ctx context.Context, action string, payload any) {
	if s.jobs == nil {
		return
	}
	if _, err := s.jobs.Enqueue(ctx, queue.TopicAuth, action, payload); err != nil {
		s.logger.Error("Failed to enqueue %s job: %v", action, err)
	}
}
