package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// timePrecision is the granularity credential expiries are issued and
// compared at. JWT numeric dates carry whole seconds, so the stored row must
// agree at the same precision.
const timePrecision = time.Second

// TokenService issues, persists, verifies, rotates, and revokes signed
// credential strings.
type TokenService interface {
	TokenVerifier

	Issue(userID uuid.UUID, tokenType TokenType, ttl time.Duration) (string, *TokenClaims, error)
	Persist(ctx context.Context, record *Token) (*Token, error)
	IssueSessionPair(ctx context.Context, userID uuid.UUID) (*TokenPair, error)
	IssueSessionPairTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*TokenPair, error)
	IssueSingleUse(ctx context.Context, userID uuid.UUID, tokenType TokenType) (string, time.Time, error)
	RotateSessionPair(ctx context.Context, refresh *Token) (*TokenPair, error)
	Revoke(ctx context.Context, criteria RevokeCriteria) (int64, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey   []byte
	issuer       string
	audience     jwt.ClaimStrings
	accessTTL    time.Duration
	refreshTTL   time.Duration
	singleUseTTL time.Duration
	repo         RepositoryManager
	logger       Logger
	now          func() time.Time
}

var _ TokenService = (*TokenServiceImpl)(nil)

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg Config, repo RepositoryManager, logger Logger) *TokenServiceImpl {
	if logger == nil {
		logger = defLogger{}
	}
	return &TokenServiceImpl{
		signingKey:   []byte(cfg.GetSigningKey()),
		issuer:       cfg.GetIssuer(),
		audience:     jwt.ClaimStrings(cfg.GetAudience()),
		accessTTL:    cfg.GetAccessTokenTTL(),
		refreshTTL:   cfg.GetRefreshTokenTTL(),
		singleUseTTL: cfg.GetSingleUseTokenTTL(),
		repo:         repo,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock overrides the time source, used by tests to pin expiry boundaries.
func (ts *TokenServiceImpl) WithClock(now func() time.Time) *TokenServiceImpl {
	if now != nil {
		ts.now = now
	}
	return ts
}

// Issue builds and signs a credential payload. Pure aside from generating a
// fresh random cuid; it does not touch storage.
func (ts *TokenServiceImpl) Issue(userID uuid.UUID, tokenType TokenType, ttl time.Duration) (string, *TokenClaims, error) {
	if userID == uuid.Nil {
		return "", nil, goerrors.New("user id is required", goerrors.CategoryBadInput)
	}
	if ttl <= 0 {
		return "", nil, goerrors.New("token TTL must be positive", goerrors.CategoryBadInput)
	}

	issuedAt := ts.now().UTC().Truncate(timePrecision)
	expiresAt := issuedAt.Add(ttl).Truncate(timePrecision)

	var aud jwt.ClaimStrings
	if len(ts.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(ts.audience))
		copy(aud, ts.audience)
	}

	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   userID.String(),
			Audience:  aud,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TokenType: tokenType,
		CUID:      uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}

	return signed, claims, nil
}

// Persist inserts the Token row backing a signed string.
func (ts *TokenServiceImpl) Persist(ctx context.Context, record *Token) (*Token, error) {
	stored, err := ts.repo.Tokens().Create(ctx, record)
	if err != nil {
		return nil, WrapStorageErr(err, "failed to persist token")
	}
	return stored, nil
}

// Verify checks signature, type, and expiry of a raw credential, then looks up
// the stored row every decoded claim must match. A valid signature with no
// matching row means the token was consumed, revoked, or is a replay of an old
// payload; all of those fail the same way.
func (ts *TokenServiceImpl) Verify(ctx context.Context, raw string, tokenType TokenType) (*Token, error) {
	claims, err := ts.parse(raw)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != tokenType {
		return nil, invalidTokenErr().
			WithMetadata(map[string]any{
				"expected_type": tokenType,
				"actual_type":   claims.TokenType,
			})
	}

	// Inclusive boundary: a token expiring exactly now is already expired.
	if !claims.Expires().After(ts.now()) {
		return nil, tokenExpiredErr()
	}

	record, err := ts.repo.Tokens().FindByClaims(ctx, raw, claims)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, invalidTokenErr()
		}
		return nil, WrapStorageErr(err, "token lookup failed")
	}

	if !record.ExpiresAt.After(ts.now()) {
		return nil, tokenExpiredErr()
	}

	return record, nil
}

// IssueSessionPair issues one access and one refresh token and persists both
// in a single transaction; a caller never observes a session with only one of
// the two rows stored.
func (ts *TokenServiceImpl) IssueSessionPair(ctx context.Context, userID uuid.UUID) (*TokenPair, error) {
	var pair *TokenPair

	err := ts.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		pair, err = ts.IssueSessionPairTx(ctx, tx, userID)
		return err
	})

	if err != nil {
		return nil, WrapStorageErr(err, "failed to issue session pair")
	}

	return pair, nil
}

// IssueSessionPairTx issues the pair inside a caller owned transaction, so
// signup can commit the user row and its first session together.
func (ts *TokenServiceImpl) IssueSessionPairTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*TokenPair, error) {
	accessRaw, accessClaims, err := ts.Issue(userID, TokenTypeAccess, ts.accessTTL)
	if err != nil {
		return nil, err
	}

	refreshRaw, refreshClaims, err := ts.Issue(userID, TokenTypeRefresh, ts.refreshTTL)
	if err != nil {
		return nil, err
	}

	if _, err := ts.repo.Tokens().CreateTx(ctx, tx, newTokenRecord(accessRaw, accessClaims)); err != nil {
		return nil, err
	}

	if _, err := ts.repo.Tokens().CreateTx(ctx, tx, newTokenRecord(refreshRaw, refreshClaims)); err != nil {
		return nil, err
	}

	return &TokenPair{
		Access:  TokenMetadata{Token: accessRaw, ExpiresAt: accessClaims.Expires()},
		Refresh: TokenMetadata{Token: refreshRaw, ExpiresAt: refreshClaims.Expires()},
	}, nil
}

// IssueSingleUse issues and persists a reset/verify token.
func (ts *TokenServiceImpl) IssueSingleUse(ctx context.Context, userID uuid.UUID, tokenType TokenType) (string, time.Time, error) {
	if tokenType != TokenTypeResetPassword && tokenType != TokenTypeVerifyEmail {
		return "", time.Time{}, goerrors.New("unsupported single use token type", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"type": tokenType})
	}

	raw, claims, err := ts.Issue(userID, tokenType, ts.singleUseTTL)
	if err != nil {
		return "", time.Time{}, err
	}

	if _, err := ts.Persist(ctx, newTokenRecord(raw, claims)); err != nil {
		return "", time.Time{}, err
	}

	return raw, claims.Expires(), nil
}

// RotateSessionPair consumes the presented refresh token and mints a new
// pair inside one transaction. The delete is the exclusivity point: two
// concurrent rotations of the same token race on it, and the loser observes
// zero affected rows and fails with the generic invalid-token error.
func (ts *TokenServiceImpl) RotateSessionPair(ctx context.Context, refresh *Token) (*TokenPair, error) {
	if refresh == nil || refresh.Type != TokenTypeRefresh {
		return nil, invalidTokenErr()
	}

	var pair *TokenPair

	err := ts.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		affected, err := ts.repo.Tokens().RevokeTx(ctx, tx, RevokeCriteria{
			Token:  refresh.Token,
			Types:  []TokenType{TokenTypeRefresh},
			UserID: refresh.UserID,
		})
		if err != nil {
			return err
		}

		if affected == 0 {
			return invalidTokenErr().
				WithMetadata(map[string]any{"reason": "refresh token already consumed"})
		}

		pair, err = ts.IssueSessionPairTx(ctx, tx, refresh.UserID)
		return err
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, WrapStorageErr(err, "failed to rotate session pair")
	}

	return pair, nil
}

// Revoke deletes matching token rows.
func (ts *TokenServiceImpl) Revoke(ctx context.Context, criteria RevokeCriteria) (int64, error) {
	affected, err := ts.repo.Tokens().Revoke(ctx, criteria)
	if err != nil {
		return 0, WrapStorageErr(err, "failed to revoke tokens")
	}
	return affected, nil
}

func (ts *TokenServiceImpl) parse(raw string) (*TokenClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(raw, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService verify encountered unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, tokenExpiredErr()
		}
		return nil, goerrors.Wrap(err, ErrInvalidToken.Category, ErrInvalidToken.Message).
			WithTextCode(ErrInvalidToken.TextCode).
			WithCode(goerrors.CodeUnauthorized)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		ts.logger.Error("TokenService verify could not decode claims")
		return nil, invalidTokenErr()
	}

	if claims.CUID == "" {
		return nil, invalidTokenErr().
			WithMetadata(map[string]any{"reason": "missing correlation id"})
	}

	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, invalidTokenErr().
			WithMetadata(map[string]any{"reason": "malformed subject"})
	}

	return claims, nil
}

func newTokenRecord(raw string, claims *TokenClaims) *Token {
	userID, _ := uuid.Parse(claims.Subject)
	return &Token{
		Token:     raw,
		Type:      claims.TokenType,
		CUID:      claims.CUID,
		UserID:    userID,
		ExpiresAt: claims.Expires(),
	}
}

// Sentinel rich errors are shared values; attaching request metadata requires
// a fresh copy per call site.
func invalidTokenErr() *goerrors.Error {
	return goerrors.New(ErrInvalidToken.Message, ErrInvalidToken.Category).
		WithTextCode(ErrInvalidToken.TextCode).
		WithCode(goerrors.CodeUnauthorized)
}

func tokenExpiredErr() *goerrors.Error {
	return goerrors.New(ErrTokenExpired.Message, ErrTokenExpired.Category).
		WithTextCode(ErrTokenExpired.TextCode).
		WithCode(goerrors.CodeUnauthorized)
}
