package identity

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// TokenVerifier validates a raw credential string against both its signature
// and its stored record, so revoked or consumed tokens fail even when the
// signature is still valid.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string, tokenType TokenType) (*Token, error)
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// Config holds identity options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetSingleUseTokenTTL() time.Duration
	GetClientURL() string
}

// SimpleConfig is a plain struct Config implementation with sane defaults.
type SimpleConfig struct {
	SigningKey        string
	Issuer            string
	Audience          []string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	SingleUseTokenTTL time.Duration
	ClientURL         string
}

const (
	// DefaultAccessTokenTTL is the lifetime of access tokens.
	DefaultAccessTokenTTL = 7 * 24 * time.Hour
	// DefaultRefreshTokenTTL is the lifetime of refresh tokens.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	// DefaultSingleUseTokenTTL is the lifetime of reset/verify tokens.
	DefaultSingleUseTokenTTL = 15 * time.Minute
)

func (c SimpleConfig) GetSigningKey() string { return c.SigningKey }
func (c SimpleConfig) GetIssuer() string     { return c.Issuer }

func (c SimpleConfig) GetAudience() []string { return c.Audience }

func (c SimpleConfig) GetAccessTokenTTL() time.Duration {
	if c.AccessTokenTTL > 0 {
		return c.AccessTokenTTL
	}
	return DefaultAccessTokenTTL
}

func (c SimpleConfig) GetRefreshTokenTTL() time.Duration {
	if c.RefreshTokenTTL > 0 {
		return c.RefreshTokenTTL
	}
	return DefaultRefreshTokenTTL
}

func (c SimpleConfig) GetSingleUseTokenTTL() time.Duration {
	if c.SingleUseTokenTTL > 0 {
		return c.SingleUseTokenTTL
	}
	return DefaultSingleUseTokenTTL
}

func (c SimpleConfig) GetClientURL() string { return c.ClientURL }

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
