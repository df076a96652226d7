package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the payload signed into every credential string. Beyond the
// registered claims it carries the credential type and a random correlation
// id (cuid) that ties the string to exactly one stored row, so a token can be
// looked up and revoked by payload claims without trusting the raw string.
type TokenClaims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"type"`
	CUID      string    `json:"cuid"`
}

// UserID returns the subject claim.
func (c *TokenClaims) UserID() string {
	return c.RegisteredClaims.Subject
}

// Expires returns the expiration time
func (c *TokenClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *TokenClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
