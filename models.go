package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenType discriminates the credential kinds stored in the tokens table.
type TokenType = string

const (
	// TokenTypeAccess is a short-lived credential authorizing API requests.
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh is a longer-lived, single-use credential used to mint
	// a new access/refresh pair.
	TokenTypeRefresh TokenType = "refresh"
	// TokenTypeResetPassword is a single-use password reset credential.
	TokenTypeResetPassword TokenType = "resetpassword"
	// TokenTypeVerifyEmail is a single-use email verification credential.
	TokenTypeVerifyEmail TokenType = "verifyemail"
)

// User is the identity record
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	FirstName     string     `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName      string     `bun:"last_name,notnull" json:"last_name,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone         string     `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash  string     `bun:"password_hash" json:"-"`
	EmailVerified bool       `bun:"is_email_verified" json:"is_email_verified"`
	PhoneVerified bool       `bun:"is_phone_verified" json:"is_phone_verified"`
	LastLoginAt   *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// FullName joins first and last name for display purposes.
func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Sanitized returns a copy safe to hand to callers: the password hash is
// stripped even if the struct is later serialized through a permissive codec.
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.PasswordHash = ""
	return &out
}

// Token is a credential record, one row per issued access/refresh/reset/verify
// token. The row and the signed string must agree on user, type, cuid, and
// expiry; verification cross-checks every field.
type Token struct {
	bun.BaseModel `bun:"table:tokens,alias:tkn"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Token         string     `bun:"token,notnull,unique" json:"token,omitempty"`
	Type          TokenType  `bun:"type,notnull" json:"type,omitempty"`
	CUID          string     `bun:"cuid,notnull" json:"cuid,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// TokenMetadata is the issuance info callers need to hand a credential to a
// client: the signed string plus its expiry.
type TokenMetadata struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires"`
}

// TokenPair is an access/refresh credential pair issued together when a
// session begins.
type TokenPair struct {
	Access  TokenMetadata `json:"access"`
	Refresh TokenMetadata `json:"refresh"`
}
