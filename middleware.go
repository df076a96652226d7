package identity

import (
	"strings"

	router "github.com/goliatone/go-router"
	"github.com/google/uuid"
)

const (
	// SessionContextKey is where the middleware stores the verified token
	// record on the request context.
	SessionContextKey = "identity:token"
	// UserIDContextKey is where the middleware stores the authenticated user
	// id.
	UserIDContextKey = "identity:user_id"

	authScheme = "Bearer"
)

// MiddlewareConfig tunes the Protected middleware.
type MiddlewareConfig struct {
	// Filter skips authentication for matching requests.
	Filter func(router.Context) bool
	// CookieName, when set, is checked after the Authorization header.
	CookieName string
	// ErrorHandler renders authentication failures. Defaults to the JSON
	// error envelope the controller uses.
	ErrorHandler router.ErrorHandler
}

// Protected authenticates requests with a bearer access token. The verifier
// checks signature and the stored row, so revoked sessions fail here even
// when the signature is still valid.
func Protected(verifier TokenVerifier, config ...MiddlewareConfig) router.MiddlewareFunc {
	cfg := MiddlewareConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = renderError
	}

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			raw := extractBearer(ctx, cfg.CookieName)
			if raw == "" {
				return cfg.ErrorHandler(ctx, invalidTokenErr().
					WithMetadata(map[string]any{"reason": "missing credentials"}))
			}

			record, err := verifier.Verify(ctx.Context(), raw, TokenTypeAccess)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(SessionContextKey, record)
			ctx.Locals(UserIDContextKey, record.UserID)
			ctx.SetContext(WithTokenContext(ctx.Context(), record))

			return hf(ctx)
		}
	}
}

func extractBearer(ctx router.Context, cookieName string) string {
	header := ctx.GetString(router.HeaderAuthorization, "")
	if len(header) > len(authScheme) && strings.EqualFold(header[:len(authScheme)], authScheme) {
		return strings.TrimSpace(header[len(authScheme):])
	}

	if cookieName != "" {
		if raw := ctx.Cookies(cookieName); raw != "" {
			return raw
		}
	}

	return ""
}

// UserIDFromContext returns the authenticated user id stored by Protected.
func UserIDFromContext(ctx router.Context) (uuid.UUID, bool) {
	id, ok := ctx.Locals(UserIDContextKey).(uuid.UUID)
	return id, ok
}

// SessionFromContext returns the verified token record stored by Protected.
func SessionFromContext(ctx router.Context) (*Token, bool) {
	record, ok := ctx.Locals(SessionContextKey).(*Token)
	return record, ok
}
