package identity

import (
	"context"
)

var userCtxKey = &contextKey{"user"}
var tokenCtxKey = &contextKey{"token"}

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok
}

// WithTokenContext sets the verified token record in the given context
func WithTokenContext(r context.Context, record *Token) context.Context {
	return context.WithValue(r, tokenCtxKey, record)
}

// TokenFromContext finds the verified token record from the context.
func TokenFromContext(ctx context.Context) (*Token, bool) {
	raw, ok := ctx.Value(tokenCtxKey).(*Token)
	return raw, ok
}
