package identity

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Email is an outbound message. Delivery is someone else's problem; this
// package only builds and hands them to a Sender.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers emails. Implementations wrap SMTP, an API client, or a
// test recorder.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// VerificationEmail builds the message carrying the email verification link.
func VerificationEmail(clientURL, to, firstName, token string) Email {
	link := buildLink(clientURL, "/verify-email", token)
	name := firstName
	if name == "" {
		name = "there"
	}
	return Email{
		To:      to,
		Subject: "Verify your email address",
		Body: fmt.Sprintf(
			"Hi %s,\n\nPlease confirm your email address by visiting:\n\n%s\n\nIf you did not create this account you can ignore this message.\n",
			name, link,
		),
	}
}

// PasswordResetEmail builds the message carrying the password reset link.
func PasswordResetEmail(clientURL, to, firstName, token string, expiresAt time.Time) Email {
	link := buildLink(clientURL, "/reset-password", token)
	name := firstName
	if name == "" {
		name = "there"
	}
	return Email{
		To:      to,
		Subject: "Reset your password",
		Body: fmt.Sprintf(
			"Hi %s,\n\nA password reset was requested for your account. Visit:\n\n%s\n\nThe link expires at %s. If you did not request this you can ignore this message.\n",
			name, link, expiresAt.UTC().Format(time.RFC1123),
		),
	}
}

func buildLink(clientURL, path, token string) string {
	u, err := url.Parse(clientURL)
	if err != nil || clientURL == "" {
		return path + "?token=" + url.QueryEscape(token)
	}
	u.Path = path
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// LogSender writes emails to the logger instead of delivering them, the
// default wiring for development and tests.
type LogSender struct {
	Logger Logger
}

func (s LogSender) Send(_ context.Context, email Email) error {
	logger := s.Logger
	if logger == nil {
		logger = defLogger{}
	}
	logger.Info("email to=%s subject=%q\n%s", email.To, email.Subject, email.Body)
	return nil
}
