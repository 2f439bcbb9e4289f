// Package notify delivers outbound notifications: verifier invitations,
// release requests awaiting a vote, and access links for recipients.
package notify

import (
	"context"
	"strings"

	"github.com/floodyc/AfterLiving/internal/logging"
)

type Kind string

const (
	KindVerifierInvited  Kind = "verifier_invited"
	KindReleaseRequested Kind = "release_requested"
	KindRecipientAccess  Kind = "recipient_access"
)

// Sink accepts a notification for delivery. Delivery is best-effort; callers
// must not let a failed notification roll back state changes.
type Sink interface {
	Enqueue(ctx context.Context, address string, kind Kind, data map[string]string) error
}

// LogSink writes notifications to the structured log instead of sending
// them. Used in local setups without a mail provider.
type LogSink struct {
	logger logging.Logger
}

func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Enqueue logs the notification. Values carrying a bearer token are
// truncated so local logs do not double as a grant store.
func (s *LogSink) Enqueue(ctx context.Context, address string, kind Kind, data map[string]string) error {
	args := []any{"address", address, "kind", string(kind)}
	for k, v := range data {
		args = append(args, k, redactToken(k, v))
	}
	s.logger.Info(ctx, "notification", args...)
	return nil
}

const tokenLogPrefix = 8

func redactToken(key, value string) string {
	if i := strings.Index(value, "token="); i >= 0 {
		start := i + len("token=")
		return value[:start] + truncateToken(value[start:])
	}
	if key == "token" {
		return truncateToken(value)
	}
	return value
}

func truncateToken(token string) string {
	if len(token) <= tokenLogPrefix {
		return token
	}
	return token[:tokenLogPrefix] + "..."
}
