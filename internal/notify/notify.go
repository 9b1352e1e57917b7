package notify

import (
	"context"
	"time"

	"arbor.reports/internal/hierarchy"
	"arbor.reports/internal/obs"
)

// Notifier delivers invitation and welcome messages. The invitation engine
// dispatches fire-and-forget: a Notifier failure is logged and never rolls
// back the operation that triggered it.
type Notifier interface {
	SendInvitation(ctx context.Context, profile hierarchy.Profile, token string, expiresAt time.Time) error
	SendWelcome(ctx context.Context, profile hierarchy.Profile) error
}

// LogNotifier records notification intents as structured log lines. It
// stands in for the mail collaborator in development and tests. The raw
// token is never logged.
type LogNotifier struct{}

// NewLogNotifier returns the log-backed notifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

// SendInvitation implements Notifier.
func (*LogNotifier) SendInvitation(_ context.Context, profile hierarchy.Profile, _ string, expiresAt time.Time) error {
	obs.LogRequest(map[string]any{
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		"type":       "notification",
		"event":      "invitation",
		"profile_id": profile.ID,
		"level":      profile.Level,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	return nil
}

// SendWelcome implements Notifier.
func (*LogNotifier) SendWelcome(_ context.Context, profile hierarchy.Profile) error {
	obs.LogRequest(map[string]any{
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		"type":       "notification",
		"event":      "welcome",
		"profile_id": profile.ID,
	})
	return nil
}
