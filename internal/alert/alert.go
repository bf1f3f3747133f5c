// Package alert delivers emergency messages to a patient's contact. Delivery
// is fire-and-forget from the caller's point of view: Dispatcher.Enqueue
// hands the message to a worker pool and returns immediately.
package alert

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Alert is one outbound emergency message.
type Alert struct {
	EventID string
	UserID  string
	To      string
	Body    string
}

// Sender delivers a single alert.
type Sender interface {
	Send(ctx context.Context, a Alert) error
}

// LogSender writes alerts to the log instead of sending them. It is used when
// no messaging credentials are configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) Send(_ context.Context, a Alert) error {
	s.Logger.Warn().
		Str("event_id", a.EventID).
		Str("to", a.To).
		Str("body", a.Body).
		Msg("alert channel not configured; alert logged only")
	return nil
}

// NormalizePhone converts a stored number to E.164. Numbers are stored
// without the leading plus, e.g. 919999999999.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}
