// Package notify dispatches outbound notifications. Implementations only
// guarantee that a dispatch was requested, not that it was delivered.
package notify

import (
	"context"
	"log/slog"
)

type Kind string

const (
	KindPasswordReset Kind = "password_reset"
	KindJobFinished   Kind = "job_finished"
	KindJobMessage    Kind = "job_message"
)

type Message struct {
	Kind      Kind              `json:"kind"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the structured log. Bodies are omitted
// because they may carry reset links.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "notification dispatched",
		slog.String("kind", string(msg.Kind)),
		slog.String("recipient", msg.Recipient),
		slog.String("subject", msg.Subject),
	)
	return nil
}
