package mailer

import (
	"context"

	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/pkg/logger"
)

// LogTransport writes messages to the log instead of sending them. Bodies
// of sensitive messages are never written.
type LogTransport struct{}

func NewLogTransport() *LogTransport { return &LogTransport{} }

func (LogTransport) Name() string { return "log" }

func (LogTransport) Send(ctx context.Context, msg *domain.EmailMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Sensitive {
		logger.Info("mail (log transport)", "component", "Mailer", "recipient", msg.To, "sensitive", true)
		return nil
	}
	logger.Info("mail (log transport)", "component", "Mailer", "recipient", msg.To, "subject", msg.Subject, "text", msg.Text)
	return nil
}
