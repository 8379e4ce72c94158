// Package mailer implements the outbound mail transports used by the
// delivery worker: SMTP, AWS SES and a log-only transport for development.
package mailer

import (
	"context"
	"fmt"

	"github.com/mecws/shelter-ops/internal/config"
	"github.com/mecws/shelter-ops/internal/domain"
)

// Transport delivers one fully rendered message. Implementations must
// honour ctx cancellation or deadline.
type Transport interface {
	Send(ctx context.Context, msg *domain.EmailMessage) error
	Name() string
}

// New builds the transport selected by cfg.Transport.
func New(ctx context.Context, cfg config.MailConfig) (Transport, error) {
	switch cfg.Transport {
	case "", "log":
		return NewLogTransport(), nil
	case "smtp":
		return NewSMTPTransport(cfg.SMTP), nil
	case "ses":
		return NewSESTransport(ctx, cfg.SES)
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}
