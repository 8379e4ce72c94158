package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/mecws/shelter-ops/internal/config"
	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/wneessen/go-mail"
)

const defaultSMTPTimeout = 30 * time.Second

// SMTPTransport sends through an SMTP relay with go-mail. A new connection
// is dialed per message; the worker sends sequentially at low volume.
type SMTPTransport struct {
	host string
	opts []mail.Option
	ssl  bool
}

// NewSMTPTransport creates a transport from the SMTP config. Port 465
// uses implicit TLS; other ports upgrade with STARTTLS when offered.
func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	t := &SMTPTransport{host: cfg.Server, ssl: cfg.Port == 465}
	t.opts = []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSConfig(&tls.Config{
			ServerName:         cfg.Server,
			InsecureSkipVerify: cfg.SkipTLSVerify,
		}),
	}
	if t.ssl {
		t.opts = append(t.opts, mail.WithSSL())
	} else {
		t.opts = append(t.opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if cfg.Username != "" {
		t.opts = append(t.opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return t
}

func (t *SMTPTransport) Name() string { return "smtp" }

// Send dials, delivers and hangs up. The dial and every read and write on
// the connection are bounded by ctx.
func (t *SMTPTransport) Send(ctx context.Context, msg *domain.EmailMessage) error {
	timeout, err := timeoutFor(ctx)
	if err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	m, err := buildMessage(msg)
	if err != nil {
		return fmt.Errorf("smtp message: %w", err)
	}

	opts := append(append([]mail.Option(nil), t.opts...), mail.WithTimeout(timeout))
	client, err := mail.NewClient(t.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// timeoutFor converts the ctx deadline into a connection timeout.
func timeoutFor(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return defaultSMTPTimeout, nil
	}
	left := time.Until(deadline)
	if left <= 0 {
		return 0, context.DeadlineExceeded
	}
	return left, nil
}

func buildMessage(msg *domain.EmailMessage) (*mail.Msg, error) {
	m := mail.NewMsg()
	if msg.FromName != "" {
		if err := m.FromFormat(msg.FromName, msg.FromEmail); err != nil {
			return nil, err
		}
	} else if err := m.From(msg.FromEmail); err != nil {
		return nil, err
	}
	if err := m.To(msg.To); err != nil {
		return nil, err
	}
	m.Subject(msg.Subject)
	if msg.ID != "" {
		m.SetGenHeader(mail.Header("X-Outbox-ID"), msg.ID)
	}
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}
