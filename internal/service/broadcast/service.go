package broadcast

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/links"
	"github.com/mecws/shelter-ops/internal/pkg/logger"
	"github.com/mecws/shelter-ops/internal/service/outbox"
	"github.com/mecws/shelter-ops/internal/templates"
)

const (
	dateLayout    = "January 02, 2006"
	subjectLayout = "Monday, January 02"
	linkLabel     = "Click here to sign up"
)

// Request is a supervisor's broadcast for one event. Subject is given
// without the site prefix; Message is a Liquid template.
type Request struct {
	EventID int64
	Subject string
	Message string
}

// Draft is the form prefill offered before a broadcast is sent.
type Draft struct {
	Event   domain.Event `json:"event"`
	Subject string       `json:"subject"`
	Message string       `json:"message"`
}

// Config holds link lifetime and branding.
type Config struct {
	TokenTTL      time.Duration
	SubjectPrefix string
	// Next is where a redeemed broadcast link lands.
	Next string
}

// Deps bundles the collaborators of a Composer.
type Deps struct {
	Directory Directory
	Tokens    TokenIssuer
	Queue     Enqueuer
	Links     LinkBuilder
	Render    Renderer
}

// Composer builds and enqueues per-volunteer broadcast emails.
type Composer struct {
	deps Deps
	cfg  Config
}

// NewComposer creates a composer. Zero config values fall back to a
// 48 hour link landing on the shifts page and "[MECWS]" branding.
func NewComposer(deps Deps, cfg Config) *Composer {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 48 * time.Hour
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "[MECWS]"
	}
	if cfg.Next == "" {
		cfg.Next = links.ShiftsPath
	}
	return &Composer{deps: deps, cfg: cfg}
}

// Draft returns the default subject and message for an event.
func (c *Composer) Draft(ctx context.Context, eventID int64) (*Draft, error) {
	ev, err := c.deps.Directory.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	msg, err := templates.Source("broadcast_default.txt")
	if err != nil {
		return nil, err
	}
	return &Draft{
		Event:   *ev,
		Subject: "Volunteers Needed: " + ev.Date.Format(subjectLayout),
		Message: msg,
	}, nil
}

// Broadcast sends one personalized email per eligible volunteer and returns
// how many were queued. Eligible means the Team Member role and not opted
// out of email. When a recipient fails, messages already queued stay
// queued and the count so far is returned with the error.
func (c *Composer) Broadcast(ctx context.Context, req Request) (int, error) {
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Message) == "" {
		return 0, fmt.Errorf("%w: subject and message are required", ErrInvalidRequest)
	}
	// Catch template errors before any token is issued.
	if _, err := c.deps.Render.Render(req.Message, map[string]interface{}{"name": "", "date": "", "link": ""}); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	ev, err := c.deps.Directory.GetEvent(ctx, req.EventID)
	if err != nil {
		return 0, err
	}

	users, err := c.deps.Directory.ListUsersByRole(ctx, domain.RoleTeamMember)
	if err != nil {
		return 0, fmt.Errorf("list recipients: %w", err)
	}

	subject := c.cfg.SubjectPrefix + " " + req.Subject
	date := ev.Date.Format(dateLayout)

	count := 0
	for _, u := range users {
		if !u.AcceptsEmail() || u.Email == "" {
			continue
		}
		if err := c.sendOne(ctx, u, subject, date, req.Message); err != nil {
			logger.Error("broadcast aborted", "component", "Broadcast", "event_id", ev.ID, "queued", count, "error", err.Error())
			return count, err
		}
		count++
	}

	logger.Info("broadcast queued", "component", "Broadcast", "event_id", ev.ID, "recipients", count)
	return count, nil
}

func (c *Composer) sendOne(ctx context.Context, u domain.User, subject, date, tpl string) error {
	token, err := c.deps.Tokens.Issue(ctx, u.ID, c.cfg.TokenTTL)
	if err != nil {
		return err
	}
	link := c.deps.Links.LoginURL(token, c.cfg.Next)

	text, err := c.deps.Render.Render(tpl, map[string]interface{}{
		"name": u.DisplayName(),
		"date": date,
		"link": link,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	return c.deps.Queue.Enqueue(ctx, outbox.Message{
		Recipients: []string{u.Email},
		Subject:    subject,
		TextBody:   text,
		HTMLBody:   toHTML(text, link),
	})
}

// toHTML wraps plain text in a paragraph, turns newlines into <br> and
// replaces the login link with an anchor.
func toHTML(text, link string) string {
	body := strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
	if link != "" {
		escaped := html.EscapeString(link)
		body = strings.ReplaceAll(body, escaped, `<a href="`+escaped+`">`+linkLabel+`</a>`)
	}
	return "<p>" + body + "</p>"
}
