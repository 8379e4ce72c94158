package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/links"
	"github.com/mecws/shelter-ops/internal/pkg/logger"
	"github.com/mecws/shelter-ops/internal/service/outbox"
)

var ErrShiftNotFound = errors.New("shift not found")

// Directory reads the users, shifts and events a notification mentions.
type Directory interface {
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	ListUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
	// GetShift returns ErrShiftNotFound when no shift has the id.
	GetShift(ctx context.Context, id int64) (*domain.Shift, error)
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, msg outbox.Message) error
}

type Renderer interface {
	RenderFile(name string, vars map[string]interface{}) (string, error)
}

type URLBuilder interface {
	URL(path string) string
}

// Notifier enqueues signup notifications.
type Notifier struct {
	dir    Directory
	queue  Enqueuer
	render Renderer
	urls   URLBuilder
	prefix string
}

// NewNotifier creates a notifier. prefix is prepended to every subject.
func NewNotifier(dir Directory, queue Enqueuer, render Renderer, urls URLBuilder, prefix string) *Notifier {
	if prefix == "" {
		prefix = "[MECWS]"
	}
	return &Notifier{dir: dir, queue: queue, render: render, urls: urls, prefix: prefix}
}

// SignupRequested tells every supervisor who accepts email about a new
// signup in one batch, then tells the volunteer the spot is pending.
func (n *Notifier) SignupRequested(ctx context.Context, volunteerID, shiftID int64) error {
	vol, vars, err := n.load(ctx, volunteerID, shiftID)
	if err != nil {
		return err
	}

	supervisors, err := n.dir.ListUsersByRole(ctx, domain.RoleSupervisor)
	if err != nil {
		return fmt.Errorf("list supervisors: %w", err)
	}
	var to []string
	for _, s := range supervisors {
		if s.AcceptsEmail() && s.Email != "" {
			to = append(to, s.Email)
		}
	}
	if len(to) > 0 {
		vars["url"] = n.urls.URL(links.SignupsPath)
		if err := n.send(ctx, to, "New Volunteer Signup", "new_signup", vars); err != nil {
			return err
		}
	}

	if !vol.AcceptsEmail() {
		return nil
	}
	return n.send(ctx, []string{vol.Email}, "Signup Pending", "signup_pending", vars)
}

// SignupConfirmed tells the volunteer a supervisor confirmed the spot.
// Confirmation mail is sent regardless of the volunteer's broadcast opt-out.
func (n *Notifier) SignupConfirmed(ctx context.Context, volunteerID, shiftID int64) error {
	vol, vars, err := n.load(ctx, volunteerID, shiftID)
	if err != nil {
		return err
	}
	vars["url"] = n.urls.URL(links.SchedulePath)
	return n.send(ctx, []string{vol.Email}, "Signup Confirmed", "signup_confirmed", vars)
}

func (n *Notifier) load(ctx context.Context, volunteerID, shiftID int64) (*domain.User, map[string]interface{}, error) {
	vol, err := n.dir.GetUserByID(ctx, volunteerID)
	if err != nil {
		return nil, nil, err
	}
	shift, err := n.dir.GetShift(ctx, shiftID)
	if err != nil {
		return nil, nil, err
	}
	ev, err := n.dir.GetEvent(ctx, shift.EventID)
	if err != nil {
		return nil, nil, err
	}
	return vol, map[string]interface{}{
		"name":      vol.DisplayName(),
		"volunteer": vol.DisplayName(),
		"email":     vol.Email,
		"shift":     shift.Name,
		"date":      ev.Date.Format("Monday, January 2"),
		"start":     shift.Start.Format("3:04 PM"),
		"end":       shift.End.Format("3:04 PM"),
	}, nil
}

func (n *Notifier) send(ctx context.Context, to []string, subject, tpl string, vars map[string]interface{}) error {
	text, err := n.render.RenderFile(tpl+".txt", vars)
	if err != nil {
		return err
	}
	html, err := n.render.RenderFile(tpl+".html", vars)
	if err != nil {
		return err
	}
	if err := n.queue.Enqueue(ctx, outbox.Message{
		Recipients: to,
		Subject:    n.prefix + " " + subject,
		TextBody:   text,
		HTMLBody:   html,
	}); err != nil {
		return err
	}
	logger.Debug("notification queued", "component", "Notify", "template", tpl, "recipients", len(to))
	return nil
}
