package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mecws/shelter-ops/internal/domain"
	"github.com/mecws/shelter-ops/internal/service/broadcast"
	"github.com/mecws/shelter-ops/internal/service/magiclink"
	"github.com/mecws/shelter-ops/internal/service/notify"
)

// Directory holds users, events and shifts in memory.
type Directory struct {
	mu     sync.RWMutex
	users  map[int64]domain.User
	events map[int64]domain.Event
	shifts map[int64]domain.Shift
}

func NewDirectory() *Directory {
	return &Directory{
		users:  make(map[int64]domain.User),
		events: make(map[int64]domain.Event),
		shifts: make(map[int64]domain.Shift),
	}
}

func (d *Directory) AddUser(u domain.User) {
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

func (d *Directory) AddEvent(e domain.Event) {
	d.mu.Lock()
	d.events[e.ID] = e
	d.mu.Unlock()
}

func (d *Directory) AddShift(s domain.Shift) {
	d.mu.Lock()
	d.shifts[s.ID] = s
	d.mu.Unlock()
}

func (d *Directory) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, magiclink.ErrUserNotFound
	}
	return &u, nil
}

// GetUserByEmail matches addresses case-insensitively.
func (d *Directory) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			cp := u
			return &cp, nil
		}
	}
	return nil, magiclink.ErrUserNotFound
}

func (d *Directory) ListUsersByRole(_ context.Context, role domain.Role) ([]domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []domain.User
	for _, u := range d.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Directory) GetEvent(_ context.Context, id int64) (*domain.Event, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.events[id]
	if !ok {
		return nil, broadcast.ErrEventNotFound
	}
	return &e, nil
}

func (d *Directory) GetShift(_ context.Context, id int64) (*domain.Shift, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.shifts[id]
	if !ok {
		return nil, notify.ErrShiftNotFound
	}
	return &s, nil
}
