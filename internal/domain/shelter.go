package domain

import "time"

// Role separates volunteers from admins.
type Role string

const (
	RoleTeamMember Role = "Team Member"
	RoleSupervisor Role = "Shelter Supervisor"
)

// User is a registered volunteer or supervisor.
type User struct {
	ID    int64  `json:"id" db:"id"`
	Email string `json:"email" db:"email"`
	Name  string `json:"name" db:"name"`
	Role  Role   `json:"role" db:"role"`
	// EmailAllowed is nil for accounts that never set the preference;
	// those are treated as opted in.
	EmailAllowed *bool `json:"email_allowed" db:"email_allowed"`
}

// AcceptsEmail reports whether the user has not explicitly opted out.
func (u User) AcceptsEmail() bool {
	return u.EmailAllowed == nil || *u.EmailAllowed
}

// DisplayName falls back to a generic greeting for unnamed accounts.
func (u User) DisplayName() string {
	if u.Name == "" {
		return "Team Member"
	}
	return u.Name
}

// Event is one overnight shelter activation.
type Event struct {
	ID          int64     `json:"id" db:"id"`
	Date        time.Time `json:"date" db:"date"`
	Description string    `json:"description" db:"description"`
	Status      string    `json:"status" db:"status"`
}

// Shift is a staffed time slot within an event.
type Shift struct {
	ID       int64     `json:"id" db:"id"`
	EventID  int64     `json:"event_id" db:"event_id"`
	Name     string    `json:"name" db:"name"`
	Start    time.Time `json:"start" db:"start_time"`
	End      time.Time `json:"end" db:"end_time"`
	Capacity int       `json:"capacity" db:"capacity"`
}
