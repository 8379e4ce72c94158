package domain

import "time"

// EmailStatus is the lifecycle state of an outbox row.
//
//	pending -> sending -> sent
//	                   -> failed
//	                   -> pending (retry or stale-claim recovery)
type EmailStatus string

const (
	EmailPending EmailStatus = "pending"
	EmailSending EmailStatus = "sending"
	EmailSent    EmailStatus = "sent"
	EmailFailed  EmailStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s EmailStatus) Valid() bool {
	switch s {
	case EmailPending, EmailSending, EmailSent, EmailFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is expected.
func (s EmailStatus) Terminal() bool {
	return s == EmailSent || s == EmailFailed
}

// Email is one row of the outbox: a single message to a single recipient
// together with its delivery ledger.
type Email struct {
	ID           string      `json:"id" db:"id"`
	Recipient    string      `json:"recipient" db:"recipient"`
	Subject      string      `json:"subject" db:"subject"`
	BodyText     string      `json:"body_text" db:"body_text"`
	BodyHTML     string      `json:"body_html,omitempty" db:"body_html"`
	Sensitive    bool        `json:"sensitive" db:"sensitive"`
	Status       EmailStatus `json:"status" db:"status"`
	Attempts     int         `json:"attempts" db:"attempts"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	ClaimedAt    *time.Time  `json:"claimed_at,omitempty" db:"claimed_at"`
	SentAt       *time.Time  `json:"sent_at,omitempty" db:"sent_at"`
	ErrorMessage string      `json:"error_message,omitempty" db:"error_message"`
}

// Redacted returns a copy safe for diagnostics. Bodies of sensitive
// messages carry login links and are blanked.
func (e Email) Redacted() Email {
	if e.Sensitive {
		e.BodyText = ""
		e.BodyHTML = ""
	}
	return e
}

// EmailMessage is the fully-resolved message handed to a mail transport.
// By the time a message reaches this struct, all template substitution
// is complete.
type EmailMessage struct {
	ID        string `json:"id"`
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	HTML      string `json:"html,omitempty"`
	Sensitive bool   `json:"sensitive"`
}

// From renders the sender as an RFC 5322 address.
func (m *EmailMessage) From() string {
	if m.FromName == "" {
		return m.FromEmail
	}
	return m.FromName + " <" + m.FromEmail + ">"
}
