// Package domain holds the value types shared by the outbox, the
// magic-link authenticator, the broadcast composer and the workers:
// emails and their delivery states, login tokens, and the read-only
// user, event and shift records those features consult.
//
// Nothing here talks to a database or the network. Methods are limited to
// pure checks such as EmailStatus.Valid or User.AcceptsEmail.
package domain
