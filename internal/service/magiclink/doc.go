// Package magiclink implements passwordless login: single-use,
// time-limited tokens delivered by email and exchanged for a session.
//
// A token is consumed by one atomic delete, so two concurrent redemptions
// of the same link cannot both succeed. An expired token is removed by the
// same delete that detects the expiry.
package magiclink
