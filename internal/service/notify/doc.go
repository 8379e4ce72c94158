// Package notify sends the transactional emails around shift signups:
// supervisors hear about new signups and volunteers hear when their spot
// is pending and when it is confirmed.
package notify
