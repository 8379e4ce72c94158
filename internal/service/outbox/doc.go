// Package outbox implements the notification queue: request-path code
// writes one pending row per recipient and the delivery worker drains them.
//
// The queue never talks to a mail transport. Enqueue only records intent,
// so a slow or failing mail server cannot block or fail a web request.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package outbox
