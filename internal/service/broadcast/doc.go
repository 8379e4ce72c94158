// Package broadcast composes personalized activation emails for an event.
//
// Each eligible volunteer receives their own copy carrying a fresh 48 hour
// login link that lands on the open-shifts page. Messages are written by a
// supervisor as Liquid templates with {{ name }}, {{ date }} and {{ link }}
// placeholders.
package broadcast
