// Package notifications pushes operator-facing events to an ntfy topic.
// When no topic is configured every call is a no-op, so callers never need
// to guard notification sends.
package notifications
