// Package pubsub mirrors accepted status updates onto a secondary channel
// that out-of-process consumers may subscribe to. The mirror is best-effort:
// it is never a source of truth and its failures never affect the primary
// broadcast or persistence.
package pubsub

import "context"

// StatusUpdate is the payload published for each accepted status transition.
type StatusUpdate struct {
	Type    string  `json:"type"`
	UserID  int64   `json:"user_id"`
	Status  string  `json:"status"`
	Message *string `json:"message"`
}

// Publisher delivers status updates to the secondary channel.
type Publisher interface {
	PublishStatus(ctx context.Context, upd StatusUpdate) error
	Close() error
}

// Noop is a Publisher that discards everything. Used when no mirror is configured.
type Noop struct{}

func (Noop) PublishStatus(context.Context, StatusUpdate) error { return nil }
func (Noop) Close() error                                      { return nil }
