// Package notifier reports bot status transitions to external channels.
package notifier

import (
	"context"
	"errors"
	"time"
)

type Event string

const (
	EventQRPending Event = "qr_pending"
	EventOnline    Event = "online"
	EventOffline   Event = "offline"
)

type StatusChange struct {
	Event       Event     `json:"event"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Notifier interface {
	NotifyStatus(ctx context.Context, change StatusChange) error
}

type Noop struct{}

func (Noop) NotifyStatus(context.Context, StatusChange) error { return nil }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) NotifyStatus(ctx context.Context, change StatusChange) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyStatus(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Combine returns Noop for no notifiers and the notifier itself for one.
func Combine(ns ...Notifier) Notifier {
	switch len(ns) {
	case 0:
		return Noop{}
	case 1:
		return ns[0]
	default:
		return Multi(ns)
	}
}
