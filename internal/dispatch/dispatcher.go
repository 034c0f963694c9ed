// Package dispatch delivers decided notification events to the messaging
// collaborator, exactly once per decision.
package dispatch

import (
	"context"
	"time"

	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/logger"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/models"
)

// NotificationStore is the persistence surface the dispatcher needs.
type NotificationStore interface {
	PendingNotifications() ([]models.PendingNotification, error)
	MarkDelivered(eventID string, at time.Time) error
}

// MessageSender delivers owner-facing messages.
type MessageSender interface {
	SendPriceDrop(ownerID int64, n models.PendingNotification) error
	SendItemUnavailable(ownerID int64, item models.WatchlistItem) error
}

// Dispatcher drains undelivered notification events. An event is marked
// delivered, and the item's last notified price advanced, only after the
// sender confirms the send; a failed send leaves the event pending for the
// next trigger.
type Dispatcher struct {
	store  NotificationStore
	sender MessageSender

	nowFunc func() time.Time
}

// New creates a dispatcher.
func New(store NotificationStore, sender MessageSender) *Dispatcher {
	return &Dispatcher{
		store:   store,
		sender:  sender,
		nowFunc: time.Now,
	}
}

// Flush attempts delivery of every pending event, newly decided and
// previously failed alike. One event's failure never blocks the rest.
// It returns the number of confirmed deliveries.
func (d *Dispatcher) Flush(ctx context.Context) (int, error) {
	pending, err := d.store.PendingNotifications()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	delivered := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if err := d.sender.SendPriceDrop(p.Event.OwnerID, p); err != nil {
			logger.Warn("Failed to deliver notification %s to owner %d: %v", p.Event.ID, p.Event.OwnerID, err)
			continue
		}
		if err := d.store.MarkDelivered(p.Event.ID, d.nowFunc()); err != nil {
			// The send went out but the flag did not stick; the event stays
			// pending and may be re-sent on the next trigger.
			logger.Error("Delivered notification %s but failed to record it: %v", p.Event.ID, err)
			continue
		}
		delivered++
		logger.Info("Delivered price notification to owner %d: %s at %.2f %s",
			p.Event.OwnerID, p.Item.ASIN, p.Event.Price, p.Event.Currency)
	}
	return delivered, nil
}

// NotifyUnavailable sends the informational "no longer available" notice
// after a permanent pricing failure. Best effort: it is not a price
// notification and carries no delivery guarantee.
func (d *Dispatcher) NotifyUnavailable(item models.WatchlistItem) {
	if err := d.sender.SendItemUnavailable(item.OwnerID, item); err != nil {
		logger.Warn("Failed to notify owner %d about unavailable item %s: %v", item.OwnerID, item.ASIN, err)
	}
}
