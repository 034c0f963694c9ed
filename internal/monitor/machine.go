// Package monitor implements the per-item price state machine: given an
// observed price or a classified failure, it decides the item's next state
// and whether a price-drop notification must be created.
package monitor

import (
	"time"

	"github.com/google/uuid"

	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/backoff"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/models"
)

// EvaluateSuccess applies one successful observation to a copy of the item
// and returns the updated item plus at most one notification event.
//
// The decision rule:
//   - with a target price, any price at or below the target qualifies;
//   - without one, only a price strictly below the initial price qualifies;
//   - a qualifying price is notified only when it is strictly lower than
//     the last price a notification was delivered for, so oscillation
//     above a notified low stays silent while every new low alerts again.
//
// LastNotifiedPrice is deliberately not touched here; it advances only
// when the dispatcher confirms delivery.
func EvaluateSuccess(item models.WatchlistItem, quote Quote, now time.Time) (models.WatchlistItem, *models.NotificationEvent) {
	var event *models.NotificationEvent

	qualifies := false
	if item.TargetPrice != nil {
		qualifies = quote.Price <= *item.TargetPrice
	} else {
		qualifies = quote.Price < item.InitialPrice
	}
	isNewLow := item.LastNotifiedPrice == nil || quote.Price < *item.LastNotifiedPrice

	if qualifies && isNewLow {
		event = &models.NotificationEvent{
			ID:            uuid.New().String(),
			ItemID:        item.ID,
			OwnerID:       item.OwnerID,
			Price:         quote.Price,
			PreviousPrice: item.CurrentPrice,
			Currency:      quote.Currency,
			DecidedAt:     now,
		}
	}

	item.CurrentPrice = quote.Price
	if quote.Currency != "" {
		item.Currency = quote.Currency
	}
	if quote.Title != "" && item.Title == "" {
		item.Title = quote.Title
	}
	if quote.URL != "" && item.URL == "" {
		item.URL = quote.URL
	}
	item.LastCheckedAt = now
	item.ConsecutiveFailures = 0
	item.Status = models.StatusActive

	return item, event
}

// Quote carries the fields of a successful price lookup the state machine
// needs. It mirrors the pricing client's result without importing it.
type Quote struct {
	Price    float64
	Currency string
	Title    string
	URL      string
}

// EvaluateFailure applies one exhausted (or permanent) check failure to a
// copy of the item. Permanent failures stale the item immediately; others
// increment the failure counter and stale it at the configured threshold.
func EvaluateFailure(item models.WatchlistItem, kind backoff.Kind, staleThreshold int, now time.Time) models.WatchlistItem {
	item.LastCheckedAt = now
	if kind == backoff.Permanent {
		item.Status = models.StatusStale
		return item
	}
	item.ConsecutiveFailures++
	if item.ConsecutiveFailures >= staleThreshold {
		item.Status = models.StatusStale
	}
	return item
}

// Observation builds the audit record for one check attempt.
func Observation(itemID int64, price float64, currency string, outcome models.Outcome, now time.Time) models.PriceObservation {
	return models.PriceObservation{
		ID:         uuid.New().String(),
		ItemID:     itemID,
		Price:      price,
		Currency:   currency,
		Outcome:    outcome,
		ObservedAt: now,
	}
}
