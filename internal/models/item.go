// Package models defines the core domain entities: watchlist items,
// price observations, and notification events.
package models

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a watchlist item.
type Status string

const (
	// StatusActive items are checked every cycle and eligible for alerts.
	StatusActive Status = "ACTIVE"
	// StatusStale items have failed repeatedly; still checked, and
	// reactivated by the next successful check.
	StatusStale Status = "STALE"
	// StatusRemoved items are soft-deleted and excluded from all cycles.
	StatusRemoved Status = "REMOVED"
)

// WatchlistItem is one tracked product for one owner. At most one
// non-removed item exists per (OwnerID, ASIN) pair.
type WatchlistItem struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"` // Telegram chat ID
	ASIN    string `json:"asin"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`

	InitialPrice float64  `json:"initial_price"`
	TargetPrice  *float64 `json:"target_price,omitempty"`
	CurrentPrice float64  `json:"current_price"`
	Currency     string   `json:"currency"`

	// LastNotifiedPrice is nil until the first delivered notification and
	// only ever lowered afterwards.
	LastNotifiedPrice   *float64 `json:"last_notified_price,omitempty"`
	ConsecutiveFailures int      `json:"consecutive_failures"`

	Status        Status    `json:"status"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks item field constraints.
func (w *WatchlistItem) Validate() error {
	if w.OwnerID == 0 {
		return errors.New("owner ID must not be zero")
	}
	if w.ASIN == "" {
		return errors.New("ASIN must not be empty")
	}
	if w.InitialPrice < 0 {
		return errors.New("initial price must not be negative")
	}
	if w.TargetPrice != nil && *w.TargetPrice <= 0 {
		return errors.New("target price must be positive when set")
	}
	if w.CurrentPrice < 0 {
		return errors.New("current price must not be negative")
	}
	if w.ConsecutiveFailures < 0 {
		return errors.New("consecutive failures must not be negative")
	}
	switch w.Status {
	case StatusActive, StatusStale, StatusRemoved:
	default:
		return errors.New("unknown item status")
	}
	return nil
}

// Threshold is the price level below which a notification becomes
// eligible: the target price if set, otherwise the initial price.
func (w *WatchlistItem) Threshold() float64 {
	if w.TargetPrice != nil {
		return *w.TargetPrice
	}
	return w.InitialPrice
}

// Outcome records how a single check attempt ended.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeTransient   Outcome = "transient"
	OutcomePermanent   Outcome = "permanent"
)

// PriceObservation is one append-only audit record of a check attempt.
// Price is zero for failed attempts.
type PriceObservation struct {
	ID         string    `json:"id"`
	ItemID     int64     `json:"item_id"`
	Price      float64   `json:"price"`
	Currency   string    `json:"currency"`
	Outcome    Outcome   `json:"outcome"`
	ObservedAt time.Time `json:"observed_at"`
}

// NotificationEvent is a decided price-drop notification. It is created
// with Delivered=false and marked delivered only after the messaging
// collaborator confirms the send; that flag is the durability boundary
// preventing duplicate sends across retries and restarts.
type NotificationEvent struct {
	ID      string `json:"id"`
	ItemID  int64  `json:"item_id"`
	OwnerID int64  `json:"owner_id"`

	Price float64 `json:"price"`
	// PreviousPrice is the price the drop is reported against (the item's
	// current price at decision time), kept for message formatting.
	PreviousPrice float64 `json:"previous_price"`
	Currency      string  `json:"currency"`

	DecidedAt   time.Time  `json:"decided_at"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// PendingNotification joins an undelivered event with its item; the unit
// the dispatcher delivers.
type PendingNotification struct {
	Event NotificationEvent
	Item  WatchlistItem
}
