package scheduler

import (
	"context"
	"time"

	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/logger"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/models"
)

// SummaryStore is the persistence surface the daily summary needs.
type SummaryStore interface {
	OwnersWithActiveItems() ([]int64, error)
	ActiveItemsByOwner(ownerID int64) ([]*models.WatchlistItem, error)
	LastSummaryDate(ownerID int64) (string, error)
	RecordSummaryRun(ownerID int64, date string) error
}

// SummarySender delivers the aggregated watchlist digest for one owner.
type SummarySender interface {
	SendDailySummary(ownerID int64, items []*models.WatchlistItem) error
}

// Summarizer is the fallback path used when live price querying is
// unavailable: once per configured local time of day it sends each owner
// one digest of their active items at last known prices. The last fire
// date is persisted per owner, so a restart near the fire time cannot
// produce a second summary for the same calendar day.
type Summarizer struct {
	store   SummaryStore
	sender  SummarySender
	flusher NotificationFlusher      // optional; drains events a live-mode run left undelivered
	linkFor func(asin string) string // optional; storefront link for items without a URL
	hour    int
	minute  int

	nowFunc func() time.Time
}

// NewSummarizer creates a daily summary scheduler firing at hour:minute
// local time. flusher and linkFor may be nil.
func NewSummarizer(store SummaryStore, sender SummarySender, flusher NotificationFlusher, linkFor func(asin string) string, hour, minute int) *Summarizer {
	return &Summarizer{
		store:   store,
		sender:  sender,
		flusher: flusher,
		linkFor: linkFor,
		hour:    hour,
		minute:  minute,
		nowFunc: time.Now,
	}
}

// Run fires the summary at each configured time of day until ctx is
// cancelled. Pending notification events are flushed at startup so a
// switch from live mode cannot strand a decided-but-undelivered event.
func (s *Summarizer) Run(ctx context.Context) {
	logger.Info("Daily summary scheduler started (fire time: %02d:%02d)", s.hour, s.minute)
	s.flush(ctx)
	for {
		now := s.nowFunc()
		next := s.nextFireTime(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("Daily summary scheduler stopped")
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

// nextFireTime returns the next occurrence of hour:minute strictly after
// now, in now's location.
func (s *Summarizer) nextFireTime(now time.Time) time.Time {
	fire := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	if !fire.After(now) {
		fire = fire.AddDate(0, 0, 1)
	}
	return fire
}

func (s *Summarizer) flush(ctx context.Context) {
	if s.flusher == nil {
		return
	}
	n, err := s.flusher.Flush(ctx)
	if err != nil {
		logger.Error("Failed to flush pending notifications: %v", err)
		return
	}
	if n > 0 {
		logger.Info("Delivered %d notifications left over from live mode", n)
	}
}

// RunOnce sends today's summary to every owner that has active items and
// has not already received one today. One owner's failure never blocks
// the others.
func (s *Summarizer) RunOnce(ctx context.Context) {
	s.flush(ctx)
	date := s.nowFunc().Format("2006-01-02")

	owners, err := s.store.OwnersWithActiveItems()
	if err != nil {
		logger.Error("Failed to load owners for daily summary: %v", err)
		return
	}
	logger.Info("Running daily summary for %d owners", len(owners))

	sent := 0
	for _, ownerID := range owners {
		if ctx.Err() != nil {
			return
		}
		last, err := s.store.LastSummaryDate(ownerID)
		if err != nil {
			logger.Error("Failed to read summary date for owner %d: %v", ownerID, err)
			continue
		}
		if last == date {
			logger.Debug("Owner %d already received today's summary", ownerID)
			continue
		}

		items, err := s.store.ActiveItemsByOwner(ownerID)
		if err != nil {
			logger.Error("Failed to load items for owner %d: %v", ownerID, err)
			continue
		}
		if len(items) == 0 {
			continue
		}
		if s.linkFor != nil {
			for _, item := range items {
				if item.URL == "" {
					item.URL = s.linkFor(item.ASIN)
				}
			}
		}

		if err := s.sender.SendDailySummary(ownerID, items); err != nil {
			logger.Warn("Failed to send daily summary to owner %d: %v", ownerID, err)
			continue
		}
		if err := s.store.RecordSummaryRun(ownerID, date); err != nil {
			logger.Error("Sent summary to owner %d but failed to record it: %v", ownerID, err)
			continue
		}
		sent++
	}
	logger.Info("Daily summary completed: %d sent", sent)
}
