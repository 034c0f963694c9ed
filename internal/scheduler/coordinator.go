// Package scheduler drives the timer-fired check cycles over the
// watchlist and the daily-summary fallback path.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/amazon"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/backoff"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/logger"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/models"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/monitor"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/ratelimit"
)

// ItemStore is the persistence surface a check cycle needs.
type ItemStore interface {
	CheckableItems() ([]*models.WatchlistItem, error)
	ApplyCheck(item *models.WatchlistItem, obs models.PriceObservation, event *models.NotificationEvent) error
}

// PriceQuerier fetches the current price of one product.
type PriceQuerier interface {
	Query(ctx context.Context, asin string) (amazon.Quote, error)
}

// NotificationFlusher drains decided notifications after a cycle.
type NotificationFlusher interface {
	Flush(ctx context.Context) (int, error)
	NotifyUnavailable(item models.WatchlistItem)
}

// Config holds check-cycle behavior configuration.
type Config struct {
	Interval       time.Duration
	Concurrency    int64
	AcquireTimeout time.Duration
	StaleThreshold int
}

// Coordinator runs one full pass over the watchlist per scheduled tick.
// At most one cycle is ever in flight: a tick that fires while the
// previous cycle still runs is dropped, not queued.
type Coordinator struct {
	cfg        Config
	store      ItemStore
	querier    PriceQuerier
	limiter    *ratelimit.Limiter
	policy     *backoff.Policy
	dispatcher NotificationFlusher

	inFlight atomic.Bool
	nowFunc  func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a check-cycle coordinator.
func NewCoordinator(cfg Config, store ItemStore, querier PriceQuerier, limiter *ratelimit.Limiter, policy *backoff.Policy, dispatcher NotificationFlusher) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		store:      store,
		querier:    querier,
		limiter:    limiter,
		policy:     policy,
		dispatcher: dispatcher,
		nowFunc:    time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes an immediate first cycle and then one per interval until
// ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	logger.Info("Check cycle coordinator started (interval: %v, concurrency: %d)",
		c.cfg.Interval, c.cfg.Concurrency)

	c.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Check cycle coordinator stopped")
			return
		case <-ticker.C:
			c.RunCycle(ctx)
		}
	}
}

// RunCycle performs one pass over all checkable items. Overlapping calls
// are dropped with a log line; per-item failures never abort the rest of
// the cycle.
func (c *Coordinator) RunCycle(ctx context.Context) {
	if !c.inFlight.CompareAndSwap(false, true) {
		logger.Warn("Dropping cycle tick: previous cycle still in flight")
		return
	}
	defer c.inFlight.Store(false)

	start := c.nowFunc()
	items, err := c.store.CheckableItems()
	if err != nil {
		logger.Error("Failed to load watchlist for cycle: %v", err)
		return
	}
	if len(items) == 0 {
		logger.Debug("No items to check this cycle")
		return
	}
	logger.Info("Starting check cycle over %d items", len(items))

	sem := semaphore.NewWeighted(c.cfg.Concurrency)
	var wg sync.WaitGroup
	var checked, skipped, failed atomic.Int64

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(item *models.WatchlistItem) {
			defer wg.Done()
			defer sem.Release(1)
			switch c.checkItem(ctx, item) {
			case checkOK:
				checked.Add(1)
			case checkSkipped:
				skipped.Add(1)
			case checkFailed:
				failed.Add(1)
			}
		}(item)
	}
	wg.Wait()

	delivered, err := c.dispatcher.Flush(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Notification flush failed: %v", err)
	}

	logger.Info("Check cycle completed in %v: %d checked, %d skipped, %d failed, %d notifications delivered",
		time.Since(start), checked.Load(), skipped.Load(), failed.Load(), delivered)
}

type checkResult int

const (
	checkOK checkResult = iota
	checkSkipped
	checkFailed
)

// checkItem processes a single item: limiter slot, query with in-cycle
// retries, then one atomic persistence step. A limiter timeout skips the
// item without touching any of its state.
func (c *Coordinator) checkItem(ctx context.Context, item *models.WatchlistItem) checkResult {
	if err := c.limiter.Acquire(ctx, c.cfg.AcquireTimeout); err != nil {
		if errors.Is(err, ratelimit.ErrAcquireTimeout) {
			logger.Debug("Skipping %s for owner %d: no rate slot this cycle", item.ASIN, item.OwnerID)
		}
		return checkSkipped
	}

	quote, kind, ok := c.queryWithRetry(ctx, item.ASIN)
	if ctx.Err() != nil && !ok {
		// Shutdown mid-check: nothing was persisted for this item, it is
		// re-evaluated from durable state next cycle.
		return checkSkipped
	}
	now := c.nowFunc()

	if ok {
		updated, event := monitor.EvaluateSuccess(*item, monitor.Quote{
			Price:    quote.Price,
			Currency: quote.Currency,
			Title:    quote.Title,
			URL:      quote.URL,
		}, now)
		obs := monitor.Observation(item.ID, quote.Price, quote.Currency, models.OutcomeOK, now)
		if err := c.applyWithRetry(&updated, obs, event); err != nil {
			logger.Error("Failed to persist check for %s (owner %d): %v", item.ASIN, item.OwnerID, err)
			return checkFailed
		}
		if event != nil {
			logger.Info("Price drop decided for owner %d: %s %.2f -> %.2f",
				item.OwnerID, item.ASIN, event.PreviousPrice, event.Price)
		}
		return checkOK
	}

	updated := monitor.EvaluateFailure(*item, kind, c.cfg.StaleThreshold, now)
	obs := monitor.Observation(item.ID, 0, item.Currency, outcomeForKind(kind), now)
	if err := c.applyWithRetry(&updated, obs, nil); err != nil {
		logger.Error("Failed to persist failure for %s (owner %d): %v", item.ASIN, item.OwnerID, err)
		return checkFailed
	}
	if updated.Status == models.StatusStale && item.Status != models.StatusStale {
		logger.Warn("Item %s (owner %d) marked stale after %s failure", item.ASIN, item.OwnerID, kind)
		if kind == backoff.Permanent {
			c.dispatcher.NotifyUnavailable(updated)
		}
	}
	return checkFailed
}

// queryWithRetry performs the external price query, retrying rate-limited
// and transient failures within the cycle per the backoff policy. Each
// retry takes a fresh limiter slot so retries count against the global
// rate like any other call.
func (c *Coordinator) queryWithRetry(ctx context.Context, asin string) (amazon.Quote, backoff.Kind, bool) {
	var kind backoff.Kind
	for attempt := 0; ; attempt++ {
		quote, err := c.querier.Query(ctx, asin)
		if err == nil {
			return quote, 0, true
		}
		kind = backoff.Classify(err)
		logger.Debug("Query %s attempt %d failed (%s): %v", asin, attempt+1, kind, err)
		if !kind.Retryable() || c.policy.Exhausted(attempt+1) {
			return amazon.Quote{}, kind, false
		}
		if err := c.sleep(ctx, c.policy.Delay(attempt)); err != nil {
			return amazon.Quote{}, kind, false
		}
		if err := c.limiter.Acquire(ctx, c.cfg.AcquireTimeout); err != nil {
			// Out of rate budget mid-retry; the attempts so far were real
			// failures, so defer to the next cycle as exhausted.
			return amazon.Quote{}, kind, false
		}
	}
}

// applyWithRetry retries the single atomic persistence step once before
// giving the item up for this cycle.
func (c *Coordinator) applyWithRetry(item *models.WatchlistItem, obs models.PriceObservation, event *models.NotificationEvent) error {
	err := c.store.ApplyCheck(item, obs, event)
	if err == nil {
		return nil
	}
	logger.Warn("Retrying persistence for item %d: %v", item.ID, err)
	return c.store.ApplyCheck(item, obs, event)
}

func outcomeForKind(kind backoff.Kind) models.Outcome {
	switch kind {
	case backoff.RateLimited:
		return models.OutcomeRateLimited
	case backoff.Permanent:
		return models.OutcomePermanent
	default:
		return models.OutcomeTransient
	}
}
