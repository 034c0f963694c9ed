package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/amazon"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/backoff"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/dispatch"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/models"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/ratelimit"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/storage"
)

// fakeQuerier serves scripted prices (or errors) per ASIN and counts calls.
type fakeQuerier struct {
	mu      sync.Mutex
	prices  map[string]float64
	errs    map[string]error
	calls   int
	blockCh chan struct{} // when set, Query blocks until the channel closes
}

func (f *fakeQuerier) Query(ctx context.Context, asin string) (amazon.Quote, error) {
	f.mu.Lock()
	f.calls++
	block := f.blockCh
	err := f.errs[asin]
	price := f.prices[asin]
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return amazon.Quote{}, ctx.Err()
		}
	}
	if err != nil {
		return amazon.Quote{}, err
	}
	return amazon.Quote{ASIN: asin, Price: price, Currency: "EUR"}, nil
}

func (f *fakeQuerier) setPrice(asin string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asin] = price
	delete(f.errs, asin)
}

func (f *fakeQuerier) setErr(asin string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[asin] = err
}

func (f *fakeQuerier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingSender collects delivered notifications.
type recordingSender struct {
	mu          sync.Mutex
	drops       []float64
	unavailable []string
}

func (r *recordingSender) SendPriceDrop(_ int64, n models.PendingNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops = append(r.drops, n.Event.Price)
	return nil
}

func (r *recordingSender) SendItemUnavailable(_ int64, item models.WatchlistItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = append(r.unavailable, item.ASIN)
	return nil
}

func (r *recordingSender) deliveredPrices() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.drops...)
}

type fixture struct {
	store   *storage.Storage
	querier *fakeQuerier
	sender  *recordingSender
	coord   *Coordinator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	querier := &fakeQuerier{prices: map[string]float64{}, errs: map[string]error{}}
	sender := &recordingSender{}
	dispatcher := dispatch.New(store, sender)

	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = time.Second
	}
	if cfg.StaleThreshold == 0 {
		cfg.StaleThreshold = 5
	}
	limiter := ratelimit.New(1000, 1000, 1)
	policy := backoff.NewPolicy(time.Millisecond, 5*time.Millisecond, 3)

	coord := NewCoordinator(cfg, store, querier, limiter, policy, dispatcher)
	return &fixture{store: store, querier: querier, sender: sender, coord: coord}
}

func (f *fixture) addItem(t *testing.T, asin string, initial float64, target *float64) *models.WatchlistItem {
	t.Helper()
	item := &models.WatchlistItem{
		OwnerID:      111,
		ASIN:         asin,
		InitialPrice: initial,
		TargetPrice:  target,
		CurrentPrice: initial,
		Currency:     "EUR",
		Status:       models.StatusActive,
		CreatedAt:    time.Now(),
	}
	if err := f.store.AddItem(item); err != nil {
		t.Fatal(err)
	}
	return item
}

func TestRunCycle_DropSequenceNotifiesEachNewLow(t *testing.T) {
	f := newFixture(t, Config{})
	item := f.addItem(t, "B000000001", 100, nil)
	ctx := context.Background()

	for _, price := range []float64{95, 95, 90, 95, 80} {
		f.querier.setPrice("B000000001", price)
		f.coord.RunCycle(ctx)
	}

	want := []float64{95, 90, 80}
	got := f.sender.deliveredPrices()
	if len(got) != len(want) {
		t.Fatalf("delivered prices %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivered prices %v, want %v", got, want)
		}
	}

	final, err := f.store.GetItemByID(item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.LastNotifiedPrice == nil || *final.LastNotifiedPrice != 80 {
		t.Errorf("last notified = %v, want 80", final.LastNotifiedPrice)
	}
	if final.CurrentPrice != 80 {
		t.Errorf("current price = %v, want 80", final.CurrentPrice)
	}
}

func TestRunCycle_IdempotentOnUnchangedPrice(t *testing.T) {
	f := newFixture(t, Config{})
	f.addItem(t, "B000000001", 100, nil)
	f.querier.setPrice("B000000001", 95)
	ctx := context.Background()

	f.coord.RunCycle(ctx)
	f.coord.RunCycle(ctx)
	f.coord.RunCycle(ctx)

	if got := f.sender.deliveredPrices(); len(got) != 1 {
		t.Errorf("delivered %v, want exactly one notification at 95", got)
	}
}

func TestRunCycle_TargetPriceInclusiveThenSilent(t *testing.T) {
	f := newFixture(t, Config{})
	target := 80.0
	f.addItem(t, "B000000001", 100, &target)
	ctx := context.Background()

	f.querier.setPrice("B000000001", 80)
	f.coord.RunCycle(ctx)
	f.querier.setPrice("B000000001", 81)
	f.coord.RunCycle(ctx)

	got := f.sender.deliveredPrices()
	if len(got) != 1 || got[0] != 80 {
		t.Errorf("delivered %v, want exactly [80]", got)
	}
}

func TestRunCycle_TransientFailuresStaleThenRecover(t *testing.T) {
	f := newFixture(t, Config{StaleThreshold: 1})
	item := f.addItem(t, "B000000001", 100, nil)
	ctx := context.Background()

	// maxAttempts=3 in-cycle retries all fail, the failure is recorded
	// once, and the threshold of 1 stales the item.
	f.querier.setErr("B000000001", amazon.ErrUnavailable)
	f.coord.RunCycle(ctx)

	got, err := f.store.GetItemByID(item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusStale {
		t.Fatalf("status = %v, want STALE", got.Status)
	}
	if got.ConsecutiveFailures != 1 {
		t.Errorf("failures = %d, want 1 (one exhausted cycle)", got.ConsecutiveFailures)
	}
	if calls := f.querier.callCount(); calls != 3 {
		t.Errorf("query attempts = %d, want maxAttempts of 3", calls)
	}

	// Stale items are still checked; a success reactivates.
	f.querier.setPrice("B000000001", 100)
	f.coord.RunCycle(ctx)
	got, _ = f.store.GetItemByID(item.ID)
	if got.Status != models.StatusActive {
		t.Errorf("status = %v, want ACTIVE after recovery", got.Status)
	}
	if got.ConsecutiveFailures != 0 {
		t.Errorf("failures = %d, want reset to 0", got.ConsecutiveFailures)
	}
}

func TestRunCycle_PermanentFailureStalesAndInformsOwner(t *testing.T) {
	f := newFixture(t, Config{})
	item := f.addItem(t, "B000000001", 100, nil)
	ctx := context.Background()

	f.querier.setErr("B000000001", amazon.ErrItemNotFound)
	f.coord.RunCycle(ctx)

	got, _ := f.store.GetItemByID(item.ID)
	if got.Status != models.StatusStale {
		t.Errorf("status = %v, want STALE", got.Status)
	}
	if calls := f.querier.callCount(); calls != 1 {
		t.Errorf("query attempts = %d, want single attempt for permanent failure", calls)
	}
	if len(f.sender.unavailable) != 1 || f.sender.unavailable[0] != "B000000001" {
		t.Errorf("unavailable notices = %v, want the item's ASIN once", f.sender.unavailable)
	}
	if drops := f.sender.deliveredPrices(); len(drops) != 0 {
		t.Errorf("permanent failure produced price notifications: %v", drops)
	}
}

func TestRunCycle_FailureOnOneItemDoesNotAbortOthers(t *testing.T) {
	f := newFixture(t, Config{})
	f.addItem(t, "B000000001", 100, nil)
	f.addItem(t, "B000000002", 100, nil)
	ctx := context.Background()

	f.querier.setErr("B000000001", amazon.ErrItemNotFound)
	f.querier.setPrice("B000000002", 90)
	f.coord.RunCycle(ctx)

	got := f.sender.deliveredPrices()
	if len(got) != 1 || got[0] != 90 {
		t.Errorf("delivered %v, want the healthy item's notification at 90", got)
	}
}

func TestRunCycle_SecondTickDroppedWhileInFlight(t *testing.T) {
	f := newFixture(t, Config{Concurrency: 1})
	f.addItem(t, "B000000001", 100, nil)
	f.querier.setPrice("B000000001", 95)

	block := make(chan struct{})
	f.querier.blockCh = block

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		f.coord.RunCycle(ctx)
		close(done)
	}()

	// Wait until the first cycle is inside the query.
	deadline := time.After(2 * time.Second)
	for f.querier.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle never reached the querier")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// An overlapping tick must be dropped without any item work.
	f.coord.RunCycle(ctx)
	if calls := f.querier.callCount(); calls != 1 {
		t.Errorf("overlapping cycle issued item checks: %d calls, want 1", calls)
	}

	close(block)
	<-done
	if calls := f.querier.callCount(); calls != 1 {
		t.Errorf("calls after completion = %d, want 1", calls)
	}
}

func TestRunCycle_LimiterTimeoutSkipsWithoutStateChange(t *testing.T) {
	f := newFixture(t, Config{AcquireTimeout: 20 * time.Millisecond})
	item := f.addItem(t, "B000000001", 100, nil)
	f.querier.setPrice("B000000001", 95)

	// Drain the only token so every acquire times out.
	starved := ratelimit.New(0.001, 1, 0.001)
	if err := starved.Acquire(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}
	f.coord.limiter = starved

	f.coord.RunCycle(context.Background())

	if calls := f.querier.callCount(); calls != 0 {
		t.Errorf("skipped item still queried: %d calls", calls)
	}
	got, _ := f.store.GetItemByID(item.ID)
	if got.ConsecutiveFailures != 0 {
		t.Errorf("skip counted as failure: %d", got.ConsecutiveFailures)
	}
	history, _ := f.store.ObservationHistory(item.ID, 10)
	if len(history) != 0 {
		t.Errorf("skip recorded observations: %d", len(history))
	}
}

func TestRunCycle_RateBound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping wall-clock rate bound test in short mode")
	}
	f := newFixture(t, Config{Concurrency: 5})
	for _, asin := range []string{"B01", "B02", "B03", "B04", "B05"} {
		f.addItem(t, asin, 100, nil)
		f.querier.setPrice(asin, 100)
	}
	f.coord.limiter = ratelimit.New(1, 1, 1)

	start := time.Now()
	f.coord.RunCycle(context.Background())
	elapsed := time.Since(start)

	// 5 calls at 1 rps with burst 1: the last four each wait ~1s.
	if elapsed < 4*time.Second {
		t.Errorf("cycle finished in %v; 5 items at 1 rps must take at least 4s", elapsed)
	}
	if calls := f.querier.callCount(); calls != 5 {
		t.Errorf("calls = %d, want 5", calls)
	}
}

func TestRunCycle_CancelledBeforeStartDoesNothing(t *testing.T) {
	f := newFixture(t, Config{})
	f.addItem(t, "B000000001", 100, nil)
	f.querier.setPrice("B000000001", 95)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.coord.RunCycle(ctx)

	if calls := f.querier.callCount(); calls != 0 {
		t.Errorf("cancelled cycle still issued %d checks", calls)
	}
}
