// Package storage provides SQLite-backed persistence for watchlist items,
// price observations, notification events, and daily-summary runs.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/pricewatch/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "pricewatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS watchlist_items (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id             INTEGER NOT NULL,
			asin                 TEXT NOT NULL,
			title                TEXT NOT NULL DEFAULT '',
			url                  TEXT NOT NULL DEFAULT '',
			initial_price        REAL NOT NULL,
			target_price         REAL,
			current_price        REAL NOT NULL,
			currency             TEXT NOT NULL DEFAULT 'EUR',
			last_notified_price  REAL,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			status               TEXT NOT NULL DEFAULT 'ACTIVE',
			last_checked_at      INTEGER NOT NULL DEFAULT 0,
			created_at           INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_items_owner_asin
			ON watchlist_items(owner_id, asin) WHERE status != 'REMOVED'`,
		`CREATE TABLE IF NOT EXISTS price_observations (
			id          TEXT PRIMARY KEY,
			item_id     INTEGER NOT NULL REFERENCES watchlist_items(id) ON DELETE CASCADE,
			price       REAL NOT NULL,
			currency    TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			observed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_item
			ON price_observations(item_id, observed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS notification_events (
			id             TEXT PRIMARY KEY,
			item_id        INTEGER NOT NULL REFERENCES watchlist_items(id) ON DELETE CASCADE,
			owner_id       INTEGER NOT NULL,
			price          REAL NOT NULL,
			previous_price REAL NOT NULL,
			currency       TEXT NOT NULL,
			decided_at     INTEGER NOT NULL,
			delivered      INTEGER NOT NULL DEFAULT 0,
			delivered_at   INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_pending ON notification_events(delivered)`,
		`CREATE TABLE IF NOT EXISTS summary_runs (
			owner_id INTEGER PRIMARY KEY,
			fired_on TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddItem inserts a new watchlist item and fills in its generated ID.
// Inserting a duplicate (owner, asin) among non-removed items fails on
// the partial unique index.
func (s *Storage) AddItem(item *models.WatchlistItem) error {
	if item.Status == "" {
		item.Status = models.StatusActive
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO watchlist_items
			(owner_id, asin, title, url, initial_price, target_price, current_price,
			 currency, last_notified_price, consecutive_failures, status,
			 last_checked_at, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		item.OwnerID, item.ASIN, item.Title, item.URL,
		item.InitialPrice, nullFloat(item.TargetPrice), item.CurrentPrice,
		item.Currency, nullFloat(item.LastNotifiedPrice), item.ConsecutiveFailures,
		string(item.Status), nanosOrZero(item.LastCheckedAt), item.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read item ID: %w", err)
	}
	item.ID = id
	return nil
}

// GetItem returns the non-removed item for (ownerID, asin).
func (s *Storage) GetItem(ownerID int64, asin string) (*models.WatchlistItem, error) {
	row := s.db.QueryRow(`SELECT `+itemCols+` FROM watchlist_items
		WHERE owner_id = ? AND asin = ? AND status != 'REMOVED'`, ownerID, asin)
	item, err := scanItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item not found: owner %d asin %s", ownerID, asin)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// GetItemByID returns one item regardless of status.
func (s *Storage) GetItemByID(id int64) (*models.WatchlistItem, error) {
	row := s.db.QueryRow(`SELECT `+itemCols+` FROM watchlist_items WHERE id = ?`, id)
	item, err := scanItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// CheckableItems returns all items a check cycle must visit: active ones
// plus stale ones, which are retried on schedule but never alerted while
// stale.
func (s *Storage) CheckableItems() ([]*models.WatchlistItem, error) {
	return s.queryItems(`SELECT ` + itemCols + ` FROM watchlist_items
		WHERE status IN ('ACTIVE','STALE') ORDER BY id`)
}

// ActiveItemsByOwner returns one owner's active items for the daily summary.
func (s *Storage) ActiveItemsByOwner(ownerID int64) ([]*models.WatchlistItem, error) {
	return s.queryItems(`SELECT `+itemCols+` FROM watchlist_items
		WHERE owner_id = ? AND status = 'ACTIVE' ORDER BY id`, ownerID)
}

// OwnersWithActiveItems returns the distinct owners that have at least one
// active item.
func (s *Storage) OwnersWithActiveItems() ([]int64, error) {
	rows, err := s.db.Query(`SELECT DISTINCT owner_id FROM watchlist_items
		WHERE status = 'ACTIVE' ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query owners: %w", err)
	}
	defer rows.Close()
	var owners []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

// RemoveItem soft-deletes an item; it is excluded from all future cycles
// but retained for audit.
func (s *Storage) RemoveItem(ownerID int64, asin string) error {
	res, err := s.db.Exec(`UPDATE watchlist_items SET status = 'REMOVED'
		WHERE owner_id = ? AND asin = ? AND status != 'REMOVED'`, ownerID, asin)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("item not found: owner %d asin %s", ownerID, asin)
	}
	return nil
}

// ApplyCheck commits the outcome of one item check as a single atomic
// step: the observation row, the item's updated fields, and (on a drop
// decision) the undelivered notification event. Either everything for the
// item lands or nothing does.
func (s *Storage) ApplyCheck(item *models.WatchlistItem, obs models.PriceObservation, event *models.NotificationEvent) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	if _, err := tx.Exec(`
		INSERT INTO price_observations (id, item_id, price, currency, outcome, observed_at)
		VALUES (?,?,?,?,?,?)`,
		obs.ID, item.ID, obs.Price, obs.Currency, string(obs.Outcome), obs.ObservedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert observation: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE watchlist_items SET
			title=?, url=?, current_price=?, currency=?,
			consecutive_failures=?, status=?, last_checked_at=?
		WHERE id=?`,
		item.Title, item.URL, item.CurrentPrice, item.Currency,
		item.ConsecutiveFailures, string(item.Status), item.LastCheckedAt.UnixNano(),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("item not found: %d", item.ID)
	}

	if event != nil {
		if event.ID == "" {
			event.ID = uuid.New().String()
		}
		if _, err := tx.Exec(`
			INSERT INTO notification_events
				(id, item_id, owner_id, price, previous_price, currency, decided_at, delivered)
			VALUES (?,?,?,?,?,?,?,0)`,
			event.ID, event.ItemID, event.OwnerID, event.Price, event.PreviousPrice,
			event.Currency, event.DecidedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to insert notification event: %w", err)
		}
	}

	return tx.Commit()
}

// PendingNotifications returns all undelivered events joined with their
// items, oldest decision first. Events whose item was removed are excluded;
// removal ends the delivery obligation.
func (s *Storage) PendingNotifications() ([]models.PendingNotification, error) {
	rows, err := s.db.Query(`
		SELECT e.id, e.item_id, e.owner_id, e.price, e.previous_price, e.currency, e.decided_at,
		       ` + prefixedItemCols("i") + `
		FROM notification_events e
		JOIN watchlist_items i ON i.id = e.item_id
		WHERE e.delivered = 0 AND i.status != 'REMOVED'
		ORDER BY e.decided_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending notifications: %w", err)
	}
	defer rows.Close()

	var pending []models.PendingNotification
	for rows.Next() {
		var p models.PendingNotification
		var decidedAtNano int64
		dest := []any{
			&p.Event.ID, &p.Event.ItemID, &p.Event.OwnerID, &p.Event.Price,
			&p.Event.PreviousPrice, &p.Event.Currency, &decidedAtNano,
		}
		item, scanDest := itemScanDest()
		dest = append(dest, scanDest...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan pending notification: %w", err)
		}
		p.Event.DecidedAt = time.Unix(0, decidedAtNano)
		p.Item = *item.finish()
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// MarkDelivered records a confirmed delivery: the event is flagged
// delivered and the item's last notified price is advanced (only ever
// downward) in the same transaction. This is the single point where
// last_notified_price moves.
func (s *Storage) MarkDelivered(eventID string, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`UPDATE notification_events
		SET delivered = 1, delivered_at = ? WHERE id = ? AND delivered = 0`,
		at.UnixNano(), eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event delivered: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("undelivered event not found: %s", eventID)
	}

	if _, err := tx.Exec(`
		UPDATE watchlist_items SET last_notified_price = (
			SELECT e.price FROM notification_events e WHERE e.id = ?
		)
		WHERE id = (SELECT e.item_id FROM notification_events e WHERE e.id = ?)
		AND (last_notified_price IS NULL
			OR last_notified_price > (SELECT e.price FROM notification_events e WHERE e.id = ?))`,
		eventID, eventID, eventID,
	); err != nil {
		return fmt.Errorf("failed to advance last notified price: %w", err)
	}

	return tx.Commit()
}

// ObservationHistory returns the newest limit observations for an item.
func (s *Storage) ObservationHistory(itemID int64, limit int) ([]models.PriceObservation, error) {
	rows, err := s.db.Query(`
		SELECT id, item_id, price, currency, outcome, observed_at
		FROM price_observations WHERE item_id = ?
		ORDER BY observed_at DESC LIMIT ?`, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var obs []models.PriceObservation
	for rows.Next() {
		var o models.PriceObservation
		var outcome string
		var observedAtNano int64
		if err := rows.Scan(&o.ID, &o.ItemID, &o.Price, &o.Currency, &outcome, &observedAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.Outcome = models.Outcome(outcome)
		o.ObservedAt = time.Unix(0, observedAtNano)
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

// LastSummaryDate returns the calendar date ("2006-01-02") of the owner's
// last daily summary, or "" when none was ever sent.
func (s *Storage) LastSummaryDate(ownerID int64) (string, error) {
	var date string
	err := s.db.QueryRow(`SELECT fired_on FROM summary_runs WHERE owner_id = ?`, ownerID).Scan(&date)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read summary date: %w", err)
	}
	return date, nil
}

// RecordSummaryRun persists the owner's last summary fire date.
func (s *Storage) RecordSummaryRun(ownerID int64, date string) error {
	if _, err := s.db.Exec(`
		INSERT INTO summary_runs (owner_id, fired_on) VALUES (?,?)
		ON CONFLICT(owner_id) DO UPDATE SET fired_on = excluded.fired_on`,
		ownerID, date,
	); err != nil {
		return fmt.Errorf("failed to record summary run: %w", err)
	}
	return nil
}

func (s *Storage) queryItems(query string, args ...any) ([]*models.WatchlistItem, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()
	var items []*models.WatchlistItem
	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if items == nil {
		items = []*models.WatchlistItem{}
	}
	return items, rows.Err()
}

const itemCols = `id, owner_id, asin, title, url, initial_price, target_price,
	current_price, currency, last_notified_price, consecutive_failures, status,
	last_checked_at, created_at`

func prefixedItemCols(alias string) string {
	return alias + `.id, ` + alias + `.owner_id, ` + alias + `.asin, ` + alias + `.title, ` +
		alias + `.url, ` + alias + `.initial_price, ` + alias + `.target_price, ` +
		alias + `.current_price, ` + alias + `.currency, ` + alias + `.last_notified_price, ` +
		alias + `.consecutive_failures, ` + alias + `.status, ` + alias + `.last_checked_at, ` +
		alias + `.created_at`
}

// itemScan carries the intermediate scan targets for one item row.
type itemScan struct {
	item              models.WatchlistItem
	status            string
	targetPrice       sql.NullFloat64
	lastNotifiedPrice sql.NullFloat64
	lastCheckedAtNano int64
	createdAtNano     int64
}

func itemScanDest() (*itemScan, []any) {
	var is itemScan
	return &is, []any{
		&is.item.ID, &is.item.OwnerID, &is.item.ASIN, &is.item.Title, &is.item.URL,
		&is.item.InitialPrice, &is.targetPrice, &is.item.CurrentPrice, &is.item.Currency,
		&is.lastNotifiedPrice, &is.item.ConsecutiveFailures, &is.status,
		&is.lastCheckedAtNano, &is.createdAtNano,
	}
}

func (is *itemScan) finish() *models.WatchlistItem {
	is.item.Status = models.Status(is.status)
	if is.targetPrice.Valid {
		v := is.targetPrice.Float64
		is.item.TargetPrice = &v
	}
	if is.lastNotifiedPrice.Valid {
		v := is.lastNotifiedPrice.Float64
		is.item.LastNotifiedPrice = &v
	}
	is.item.LastCheckedAt = time.Unix(0, is.lastCheckedAtNano)
	is.item.CreatedAt = time.Unix(0, is.createdAtNano)
	return &is.item
}

func scanItem(scan func(...any) error) (*models.WatchlistItem, error) {
	is, dest := itemScanDest()
	if err := scan(dest...); err != nil {
		return nil, err
	}
	return is.finish(), nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// nanosOrZero avoids storing the overflowed UnixNano of the zero time for
// never-checked items.
func nanosOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
