/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists the credits ledger, the order projection and incentive claim
  records. The same schema ports to PostgreSQL with minor dialect changes.

APPEND-MOSTLY ENFORCEMENT:
  - No DELETE on credits (Reset is a dev/demo helper only)
  - The only UPDATE touches is_voided, voided_at, voided_reason

KEY TABLES:
  credits:         Ledger of grants (credits > 0) and debits (credits < 0)
  orders:          Order projection used to label subscription rows
  user_incentives: One row per claimed reward

INDEXES:
  - idx_credits_trans_no:          Idempotency on trans_no
  - idx_credits_grant_order_no:    One grant per order number
  - idx_credits_user_window:       Balance and FEFO scans (hot path)
  - idx_credits_generation:        Void/restore lookups
  - unique_user_incentive_daily:   One reward per (user, type, day)

TIME COLUMNS:
  Stored as TEXT in a fixed-width UTC layout so that string comparison in
  SQL matches chronological order.

CONCURRENCY:
  A sync.RWMutex serializes writers and WithTx. The pool is limited to one
  connection so ":memory:" databases are shared across calls and a WithTx
  callback sees its own writes.

USAGE:
  store, err := sqlite.New("./data/credits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := credits.New(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/credit-ledger/ledger"
)

// timeLayout sorts lexicographically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

var _ ledger.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Credits ledger (append-mostly)
	CREATE TABLE IF NOT EXISTS credits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trans_no TEXT NOT NULL,
		created_at TEXT NOT NULL,
		user_uuid TEXT NOT NULL,
		trans_type TEXT NOT NULL,
		credits INTEGER NOT NULL CHECK (credits <> 0),
		order_no TEXT NOT NULL DEFAULT '',
		expired_at TEXT,
		actived_at TEXT,
		generation_uuid TEXT,
		is_voided INTEGER NOT NULL DEFAULT 0,
		voided_at TEXT,
		voided_reason TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_trans_no
		ON credits(trans_no);

	-- A paid order is credited exactly once. Debits may share order numbers.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_grant_order_no
		ON credits(order_no)
		WHERE credits > 0 AND order_no <> '';

	-- Balance and FEFO scans (hot path)
	CREATE INDEX IF NOT EXISTS idx_credits_user_window
		ON credits(user_uuid, is_voided, expired_at);

	CREATE INDEX IF NOT EXISTS idx_credits_user_created
		ON credits(user_uuid, created_at DESC);

	CREATE INDEX IF NOT EXISTS idx_credits_generation
		ON credits(generation_uuid) WHERE generation_uuid IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_credits_voided_at
		ON credits(voided_at) WHERE voided_at IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_credits_order_no
		ON credits(order_no);

	-- Orders the ledger issued credits for
	CREATE TABLE IF NOT EXISTS orders (
		order_no TEXT PRIMARY KEY,
		user_uuid TEXT NOT NULL,
		interval TEXT NOT NULL,
		credits INTEGER NOT NULL,
		paid_at TEXT,
		created_at TEXT NOT NULL
	);

	-- Incentive claims
	CREATE TABLE IF NOT EXISTS user_incentives (
		id TEXT PRIMARY KEY,
		user_uuid TEXT NOT NULL,
		type TEXT NOT NULL,
		reward_amount INTEGER NOT NULL,
		reward_date TEXT NOT NULL,
		streak_count INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one reward per user, type and UTC day
	CREATE UNIQUE INDEX IF NOT EXISTS unique_user_incentive_daily
		ON user_incentives(user_uuid, type, reward_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

func (s *Store) Insert(ctx context.Context, e *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.insert(ctx, e)
}

func (s *Store) Entries(ctx context.Context, userUUID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.entries(ctx, userUUID)
}

func (s *Store) EntryByTransNo(ctx context.Context, transNo string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.entryByTransNo(ctx, transNo)
}

func (s *Store) OrderExists(ctx context.Context, orderNo string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.orderExists(ctx, orderNo)
}

func (s *Store) ActiveGrants(ctx context.Context, userUUID string, at time.Time) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.activeGrants(ctx, userUUID, at)
}

func (s *Store) Balance(ctx context.Context, userUUID string, at time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.balance(ctx, userUUID, at)
}

func (s *Store) DebitsByGeneration(ctx context.Context, userUUID, generationUUID string, voided bool) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.debitsByGeneration(ctx, userUUID, generationUUID, voided)
}

func (s *Store) SetVoided(ctx context.Context, id int64, voided bool, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.setVoided(ctx, id, voided, at, reason)
}

func (s *Store) Expiring(ctx context.Context, userUUID string, at, until time.Time) (ledger.ExpiringAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.expiring(ctx, userUUID, at, until)
}

func (s *Store) Summary(ctx context.Context, q ledger.Query, at, expiringUntil time.Time) (ledger.SummaryAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.summary(ctx, q, at, expiringUntil)
}

func (s *Store) Timeline(ctx context.Context, q ledger.Query, at time.Time, limit, offset int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.timeline(ctx, q, at, limit, offset)
}

func (s *Store) GenerationDebits(ctx context.Context, from, to time.Time) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.generationDebits(ctx, from, to)
}

func (s *Store) SaveOrder(ctx context.Context, o ledger.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.saveOrder(ctx, o)
}

func (s *Store) OrderIntervals(ctx context.Context, orderNos []string) (map[string]ledger.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.orderIntervals(ctx, orderNos)
}

func (s *Store) InsertReward(ctx context.Context, r *ledger.RewardRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.insertReward(ctx, r)
}

func (s *Store) RewardOn(ctx context.Context, userUUID string, kind ledger.RewardKind, date string) (*ledger.RewardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.rewardOn(ctx, userUUID, kind, date)
}

func (s *Store) LastReward(ctx context.Context, userUUID string, kind ledger.RewardKind) (*ledger.RewardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.lastReward(ctx, userUUID, kind)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. Every read and
// write made through the Store passed to fn goes through the same sql.Tx.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: queries{db: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	q queries
}

func (ts *txStore) Insert(ctx context.Context, e *ledger.Entry) error {
	return ts.q.insert(ctx, e)
}

func (ts *txStore) Entries(ctx context.Context, userUUID string) ([]ledger.Entry, error) {
	return ts.q.entries(ctx, userUUID)
}

func (ts *txStore) EntryByTransNo(ctx context.Context, transNo string) (*ledger.Entry, error) {
	return ts.q.entryByTransNo(ctx, transNo)
}

func (ts *txStore) OrderExists(ctx context.Context, orderNo string) (bool, error) {
	return ts.q.orderExists(ctx, orderNo)
}

func (ts *txStore) ActiveGrants(ctx context.Context, userUUID string, at time.Time) ([]ledger.Entry, error) {
	return ts.q.activeGrants(ctx, userUUID, at)
}

func (ts *txStore) Balance(ctx context.Context, userUUID string, at time.Time) (int64, error) {
	return ts.q.balance(ctx, userUUID, at)
}

func (ts *txStore) DebitsByGeneration(ctx context.Context, userUUID, generationUUID string, voided bool) ([]ledger.Entry, error) {
	return ts.q.debitsByGeneration(ctx, userUUID, generationUUID, voided)
}

func (ts *txStore) SetVoided(ctx context.Context, id int64, voided bool, at time.Time, reason string) error {
	return ts.q.setVoided(ctx, id, voided, at, reason)
}

func (ts *txStore) Expiring(ctx context.Context, userUUID string, at, until time.Time) (ledger.ExpiringAggregate, error) {
	return ts.q.expiring(ctx, userUUID, at, until)
}

func (ts *txStore) Summary(ctx context.Context, q ledger.Query, at, expiringUntil time.Time) (ledger.SummaryAggregate, error) {
	return ts.q.summary(ctx, q, at, expiringUntil)
}

func (ts *txStore) Timeline(ctx context.Context, q ledger.Query, at time.Time, limit, offset int) ([]ledger.Entry, error) {
	return ts.q.timeline(ctx, q, at, limit, offset)
}

func (ts *txStore) GenerationDebits(ctx context.Context, from, to time.Time) ([]ledger.Entry, error) {
	return ts.q.generationDebits(ctx, from, to)
}

func (ts *txStore) SaveOrder(ctx context.Context, o ledger.OrderRecord) error {
	return ts.q.saveOrder(ctx, o)
}

func (ts *txStore) OrderIntervals(ctx context.Context, orderNos []string) (map[string]ledger.Interval, error) {
	return ts.q.orderIntervals(ctx, orderNos)
}

func (ts *txStore) InsertReward(ctx context.Context, r *ledger.RewardRecord) error {
	return ts.q.insertReward(ctx, r)
}

func (ts *txStore) RewardOn(ctx context.Context, userUUID string, kind ledger.RewardKind, date string) (*ledger.RewardRecord, error) {
	return ts.q.rewardOn(ctx, userUUID, kind, date)
}

func (ts *txStore) LastReward(ctx context.Context, userUUID string, kind ledger.RewardKind) (*ledger.RewardRecord, error) {
	return ts.q.lastReward(ctx, userUUID, kind)
}

// =============================================================================
// QUERIES (shared by *sql.DB and *sql.Tx)
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db querier
}

const entryColumns = `id, trans_no, created_at, user_uuid, trans_type, credits, order_no,
	expired_at, actived_at, generation_uuid, is_voided, voided_at, voided_reason`

// countedPredicate selects rows that contribute to balance at the bound time.
const countedPredicate = `is_voided = 0 AND (credits < 0 OR (actived_at <= ? AND expired_at > ?))`

func (q queries) insert(ctx context.Context, e *ledger.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO credits
		(trans_no, created_at, user_uuid, trans_type, credits, order_no,
		 expired_at, actived_at, generation_uuid, is_voided, voided_at, voided_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.TransNo,
		formatTime(e.CreatedAt),
		e.UserUUID,
		string(e.TransType),
		e.Credits,
		e.OrderNo,
		nullTime(e.ExpiredAt),
		nullTime(e.ActivatedAt),
		nullString(e.GenerationUUID),
		e.IsVoided,
		nullTimePtr(e.VoidedAt),
		nullString(e.VoidedReason),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to insert credit entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read entry id: %w", err)
	}
	e.ID = id
	return nil
}

func (q queries) entries(ctx context.Context, userUUID string) ([]ledger.Entry, error) {
	return q.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM credits WHERE user_uuid = ? ORDER BY id ASC`,
		userUUID)
}

func (q queries) entryByTransNo(ctx context.Context, transNo string) (*ledger.Entry, error) {
	entries, err := q.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM credits WHERE trans_no = ?`, transNo)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (q queries) orderExists(ctx context.Context, orderNo string) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM credits WHERE order_no = ?", orderNo,
	).Scan(&count)
	return count > 0, err
}

func (q queries) activeGrants(ctx context.Context, userUUID string, at time.Time) ([]ledger.Entry, error) {
	ts := formatTime(at)
	return q.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM credits
		WHERE user_uuid = ? AND is_voided = 0 AND credits > 0
		  AND actived_at <= ? AND expired_at > ?
		ORDER BY expired_at ASC, id ASC
	`, userUUID, ts, ts)
}

func (q queries) balance(ctx context.Context, userUUID string, at time.Time) (int64, error) {
	ts := formatTime(at)
	var sum int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(credits), 0) FROM credits WHERE user_uuid = ? AND `+countedPredicate,
		userUUID, ts, ts,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum balance: %w", err)
	}
	return sum, nil
}

func (q queries) debitsByGeneration(ctx context.Context, userUUID, generationUUID string, voided bool) ([]ledger.Entry, error) {
	return q.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM credits
		WHERE user_uuid = ? AND generation_uuid = ? AND credits < 0 AND is_voided = ?
		ORDER BY id ASC
	`, userUUID, generationUUID, voided)
}

func (q queries) setVoided(ctx context.Context, id int64, voided bool, at time.Time, reason string) error {
	var err error
	if voided {
		_, err = q.db.ExecContext(ctx,
			`UPDATE credits SET is_voided = 1, voided_at = ?, voided_reason = ? WHERE id = ?`,
			formatTime(at), reason, id)
	} else {
		_, err = q.db.ExecContext(ctx,
			`UPDATE credits SET is_voided = 0, voided_at = NULL, voided_reason = NULL WHERE id = ?`,
			id)
	}
	if err != nil {
		return fmt.Errorf("failed to update void state: %w", err)
	}
	return nil
}

func (q queries) expiring(ctx context.Context, userUUID string, at, until time.Time) (ledger.ExpiringAggregate, error) {
	var (
		agg    ledger.ExpiringAggregate
		nextAt sql.NullString
	)
	ts := formatTime(at)
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(credits), 0), MIN(expired_at)
		FROM credits
		WHERE user_uuid = ? AND is_voided = 0 AND credits > 0
		  AND actived_at <= ? AND expired_at > ? AND expired_at < ?
	`, userUUID, ts, ts, formatTime(until)).Scan(&agg.Amount, &nextAt)
	if err != nil {
		return agg, fmt.Errorf("failed to sum expiring credits: %w", err)
	}
	agg.NextAt = parseTimePtr(nextAt)
	return agg, nil
}

func (q queries) summary(ctx context.Context, query ledger.Query, at, expiringUntil time.Time) (ledger.SummaryAggregate, error) {
	var (
		agg        ledger.SummaryAggregate
		nextExpiry sql.NullString
		lastEvent  sql.NullString
	)

	where, args := filterClause(query)
	sqlText := `
		SELECT COALESCE(SUM(credits), 0),
		       COALESCE(SUM(CASE WHEN credits > 0 THEN credits ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN credits < 0 THEN -credits ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN credits > 0 AND expired_at < ? THEN credits ELSE 0 END), 0),
		       MIN(CASE WHEN credits > 0 THEN expired_at END),
		       MAX(created_at)
		FROM credits
		WHERE ` + countedPredicate + ` AND ` + where

	ts := formatTime(at)
	all := append([]any{formatTime(expiringUntil), ts, ts}, args...)
	err := q.db.QueryRowContext(ctx, sqlText, all...).Scan(
		&agg.Balance, &agg.TotalEarned, &agg.TotalUsed, &agg.Expiring, &nextExpiry, &lastEvent,
	)
	if err != nil {
		return agg, fmt.Errorf("failed to summarize credits: %w", err)
	}
	agg.NextExpiringAt = parseTimePtr(nextExpiry)
	agg.LastEventAt = parseTimePtr(lastEvent)
	return agg, nil
}

func (q queries) timeline(ctx context.Context, query ledger.Query, at time.Time, limit, offset int) ([]ledger.Entry, error) {
	if offset < 0 {
		return nil, nil
	}
	where, args := filterClause(query)
	args = append([]any{formatTime(at)}, args...)
	args = append(args, limit, offset)
	return q.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM credits
		WHERE is_voided = 0 AND (actived_at IS NULL OR actived_at <= ?) AND `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, args...)
}

// filterClause renders the user, created_at and direction filters of a query.
func filterClause(query ledger.Query) (string, []any) {
	clauses := []string{"user_uuid = ?"}
	args := []any{query.UserUUID}
	if !query.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(query.Since))
	}
	switch query.Direction {
	case ledger.DirectionIn:
		clauses = append(clauses, "credits > 0")
	case ledger.DirectionOut:
		clauses = append(clauses, "credits < 0")
	}
	return strings.Join(clauses, " AND "), args
}

func (q queries) generationDebits(ctx context.Context, from, to time.Time) ([]ledger.Entry, error) {
	clauses := []string{"credits < 0", "is_voided = 0"}
	var args []any
	if !from.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(from))
	}
	if !to.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, formatTime(to))
	}
	return q.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM credits WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id ASC`,
		args...)
}

func (q queries) queryEntries(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credits: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e              ledger.Entry
		createdAt      string
		transType      string
		expiredAt      sql.NullString
		activatedAt    sql.NullString
		generationUUID sql.NullString
		voidedAt       sql.NullString
		voidedReason   sql.NullString
	)

	err := rows.Scan(
		&e.ID, &e.TransNo, &createdAt, &e.UserUUID, &transType, &e.Credits, &e.OrderNo,
		&expiredAt, &activatedAt, &generationUUID, &e.IsVoided, &voidedAt, &voidedReason,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan credit entry: %w", err)
	}

	e.TransType = ledger.TransType(transType)
	e.CreatedAt = parseTime(createdAt)
	e.ExpiredAt = parseNullTime(expiredAt)
	e.ActivatedAt = parseNullTime(activatedAt)
	e.GenerationUUID = generationUUID.String
	e.VoidedAt = parseTimePtr(voidedAt)
	e.VoidedReason = voidedReason.String
	return e, nil
}

// =============================================================================
// ORDER PROJECTION
// =============================================================================

func (q queries) saveOrder(ctx context.Context, o ledger.OrderRecord) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (order_no, user_uuid, interval, credits, paid_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_no) DO NOTHING
	`, o.OrderNo, o.UserUUID, string(o.Interval), o.Credits, nullTime(o.PaidAt), formatTime(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (q queries) orderIntervals(ctx context.Context, orderNos []string) (map[string]ledger.Interval, error) {
	result := make(map[string]ledger.Interval)
	if len(orderNos) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(orderNos)), ",")
	args := make([]any, len(orderNos))
	for i, no := range orderNos {
		args[i] = no
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT order_no, interval FROM orders WHERE order_no IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var no, interval string
		if err := rows.Scan(&no, &interval); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		result[no] = ledger.Interval(interval)
	}
	return result, rows.Err()
}

// =============================================================================
// INCENTIVE RECORDS
// =============================================================================

func (q queries) insertReward(ctx context.Context, r *ledger.RewardRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var metadata sql.NullString
	if len(r.Metadata) > 0 {
		raw, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode reward metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO user_incentives
		(id, user_uuid, type, reward_amount, reward_date, streak_count, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserUUID, string(r.Kind), r.Amount, r.Date, r.Streak, metadata, formatTime(r.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateReward
		}
		return fmt.Errorf("failed to insert reward: %w", err)
	}
	return nil
}

const rewardColumns = `id, user_uuid, type, reward_amount, reward_date, streak_count, metadata, created_at`

func (q queries) rewardOn(ctx context.Context, userUUID string, kind ledger.RewardKind, date string) (*ledger.RewardRecord, error) {
	return q.queryReward(ctx, `
		SELECT `+rewardColumns+`
		FROM user_incentives
		WHERE user_uuid = ? AND type = ? AND reward_date = ?
	`, userUUID, string(kind), date)
}

func (q queries) lastReward(ctx context.Context, userUUID string, kind ledger.RewardKind) (*ledger.RewardRecord, error) {
	return q.queryReward(ctx, `
		SELECT `+rewardColumns+`
		FROM user_incentives
		WHERE user_uuid = ? AND type = ?
		ORDER BY reward_date DESC, created_at DESC
		LIMIT 1
	`, userUUID, string(kind))
}

func (q queries) queryReward(ctx context.Context, query string, args ...any) (*ledger.RewardRecord, error) {
	var (
		r         ledger.RewardRecord
		kind      string
		metadata  sql.NullString
		createdAt string
	)
	err := q.db.QueryRowContext(ctx, query, args...).Scan(
		&r.ID, &r.UserUUID, &kind, &r.Amount, &r.Date, &r.Streak, &metadata, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reward: %w", err)
	}

	r.Kind = ledger.RewardKind(kind)
	r.CreatedAt = parseTime(createdAt)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode reward metadata: %w", err)
		}
	}
	return &r, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"credits", "orders", "user_incentives"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return nullTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func parseNullTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	return parseTime(ns.String)
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
