/*
store.go - Persistence contract for the credits ledger

PURPOSE:
  Defines the interface between the engines and the database. The store
  has no business logic: it inserts rows, flips void flags and answers
  filtered range and aggregate queries.

KEY INTERFACES:
  Store:   Ledger, order projection and reward-record persistence
  TxStore: Store plus WithTx for atomic multi-step operations

APPEND-MOSTLY CONTRACT:
  - Insert(): The only way an entry comes into existence
  - SetVoided(): The only mutation, limited to the reversal audit fields
  - NO Delete() on entries. Ever.

IDEMPOTENCY:
  Insert() rejects a duplicate trans_no, and a duplicate order_no on a
  grant, with ErrDuplicateTransaction. InsertReward() rejects a second
  (user, kind, date) with ErrDuplicateReward.

ATOMICITY:
  WithTx() runs fn against a transaction-bound Store. Returning an error
  rolls everything back. Implementations serialize WithTx calls, which is
  what makes the balance check and debit insert race-free.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - ledger/store/memory.go: In-memory for tests and dev mode

SEE ALSO:
  - credits/engine.go: Uses TxStore
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interface for ledger persistence (append-mostly)
// =============================================================================

type Store interface {
	// Insert persists a new entry and sets its ID and CreatedAt when unset.
	// Returns ErrDuplicateTransaction if trans_no already exists.
	Insert(ctx context.Context, e *Entry) error

	// Entries returns every entry of a user, voided included, oldest first.
	Entries(ctx context.Context, userUUID string) ([]Entry, error)

	// EntryByTransNo returns nil, nil when no entry matches.
	EntryByTransNo(ctx context.Context, transNo string) (*Entry, error)

	// OrderExists reports whether any entry references orderNo.
	OrderExists(ctx context.Context, orderNo string) (bool, error)

	// ActiveGrants returns unvoided positive entries with
	// ActivatedAt <= at < ExpiredAt, earliest expiry first.
	ActiveGrants(ctx context.Context, userUUID string, at time.Time) ([]Entry, error)

	// Balance sums unvoided debits and active grants at the given time.
	// The raw sum is returned; clamping is the caller's concern.
	Balance(ctx context.Context, userUUID string, at time.Time) (int64, error)

	// DebitsByGeneration returns debits for a job in the given void state.
	DebitsByGeneration(ctx context.Context, userUUID, generationUUID string, voided bool) ([]Entry, error)

	// SetVoided flips the void state of one entry. When voided is false the
	// audit fields are cleared and at/reason are ignored.
	SetVoided(ctx context.Context, id int64, voided bool, at time.Time, reason string) error

	// Expiring sums grants active at `at` whose expiry is before `until`.
	Expiring(ctx context.Context, userUUID string, at, until time.Time) (ExpiringAggregate, error)

	// Summary aggregates counted entries matching q.
	Summary(ctx context.Context, q Query, at, expiringUntil time.Time) (SummaryAggregate, error)

	// Timeline returns unvoided, already-activated entries matching q,
	// newest first.
	Timeline(ctx context.Context, q Query, at time.Time, limit, offset int) ([]Entry, error)

	// GenerationDebits returns unvoided debits created in [from, to).
	// A zero bound is open.
	GenerationDebits(ctx context.Context, from, to time.Time) ([]Entry, error)

	// SaveOrder records an order projection. Existing rows are kept.
	SaveOrder(ctx context.Context, o OrderRecord) error

	// OrderIntervals maps known order numbers to their interval.
	OrderIntervals(ctx context.Context, orderNos []string) (map[string]Interval, error)

	// InsertReward persists a claim record. Returns ErrDuplicateReward when
	// (user, kind, date) already exists.
	InsertReward(ctx context.Context, r *RewardRecord) error

	// RewardOn returns nil, nil when the user has no record for that day.
	RewardOn(ctx context.Context, userUUID string, kind RewardKind, date string) (*RewardRecord, error)

	// LastReward returns the most recent record, or nil, nil.
	LastReward(ctx context.Context, userUUID string, kind RewardKind) (*RewardRecord, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
