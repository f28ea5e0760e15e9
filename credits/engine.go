/*
Package credits implements the credit ledger engines.

PURPOSE:
  The Engine is the single entry point collaborators use to read balances,
  issue credits, charge generation jobs and reverse those charges. It is
  stateless apart from its configuration: every decision is re-derived from
  the ledger on each call.

ENGINES (one file each):
  balance.go:     Balance, ExpiringSoon, Summary, Timeline (read-only)
  issuance.go:    Grant, GrantNewUser, IssueForOrder
  consumption.go: Debit with FEFO batch attribution
  reversal.go:    Void, Restore
  cost.go:        ConsumptionCost for admin reporting

ATOMICITY:
  Multi-step operations run inside ledger.TxStore.WithTx. Both stores
  serialize transactions, so a balance check and the debit it guards can
  never interleave with another debit.

  Callers that need to compose several engine calls atomically (the
  incentive scheduler inserting a claim record and granting its reward)
  use Engine.WithTx, which hands them an Engine bound to one transaction.

USAGE:
  store, _ := sqlite.New("./data/credits.db")
  engine := credits.New(store, credits.WithLogger(log))

  entries, err := engine.IssueForOrder(ctx, credits.Order{
      OrderNo:  "ord_123",
      UserUUID: "user-1",
      Interval: ledger.IntervalYear,
      Credits:  1200,
  })

SEE ALSO:
  - ledger/store.go: Persistence contract
  - incentive/scheduler.go: Daily rewards built on Engine.WithTx
*/
package credits

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the tunable constants of the engines.
type Config struct {
	NewUserBonus     int64         // credits granted on sign-up
	NewUserValidity  int           // months until the sign-up grant expires
	MonthlyValidity  time.Duration // lifetime of a monthly subscription grant
	OneTimeValidity  int           // years until a one-time purchase expires
	ExpiringHorizon  time.Duration // default look-ahead for expiring credits
	TimelineDefault  int
	TimelineMax      int
	ImageCreditPrice decimal.Decimal // USD per image credit
	VideoCreditPrice decimal.Decimal // USD per video credit
	VoidReason       string          // default reason for Void
}

func DefaultConfig() Config {
	return Config{
		NewUserBonus:     100,
		NewUserValidity:  1,
		MonthlyValidity:  30 * 24 * time.Hour,
		OneTimeValidity:  30,
		ExpiringHorizon:  7 * 24 * time.Hour,
		TimelineDefault:  50,
		TimelineMax:      5000,
		ImageCreditPrice: decimal.RequireFromString("0.0005"),
		VideoCreditPrice: decimal.RequireFromString("0.001"),
		VoidReason:       "Generation failed",
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store ledger.Store
	txs   ledger.TxStore // nil when the engine is bound to a transaction
	clock ledger.Clock
	ids   *ledger.TransNoGenerator
	log   zerolog.Logger
	cfg   Config
}

type Option func(*Engine)

func WithClock(c ledger.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l.With().Str("component", "credits").Logger() }
}

func WithTransNoGenerator(g *ledger.TransNoGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// New creates an Engine over a transactional store.
func New(store ledger.TxStore, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		txs:   store,
		clock: ledger.SystemClock{},
		log:   zerolog.Nop(),
		cfg:   DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ids == nil {
		// Node 1 is always in range.
		e.ids, _ = ledger.NewTransNoGenerator(1)
	}
	return e
}

// Clock returns the engine's time source.
func (e *Engine) Clock() ledger.Clock { return e.clock }

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// WithTx runs fn with an Engine bound to a single store transaction. If fn
// returns an error, every write made through the bound Engine is rolled
// back. Nested calls reuse the outer transaction.
func (e *Engine) WithTx(ctx context.Context, fn func(tx *Engine) error) error {
	if e.txs == nil {
		return fn(e)
	}
	return e.txs.WithTx(ctx, func(s ledger.Store) error {
		bound := *e
		bound.store = s
		bound.txs = nil
		return fn(&bound)
	})
}

// Store exposes the (possibly transaction-bound) store to callers composing
// engine calls with their own writes.
func (e *Engine) Store() ledger.Store { return e.store }

func (e *Engine) atomic(ctx context.Context, fn func(s ledger.Store) error) error {
	if e.txs == nil {
		return fn(e.store)
	}
	return e.txs.WithTx(ctx, fn)
}

func (e *Engine) transNo(given string) string {
	if given != "" {
		return given
	}
	return e.ids.Next()
}
