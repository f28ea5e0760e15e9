package credits_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/credit-ledger/credits"
	"github.com/warp/credit-ledger/ledger"
	"github.com/warp/credit-ledger/ledger/store"
	"github.com/warp/credit-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var start = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*credits.Engine, *sqlite.Store, *ledger.ManualClock) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := ledger.NewManualClock(start)
	return credits.New(s, credits.WithClock(clock)), s, clock
}

func newMemoryEngine(t *testing.T) (*credits.Engine, *store.TxMemory, *ledger.ManualClock) {
	s := store.NewTxMemory()
	clock := ledger.NewManualClock(start)
	return credits.New(s, credits.WithClock(clock)), s, clock
}

func mustGrant(t *testing.T, e *credits.Engine, user string, amount int64, expires time.Time) *ledger.Entry {
	t.Helper()
	entry, err := e.Grant(context.Background(), credits.GrantRequest{
		UserUUID:  user,
		TransType: ledger.TransSystemAdd,
		Credits:   amount,
		ExpiredAt: expires,
	})
	require.NoError(t, err)
	return entry
}

func balance(t *testing.T, e *credits.Engine, user string) int64 {
	t.Helper()
	b, err := e.Balance(context.Background(), user)
	require.NoError(t, err)
	return b
}

var imageGen = ledger.MustGenerationType(ledger.FeatureImage)

// =============================================================================
// ISSUANCE
// =============================================================================

func TestIssueForOrder_Idempotent(t *testing.T) {
	// GIVEN: A paid order of each interval
	// WHEN: The payment webhook delivers it twice
	// THEN: Balance and entry count match a single delivery

	for _, interval := range []ledger.Interval{ledger.IntervalOneTime, ledger.IntervalMonth, ledger.IntervalYear} {
		t.Run(string(interval), func(t *testing.T) {
			engine, s, _ := newTestEngine(t)
			ctx := context.Background()
			order := credits.Order{OrderNo: "ord-1", UserUUID: "u1", Interval: interval, Credits: 1200, PaidAt: start}

			first, err := engine.IssueForOrder(ctx, order)
			require.NoError(t, err)
			require.NotEmpty(t, first)
			balanceAfterFirst := balance(t, engine, "u1")

			second, err := engine.IssueForOrder(ctx, order)
			require.NoError(t, err)
			assert.Empty(t, second, "replay creates nothing")
			assert.Equal(t, balanceAfterFirst, balance(t, engine, "u1"))

			entries, err := s.Entries(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, entries, len(first))
		})
	}
}

func TestIssueForOrder_OneTimeAndMonthlyWindows(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	oneTime, err := engine.IssueForOrder(ctx, credits.Order{OrderNo: "ot", UserUUID: "u1", Interval: ledger.IntervalOneTime, Credits: 500})
	require.NoError(t, err)
	require.Len(t, oneTime, 1)
	assert.Equal(t, ledger.TransOrderPayOneTime, oneTime[0].TransType)
	assert.True(t, oneTime[0].ExpiredAt.Equal(start.AddDate(30, 0, 0)))

	monthly, err := engine.IssueForOrder(ctx, credits.Order{OrderNo: "mo", UserUUID: "u1", Interval: ledger.IntervalMonth, Credits: 300})
	require.NoError(t, err)
	require.Len(t, monthly, 1)
	assert.Equal(t, ledger.TransOrderPayMonthly, monthly[0].TransType)
	assert.True(t, monthly[0].ExpiredAt.Equal(start.Add(30*24*time.Hour)))

	assert.Equal(t, int64(800), balance(t, engine, "u1"))
}

func TestIssueForOrder_AnnualChain(t *testing.T) {
	// GIVEN: A yearly order of 1200 credits paid on Jan 31 2024
	// WHEN: It is issued
	// THEN: Twelve 100-credit grants tile the year without gaps or overlaps

	engine, _, clock := newTestEngine(t)
	ctx := context.Background()
	paid := time.Date(2024, time.January, 31, 9, 30, 0, 0, time.UTC)
	clock.Set(paid)

	grants, err := engine.IssueForOrder(ctx, credits.Order{
		OrderNo: "yr", UserUUID: "u1", Interval: ledger.IntervalYear, Credits: 1200, PaidAt: paid,
	})
	require.NoError(t, err)
	require.Len(t, grants, 12)

	assert.True(t, grants[0].ActivatedAt.Equal(paid))
	assert.Equal(t, time.Date(2024, time.February, 29, 9, 30, 0, 0, time.UTC), grants[1].ActivatedAt)
	assert.Equal(t, time.Date(2024, time.March, 29, 9, 30, 0, 0, time.UTC), grants[2].ActivatedAt)

	for i, g := range grants {
		assert.Equal(t, int64(100), g.Credits)
		assert.Equal(t, ledger.TransOrderPayYearly, g.TransType)
		assert.Equal(t, ledger.MonthOrderNo("yr", i+1), g.OrderNo)
		if i > 0 {
			assert.True(t, g.ActivatedAt.Equal(grants[i-1].ExpiredAt), "month %d must start where %d ends", i+1, i)
		}
	}

	// Only the current month counts.
	assert.Equal(t, int64(100), balance(t, engine, "u1"))
	clock.Set(grants[1].ActivatedAt)
	assert.Equal(t, int64(100), balance(t, engine, "u1"))
}

func TestIssueForOrder_AnnualAnchorFallback(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	created := start.Add(-time.Hour)

	grants, err := engine.IssueForOrder(context.Background(), credits.Order{
		OrderNo: "yr", UserUUID: "u1", Interval: ledger.IntervalYear, Credits: 1210, CreatedAt: created,
	})
	require.NoError(t, err)
	require.Len(t, grants, 12)
	assert.True(t, grants[0].ActivatedAt.Equal(created))
	assert.Equal(t, int64(100), grants[0].Credits, "credits/12 floors")
}

func TestIssueForOrder_Validation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.IssueForOrder(ctx, credits.Order{OrderNo: "o", UserUUID: "u1", Interval: "weekly", Credits: 10})
	assert.ErrorIs(t, err, ledger.ErrUnknownInterval)

	_, err = engine.IssueForOrder(ctx, credits.Order{OrderNo: "o", UserUUID: "u1", Interval: ledger.IntervalYear, Credits: 11})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = engine.IssueForOrder(ctx, credits.Order{UserUUID: "u1", Interval: ledger.IntervalMonth, Credits: 10})
	assert.ErrorIs(t, err, ledger.ErrInvalidRequest)
}

func TestGrant_MissingExpiration(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Grant(ctx, credits.GrantRequest{UserUUID: "u1", TransType: ledger.TransSystemAdd, Credits: 10})
	assert.ErrorIs(t, err, ledger.ErrMissingExpiration)

	_, err = engine.Grant(ctx, credits.GrantRequest{UserUUID: "u1", Credits: 0, ExpiredAt: start.Add(time.Hour)})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	entries, err := s.Entries(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGrant_ReplayedTransNo(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	req := credits.GrantRequest{UserUUID: "u1", Credits: 10, ExpiredAt: start.Add(time.Hour), TransNo: "fixed"}

	first, err := engine.Grant(ctx, req)
	require.NoError(t, err)
	second, err := engine.Grant(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(10), balance(t, engine, "u1"))
}

func TestDebit_ReplayedTransNo(t *testing.T) {
	// GIVEN: 100 credits and a 10-credit debit under a caller-chosen trans_no
	// WHEN: The same debit is submitted again
	// THEN: The recorded debit comes back and the balance is charged once

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustGrant(t, engine, "u1", 100, start.Add(time.Hour))
	req := credits.DebitRequest{UserUUID: "u1", TransType: imageGen, Credits: 10, TransNo: "debit-1"}

	first, err := engine.Debit(ctx, req)
	require.NoError(t, err)
	second, err := engine.Debit(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "debit-1", second.TransNo)
	assert.Equal(t, int64(90), balance(t, engine, "u1"))
}

func TestDebit_ReplayedTransNoAfterBalanceSpent(t *testing.T) {
	// A replay is answered from the ledger even when the balance could no
	// longer pay for it.
	engine, _, _ := newMemoryEngine(t)
	ctx := context.Background()
	mustGrant(t, engine, "u1", 10, start.Add(time.Hour))
	req := credits.DebitRequest{UserUUID: "u1", TransType: imageGen, Credits: 10, TransNo: "debit-1"}

	first, err := engine.Debit(ctx, req)
	require.NoError(t, err)
	second, err := engine.Debit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(0), balance(t, engine, "u1"))
}

func TestDebit_TransNoHeldByAnotherEntry(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := engine.Grant(ctx, credits.GrantRequest{UserUUID: "u1", Credits: 50, ExpiredAt: start.Add(time.Hour), TransNo: "shared"})
	require.NoError(t, err)

	_, err = engine.Debit(ctx, credits.DebitRequest{UserUUID: "u1", TransType: imageGen, Credits: 5, TransNo: "shared"})
	assert.ErrorIs(t, err, ledger.ErrInvalidRequest)
	assert.Equal(t, int64(50), balance(t, engine, "u1"))
}

func TestGrantNewUser_Once(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.GrantNewUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, ledger.TransNewUser, first.TransType)
	assert.Equal(t, time.Date(2025, time.April, 10, 12, 0, 0, 0, time.UTC), first.ExpiredAt)

	_, err = engine.GrantNewUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance(t, engine, "u1"))
}

// =============================================================================
// BALANCE
// =============================================================================

func TestBalance_ExpiryEdges(t *testing.T) {
	// GIVEN: 100 credits valid for one hour, 30 spent
	// WHEN: The clock reaches expired_at
	// THEN: The grant stops counting, the debit still does, and the
	//       reported balance is clamped at zero

	engine, _, clock := newTestEngine(t)
	ctx := context.Background()
	expires := start.Add(time.Hour)
	mustGrant(t, engine, "u1", 100, expires)

	_, err := engine.Debit(ctx, credits.DebitRequest{UserUUID: "u1", TransType: imageGen, Credits: 30})
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance(t, engine, "u1"))

	clock.Set(expires.Add(-time.Nanosecond))
	assert.Equal(t, int64(70), balance(t, engine, "u1"))

	clock.Set(expires)
	assert.Equal(t, int64(0), balance(t, engine, "u1"))
}

func TestBalance_FutureGrantNotCounted(t *testing.T) {
	engine, _, clock := newMemoryEngine(t)
	ctx := context.Background()

	_, err := engine.Grant(ctx, credits.GrantRequest{
		UserUUID: "u1", Credits: 50, ActivatedAt: start.Add(time.Hour), ExpiredAt: start.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Zero(t, balance(t, engine, "u1"))

	clock.Advance(time.Hour)
	assert.Equal(t, int64(50), balance(t, engine, "u1"))
}

func TestBalance_UnknownUser(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	assert.Zero(t, balance(t, engine, "nobody"))
}

// =============================================================================
// CONSUMPTION
// =============================================================================

func TestDebit_InsufficientCredits(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := context.Background()
	mustGrant(t, engine, "u1", 5, start.Add(time.Hour))

	_, err := engine.Debit(ctx, credits.DebitRequest{UserUUID: "u1", TransType: imageGen, Credits: 10, GenerationUUID: "g1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)

	var insufficient *ledger.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(10), insufficient.Required)
	assert.Equal(t, int64(5), insufficient.Available)

	entries, err := s.Entries(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no debit written")
}

func TestDebit_FEFOAttribution(t *testing.T) {
	// GIVEN: Batch A (50, expires in 3 days) and batch B (100, expires in 30 days)
	// WHEN: Debiting 30, then 80
	// THEN: The first is funded by A, the second by B (50 < 80 <= 150)

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	a, err := engine.Grant(ctx, credits.GrantRequest{UserUUID: "u1", Credits: 50, ExpiredAt: start.AddDate(0, 0, 3), OrderNo: "A"})
	require.NoError(t, err)
	b, err := engine.Grant(ctx, credits.GrantRequest{UserUUID: "u1", Credits: 100, ExpiredAt: start.AddDate(0, 0, 30), OrderNo: "B"})
	require.NoError(t, err)

	d1, err := engine.Debit(ctx, credits.DebitRequest{UserUUID: "u1", TransType: imageGen, Credits: 30})
	require.NoError(t, err)
	assert.Equal(t, "A", d1.OrderNo)
	assert.True(t, d1.ExpiredAt.Equal(a.ExpiredAt))
	assert.Equal(t, int64(-30), d1.Credits)

	d2, err := engine.Debit(ctx, credits.DebitRequest{UserUUID: "u1", TransType: imageGen, Credits: 80})
	require.NoError(t, err)
	assert.Equal(t, "B", d2.OrderNo)
	assert.True(t, d2.ActivatedAt.Equal(b.ActivatedAt))

	assert.Equal(t, int64(40), balance(t, engine, "u1"))
}

func TestDebit_CallerOrderNoWins(t *testing.T) {
	engine, _, _ := newMemoryEngine(t)
	mustGrant(t, engine, "u1", 50, start.AddDate(0, 0, 3))

	d, err := engine.Debit(context.Background(), credits.DebitRequest{UserUUID: "u1", TransType: ledger.TransChat, Credits: 1, OrderNo: "chat-7"})
	require.NoError(t, err)
	assert.Equal(t, "chat-7", d.OrderNo)
	assert.False(t, d.ExpiredAt.IsZero())
}

func TestDebit_SameGenerationChargedOnce(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustGrant(t, engine, "u1", 100, start.Add(time.Hour))

	first, err := engine.Charge(ctx, "u1", ledger.FeatureVideo, 20, "gen-1")
	require.NoError(t, err)
	second, err := engine.Charge(ctx, "u1", ledger.FeatureVideo, 20, "gen-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(80), balance(t, engine, "u1"))
}

func TestCharge_UnknownFeature(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.Charge(context.Background(), "u1", ledger.Feature("hologram"), 1, "g")
	assert.ErrorIs(t, err, ledger.ErrUnknownFeature)
}

func TestDebit_ConcurrentNeverOverspends(t *testing.T) {
	// GIVEN: 50 credits
	// WHEN: Ten goroutines each try to spend 10
	// THEN: Exactly five succeed and the balance ends at zero

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustGrant(t, engine, "u1", 50, start.Add(time.Hour))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Debit(ctx, credits.DebitRequest{UserUUID: "u1", TransType: imageGen, Credits: 10})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, int64(0), balance(t, engine, "u1"))
}

// =============================================================================
// REVERSAL
// =============================================================================

func TestVoidRestore_RoundTrip(t *testing.T) {
	// GIVEN: 100 credits and a 40-credit generation charge
	// WHEN: The generation fails and is later restored
	// THEN: Balance goes 60 -> 100 -> 60, and repeats are no-ops

	engine, s, _ := newTestEngine(t)
	ctx := context.Background()
	mustGrant(t, engine, "u1", 100, start.Add(time.Hour))
	_, err := engine.Charge(ctx, "u1", ledger.FeatureImage, 40, "gen-1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance(t, engine, "u1"))

	n, err := engine.Void(ctx, "u1", "gen-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(100), balance(t, engine, "u1"))

	voided, err := s.DebitsByGeneration(ctx, "u1", "gen-1", true)
	require.NoError(t, err)
	require.Len(t, voided, 1)
	assert.Equal(t, "Generation failed", voided[0].VoidedReason)

	n, err = engine.Void(ctx, "u1", "gen-1", "again")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = engine.Restore(ctx, "u1", "gen-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(60), balance(t, engine, "u1"))

	n, err = engine.Restore(ctx, "u1", "gen-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCharge_RetryAfterVoidReusesCharge(t *testing.T) {
	// GIVEN: A 40-credit charge that was voided when the job looked failed
	// WHEN: The job is retried under the same generation and the late
	//       success then calls Restore
	// THEN: The voided charge is re-applied instead of a second one being
	//       written, and the generation is charged exactly once

	engine, s, _ := newTestEngine(t)
	ctx := context.Background()
	mustGrant(t, engine, "u1", 100, start.Add(time.Hour))
	first, err := engine.Charge(ctx, "u1", ledger.FeatureImage, 40, "gen-1")
	require.NoError(t, err)
	_, err = engine.Void(ctx, "u1", "gen-1", "")
	require.NoError(t, err)

	retried, err := engine.Charge(ctx, "u1", ledger.FeatureImage, 40, "gen-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, retried.ID)
	assert.False(t, retried.IsVoided)
	assert.Nil(t, retried.VoidedAt)

	n, err := engine.Restore(ctx, "u1", "gen-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	active, err := s.DebitsByGeneration(ctx, "u1", "gen-1", false)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, int64(60), balance(t, engine, "u1"))
}

func TestCharge_RetryAfterVoidInsufficient(t *testing.T) {
	engine, _, _ := newMemoryEngine(t)
	ctx := context.Background()
	mustGrant(t, engine, "u1", 40, start.Add(time.Hour))
	_, err := engine.Charge(ctx, "u1", ledger.FeatureImage, 40, "gen-1")
	require.NoError(t, err)
	_, err = engine.Void(ctx, "u1", "gen-1", "")
	require.NoError(t, err)
	_, err = engine.Charge(ctx, "u1", ledger.FeatureImage, 30, "gen-2")
	require.NoError(t, err)

	_, err = engine.Charge(ctx, "u1", ledger.FeatureImage, 40, "gen-1")

	var insufficient *ledger.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(40), insufficient.Required)
	assert.Equal(t, int64(10), insufficient.Available)
	assert.Equal(t, int64(10), balance(t, engine, "u1"))
}

func TestVoid_UnknownGeneration(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	n, err := engine.Void(context.Background(), "u1", "missing", "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVoid_OtherUsersUntouched(t *testing.T) {
	engine, _, _ := newMemoryEngine(t)
	ctx := context.Background()
	mustGrant(t, engine, "u1", 10, start.Add(time.Hour))
	mustGrant(t, engine, "u2", 10, start.Add(time.Hour))
	_, err := engine.Charge(ctx, "u1", ledger.FeatureAnime, 5, "shared")
	require.NoError(t, err)
	_, err = engine.Charge(ctx, "u2", ledger.FeatureAnime, 5, "shared")
	require.NoError(t, err)

	n, err := engine.Void(ctx, "u1", "shared", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(10), balance(t, engine, "u1"))
	assert.Equal(t, int64(5), balance(t, engine, "u2"))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestEngine_WithTx_RollsBackEverything(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := engine.WithTx(ctx, func(tx *credits.Engine) error {
		mustGrant(t, tx, "u1", 10, start.Add(time.Hour))
		assert.Equal(t, int64(10), balance(t, tx, "u1"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, balance(t, engine, "u1"))
}
