package incentive_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/credit-ledger/credits"
	"github.com/warp/credit-ledger/incentive"
	"github.com/warp/credit-ledger/ledger"
	"github.com/warp/credit-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var day1 = time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	engine    *credits.Engine
	scheduler *incentive.Scheduler
	store     *sqlite.Store
	clock     *ledger.ManualClock
}

func newFixture(t *testing.T, opts ...incentive.Option) fixture {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := ledger.NewManualClock(day1)
	engine := credits.New(s, credits.WithClock(clock))
	return fixture{
		engine:    engine,
		scheduler: incentive.New(engine, opts...),
		store:     s,
		clock:     clock,
	}
}

func (f fixture) balance(t *testing.T, user string) int64 {
	t.Helper()
	b, err := f.engine.Balance(context.Background(), user)
	require.NoError(t, err)
	return b
}

// =============================================================================
// SCHEDULE
// =============================================================================

func TestSchedule_CheckInReward(t *testing.T) {
	s := incentive.DefaultSchedule()

	tests := []struct {
		day  int
		want int64
	}{
		{1, 10},
		{4, 10},
		{5, 20},
		{6, 10},
		{10, 40},
		{29, 10},
		{30, 70},
		{31, 10},
		{35, 20},
		{60, 70},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.CheckInReward(tt.day), "day %d", tt.day)
	}
}

// =============================================================================
// CHECK-IN
// =============================================================================

func TestClaimCheckIn_StreakSchedule(t *testing.T) {
	// GIVEN: A user who checks in every day for 31 days
	// WHEN: Each claim is made
	// THEN: Rewards follow the cycle and the streak keeps counting

	f := newFixture(t)
	ctx := context.Background()

	var total int64
	for day := 1; day <= 31; day++ {
		res, err := f.scheduler.ClaimCheckIn(ctx, "u1")
		require.NoError(t, err, "day %d", day)
		assert.Equal(t, day, res.Streak)
		assert.Equal(t, f.scheduler.Schedule().CheckInReward(day), res.Reward)
		total += res.Reward

		if day == 5 {
			assert.Equal(t, int64(20), res.Reward)
		}
		if day == 30 {
			assert.Equal(t, int64(70), res.Reward)
		}
		f.clock.Advance(24 * time.Hour)
	}

	// Grants expire one month after each claim; only the recent ones count.
	assert.Positive(t, f.balance(t, "u1"))
	assert.Less(t, f.balance(t, "u1"), total)
}

func TestClaimCheckIn_GapResetsStreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.scheduler.ClaimCheckIn(ctx, "u1")
		require.NoError(t, err)
		f.clock.Advance(24 * time.Hour)
	}

	// Skip a day.
	f.clock.Advance(24 * time.Hour)

	status, err := f.scheduler.CheckInStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, status.Streak)
	assert.False(t, status.CheckedInToday)

	res, err := f.scheduler.ClaimCheckIn(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak)
}

func TestClaimCheckIn_TwiceSameDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.scheduler.ClaimCheckIn(ctx, "u1")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Hour)
	_, err = f.scheduler.ClaimCheckIn(ctx, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrAlreadyClaimed)

	var claimed *ledger.AlreadyClaimedError
	require.ErrorAs(t, err, &claimed)
	assert.Equal(t, "2025-03-01", claimed.Date)
	assert.Equal(t, ledger.RewardCheckIn, claimed.Kind)

	assert.Equal(t, int64(10), f.balance(t, "u1"))
}

func TestClaimCheckIn_ConcurrentClaimsOneWinner(t *testing.T) {
	// GIVEN: Eight simultaneous check-in requests from one user
	// WHEN: They race
	// THEN: Exactly one succeeds and exactly one reward is granted

	f := newFixture(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.scheduler.ClaimCheckIn(ctx, "u1")
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ledger.ErrAlreadyClaimed)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, int64(10), f.balance(t, "u1"))

	entries, err := f.store.Entries(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCheckInStatus_AfterClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.scheduler.CheckInStatus(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, before.CheckedInToday)
	assert.Equal(t, int64(10), before.NextReward)
	assert.Equal(t, "2025-03-01", before.Today)

	_, err = f.scheduler.ClaimCheckIn(ctx, "u1")
	require.NoError(t, err)

	after, err := f.scheduler.CheckInStatus(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, after.CheckedInToday)
	assert.Equal(t, 1, after.Streak)
}

func TestClaimCheckIn_RewardExpiresInOneMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.scheduler.ClaimCheckIn(ctx, "u1")
	require.NoError(t, err)

	entries, err := f.store.Entries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.TransCheckInReward, entries[0].TransType)
	assert.Equal(t, time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC), entries[0].ExpiredAt)
}

// =============================================================================
// SHARE REWARD
// =============================================================================

func TestClaimShareReward_OncePerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.scheduler.ClaimShareReward(ctx, "u1", map[string]any{"platform": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Reward)

	_, err = f.scheduler.ClaimShareReward(ctx, "u1", nil)
	assert.ErrorIs(t, err, ledger.ErrAlreadyClaimed)

	status, err := f.scheduler.ShareStatus(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, status.ReceivedToday)

	record, err := f.store.RewardOn(ctx, "u1", ledger.RewardShareSNS, "2025-03-01")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "x", record.Metadata["platform"])

	// Check-in is a separate program.
	_, err = f.scheduler.ClaimCheckIn(ctx, "u1")
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	_, err = f.scheduler.ClaimShareReward(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(30), f.balance(t, "u1"))
}

func TestClaimShareReward_FailedGrantLeavesNoRecord(t *testing.T) {
	// GIVEN: A schedule whose share reward cannot be granted
	// WHEN: The user claims
	// THEN: The claim record is rolled back along with the grant

	schedule := incentive.DefaultSchedule()
	schedule.ShareReward = 0
	f := newFixture(t, incentive.WithSchedule(schedule))
	ctx := context.Background()

	_, err := f.scheduler.ClaimShareReward(ctx, "u1", nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	status, err := f.scheduler.ShareStatus(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.ReceivedToday)
}
