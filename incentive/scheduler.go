/*
Package incentive grants daily engagement rewards.

PURPOSE:
  Users earn credits for a daily check-in (with streak bonuses) and for
  sharing on social networks once a day. Each claim writes a reward record
  and a ledger grant in the same transaction.

KEY CONCEPTS:
  - Day key: the UTC date (YYYY-MM-DD) a claim belongs to
  - Streak: consecutive check-in days, reset to 1 when the previous
    claim is older than yesterday
  - Schedule: base reward plus milestone bonuses in a repeating cycle

EXCLUSIVITY:
  The store's unique (user, type, date) constraint decides which of two
  racing claims wins. The loser gets *ledger.AlreadyClaimedError and its
  grant is rolled back with the record.

SEE ALSO:
  - schedule.go: Reward amounts
  - credits/engine.go: Engine.WithTx used for the atomic claim
*/
package incentive

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/credit-ledger/credits"
	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// SCHEDULER
// =============================================================================

type Scheduler struct {
	engine   *credits.Engine
	schedule Schedule
	log      zerolog.Logger
}

type Option func(*Scheduler)

func WithSchedule(s Schedule) Option {
	return func(sc *Scheduler) { sc.schedule = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(sc *Scheduler) { sc.log = l.With().Str("component", "incentive").Logger() }
}

func New(engine *credits.Engine, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:   engine,
		schedule: DefaultSchedule(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Schedule() Schedule { return s.schedule }

// =============================================================================
// CHECK-IN
// =============================================================================

type CheckInResult struct {
	Reward int64
	Streak int
}

type CheckInStatus struct {
	CheckedInToday bool
	Streak         int
	NextReward     int64
	Today          string
}

// ClaimCheckIn records today's check-in and grants its reward.
func (s *Scheduler) ClaimCheckIn(ctx context.Context, userUUID string) (CheckInResult, error) {
	if userUUID == "" {
		return CheckInResult{}, fmt.Errorf("%w: user_uuid is required", ledger.ErrInvalidRequest)
	}

	var result CheckInResult
	err := s.engine.WithTx(ctx, func(tx *credits.Engine) error {
		status, err := s.checkInStatus(ctx, tx.Store(), userUUID, ledger.DayKey(tx.Clock().Now()))
		if err != nil {
			return err
		}
		if status.CheckedInToday {
			return &ledger.AlreadyClaimedError{UserUUID: userUUID, Kind: ledger.RewardCheckIn, Date: status.Today}
		}

		streak := status.Streak + 1
		reward := s.schedule.CheckInReward(streak)
		if err := s.claim(ctx, tx, claim{
			user:   userUUID,
			kind:   ledger.RewardCheckIn,
			date:   status.Today,
			amount: reward,
			streak: streak,
			trans:  ledger.TransCheckInReward,
		}); err != nil {
			return err
		}
		result = CheckInResult{Reward: reward, Streak: streak}
		return nil
	})
	if err != nil {
		return CheckInResult{}, err
	}

	s.log.Info().
		Str("user_uuid", userUUID).
		Int("streak", result.Streak).
		Int64("reward", result.Reward).
		Msg("check-in claimed")
	return result, nil
}

// CheckInStatus reports whether the user has checked in today and what the
// next check-in would pay.
func (s *Scheduler) CheckInStatus(ctx context.Context, userUUID string) (CheckInStatus, error) {
	return s.checkInStatus(ctx, s.engine.Store(), userUUID, ledger.DayKey(s.engine.Clock().Now()))
}

func (s *Scheduler) checkInStatus(ctx context.Context, store ledger.Store, userUUID, today string) (CheckInStatus, error) {
	status := CheckInStatus{Today: today}

	todays, err := store.RewardOn(ctx, userUUID, ledger.RewardCheckIn, today)
	if err != nil {
		return status, fmt.Errorf("check-in status: %w", err)
	}
	status.CheckedInToday = todays != nil

	last, err := store.LastReward(ctx, userUUID, ledger.RewardCheckIn)
	if err != nil {
		return status, fmt.Errorf("check-in status: %w", err)
	}
	if last != nil {
		days, err := ledger.DaysBetween(last.Date, today)
		if err != nil {
			return status, fmt.Errorf("check-in status: %w", err)
		}
		// Claimed today or yesterday keeps the streak alive.
		if days == 0 || days == 1 {
			status.Streak = last.Streak
		}
	}

	status.NextReward = s.schedule.CheckInReward(status.Streak + 1)
	return status, nil
}

// =============================================================================
// SHARE REWARD
// =============================================================================

type ShareResult struct {
	Reward int64
}

type ShareStatus struct {
	ReceivedToday bool
	Reward        int64
	Today         string
}

// ClaimShareReward grants the daily social-share reward. Metadata (platform,
// link) is stored with the claim record.
func (s *Scheduler) ClaimShareReward(ctx context.Context, userUUID string, metadata map[string]any) (ShareResult, error) {
	if userUUID == "" {
		return ShareResult{}, fmt.Errorf("%w: user_uuid is required", ledger.ErrInvalidRequest)
	}

	reward := s.schedule.ShareReward
	err := s.engine.WithTx(ctx, func(tx *credits.Engine) error {
		today := ledger.DayKey(tx.Clock().Now())
		existing, err := tx.Store().RewardOn(ctx, userUUID, ledger.RewardShareSNS, today)
		if err != nil {
			return err
		}
		if existing != nil {
			return &ledger.AlreadyClaimedError{UserUUID: userUUID, Kind: ledger.RewardShareSNS, Date: today}
		}
		return s.claim(ctx, tx, claim{
			user:     userUUID,
			kind:     ledger.RewardShareSNS,
			date:     today,
			amount:   reward,
			trans:    ledger.TransShareReward,
			metadata: metadata,
		})
	})
	if err != nil {
		return ShareResult{}, err
	}

	s.log.Info().Str("user_uuid", userUUID).Int64("reward", reward).Msg("share reward claimed")
	return ShareResult{Reward: reward}, nil
}

func (s *Scheduler) ShareStatus(ctx context.Context, userUUID string) (ShareStatus, error) {
	today := ledger.DayKey(s.engine.Clock().Now())
	existing, err := s.engine.Store().RewardOn(ctx, userUUID, ledger.RewardShareSNS, today)
	if err != nil {
		return ShareStatus{}, fmt.Errorf("share status: %w", err)
	}
	return ShareStatus{ReceivedToday: existing != nil, Reward: s.schedule.ShareReward, Today: today}, nil
}

// =============================================================================
// CLAIM
// =============================================================================

type claim struct {
	user     string
	kind     ledger.RewardKind
	date     string
	amount   int64
	streak   int
	trans    ledger.TransType
	metadata map[string]any
}

// claim writes the reward record and its grant through a transaction-bound
// engine. The caller's transaction makes the pair atomic.
func (s *Scheduler) claim(ctx context.Context, tx *credits.Engine, c claim) error {
	now := tx.Clock().Now()
	record := &ledger.RewardRecord{
		ID:        uuid.NewString(),
		UserUUID:  c.user,
		Kind:      c.kind,
		Amount:    c.amount,
		Date:      c.date,
		Streak:    c.streak,
		Metadata:  c.metadata,
		CreatedAt: now,
	}
	if err := tx.Store().InsertReward(ctx, record); err != nil {
		if errors.Is(err, ledger.ErrDuplicateReward) {
			return &ledger.AlreadyClaimedError{UserUUID: c.user, Kind: c.kind, Date: c.date}
		}
		return fmt.Errorf("insert %s record: %w", c.kind, err)
	}

	_, err := tx.Grant(ctx, credits.GrantRequest{
		UserUUID:    c.user,
		TransType:   c.trans,
		Credits:     c.amount,
		ActivatedAt: now,
		ExpiredAt:   ledger.AddMonthsPreservingDay(now, s.schedule.ValidityMonths),
		TransNo:     fmt.Sprintf("%s_%s_%s", c.kind, c.user, c.date),
	})
	return err
}
