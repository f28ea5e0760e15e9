/*
Package ledger provides the core types of the credit ledger.

PURPOSE:
  This package holds everything the engines agree on: the ledger entry, the
  transaction-type vocabulary, the store contract, errors, the clock and the
  calendar arithmetic used for subscription proration. It contains no
  business decisions about when credits are granted or spent.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: One row of the append-mostly credits ledger
  - TransType: Why the row exists (grant source or spend reason)
  - Feature: Closed set of chargeable generation features
  - Interval: Billing interval of an order (one_time, month, year)

DESIGN PRINCIPLES:
  1. Append-mostly: Entries are inserted once. Only the void fields change.
  2. Derived balance: Balance is always a sum over entries, never a counter.
  3. Idempotency: Every entry carries a unique TransNo.
  4. Integer credits: Credits are whole units, positive = grant, negative = debit.

USAGE:
  entry := &ledger.Entry{
      TransNo:   ids.Next(),
      UserUUID:  "user-123",
      TransType: ledger.TransOrderPayMonthly,
      Credits:   500,
      ExpiredAt: now.AddDate(0, 0, 30),
  }
  err := store.Insert(ctx, entry)

SEE ALSO:
  - store.go: Persistence contract
  - errors.go: Error taxonomy
  - calendar.go: Day-preserving month arithmetic
*/
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// LEDGER ENTRY
// =============================================================================

// Entry is a single ledger row.
//
// Positive Credits are grants and only count toward balance while
// ActivatedAt <= now < ExpiredAt. Negative Credits are debits; they inherit
// the window of the grant batch that funded them for audit only and always
// count while unvoided.
type Entry struct {
	ID             int64
	TransNo        string
	UserUUID       string
	TransType      TransType
	Credits        int64
	OrderNo        string
	GenerationUUID string
	ActivatedAt    time.Time
	ExpiredAt      time.Time
	CreatedAt      time.Time

	// Reversal audit. These are the only fields ever updated.
	IsVoided     bool
	VoidedAt     *time.Time
	VoidedReason string
}

func (e Entry) IsGrant() bool { return e.Credits > 0 }
func (e Entry) IsDebit() bool { return e.Credits < 0 }

// ActiveAt reports whether a grant counts toward balance at t.
func (e Entry) ActiveAt(t time.Time) bool {
	if e.IsVoided || !e.IsGrant() {
		return false
	}
	return !e.ActivatedAt.After(t) && t.Before(e.ExpiredAt)
}

// CountsAt reports whether the entry contributes to balance at t.
func (e Entry) CountsAt(t time.Time) bool {
	if e.IsVoided {
		return false
	}
	if e.IsDebit() {
		return true
	}
	return e.ActiveAt(t)
}

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

type TransType string

const (
	TransNewUser         TransType = "new_user"
	TransOrderPay        TransType = "order_pay" // legacy, kept for old rows
	TransSystemAdd       TransType = "system_add"
	TransPing            TransType = "ping"
	TransChat            TransType = "chat"
	TransChatRefund      TransType = "chat_refund"
	TransCheckInReward   TransType = "check_in_reward"
	TransShareReward     TransType = "share_reward"
	TransOrderPayOneTime TransType = "order_pay_one_time"
	TransOrderPayMonthly TransType = "order_pay_monthly"
	TransOrderPayYearly  TransType = "order_pay_yearly"
)

const (
	generationSuffix = "_generation"
	refundSuffix     = "_generation_refund"
)

// Feature is a chargeable generation feature. Generation and refund
// transaction types are derived from it, never concatenated by hand.
type Feature string

const (
	FeatureAnime      Feature = "anime"
	FeatureAvatar     Feature = "avatar"
	FeatureBackground Feature = "background"
	FeatureCharacter  Feature = "character"
	FeatureFullBody   Feature = "full_body"
	FeatureImage      Feature = "image"
	FeatureVideo      Feature = "video"
)

var knownFeatures = map[Feature]bool{
	FeatureAnime:      true,
	FeatureAvatar:     true,
	FeatureBackground: true,
	FeatureCharacter:  true,
	FeatureFullBody:   true,
	FeatureImage:      true,
	FeatureVideo:      true,
}

// Features returns the known features.
func Features() []Feature {
	return []Feature{FeatureAnime, FeatureAvatar, FeatureBackground, FeatureCharacter, FeatureFullBody, FeatureImage, FeatureVideo}
}

// ParseFeature validates a feature tag.
func ParseFeature(s string) (Feature, error) {
	f := Feature(strings.TrimSpace(s))
	if !knownFeatures[f] {
		return "", fmt.Errorf("%w: %q", ErrUnknownFeature, s)
	}
	return f, nil
}

// GenerationType returns "{feature}_generation".
func GenerationType(f Feature) (TransType, error) {
	if !knownFeatures[f] {
		return "", fmt.Errorf("%w: %q", ErrUnknownFeature, f)
	}
	return TransType(string(f) + generationSuffix), nil
}

// RefundType returns "{feature}_generation_refund".
func RefundType(f Feature) (TransType, error) {
	if !knownFeatures[f] {
		return "", fmt.Errorf("%w: %q", ErrUnknownFeature, f)
	}
	return TransType(string(f) + refundSuffix), nil
}

// MustGenerationType panics on an unknown feature. Only for constants.
func MustGenerationType(f Feature) TransType {
	t, err := GenerationType(f)
	if err != nil {
		panic(err)
	}
	return t
}

// IsGeneration reports whether t is a "{feature}_generation" type.
func (t TransType) IsGeneration() bool {
	_, ok := t.Feature()
	return ok && strings.HasSuffix(string(t), generationSuffix)
}

// Feature extracts the feature of a generation or refund type.
func (t TransType) Feature() (Feature, bool) {
	s := string(t)
	switch {
	case strings.HasSuffix(s, refundSuffix):
		s = strings.TrimSuffix(s, refundSuffix)
	case strings.HasSuffix(s, generationSuffix):
		s = strings.TrimSuffix(s, generationSuffix)
	default:
		return "", false
	}
	f := Feature(s)
	return f, knownFeatures[f]
}

// =============================================================================
// ORDERS
// =============================================================================

// Interval is the billing interval of an order.
type Interval string

const (
	IntervalOneTime Interval = "one_time"
	IntervalMonth   Interval = "month"
	IntervalYear    Interval = "year"
)

func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case IntervalOneTime, IntervalMonth, IntervalYear:
		return Interval(s), nil
	case "":
		return IntervalOneTime, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownInterval, s)
}

// IsSubscription is true for recurring intervals.
func (i Interval) IsSubscription() bool {
	return i == IntervalMonth || i == IntervalYear
}

// OrderRecord is the ledger's projection of an order it issued credits for.
type OrderRecord struct {
	OrderNo   string
	UserUUID  string
	Interval  Interval
	Credits   int64
	PaidAt    time.Time
	CreatedAt time.Time
}

const monthSuffix = "_month_"

// MonthOrderNo returns the synthesized order number of an annual sub-grant.
// month is 1-based.
func MonthOrderNo(orderNo string, month int) string {
	return fmt.Sprintf("%s%s%d", orderNo, monthSuffix, month)
}

// BaseOrderNo strips the annual sub-grant suffix, if any.
func BaseOrderNo(orderNo string) string {
	if i := strings.LastIndex(orderNo, monthSuffix); i > 0 {
		return orderNo[:i]
	}
	return orderNo
}

// =============================================================================
// REPORTING FILTERS
// =============================================================================

// Window restricts reporting to entries created within a trailing window.
type Window string

const (
	WindowAll Window = "all"
	Window30d Window = "30d"
	Window7d  Window = "7d"
)

func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case "", WindowAll:
		return WindowAll, nil
	case Window30d, Window7d:
		return Window(s), nil
	}
	return "", fmt.Errorf("%w: window %q", ErrInvalidFilter, s)
}

// Since returns the lower bound on created_at, or the zero time for "all".
func (w Window) Since(now time.Time) time.Time {
	switch w {
	case Window30d:
		return now.Add(-30 * 24 * time.Hour)
	case Window7d:
		return now.Add(-7 * 24 * time.Hour)
	}
	return time.Time{}
}

// Direction restricts reporting to grants, debits or both.
type Direction string

const (
	DirectionAll Direction = "all"
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", DirectionAll:
		return DirectionAll, nil
	case DirectionIn, DirectionOut:
		return Direction(s), nil
	}
	return "", fmt.Errorf("%w: type %q", ErrInvalidFilter, s)
}

// Matches reports whether credits pass the direction filter.
func (d Direction) Matches(credits int64) bool {
	switch d {
	case DirectionIn:
		return credits > 0
	case DirectionOut:
		return credits < 0
	}
	return true
}

// Query selects a user's entries for reporting.
type Query struct {
	UserUUID  string
	Since     time.Time // zero = no lower bound on created_at
	Direction Direction
}

// Matches applies the created_at and direction filters.
func (q Query) Matches(e Entry) bool {
	if e.UserUUID != q.UserUUID {
		return false
	}
	if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
		return false
	}
	return q.Direction.Matches(e.Credits)
}

// ExpiringAggregate is the store-level result of an expiring-soon scan.
type ExpiringAggregate struct {
	Amount int64
	NextAt *time.Time
}

// SummaryAggregate is the store-level result of a summary scan.
type SummaryAggregate struct {
	Balance        int64
	TotalEarned    int64
	TotalUsed      int64
	Expiring       int64
	NextExpiringAt *time.Time
	LastEventAt    *time.Time
}
