package credits

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// BALANCE
// =============================================================================

// Balance returns the spendable credits of a user right now. The ledger sum
// can go below zero when grants expire after being spent; the reported
// balance never does.
func (e *Engine) Balance(ctx context.Context, userUUID string) (int64, error) {
	raw, err := e.store.Balance(ctx, userUUID, e.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("balance for %s: %w", userUUID, err)
	}
	return clamp(raw), nil
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// =============================================================================
// EXPIRING SOON
// =============================================================================

type Expiring struct {
	Amount         int64
	NextExpiringAt *time.Time
	Horizon        time.Duration
}

// ExpiringSoon sums currently active grants that expire within horizon.
// A non-positive horizon uses the configured default.
func (e *Engine) ExpiringSoon(ctx context.Context, userUUID string, horizon time.Duration) (Expiring, error) {
	if horizon <= 0 {
		horizon = e.cfg.ExpiringHorizon
	}
	now := e.clock.Now()
	agg, err := e.store.Expiring(ctx, userUUID, now, now.Add(horizon))
	if err != nil {
		return Expiring{}, fmt.Errorf("expiring credits for %s: %w", userUUID, err)
	}
	return Expiring{Amount: agg.Amount, NextExpiringAt: agg.NextAt, Horizon: horizon}, nil
}

// =============================================================================
// SUMMARY
// =============================================================================

type SummaryParams struct {
	UserUUID  string
	Window    ledger.Window
	Direction ledger.Direction
}

// Summary reports a user's ledger activity. Balance is the user's current
// spendable balance; the other totals are restricted by window and direction.
type Summary struct {
	Balance        int64
	NetChange      int64
	TotalEarned    int64
	TotalUsed      int64
	Expiring       int64
	NextExpiringAt *time.Time
	LastEventAt    *time.Time
	Window         ledger.Window
	Direction      ledger.Direction
}

func (e *Engine) Summary(ctx context.Context, p SummaryParams) (Summary, error) {
	q, err := e.query(p.UserUUID, p.Window, p.Direction)
	if err != nil {
		return Summary{}, err
	}

	now := e.clock.Now()
	agg, err := e.store.Summary(ctx, q, now, now.Add(e.cfg.ExpiringHorizon))
	if err != nil {
		return Summary{}, fmt.Errorf("summary for %s: %w", p.UserUUID, err)
	}
	balance, err := e.Balance(ctx, p.UserUUID)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		Balance:        balance,
		NetChange:      agg.Balance,
		TotalEarned:    agg.TotalEarned,
		TotalUsed:      agg.TotalUsed,
		Expiring:       agg.Expiring,
		NextExpiringAt: agg.NextExpiringAt,
		LastEventAt:    agg.LastEventAt,
		Window:         ledger.Window(orDefault(string(p.Window), string(ledger.WindowAll))),
		Direction:      q.Direction,
	}, nil
}

func (e *Engine) query(userUUID string, window ledger.Window, direction ledger.Direction) (ledger.Query, error) {
	w, err := ledger.ParseWindow(string(window))
	if err != nil {
		return ledger.Query{}, err
	}
	d, err := ledger.ParseDirection(string(direction))
	if err != nil {
		return ledger.Query{}, err
	}
	return ledger.Query{
		UserUUID:  userUUID,
		Since:     w.Since(e.clock.Now()),
		Direction: d,
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// =============================================================================
// TIMELINE
// =============================================================================

type TimelineParams struct {
	UserUUID  string
	Window    ledger.Window
	Direction ledger.Direction
	Page      int // 1-based, defaults to 1
	Limit     int // defaults to Config.TimelineDefault, clamped to [1, Config.TimelineMax]
}

// TimelineItem is one display row of the credit history.
type TimelineItem struct {
	TransNo        string
	TransType      ledger.TransType
	Credits        int64
	OrderNo        string
	GenerationUUID string
	CreatedAt      time.Time
	ActivatedAt    *time.Time
	ExpiredAt      *time.Time
	Interval       ledger.Interval // empty when the order is unknown
	Subscription   bool
}

type Timeline struct {
	Items   []TimelineItem
	Page    int
	Limit   int
	HasMore bool
}

// Timeline returns a page of a user's visible entries, newest first. Voided
// entries and grants that are not active yet are hidden.
func (e *Engine) Timeline(ctx context.Context, p TimelineParams) (Timeline, error) {
	q, err := e.query(p.UserUUID, p.Window, p.Direction)
	if err != nil {
		return Timeline{}, err
	}

	limit := p.Limit
	if limit == 0 {
		limit = e.cfg.TimelineDefault
	}
	if limit < 1 {
		limit = 1
	}
	if limit > e.cfg.TimelineMax {
		limit = e.cfg.TimelineMax
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	if page-1 > math.MaxInt/limit {
		return Timeline{}, fmt.Errorf("%w: page %d is out of range", ledger.ErrInvalidFilter, page)
	}

	// One extra row tells us whether another page exists.
	entries, err := e.store.Timeline(ctx, q, e.clock.Now(), limit+1, (page-1)*limit)
	if err != nil {
		return Timeline{}, fmt.Errorf("timeline for %s: %w", p.UserUUID, err)
	}
	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}

	intervals, err := e.intervalsFor(ctx, entries)
	if err != nil {
		return Timeline{}, err
	}

	items := make([]TimelineItem, 0, len(entries))
	for _, entry := range entries {
		interval := intervals[ledger.BaseOrderNo(entry.OrderNo)]
		items = append(items, TimelineItem{
			TransNo:        entry.TransNo,
			TransType:      entry.TransType,
			Credits:        entry.Credits,
			OrderNo:        entry.OrderNo,
			GenerationUUID: entry.GenerationUUID,
			CreatedAt:      entry.CreatedAt,
			ActivatedAt:    timePtr(entry.ActivatedAt),
			ExpiredAt:      timePtr(entry.ExpiredAt),
			Interval:       interval,
			Subscription:   isSubscription(entry.TransType, interval),
		})
	}

	return Timeline{Items: items, Page: page, Limit: limit, HasMore: hasMore}, nil
}

func (e *Engine) intervalsFor(ctx context.Context, entries []ledger.Entry) (map[string]ledger.Interval, error) {
	seen := make(map[string]bool)
	var orderNos []string
	for _, entry := range entries {
		if entry.OrderNo == "" {
			continue
		}
		base := ledger.BaseOrderNo(entry.OrderNo)
		if !seen[base] {
			seen[base] = true
			orderNos = append(orderNos, base)
		}
	}
	intervals, err := e.store.OrderIntervals(ctx, orderNos)
	if err != nil {
		return nil, fmt.Errorf("order intervals: %w", err)
	}
	return intervals, nil
}

func isSubscription(t ledger.TransType, interval ledger.Interval) bool {
	if interval.IsSubscription() {
		return true
	}
	return t == ledger.TransOrderPayMonthly || t == ledger.TransOrderPayYearly
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
