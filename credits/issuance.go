package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// DIRECT GRANTS
// =============================================================================

type GrantRequest struct {
	UserUUID    string
	TransType   ledger.TransType
	Credits     int64
	ActivatedAt time.Time // zero = now
	ExpiredAt   time.Time // required
	OrderNo     string
	TransNo     string // zero = generated
}

// Grant inserts one positive entry. Replaying a request with the same
// TransNo returns the entry already on the ledger.
func (e *Engine) Grant(ctx context.Context, req GrantRequest) (*ledger.Entry, error) {
	if req.UserUUID == "" {
		return nil, fmt.Errorf("%w: user_uuid is required", ledger.ErrInvalidRequest)
	}
	if req.Credits <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if req.ExpiredAt.IsZero() {
		return nil, ledger.ErrMissingExpiration
	}

	now := e.clock.Now()
	entry := &ledger.Entry{
		TransNo:     e.transNo(req.TransNo),
		UserUUID:    req.UserUUID,
		TransType:   req.TransType,
		Credits:     req.Credits,
		OrderNo:     req.OrderNo,
		ActivatedAt: req.ActivatedAt,
		ExpiredAt:   req.ExpiredAt,
		CreatedAt:   now,
	}
	if entry.ActivatedAt.IsZero() {
		entry.ActivatedAt = now
	}
	if entry.TransType == "" {
		entry.TransType = ledger.TransSystemAdd
	}

	err := e.store.Insert(ctx, entry)
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		existing, lookupErr := e.store.EntryByTransNo(ctx, entry.TransNo)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing != nil {
			e.log.Debug().Str("trans_no", entry.TransNo).Msg("grant already applied")
			return existing, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("grant for %s: %w", req.UserUUID, err)
	}

	e.log.Info().
		Str("user_uuid", entry.UserUUID).
		Str("trans_type", string(entry.TransType)).
		Int64("credits", entry.Credits).
		Time("expired_at", entry.ExpiredAt).
		Msg("credits granted")
	return entry, nil
}

// GrantNewUser gives the sign-up bonus. The trans_no is derived from the
// user, so processing the same sign-up twice grants once.
func (e *Engine) GrantNewUser(ctx context.Context, userUUID string) (*ledger.Entry, error) {
	now := e.clock.Now()
	return e.Grant(ctx, GrantRequest{
		UserUUID:    userUUID,
		TransType:   ledger.TransNewUser,
		Credits:     e.cfg.NewUserBonus,
		ActivatedAt: now,
		ExpiredAt:   ledger.AddMonthsPreservingDay(now, e.cfg.NewUserValidity),
		TransNo:     "new_user_" + userUUID,
	})
}

// =============================================================================
// ORDER ISSUANCE
// =============================================================================

// Order is a paid purchase as reported by the payment collaborator.
type Order struct {
	OrderNo   string
	UserUUID  string
	Interval  ledger.Interval
	Credits   int64
	PaidAt    time.Time
	CreatedAt time.Time
}

// IssueForOrder turns a paid order into ledger grants:
//
//	one_time: one grant, expires in Config.OneTimeValidity years
//	month:    one grant, expires after Config.MonthlyValidity
//	year:     twelve monthly grants of credits/12 chained from the anchor
//
// It is safe to call repeatedly for the same order. Only entries created by
// this call are returned; a full replay returns none.
func (e *Engine) IssueForOrder(ctx context.Context, o Order) ([]ledger.Entry, error) {
	if o.OrderNo == "" || o.UserUUID == "" {
		return nil, fmt.Errorf("%w: order_no and user_uuid are required", ledger.ErrInvalidRequest)
	}
	interval, err := ledger.ParseInterval(string(o.Interval))
	if err != nil {
		return nil, err
	}
	if o.Credits <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if interval == ledger.IntervalYear && o.Credits < 12 {
		return nil, fmt.Errorf("%w: yearly order needs at least 12 credits, got %d", ledger.ErrInvalidAmount, o.Credits)
	}

	now := e.clock.Now()
	var created []ledger.Entry
	err = e.atomic(ctx, func(s ledger.Store) error {
		created = nil
		err := s.SaveOrder(ctx, ledger.OrderRecord{
			OrderNo:   o.OrderNo,
			UserUUID:  o.UserUUID,
			Interval:  interval,
			Credits:   o.Credits,
			PaidAt:    o.PaidAt,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}

		for _, entry := range e.plan(o, interval, now) {
			exists, err := s.OrderExists(ctx, entry.OrderNo)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			err = s.Insert(ctx, &entry)
			if errors.Is(err, ledger.ErrDuplicateTransaction) {
				continue
			}
			if err != nil {
				return err
			}
			created = append(created, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("issue order %s: %w", o.OrderNo, err)
	}

	if len(created) == 0 {
		e.log.Debug().Str("order_no", o.OrderNo).Msg("order already issued")
		return created, nil
	}
	e.log.Info().
		Str("order_no", o.OrderNo).
		Str("user_uuid", o.UserUUID).
		Str("interval", string(interval)).
		Int("grants", len(created)).
		Msg("order credits issued")
	return created, nil
}

// plan builds the grants an order is entitled to, before idempotency checks.
func (e *Engine) plan(o Order, interval ledger.Interval, now time.Time) []ledger.Entry {
	base := ledger.Entry{
		UserUUID:  o.UserUUID,
		OrderNo:   o.OrderNo,
		Credits:   o.Credits,
		CreatedAt: now,
	}

	switch interval {
	case ledger.IntervalMonth:
		base.TransNo = e.ids.Next()
		base.TransType = ledger.TransOrderPayMonthly
		base.ActivatedAt = now
		base.ExpiredAt = now.Add(e.cfg.MonthlyValidity)
		return []ledger.Entry{base}

	case ledger.IntervalYear:
		anchor := o.PaidAt
		if anchor.IsZero() {
			anchor = o.CreatedAt
		}
		if anchor.IsZero() {
			anchor = now
		}
		perMonth := o.Credits / 12

		grants := make([]ledger.Entry, 0, 12)
		for i := 0; i < 12; i++ {
			g := base
			g.TransNo = e.ids.Next()
			g.TransType = ledger.TransOrderPayYearly
			g.OrderNo = ledger.MonthOrderNo(o.OrderNo, i+1)
			g.Credits = perMonth
			g.ActivatedAt = ledger.AddMonthsPreservingDay(anchor, i)
			g.ExpiredAt = ledger.AddMonthsPreservingDay(anchor, i+1)
			grants = append(grants, g)
		}
		return grants

	default:
		base.TransNo = e.ids.Next()
		base.TransType = ledger.TransOrderPayOneTime
		base.ActivatedAt = now
		base.ExpiredAt = now.AddDate(e.cfg.OneTimeValidity, 0, 0)
		return []ledger.Entry{base}
	}
}
