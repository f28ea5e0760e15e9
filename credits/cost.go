package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// CONSUMPTION COST
// =============================================================================

type CostParams struct {
	Month string // "YYYY-MM", takes precedence over Range
	Range string // "all" (default) or "current"
}

// CostSummary prices consumed generation credits. Costs are in US cents and
// keep their fractional part; rounding is a presentation concern.
type CostSummary struct {
	From *time.Time // nil = unbounded
	To   *time.Time

	ConsumedCredits int64
	ImageCredits    int64 // every non-video feature
	VideoCredits    int64
	ByFeature       map[ledger.Feature]int64

	CostCents      decimal.Decimal
	ImageCostCents decimal.Decimal
	VideoCostCents decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// ConsumptionCost totals unvoided generation debits across all users.
// Refunds and chat charges are excluded.
func (e *Engine) ConsumptionCost(ctx context.Context, p CostParams) (CostSummary, error) {
	from, to, err := e.costRange(p)
	if err != nil {
		return CostSummary{}, err
	}

	debits, err := e.store.GenerationDebits(ctx, from, to)
	if err != nil {
		return CostSummary{}, fmt.Errorf("consumption cost: %w", err)
	}

	sum := CostSummary{
		From:      timePtr(from),
		To:        timePtr(to),
		ByFeature: make(map[ledger.Feature]int64),
	}
	for _, d := range debits {
		if !d.TransType.IsGeneration() {
			continue
		}
		feature, _ := d.TransType.Feature()
		consumed := -d.Credits
		sum.ByFeature[feature] += consumed
		if feature == ledger.FeatureVideo {
			sum.VideoCredits += consumed
		} else {
			sum.ImageCredits += consumed
		}
	}

	sum.ConsumedCredits = sum.ImageCredits + sum.VideoCredits
	sum.ImageCostCents = decimal.NewFromInt(sum.ImageCredits).Mul(e.cfg.ImageCreditPrice).Mul(hundred)
	sum.VideoCostCents = decimal.NewFromInt(sum.VideoCredits).Mul(e.cfg.VideoCreditPrice).Mul(hundred)
	sum.CostCents = sum.ImageCostCents.Add(sum.VideoCostCents)
	return sum, nil
}

func (e *Engine) costRange(p CostParams) (time.Time, time.Time, error) {
	if p.Month != "" {
		start, err := time.Parse("2006-01", p.Month)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: month %q", ledger.ErrInvalidFilter, p.Month)
		}
		return start, start.AddDate(0, 1, 0), nil
	}

	switch p.Range {
	case "", "all":
		return time.Time{}, time.Time{}, nil
	case "current":
		y, m, _ := e.clock.Now().UTC().Date()
		start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("%w: range %q", ledger.ErrInvalidFilter, p.Range)
}
