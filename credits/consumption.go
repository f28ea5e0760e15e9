package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// DEBITS
// =============================================================================

type DebitRequest struct {
	UserUUID       string
	TransType      ledger.TransType
	Credits        int64 // amount to charge, positive
	GenerationUUID string
	OrderNo        string // overrides the attributed batch when set
	TransNo        string // zero = generated
}

// Debit charges credits for a unit of work.
//
// The balance check and the insert run in one store transaction, so two
// concurrent debits cannot both spend the same credits. When the balance is
// short, an *ledger.InsufficientCreditsError is returned and nothing is
// written.
//
// Retries are absorbed: a TransNo that is already recorded returns the
// recorded debit, and a generation with an active charge returns that
// charge. A generation whose charge was voided gets that charge restored
// instead of a second one, so a later Restore cannot double it.
func (e *Engine) Debit(ctx context.Context, req DebitRequest) (*ledger.Entry, error) {
	if req.UserUUID == "" {
		return nil, fmt.Errorf("%w: user_uuid is required", ledger.ErrInvalidRequest)
	}
	if req.TransType == "" {
		return nil, fmt.Errorf("%w: trans_type is required", ledger.ErrInvalidRequest)
	}
	if req.Credits <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	now := e.clock.Now()
	var result *ledger.Entry
	outcome := debitInserted

	err := e.atomic(ctx, func(s ledger.Store) error {
		result, outcome = nil, debitInserted
		if req.TransNo != "" {
			existing, err := recordedDebit(ctx, s, req)
			if err != nil {
				return err
			}
			if existing != nil {
				result, outcome = existing, debitReplayed
				return nil
			}
		}
		if req.GenerationUUID != "" {
			existing, err := s.DebitsByGeneration(ctx, req.UserUUID, req.GenerationUUID, false)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				result, outcome = &existing[0], debitReplayed
				return nil
			}
			restored, err := restoreVoided(ctx, s, req, now)
			if err != nil {
				return err
			}
			if restored != nil {
				result, outcome = restored, debitRestored
				return nil
			}
		}

		balance, err := s.Balance(ctx, req.UserUUID, now)
		if err != nil {
			return err
		}
		if balance < req.Credits {
			return &ledger.InsufficientCreditsError{
				UserUUID:  req.UserUUID,
				Required:  req.Credits,
				Available: clamp(balance),
			}
		}

		grants, err := s.ActiveGrants(ctx, req.UserUUID, now)
		if err != nil {
			return err
		}
		batch := attribute(grants, req.Credits)

		entry := &ledger.Entry{
			TransNo:        e.transNo(req.TransNo),
			UserUUID:       req.UserUUID,
			TransType:      req.TransType,
			Credits:        -req.Credits,
			OrderNo:        req.OrderNo,
			GenerationUUID: req.GenerationUUID,
			CreatedAt:      now,
		}
		if batch != nil {
			if entry.OrderNo == "" {
				entry.OrderNo = batch.OrderNo
			}
			entry.ActivatedAt = batch.ActivatedAt
			entry.ExpiredAt = batch.ExpiredAt
		}
		err = s.Insert(ctx, entry)
		if errors.Is(err, ledger.ErrDuplicateTransaction) && req.TransNo != "" {
			existing, lookupErr := recordedDebit(ctx, s, req)
			if lookupErr != nil {
				return lookupErr
			}
			if existing != nil {
				result, outcome = existing, debitReplayed
				return nil
			}
		}
		if err != nil {
			return err
		}
		result = entry
		return nil
	})
	if err != nil {
		if ledger.IsClientError(err) || isInsufficient(err) {
			return nil, err
		}
		return nil, fmt.Errorf("debit for %s: %w", req.UserUUID, err)
	}

	switch outcome {
	case debitReplayed:
		e.log.Debug().
			Str("trans_no", result.TransNo).
			Str("generation_uuid", result.GenerationUUID).
			Msg("debit already applied")
		return result, nil
	case debitRestored:
		e.log.Info().
			Str("user_uuid", result.UserUUID).
			Int64("credits", result.Credits).
			Str("generation_uuid", result.GenerationUUID).
			Msg("voided generation charge restored")
		return result, nil
	}
	e.log.Info().
		Str("user_uuid", result.UserUUID).
		Str("trans_type", string(result.TransType)).
		Int64("credits", result.Credits).
		Str("generation_uuid", result.GenerationUUID).
		Msg("credits debited")
	return result, nil
}

type debitOutcome int

const (
	debitInserted debitOutcome = iota
	debitReplayed
	debitRestored
)

// recordedDebit returns the debit already stored under req.TransNo, or nil.
// A TransNo held by another user's entry or by a grant is a client error.
func recordedDebit(ctx context.Context, s ledger.Store, req DebitRequest) (*ledger.Entry, error) {
	existing, err := s.EntryByTransNo(ctx, req.TransNo)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.UserUUID != req.UserUUID || !existing.IsDebit() {
		return nil, fmt.Errorf("%w: trans_no %s is used by another entry", ledger.ErrInvalidRequest, req.TransNo)
	}
	return existing, nil
}

// restoreVoided re-applies the voided debits of req's generation, provided
// the balance still covers them. Returns nil when the generation has none.
func restoreVoided(ctx context.Context, s ledger.Store, req DebitRequest, now time.Time) (*ledger.Entry, error) {
	voided, err := s.DebitsByGeneration(ctx, req.UserUUID, req.GenerationUUID, true)
	if err != nil || len(voided) == 0 {
		return nil, err
	}

	var owed int64
	for _, d := range voided {
		owed -= d.Credits
	}
	balance, err := s.Balance(ctx, req.UserUUID, now)
	if err != nil {
		return nil, err
	}
	if balance < owed {
		return nil, &ledger.InsufficientCreditsError{
			UserUUID:  req.UserUUID,
			Required:  owed,
			Available: clamp(balance),
		}
	}

	for _, d := range voided {
		if err := s.SetVoided(ctx, d.ID, false, now, ""); err != nil {
			return nil, err
		}
	}
	restored := voided[0]
	restored.IsVoided = false
	restored.VoidedAt = nil
	restored.VoidedReason = ""
	return &restored, nil
}

// Charge debits credits for a generation feature.
func (e *Engine) Charge(ctx context.Context, userUUID string, feature ledger.Feature, credits int64, generationUUID string) (*ledger.Entry, error) {
	t, err := ledger.GenerationType(feature)
	if err != nil {
		return nil, err
	}
	return e.Debit(ctx, DebitRequest{
		UserUUID:       userUUID,
		TransType:      t,
		Credits:        credits,
		GenerationUUID: generationUUID,
	})
}

// attribute picks the grant batch that funds a debit: walking grants in
// expiry order, the first one at which the running total covers the amount.
// Returns nil when no batch is found.
func attribute(grants []ledger.Entry, amount int64) *ledger.Entry {
	var running int64
	for i := range grants {
		running += grants[i].Credits
		if running >= amount {
			return &grants[i]
		}
	}
	return nil
}

func isInsufficient(err error) bool {
	var insufficient *ledger.InsufficientCreditsError
	return errors.As(err, &insufficient)
}
