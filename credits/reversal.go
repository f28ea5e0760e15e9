package credits

import (
	"context"
	"fmt"

	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// REVERSAL
// =============================================================================

// Void cancels the active debits of a generation job so the credits count
// again. An empty reason uses Config.VoidReason. Voiding a job with no
// active debits is a no-op that returns 0.
func (e *Engine) Void(ctx context.Context, userUUID, generationUUID, reason string) (int, error) {
	if reason == "" {
		reason = e.cfg.VoidReason
	}
	return e.setVoided(ctx, userUUID, generationUUID, true, reason)
}

// Restore re-applies previously voided debits of a generation job and
// clears their audit fields.
func (e *Engine) Restore(ctx context.Context, userUUID, generationUUID string) (int, error) {
	return e.setVoided(ctx, userUUID, generationUUID, false, "")
}

func (e *Engine) setVoided(ctx context.Context, userUUID, generationUUID string, voided bool, reason string) (int, error) {
	if userUUID == "" || generationUUID == "" {
		return 0, fmt.Errorf("%w: user_uuid and generation_uuid are required", ledger.ErrInvalidRequest)
	}

	now := e.clock.Now()
	count := 0
	err := e.atomic(ctx, func(s ledger.Store) error {
		count = 0
		// Voiding flips active debits; restoring flips voided ones.
		debits, err := s.DebitsByGeneration(ctx, userUUID, generationUUID, !voided)
		if err != nil {
			return err
		}
		for _, d := range debits {
			if err := s.SetVoided(ctx, d.ID, voided, now, reason); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("set voided=%t for generation %s: %w", voided, generationUUID, err)
	}

	action := "restored"
	if voided {
		action = "voided"
	}
	e.log.Info().
		Str("user_uuid", userUUID).
		Str("generation_uuid", generationUUID).
		Int("entries", count).
		Msg("generation debits " + action)
	return count, nil
}
