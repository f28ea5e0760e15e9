/*
errors.go - Error taxonomy for the credit ledger

PURPOSE:
  All error types in one place. Engines return these unwrapped or wrapped
  with %w so callers can always match with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Idempotency - ErrDuplicateTransaction, ErrDuplicateReward
     Expected during retries. Engines convert them into no-op results.
  2. Input - ErrMissingExpiration, ErrInvalidAmount, ErrUnknownFeature,
     ErrUnknownInterval, ErrInvalidFilter, ErrInvalidRequest
     Fatal for the request. Never silently defaulted.
  3. Business - ErrInsufficientCredits, ErrAlreadyClaimed
     Surfaced to the caller as user-visible conditions.
  4. Persistence - everything else, propagated unchanged.

USAGE:
  _, err := engine.Debit(ctx, req)
  var insufficient *ledger.InsufficientCreditsError
  if errors.As(err, &insufficient) {
      // payment required: insufficient.Required, insufficient.Available
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateTransaction is returned when an entry with the same trans_no
	// (or the same grant order_no) already exists. Treat as already applied.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrDuplicateReward is returned by the store when the daily reward
	// uniqueness constraint rejects a claim record.
	ErrDuplicateReward = errors.New("duplicate reward record")

	// ErrMissingExpiration is returned when a grant has no expiration.
	ErrMissingExpiration = errors.New("expired_at is required for credit issuance")

	// ErrInvalidAmount is returned for zero or negative requested amounts.
	ErrInvalidAmount = errors.New("credits must be positive")

	// ErrInsufficientCredits is returned when a debit exceeds the balance.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrAlreadyClaimed is returned when an incentive was already claimed today.
	ErrAlreadyClaimed = errors.New("reward already claimed today")

	ErrUnknownFeature  = errors.New("unknown generation feature")
	ErrUnknownInterval = errors.New("unknown billing interval")
	ErrInvalidFilter   = errors.New("invalid filter")

	// ErrInvalidRequest is returned when a required identifier is missing.
	ErrInvalidRequest = errors.New("invalid request")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCreditsError provides the shortfall details of a failed debit.
type InsufficientCreditsError struct {
	UserUUID  string
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// AlreadyClaimedError identifies the claim that lost.
type AlreadyClaimedError struct {
	UserUUID string
	Kind     RewardKind
	Date     string
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("%s already claimed on %s", e.Kind, e.Date)
}

func (e *AlreadyClaimedError) Unwrap() error {
	return ErrAlreadyClaimed
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingExpiration) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrUnknownFeature) ||
		errors.Is(err, ErrUnknownInterval) ||
		errors.Is(err, ErrInvalidFilter) ||
		errors.Is(err, ErrInvalidRequest)
}
