/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	data for demos. Each scenario creates users (random UUIDs), issues
	credits through the same engines the API uses, and charges a few
	generation jobs.

AVAILABLE SCENARIOS:

	new-user:          Sign-up bonus and a couple of image generations
	yearly-subscriber: Yearly plan split into monthly grants, one refunded job
	expiring-soon:     Promotional grant about to expire next to a monthly plan
	daily-rewards:     Check-in and share rewards on top of the sign-up bonus

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create users with uuid.NewString()
 3. Issue credits via Engine.Grant / GrantNewUser / IssueForOrder
 4. Charge generations via Engine.Charge, optionally Void some

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "yearly-subscriber"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
  - credits/issuance.go: Issuance paths exercised here
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/warp/credit-ledger/credits"
	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-user",
		Name:        "New User",
		Description: "Sign-up bonus with two image generations charged",
	},
	{
		ID:          "yearly-subscriber",
		Name:        "Yearly Subscriber",
		Description: "Yearly plan issued as twelve monthly grants, one failed video refunded",
	},
	{
		ID:          "expiring-soon",
		Name:        "Expiring Soon",
		Description: "Promotional credits expiring in three days alongside a monthly plan",
	},
	{
		ID:          "daily-rewards",
		Name:        "Daily Rewards",
		Description: "Sign-up bonus plus today's check-in and share rewards",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) ([]string, error){
	"new-user":          (*Handler).loadNewUserScenario,
	"yearly-subscriber": (*Handler).loadYearlySubscriberScenario,
	"expiring-soon":     (*Handler).loadExpiringSoonScenario,
	"daily-rewards":     (*Handler).loadDailyRewardsScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	if h.Store == nil {
		writeError(w, http.StatusNotImplemented, "Reset is not supported by this store", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	users, err := load(h, ctx)
	if err != nil {
		h.writeEngineError(w, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.log.Info().Str("scenario", req.ScenarioID).Strs("users", users).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, LoadScenarioDTO{ScenarioID: req.ScenarioID, Users: users})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadNewUserScenario(ctx context.Context) ([]string, error) {
	user := uuid.NewString()
	if _, err := h.Engine.GrantNewUser(ctx, user); err != nil {
		return nil, err
	}
	if err := h.charge(ctx, user, ledger.FeatureImage, 4, 2); err != nil {
		return nil, err
	}
	return []string{user}, nil
}

func (h *Handler) loadYearlySubscriberScenario(ctx context.Context) ([]string, error) {
	user := uuid.NewString()
	now := h.Engine.Clock().Now()

	if _, err := h.Engine.IssueForOrder(ctx, credits.Order{
		OrderNo:  "ord_" + uuid.NewString(),
		UserUUID: user,
		Interval: ledger.IntervalYear,
		Credits:  1200,
		PaidAt:   now,
	}); err != nil {
		return nil, err
	}
	if err := h.charge(ctx, user, ledger.FeatureAvatar, 10, 3); err != nil {
		return nil, err
	}

	failed := uuid.NewString()
	if _, err := h.Engine.Charge(ctx, user, ledger.FeatureVideo, 20, failed); err != nil {
		return nil, err
	}
	if _, err := h.Engine.Void(ctx, user, failed, ""); err != nil {
		return nil, err
	}
	return []string{user}, nil
}

func (h *Handler) loadExpiringSoonScenario(ctx context.Context) ([]string, error) {
	user := uuid.NewString()
	now := h.Engine.Clock().Now()

	if _, err := h.Engine.Grant(ctx, credits.GrantRequest{
		UserUUID:    user,
		TransType:   ledger.TransSystemAdd,
		Credits:     50,
		ActivatedAt: now.Add(-27 * 24 * time.Hour),
		ExpiredAt:   now.Add(3 * 24 * time.Hour),
	}); err != nil {
		return nil, err
	}
	if _, err := h.Engine.IssueForOrder(ctx, credits.Order{
		OrderNo:  "ord_" + uuid.NewString(),
		UserUUID: user,
		Interval: ledger.IntervalMonth,
		Credits:  300,
		PaidAt:   now,
	}); err != nil {
		return nil, err
	}
	if err := h.charge(ctx, user, ledger.FeatureBackground, 5, 2); err != nil {
		return nil, err
	}
	return []string{user}, nil
}

func (h *Handler) loadDailyRewardsScenario(ctx context.Context) ([]string, error) {
	user := uuid.NewString()
	if _, err := h.Engine.GrantNewUser(ctx, user); err != nil {
		return nil, err
	}
	if _, err := h.Incentive.ClaimCheckIn(ctx, user); err != nil {
		return nil, err
	}
	if _, err := h.Incentive.ClaimShareReward(ctx, user, map[string]any{"platform": "x"}); err != nil {
		return nil, err
	}
	return []string{user}, nil
}

// charge debits n generation jobs of the given size.
func (h *Handler) charge(ctx context.Context, user string, feature ledger.Feature, amount int64, n int) error {
	for i := 0; i < n; i++ {
		if _, err := h.Engine.Charge(ctx, user, feature, amount, uuid.NewString()); err != nil {
			return err
		}
	}
	return nil
}
