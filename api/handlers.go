/*
handlers.go - HTTP API handlers for the credit ledger

PURPOSE:
  Exposes the credit engines and the incentive scheduler via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Balance & reporting:
    GET    /api/users/{user}/balance             Spendable balance
    GET    /api/users/{user}/credits/expiring    Credits expiring soon (?horizon=72h)
    GET    /api/users/{user}/credits/summary     Aggregates (?window=&type=)
    GET    /api/users/{user}/credits/timeline    History page (?window=&type=&page=&limit=)

  Issuance & consumption:
    POST   /api/users/{user}/credits/new-user    Sign-up bonus (idempotent)
    POST   /api/users/{user}/credits/grants      Manual grant
    POST   /api/users/{user}/credits/debits      Charge a generation job
    POST   /api/orders                           Issue credits for a paid order

  Reversal:
    POST   /api/generations/{generation}/void     Refund a failed job
    POST   /api/generations/{generation}/restore  Undo a refund

  Daily rewards:
    GET    /api/users/{user}/check-in            Check-in status
    POST   /api/users/{user}/check-in            Claim today's check-in
    GET    /api/users/{user}/share-reward        Share reward status
    POST   /api/users/{user}/share-reward        Claim today's share reward

  Admin:
    GET    /api/admin/consumption-cost           Spend report (?month=YYYY-MM | ?range=all|current)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, unknown filters
  - 402: Insufficient credits (body carries required/available)
  - 409: Reward already claimed today
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/credit-ledger/credits"
	"github.com/warp/credit-ledger/incentive"
	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes all ledger data. Only the scenario endpoints use it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *credits.Engine
	Incentive *incentive.Scheduler
	Store     Resetter

	log zerolog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. store may be nil, in which case the
// scenario endpoints answer 501.
func NewHandler(engine *credits.Engine, scheduler *incentive.Scheduler, store Resetter, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:    engine,
		Incentive: scheduler,
		Store:     store,
		log:       log.With().Str("component", "api").Logger(),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// BALANCE & REPORTING HANDLERS
// =============================================================================

// GetBalance returns the spendable balance of a user.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	balance, err := h.Engine.Balance(r.Context(), user)
	if err != nil {
		h.writeEngineError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{UserUUID: user, Balance: balance})
}

// GetExpiring returns credits expiring within ?horizon= (Go duration,
// default from config).
func (h *Handler) GetExpiring(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	var horizon time.Duration
	if v := r.URL.Query().Get("horizon"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid horizon", err)
			return
		}
		horizon = d
	}

	exp, err := h.Engine.ExpiringSoon(r.Context(), user, horizon)
	if err != nil {
		h.writeEngineError(w, "Failed to get expiring credits", err)
		return
	}
	writeJSON(w, http.StatusOK, ExpiringDTO{
		UserUUID:       user,
		Amount:         exp.Amount,
		NextExpiringAt: formatTimePtr(exp.NextExpiringAt),
		HorizonHours:   exp.Horizon.Hours(),
	})
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	q := r.URL.Query()

	summary, err := h.Engine.Summary(r.Context(), credits.SummaryParams{
		UserUUID:  user,
		Window:    ledger.Window(q.Get("window")),
		Direction: ledger.Direction(q.Get("type")),
	})
	if err != nil {
		h.writeEngineError(w, "Failed to get summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(user, summary))
}

func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	q := r.URL.Query()

	page, err := intParam(q.Get("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page", err)
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	tl, err := h.Engine.Timeline(r.Context(), credits.TimelineParams{
		UserUUID:  user,
		Window:    ledger.Window(q.Get("window")),
		Direction: ledger.Direction(q.Get("type")),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to get timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineDTO(user, tl))
}

// =============================================================================
// ISSUANCE & CONSUMPTION HANDLERS
// =============================================================================

// GrantNewUser issues the sign-up bonus. Calling it again returns the
// original grant.
func (h *Handler) GrantNewUser(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Engine.GrantNewUser(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		h.writeEngineError(w, "Failed to grant new user credits", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	activatedAt, err := parseTime(req.ActivatedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid activated_at", err)
		return
	}
	expiredAt, err := parseTime(req.ExpiredAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expired_at", err)
		return
	}

	entry, err := h.Engine.Grant(r.Context(), credits.GrantRequest{
		UserUUID:    chi.URLParam(r, "user"),
		TransType:   ledger.TransType(req.TransType),
		Credits:     req.Credits,
		ActivatedAt: activatedAt,
		ExpiredAt:   expiredAt,
		OrderNo:     req.OrderNo,
		TransNo:     req.TransNo,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to grant credits", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// CreateDebit charges a generation job. A repeated call for the same
// generation returns the existing charge.
func (h *Handler) CreateDebit(w http.ResponseWriter, r *http.Request) {
	var req DebitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	transType := ledger.TransType(req.TransType)
	if req.Feature != "" {
		feature, err := ledger.ParseFeature(req.Feature)
		if err != nil {
			h.writeEngineError(w, "Invalid feature", err)
			return
		}
		transType = ledger.MustGenerationType(feature)
	}

	entry, err := h.Engine.Debit(r.Context(), credits.DebitRequest{
		UserUUID:       chi.URLParam(r, "user"),
		TransType:      transType,
		Credits:        req.Credits,
		GenerationUUID: req.GenerationUUID,
		OrderNo:        req.OrderNo,
		TransNo:        req.TransNo,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to debit credits", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// IssueForOrder issues credits for a paid order. Replays answer 200 with
// no entries; the first call answers 201.
func (h *Handler) IssueForOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	paidAt, err := parseTime(req.PaidAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid paid_at", err)
		return
	}
	createdAt, err := parseTime(req.CreatedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid created_at", err)
		return
	}

	entries, err := h.Engine.IssueForOrder(r.Context(), credits.Order{
		OrderNo:   req.OrderNo,
		UserUUID:  req.UserUUID,
		Interval:  ledger.Interval(req.Interval),
		Credits:   req.Credits,
		PaidAt:    paidAt,
		CreatedAt: createdAt,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to issue order credits", err)
		return
	}

	dto := OrderDTO{OrderNo: req.OrderNo, Created: len(entries), Entries: make([]EntryDTO, 0, len(entries))}
	for _, e := range entries {
		dto.Entries = append(dto.Entries, toEntryDTO(e))
	}
	status := http.StatusCreated
	if len(entries) == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, dto)
}

// =============================================================================
// REVERSAL HANDLERS
// =============================================================================

func (h *Handler) VoidGeneration(w http.ResponseWriter, r *http.Request) {
	h.reverse(w, r, true)
}

func (h *Handler) RestoreGeneration(w http.ResponseWriter, r *http.Request) {
	h.reverse(w, r, false)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request, void bool) {
	var req ReversalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	generation := chi.URLParam(r, "generation")

	var (
		n   int
		err error
	)
	if void {
		n, err = h.Engine.Void(r.Context(), req.UserUUID, generation, req.Reason)
	} else {
		n, err = h.Engine.Restore(r.Context(), req.UserUUID, generation)
	}
	if err != nil {
		h.writeEngineError(w, "Failed to update generation charges", err)
		return
	}
	writeJSON(w, http.StatusOK, ReversalDTO{GenerationUUID: generation, Affected: n})
}

// =============================================================================
// DAILY REWARD HANDLERS
// =============================================================================

func (h *Handler) GetCheckIn(w http.ResponseWriter, r *http.Request) {
	status, err := h.Incentive.CheckInStatus(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		h.writeEngineError(w, "Failed to get check-in status", err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckInStatusDTO(status))
}

func (h *Handler) ClaimCheckIn(w http.ResponseWriter, r *http.Request) {
	result, err := h.Incentive.ClaimCheckIn(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		h.writeEngineError(w, "Failed to claim check-in", err)
		return
	}
	writeJSON(w, http.StatusCreated, CheckInResultDTO{Reward: result.Reward, Streak: result.Streak})
}

func (h *Handler) GetShareReward(w http.ResponseWriter, r *http.Request) {
	status, err := h.Incentive.ShareStatus(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		h.writeEngineError(w, "Failed to get share reward status", err)
		return
	}
	writeJSON(w, http.StatusOK, ShareStatusDTO{
		ReceivedToday: status.ReceivedToday,
		Reward:        status.Reward,
		Today:         status.Today,
	})
}

// ClaimShareReward accepts an optional body with metadata describing the
// share (platform, link).
func (h *Handler) ClaimShareReward(w http.ResponseWriter, r *http.Request) {
	var req ShareRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	result, err := h.Incentive.ClaimShareReward(r.Context(), chi.URLParam(r, "user"), req.Metadata)
	if err != nil {
		h.writeEngineError(w, "Failed to claim share reward", err)
		return
	}
	writeJSON(w, http.StatusCreated, ShareResultDTO{Reward: result.Reward})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) GetConsumptionCost(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cost, err := h.Engine.ConsumptionCost(r.Context(), credits.CostParams{
		Month: q.Get("month"),
		Range: q.Get("range"),
	})
	if err != nil {
		h.writeEngineError(w, "Failed to compute consumption cost", err)
		return
	}
	writeJSON(w, http.StatusOK, toCostDTO(cost))
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusNotImplemented, "Reset is not supported by this store", nil)
		return
	}
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors to HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	var insufficient *ledger.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, ErrorResponse{
			Error:     message,
			Details:   err.Error(),
			Required:  &insufficient.Required,
			Available: &insufficient.Available,
		})
	case errors.Is(err, ledger.ErrAlreadyClaimed):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.log.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// parseTime accepts RFC 3339 timestamps or plain dates. Empty means zero.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(ledger.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or %s, got %q", ledger.DateLayout, s)
	}
	return t, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
