/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine types from the external contract: times are RFC 3339 strings,
  cost figures are decimal strings, and optional fields are omitted.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done by the engines, not in DTOs. Handlers only parse.

SEE ALSO:
  - handlers.go: Uses these types
  - credits/balance.go: Summary and Timeline source types
*/
package api

import (
	"time"

	"github.com/warp/credit-ledger/credits"
	"github.com/warp/credit-ledger/incentive"
	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// BALANCE & REPORTING
// =============================================================================

type BalanceDTO struct {
	UserUUID string `json:"user_uuid"`
	Balance  int64  `json:"balance"`
}

type ExpiringDTO struct {
	UserUUID       string  `json:"user_uuid"`
	Amount         int64   `json:"amount"`
	NextExpiringAt *string `json:"next_expiring_at,omitempty"`
	HorizonHours   float64 `json:"horizon_hours"`
}

type SummaryDTO struct {
	UserUUID       string  `json:"user_uuid"`
	Balance        int64   `json:"balance"`
	NetChange      int64   `json:"net_change"`
	TotalEarned    int64   `json:"total_earned"`
	TotalUsed      int64   `json:"total_used"`
	Expiring       int64   `json:"expiring"`
	NextExpiringAt *string `json:"next_expiring_at,omitempty"`
	LastEventAt    *string `json:"last_event_at,omitempty"`
	Window         string  `json:"window"`
	Type           string  `json:"type"`
}

// TimelineItemDTO is one row of the credit history.
type TimelineItemDTO struct {
	TransNo        string  `json:"trans_no"`
	TransType      string  `json:"trans_type"`
	Credits        int64   `json:"credits"`
	OrderNo        string  `json:"order_no,omitempty"`
	GenerationUUID string  `json:"generation_uuid,omitempty"`
	CreatedAt      string  `json:"created_at"`
	ActivatedAt    *string `json:"activated_at,omitempty"`
	ExpiredAt      *string `json:"expired_at,omitempty"`
	Interval       string  `json:"interval,omitempty"`
	Subscription   bool    `json:"subscription"`
}

type TimelineDTO struct {
	UserUUID string            `json:"user_uuid"`
	Items    []TimelineItemDTO `json:"items"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
	HasMore  bool              `json:"has_more"`
}

// EntryDTO is a raw ledger entry as written by an issuance or debit call.
type EntryDTO struct {
	TransNo        string `json:"trans_no"`
	UserUUID       string `json:"user_uuid"`
	TransType      string `json:"trans_type"`
	Credits        int64  `json:"credits"`
	OrderNo        string `json:"order_no,omitempty"`
	GenerationUUID string `json:"generation_uuid,omitempty"`
	ActivatedAt    string `json:"activated_at,omitempty"`
	ExpiredAt      string `json:"expired_at,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// =============================================================================
// ISSUANCE & CONSUMPTION
// =============================================================================

// GrantRequest issues credits outside the order flow (support, promotions).
type GrantRequest struct {
	TransType   string `json:"trans_type,omitempty"`
	Credits     int64  `json:"credits"`
	ActivatedAt string `json:"activated_at,omitempty"`
	ExpiredAt   string `json:"expired_at"`
	OrderNo     string `json:"order_no,omitempty"`
	TransNo     string `json:"trans_no,omitempty"`
}

// DebitRequest charges a generation job. Feature takes precedence over
// TransType.
type DebitRequest struct {
	Feature        string `json:"feature,omitempty"`
	TransType      string `json:"trans_type,omitempty"`
	Credits        int64  `json:"credits"`
	GenerationUUID string `json:"generation_uuid,omitempty"`
	OrderNo        string `json:"order_no,omitempty"`
	TransNo        string `json:"trans_no,omitempty"`
}

type OrderRequest struct {
	OrderNo   string `json:"order_no"`
	UserUUID  string `json:"user_uuid"`
	Interval  string `json:"interval"`
	Credits   int64  `json:"credits"`
	PaidAt    string `json:"paid_at,omitempty"`
	CreatedAt string `json:"created_at,omitempty"` // proration anchor when paid_at is absent
}

type OrderDTO struct {
	OrderNo string     `json:"order_no"`
	Created int        `json:"created"`
	Entries []EntryDTO `json:"entries"`
}

// ReversalRequest is the body of void and restore calls.
type ReversalRequest struct {
	UserUUID string `json:"user_uuid"`
	Reason   string `json:"reason,omitempty"`
}

type ReversalDTO struct {
	GenerationUUID string `json:"generation_uuid"`
	Affected       int    `json:"affected"`
}

// =============================================================================
// INCENTIVES
// =============================================================================

type CheckInStatusDTO struct {
	CheckedInToday bool   `json:"checked_in_today"`
	Streak         int    `json:"streak"`
	NextReward     int64  `json:"next_reward"`
	Today          string `json:"today"`
}

type CheckInResultDTO struct {
	Reward int64 `json:"reward"`
	Streak int   `json:"streak"`
}

type ShareStatusDTO struct {
	ReceivedToday bool   `json:"received_today"`
	Reward        int64  `json:"reward"`
	Today         string `json:"today"`
}

type ShareRequest struct {
	Metadata map[string]any `json:"metadata,omitempty"`
}

type ShareResultDTO struct {
	Reward int64 `json:"reward"`
}

// =============================================================================
// ADMIN
// =============================================================================

// CostDTO reports generation spend. Cents are decimal strings so fractions
// of a cent survive JSON.
type CostDTO struct {
	From            *string          `json:"from,omitempty"`
	To              *string          `json:"to,omitempty"`
	ConsumedCredits int64            `json:"consumed_credits"`
	ImageCredits    int64            `json:"image_credits"`
	VideoCredits    int64            `json:"video_credits"`
	ByFeature       map[string]int64 `json:"by_feature"`
	CostCents       string           `json:"cost_cents"`
	ImageCostCents  string           `json:"image_cost_cents"`
	VideoCostCents  string           `json:"video_cost_cents"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type LoadScenarioDTO struct {
	ScenarioID string   `json:"scenario_id"`
	Users      []string `json:"users"`
}

// ErrorResponse is the body of every non-2xx reply. Required and Available
// are set on 402 so clients can show the shortfall.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Required  *int64 `json:"required,omitempty"`
	Available *int64 `json:"available,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	dto := EntryDTO{
		TransNo:        e.TransNo,
		UserUUID:       e.UserUUID,
		TransType:      string(e.TransType),
		Credits:        e.Credits,
		OrderNo:        e.OrderNo,
		GenerationUUID: e.GenerationUUID,
		CreatedAt:      formatTime(e.CreatedAt),
	}
	if e.IsGrant() {
		dto.ActivatedAt = formatTime(e.ActivatedAt)
		dto.ExpiredAt = formatTime(e.ExpiredAt)
	}
	return dto
}

func toSummaryDTO(user string, s credits.Summary) SummaryDTO {
	return SummaryDTO{
		UserUUID:       user,
		Balance:        s.Balance,
		NetChange:      s.NetChange,
		TotalEarned:    s.TotalEarned,
		TotalUsed:      s.TotalUsed,
		Expiring:       s.Expiring,
		NextExpiringAt: formatTimePtr(s.NextExpiringAt),
		LastEventAt:    formatTimePtr(s.LastEventAt),
		Window:         string(s.Window),
		Type:           string(s.Direction),
	}
}

func toTimelineDTO(user string, tl credits.Timeline) TimelineDTO {
	items := make([]TimelineItemDTO, 0, len(tl.Items))
	for _, it := range tl.Items {
		items = append(items, TimelineItemDTO{
			TransNo:        it.TransNo,
			TransType:      string(it.TransType),
			Credits:        it.Credits,
			OrderNo:        it.OrderNo,
			GenerationUUID: it.GenerationUUID,
			CreatedAt:      formatTime(it.CreatedAt),
			ActivatedAt:    formatTimePtr(it.ActivatedAt),
			ExpiredAt:      formatTimePtr(it.ExpiredAt),
			Interval:       string(it.Interval),
			Subscription:   it.Subscription,
		})
	}
	return TimelineDTO{
		UserUUID: user,
		Items:    items,
		Page:     tl.Page,
		Limit:    tl.Limit,
		HasMore:  tl.HasMore,
	}
}

func toCostDTO(c credits.CostSummary) CostDTO {
	byFeature := make(map[string]int64, len(c.ByFeature))
	for f, n := range c.ByFeature {
		byFeature[string(f)] = n
	}
	return CostDTO{
		From:            formatTimePtr(c.From),
		To:              formatTimePtr(c.To),
		ConsumedCredits: c.ConsumedCredits,
		ImageCredits:    c.ImageCredits,
		VideoCredits:    c.VideoCredits,
		ByFeature:       byFeature,
		CostCents:       c.CostCents.String(),
		ImageCostCents:  c.ImageCostCents.String(),
		VideoCostCents:  c.VideoCostCents.String(),
	}
}

func toCheckInStatusDTO(s incentive.CheckInStatus) CheckInStatusDTO {
	return CheckInStatusDTO{
		CheckedInToday: s.CheckedInToday,
		Streak:         s.Streak,
		NextReward:     s.NextReward,
		Today:          s.Today,
	}
}
