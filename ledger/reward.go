package ledger

import "time"

// RewardKind identifies an incentive program.
type RewardKind string

const (
	RewardCheckIn  RewardKind = "check_in"
	RewardShareSNS RewardKind = "share_sns"
)

// DateLayout is the UTC day key used for "once per day" rewards.
const DateLayout = "2006-01-02"

// RewardRecord is one claimed incentive. (UserUUID, Kind, Date) is unique.
type RewardRecord struct {
	ID       string
	UserUUID string
	Kind     RewardKind
	Amount   int64
	Date     string // DateLayout, UTC
	Streak   int
	Metadata map[string]any

	CreatedAt time.Time
}
