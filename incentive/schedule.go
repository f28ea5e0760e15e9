package incentive

// Milestone adds a one-off bonus on a given day of the streak cycle.
type Milestone struct {
	Day   int   `yaml:"day"`
	Bonus int64 `yaml:"bonus"`
}

// Schedule describes how much each incentive pays.
type Schedule struct {
	CheckInBase    int64       `yaml:"check_in_base"`
	CycleDays      int         `yaml:"cycle_days"`
	Milestones     []Milestone `yaml:"milestones"`
	ShareReward    int64       `yaml:"share_reward"`
	ValidityMonths int         `yaml:"validity_months"`
}

// DefaultSchedule pays 10 a day, with totals of 20 on day 5, 40 on day 10
// and 70 on day 30 of each 30-day cycle, and 10 per daily share.
func DefaultSchedule() Schedule {
	return Schedule{
		CheckInBase: 10,
		CycleDays:   30,
		Milestones: []Milestone{
			{Day: 5, Bonus: 10},
			{Day: 10, Bonus: 30},
			{Day: 30, Bonus: 60},
		},
		ShareReward:    10,
		ValidityMonths: 1,
	}
}

// CheckInReward returns the reward for the given streak day (1-based).
func (s Schedule) CheckInReward(day int) int64 {
	if day < 1 {
		day = 1
	}
	cycleDay := day
	if s.CycleDays > 0 {
		cycleDay = ((day - 1) % s.CycleDays) + 1
	}

	reward := s.CheckInBase
	for _, m := range s.Milestones {
		if m.Day == cycleDay {
			reward += m.Bonus
			break
		}
	}
	return reward
}
