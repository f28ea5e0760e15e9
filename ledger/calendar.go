package ledger

import "time"

// =============================================================================
// DAY-PRESERVING MONTH ARITHMETIC
// =============================================================================

// AddMonthsPreservingDay adds k months to t, one month at a time. Each step
// keeps the day of month, clamped to the last day of the target month, and
// the clamped day is carried into the next step. Time of day and location
// are preserved.
//
//	2024-01-31 +1 = 2024-02-29
//	2024-01-31 +2 = 2024-03-29
//	2023-01-31 +1 = 2023-02-28
//
// This differs from time.AddDate, which normalizes Feb 31 into March.
func AddMonthsPreservingDay(t time.Time, k int) time.Time {
	step := 1
	if k < 0 {
		step, k = -1, -k
	}
	for i := 0; i < k; i++ {
		t = addMonthClamped(t, step)
	}
	return t
}

func addMonthClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	index := int(month) - 1 + months
	year += floorDiv(index, 12)
	target := time.Month(mod(index, 12) + 1)

	if last := DaysInMonth(year, target); day > last {
		day = last
	}
	return time.Date(year, target, day, hour, minute, sec, t.Nanosecond(), t.Location())
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayKey formats the UTC date of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DaysBetween returns whole UTC days from one day key to another.
func DaysBetween(from, to string) (int, error) {
	f, err := time.Parse(DateLayout, from)
	if err != nil {
		return 0, err
	}
	t, err := time.Parse(DateLayout, to)
	if err != nil {
		return 0, err
	}
	return int(t.Sub(f).Hours() / 24), nil
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func mod(a, b int) int {
	return ((a % b) + b) % b
}
