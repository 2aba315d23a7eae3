package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIME_WINDOW timezones must resolve on hosts without a zoneinfo database

	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

type temporalCompareHandler struct {
	before bool
}

func (h temporalCompareHandler) Check(actual, expected, _ any) (bool, error) {
	a, ok := toTime(actual, time.UTC)
	if !ok {
		return false, fmt.Errorf("%w: actual %v", errNotTime, actual)
	}
	b, ok := toTime(expected, time.UTC)
	if !ok {
		return false, fmt.Errorf("%w: expected %v", errNotTime, expected)
	}
	if h.before {
		return a.Before(b), nil
	}
	return a.After(b), nil
}

// betweenHandler is inclusive on both bounds. The range is numeric when all
// three operands are numbers, temporal otherwise.
type betweenHandler struct{}

func (betweenHandler) Check(actual, lower, upper any) (bool, error) {
	if upper == nil {
		return false, fmt.Errorf("%w: between needs an upper bound", errMissingOperand)
	}
	a, okA := toFloat64(actual)
	lo, okLo := toFloat64(lower)
	hi, okHi := toFloat64(upper)
	if okA && okLo && okHi {
		return lo <= a && a <= hi, nil
	}

	at, ok := toTime(actual, time.UTC)
	if !ok {
		return false, fmt.Errorf("%w: actual %v", errNotTime, actual)
	}
	lt, ok := toTime(lower, time.UTC)
	if !ok {
		return false, fmt.Errorf("%w: lower bound %v", errNotTime, lower)
	}
	ht, ok := toTime(upper, time.UTC)
	if !ok {
		return false, fmt.Errorf("%w: upper bound %v", errNotTime, upper)
	}
	return !at.Before(lt) && !at.After(ht), nil
}

// timeWindowHandler matches when every configured sub-check passes.
// Recognized keys: timezone, days (0=Monday..6=Sunday), start_time/end_time
// (HH:MM[:SS], wraps past midnight when start > end) and start_date/end_date (YYYY-MM-DD).
type timeWindowHandler struct{}

func (timeWindowHandler) Check(actual, expected, _ any) (bool, error) {
	cfg, ok := rules.AsMap(expected)
	if !ok {
		return false, fmt.Errorf("time window config must be a map, got %T", expected)
	}
	if len(cfg) == 0 {
		return true, nil
	}

	loc := time.UTC
	if tz, ok := cfg["timezone"]; ok && tz != nil {
		l, err := time.LoadLocation(stringify(tz))
		if err != nil {
			return false, fmt.Errorf("unknown timezone %v: %w", tz, err)
		}
		loc = l
	}

	t, ok := toTime(actual, loc)
	if !ok {
		return false, fmt.Errorf("%w: actual %v", errNotTime, actual)
	}
	t = t.In(loc)

	if days, ok := cfg["days"]; ok && days != nil {
		match, err := matchWeekday(t, days)
		if err != nil || !match {
			return false, err
		}
	}

	start, hasStart := cfg["start_time"]
	end, hasEnd := cfg["end_time"]
	if hasStart || hasEnd {
		match, err := matchClock(t, start, end)
		if err != nil || !match {
			return false, err
		}
	}

	startDate, hasStartDate := cfg["start_date"]
	endDate, hasEndDate := cfg["end_date"]
	if hasStartDate || hasEndDate {
		match, err := matchDateRange(t, startDate, endDate)
		if err != nil || !match {
			return false, err
		}
	}
	return true, nil
}

func matchWeekday(t time.Time, days any) (bool, error) {
	list, ok := rules.AsList(days)
	if !ok {
		return false, fmt.Errorf("%w: days", errNotList)
	}
	today := (int(t.Weekday()) + 6) % 7
	found := false
	for _, d := range list {
		f, ok := toFloat64(d)
		if !ok || f != float64(int(f)) || f < 0 || f > 6 {
			return false, fmt.Errorf("%w: day %v", errOutOfRange, d)
		}
		if int(f) == today {
			found = true
		}
	}
	return found, nil
}

func matchClock(t time.Time, start, end any) (bool, error) {
	now := t.Hour()*60 + t.Minute()
	lo, hi := 0, 24*60-1
	if start != nil {
		m, err := parseClock(stringify(start))
		if err != nil {
			return false, err
		}
		lo = m
	}
	if end != nil {
		m, err := parseClock(stringify(end))
		if err != nil {
			return false, err
		}
		hi = m
	}
	if lo <= hi {
		return lo <= now && now <= hi, nil
	}
	return now >= lo || now <= hi, nil
}

// parseClock returns minutes since midnight for HH:MM or HH:MM:SS.
func parseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	limits := []int{23, 59, 59}
	vals := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		vals[i] = n
	}
	return vals[0]*60 + vals[1], nil
}

func matchDateRange(t time.Time, start, end any) (bool, error) {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	var lo, hi time.Time
	if start != nil {
		d, err := time.Parse(time.DateOnly, strings.TrimSpace(stringify(start)))
		if err != nil {
			return false, fmt.Errorf("invalid start_date: %w", err)
		}
		lo = d
		if day.Before(lo) {
			return false, nil
		}
	}
	if end != nil {
		d, err := time.Parse(time.DateOnly, strings.TrimSpace(stringify(end)))
		if err != nil {
			return false, fmt.Errorf("invalid end_date: %w", err)
		}
		hi = d
	}
	if start != nil && end != nil && lo.After(hi) {
		return false, fmt.Errorf("%w: start_date after end_date", errOutOfRange)
	}
	if end != nil && day.After(hi) {
		return false, nil
	}
	return true, nil
}
