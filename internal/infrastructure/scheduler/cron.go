package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronExpression is a parsed five-field cron schedule
// (minute hour day-of-month month day-of-week). Each field supports
// "*", single values, ranges (n-m), lists (n,m,o) and steps (*/s, n-m/s).
//
// The engine uses these for the nightly recalibration pass
// ("0 3 * * *") and the weekly replay sweep ("0 4 * * 0").
type CronExpression struct {
	raw      string
	minutes  uint64 // bit i set = minute i matches
	hours    uint64
	days     uint64
	months   uint64
	weekdays uint64 // bit 0 = Sunday
}

type cronField struct {
	name string
	min  int
	max  int
}

var cronFields = [5]cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// ParseCronExpression parses a five-field cron expression.
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != len(cronFields) {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	ce := &CronExpression{raw: expr}
	sets := [5]*uint64{&ce.minutes, &ce.hours, &ce.days, &ce.months, &ce.weekdays}

	for i, field := range fields {
		set, err := parseCronField(field, cronFields[i].min, cronFields[i].max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", cronFields[i].name, err)
		}
		*sets[i] = set
	}
	return ce, nil
}

// parseCronField parses one field into a bit set over [min, max].
// Comma-separated terms are parsed independently and unioned.
func parseCronField(field string, min, max int) (uint64, error) {
	var set uint64
	for _, term := range strings.Split(field, ",") {
		termSet, err := parseCronTerm(strings.TrimSpace(term), min, max)
		if err != nil {
			return 0, err
		}
		set |= termSet
	}
	if set == 0 {
		return 0, fmt.Errorf("field %q matches nothing", field)
	}
	return set, nil
}

// parseCronTerm parses a single term: "*", "n", "n-m", optionally
// followed by "/step".
func parseCronTerm(term string, min, max int) (uint64, error) {
	step := 1
	if base, stepStr, found := strings.Cut(term, "/"); found {
		s, err := strconv.Atoi(stepStr)
		if err != nil || s <= 0 {
			return 0, fmt.Errorf("invalid step %q", stepStr)
		}
		term, step = base, s
	}

	start, end := min, max
	switch {
	case term == "*":
		// full range
	case strings.Contains(term, "-"):
		lo, hi, _ := strings.Cut(term, "-")
		var err error
		if start, err = strconv.Atoi(lo); err != nil {
			return 0, fmt.Errorf("invalid range start %q", lo)
		}
		if end, err = strconv.Atoi(hi); err != nil {
			return 0, fmt.Errorf("invalid range end %q", hi)
		}
		if start > end {
			return 0, fmt.Errorf("inverted range %q", term)
		}
	default:
		v, err := strconv.Atoi(term)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", term)
		}
		if v < min || v > max {
			return 0, fmt.Errorf("value %d out of range [%d-%d]", v, min, max)
		}
		start = v
		if step == 1 {
			end = v
		}
	}

	var set uint64
	for i := start; i <= end; i += step {
		if i >= min && i <= max {
			set |= 1 << uint(i)
		}
	}
	return set, nil
}

// String returns the original cron expression.
func (ce *CronExpression) String() string {
	return ce.raw
}

// Next implements Schedule. It returns the first matching minute
// strictly after the given time, scanning at most one year ahead.
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.Add(time.Minute).Truncate(time.Minute)

	limit := after.AddDate(1, 0, 1)
	for t.Before(limit) {
		if ce.days&(1<<uint(t.Day())) == 0 ||
			ce.months&(1<<uint(int(t.Month()))) == 0 ||
			ce.weekdays&(1<<uint(int(t.Weekday()))) == 0 {
			// Skip to the next day; the date fields cannot match today.
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if ce.hours&(1<<uint(t.Hour())) == 0 {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if ce.minutes&(1<<uint(t.Minute())) == 0 {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}

	// Unreachable for parsed expressions; every field has a set bit.
	return time.Time{}
}
