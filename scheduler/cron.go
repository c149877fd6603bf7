package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField is one parsed field of a 5-field cron expression: the set of
// allowed values, or any=true to mean "every value matches" (a bare
// "*").
type cronField struct {
	any    bool
	values map[int]bool
}

func parseCronField(raw string, min, max int) (cronField, error) {
	raw = strings.TrimSpace(raw)
	if raw == "*" {
		return cronField{any: true}, nil
	}

	values := make(map[int]bool)
	for _, part := range strings.Split(raw, ",") {
		if step := strings.SplitN(part, "/", 2); len(step) == 2 {
			base, n, err := parseRange(step[0], min, max)
			if err != nil {
				return cronField{}, err
			}
			interval, err := strconv.Atoi(step[1])
			if err != nil || interval <= 0 {
				return cronField{}, fmt.Errorf("scheduler: invalid cron step %q", part)
			}
			for v := base; v <= n; v += interval {
				values[v] = true
			}
			continue
		}
		lo, hi, err := parseRange(part, min, max)
		if err != nil {
			return cronField{}, err
		}
		for v := lo; v <= hi; v++ {
			values[v] = true
		}
	}
	return cronField{values: values}, nil
}

// parseRange parses either a bare integer or an "lo-hi" range, defaulting
// to the field's full [min,max] span for a bare "*" embedded in a step
// expression (e.g. "*/15").
func parseRange(part string, min, max int) (int, int, error) {
	if part == "*" {
		return min, max, nil
	}
	if strings.Contains(part, "-") {
		bounds := strings.SplitN(part, "-", 2)
		lo, err1 := strconv.Atoi(bounds[0])
		hi, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil || lo < min || hi > max || lo > hi {
			return 0, 0, fmt.Errorf("scheduler: invalid cron range %q", part)
		}
		return lo, hi, nil
	}
	v, err := strconv.Atoi(part)
	if err != nil || v < min || v > max {
		return 0, 0, fmt.Errorf("scheduler: invalid cron value %q", part)
	}
	return v, v, nil
}

func (f cronField) matches(v int) bool {
	if f.any {
		return true
	}
	return f.values[v]
}

// CronSpec is a parsed 5-field standard cron expression (minute hour
// day-of-month month day-of-week). No library in the example pack does
// cron parsing, so this is the one deliberately hand-rolled ambient-stack
// piece in the whole repo.
type CronSpec struct {
	minute, hour, dom, month, dow cronField
	raw                           string
}

// ParseCron parses a 5-field cron expression.
func ParseCron(expr string) (CronSpec, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return CronSpec{}, fmt.Errorf("scheduler: cron expression %q must have 5 fields", expr)
	}

	minute, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return CronSpec{}, err
	}
	hour, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return CronSpec{}, err
	}
	dom, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return CronSpec{}, err
	}
	month, err := parseCronField(fields[3], 1, 12)
	if err != nil {
		return CronSpec{}, err
	}
	dow, err := parseCronField(fields[4], 0, 6)
	if err != nil {
		return CronSpec{}, err
	}

	return CronSpec{minute: minute, hour: hour, dom: dom, month: month, dow: dow, raw: expr}, nil
}

// Matches reports whether t falls on a minute this schedule fires on.
// Day-of-month and day-of-week are OR'd together when both are
// restricted, matching standard cron semantics.
func (c CronSpec) Matches(t time.Time) bool {
	if !c.minute.matches(t.Minute()) || !c.hour.matches(t.Hour()) || !c.month.matches(int(t.Month())) {
		return false
	}
	domRestricted := !c.dom.any
	dowRestricted := !c.dow.any
	switch {
	case domRestricted && dowRestricted:
		return c.dom.matches(t.Day()) || c.dow.matches(int(t.Weekday()))
	case domRestricted:
		return c.dom.matches(t.Day())
	case dowRestricted:
		return c.dow.matches(int(t.Weekday()))
	default:
		return true
	}
}

func (c CronSpec) String() string { return c.raw }
