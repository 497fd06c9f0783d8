package funcs

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/roach88/rcmflow/internal/ir"
)

const day = 24 * time.Hour

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// DaysSince returns the number of whole days elapsed from date to now.
// Negative when date is in the future.
func DaysSince(date, now time.Time) int {
	return int(math.Floor(float64(now.Sub(date)) / float64(day)))
}

// DaysUntil returns the number of whole days from now until date.
func DaysUntil(date, now time.Time) int {
	return int(math.Floor(float64(date.Sub(now)) / float64(day)))
}

// BusinessDaysSince counts weekdays after date up to and including now,
// by calendar date in UTC. Weekends are excluded; holidays are not modelled.
func BusinessDaysSince(date, now time.Time) int {
	return businessDaysBetween(date, now)
}

// BusinessDaysUntil counts weekdays after now up to and including date.
func BusinessDaysUntil(date, now time.Time) int {
	return businessDaysBetween(now, date)
}

func businessDaysBetween(from, to time.Time) int {
	start := truncateDay(from)
	end := truncateDay(to)
	if end.Before(start) {
		return -businessDaysBetween(to, from)
	}

	total := int(end.Sub(start) / day)
	weeks := total / 7
	count := weeks * 5

	// Walk the remaining partial week.
	d := start.AddDate(0, 0, weeks*7)
	for i := 0; i < total%7; i++ {
		d = d.AddDate(0, 0, 1)
		if isWeekday(d) {
			count++
		}
	}
	return count
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// Sum adds the numeric coercion of every element.
func Sum(values ir.List) float64 {
	var total float64
	for _, v := range values {
		total += ir.ToNumber(v)
	}
	return total
}

// Count returns the number of elements.
func Count(values ir.List) int {
	return len(values)
}

// Average returns the mean of values, or 0 for an empty list.
func Average(values ir.List) float64 {
	if len(values) == 0 {
		return 0
	}
	return Sum(values) / float64(len(values))
}

// Min returns the smallest numeric coercion, or 0 for an empty list.
func Min(values ir.List) float64 {
	if len(values) == 0 {
		return 0
	}
	result := ir.ToNumber(values[0])
	for _, v := range values[1:] {
		result = math.Min(result, ir.ToNumber(v))
	}
	return result
}

// Max returns the largest numeric coercion, or 0 for an empty list.
func Max(values ir.List) float64 {
	if len(values) == 0 {
		return 0
	}
	result := ir.ToNumber(values[0])
	for _, v := range values[1:] {
		result = math.Max(result, ir.ToNumber(v))
	}
	return result
}

// IsDateInRange reports whether date lies within [start, end] inclusive.
func IsDateInRange(date, start, end time.Time) bool {
	return !date.Before(start) && !date.After(end)
}

// FormatDate substitutes the YYYY, MM and DD tokens in format with the
// UTC year, zero-padded month and zero-padded day of date. No other tokens
// are recognised.
func FormatDate(date time.Time, format string) string {
	u := date.UTC()
	return strings.NewReplacer(
		"YYYY", fmt.Sprintf("%04d", u.Year()),
		"MM", fmt.Sprintf("%02d", int(u.Month())),
		"DD", fmt.Sprintf("%02d", u.Day()),
	).Replace(format)
}
