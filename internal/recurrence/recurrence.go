// Package recurrence computes the next trigger time of a recurring task.
package recurrence

import (
	"time"

	"hookflow/internal/domain"
)

// Known reports whether kind is one of the recurring units Next understands.
func Known(kind domain.Recurrence) bool {
	switch kind {
	case domain.RecurMinute, domain.RecurHour, domain.RecurDay, domain.RecurMonth, domain.RecurYear:
		return true
	}
	return false
}

// Next returns now advanced by interval units of kind. It returns false for
// None and for any unrecognized kind. Month and year arithmetic uses
// time.AddDate, so Jan 31 + 1 month normalizes into March.
func Next(kind domain.Recurrence, interval int, now time.Time) (time.Time, bool) {
	switch kind {
	case domain.RecurMinute:
		return now.Add(time.Duration(interval) * time.Minute), true
	case domain.RecurHour:
		return now.Add(time.Duration(interval) * time.Hour), true
	case domain.RecurDay:
		return now.AddDate(0, 0, interval), true
	case domain.RecurMonth:
		return now.AddDate(0, interval, 0), true
	case domain.RecurYear:
		return now.AddDate(interval, 0, 0), true
	default:
		return time.Time{}, false
	}
}
