package util

import (
	"time"

	"limitup/internal/domain"
)

// CalendarDays returns the number of calendar days from one date to another,
// ignoring the time of day. The result is negative when to precedes from.
func CalendarDays(from, to time.Time) int {
	return int(domain.Date(to).Sub(domain.Date(from)).Hours() / 24)
}
