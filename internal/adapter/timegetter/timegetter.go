// Package timegetter contains the default [domain.TimeGetter]
// implementation.
package timegetter

import (
	"time"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
)

// TimeGetter implements [domain.TimeGetter] with the system clock. Times are
// truncated to milliseconds, the precision of stored dates, so that an
// entity compares equal to its stored copy.
type TimeGetter struct{}

// NewTimeGetter returns a new implementation of [domain.TimeGetter].
func NewTimeGetter() domain.TimeGetter {
	return TimeGetter{}
}

// GetTime implements [domain.TimeGetter].
func (TimeGetter) GetTime() time.Time {
	return time.Now().Truncate(time.Millisecond)
}
