package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownCadence is returned by ParseCadence for an unrecognised value.
var ErrUnknownCadence = errors.New("scheduler: unknown cadence")

// Cadence is how often a source is re-acquired.
type Cadence string

const (
	Daily       Cadence = "daily"
	Weekly      Cadence = "weekly"
	EveryTwoWks Cadence = "every_2_weeks"
	Monthly     Cadence = "monthly"
)

// Cadences lists every cadence in ascending window order.
var Cadences = []Cadence{Daily, Weekly, EveryTwoWks, Monthly}

const day = 24 * time.Hour

// Window is the elapsed time after which a source with this cadence is due
// again: 1d, 3d, 1w and 2w respectively.
func (c Cadence) Window() time.Duration {
	switch c {
	case Weekly:
		return 3 * day
	case EveryTwoWks:
		return 7 * day
	case Monthly:
		return 14 * day
	default:
		return day
	}
}

// ParseCadence normalises s. Empty input is Daily.
func ParseCadence(s string) (Cadence, error) {
	c := Cadence(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return Daily, nil
	}
	for _, known := range Cadences {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCadence, s)
}

// IsDue reports whether a source last run at last is due at now. A source
// that never ran is always due.
func IsDue(c Cadence, last *time.Time, now time.Time) bool {
	if last == nil || last.IsZero() {
		return true
	}
	return !last.Add(c.Window()).After(now)
}
