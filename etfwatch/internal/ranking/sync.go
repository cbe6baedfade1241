package ranking

import (
	"time"
)

// LatestCommonDate returns the most recent date present in both lists.
// When there is none it returns a *Problem naming the latest date of each
// source.
func LatestCommonDate(priceDates, holdingDates []time.Time) (time.Time, error) {
	prices := make(map[string]struct{}, len(priceDates))
	for _, d := range priceDates {
		prices[d.Format(time.DateOnly)] = struct{}{}
	}
	var best time.Time
	for _, d := range holdingDates {
		if _, ok := prices[d.Format(time.DateOnly)]; ok && d.After(best) {
			best = d
		}
	}
	if !best.IsZero() {
		return best, nil
	}
	return time.Time{}, &Problem{
		Reason: ReasonOutOfSync,
		Detail: "Latest holdings date: " + latest(holdingDates) + ", Latest price date: " + latest(priceDates),
	}
}

func latest(dates []time.Time) string {
	var newest time.Time
	for _, d := range dates {
		if d.After(newest) {
			newest = d
		}
	}
	if newest.IsZero() {
		return "---"
	}
	return newest.Format("Jan 02, 2006")
}
