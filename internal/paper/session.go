package paper

import "time"

var newYork = loadNewYork()

func loadNewYork() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// RegularSession reports whether t falls in 09:30-16:00 New York time on a weekday. Exchange
// holidays are not modelled.
func RegularSession(t time.Time) bool {
	t = t.In(newYork)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	openAt, closeAt := sessionBounds(t)
	return !t.Before(openAt) && t.Before(closeAt)
}

func sessionBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.In(newYork).Date()
	return time.Date(y, m, d, 9, 30, 0, 0, newYork), time.Date(y, m, d, 16, 0, 0, 0, newYork)
}

// nextSession returns the next open strictly after now and the close of the current or next session.
func nextSession(now time.Time) (time.Time, time.Time) {
	var nextOpen, nextClose time.Time
	for day := now.In(newYork); nextOpen.IsZero() || nextClose.IsZero(); day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		openAt, closeAt := sessionBounds(day)
		if nextOpen.IsZero() && openAt.After(now) {
			nextOpen = openAt
		}
		if nextClose.IsZero() && closeAt.After(now) {
			nextClose = closeAt
		}
	}
	return nextOpen, nextClose
}
