package updater

import "time"

// NextFireTime returns when the periodic sync should run next. The first run
// is the next local midnight strictly after now. Later runs are intervalDays-1
// days (at least one) after the midnight of the previous run, so a two day
// cycle fires on consecutive midnights. A target that is already in the past,
// after a clock jump or a suspend, is replaced by the next midnight after now.
func NextFireTime(now, last time.Time, intervalDays int) time.Time {
	nextMidnight := midnight(now).AddDate(0, 0, 1)
	if last.IsZero() {
		return nextMidnight
	}

	step := max(1, intervalDays-1)
	next := midnight(last.In(now.Location())).AddDate(0, 0, step)
	if !next.After(now) {
		return nextMidnight
	}

	return next
}

func midnight(t time.Time) time.Time {
	year, month, day := t.Date()

	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
