package domain

import "time"

const week = 7 * 24 * time.Hour

// NextOccurrence computes the next due instant of a schedule strictly from
// its cadence definition and the supplied reference time. It is pure: no
// wall-clock reads, no I/O, everything in UTC.
//
// The boundary is inclusive: when now falls exactly on the scheduled
// instant, that instant is returned, not the next cycle.
func NextOccurrence(s Schedule, now time.Time) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}
	now = now.UTC()

	switch s.Frequency {
	case FrequencyDaily:
		return nextDaily(s, now), nil
	case FrequencyWeekly:
		return nextWeekly(s, now), nil
	case FrequencyBiweekly:
		return nextBiweekly(s, now), nil
	default: // monthly, Validate rules out anything else
		return nextMonthly(s, now), nil
	}
}

func nextDaily(s Schedule, now time.Time) time.Time {
	at := atTimeOfDay(now, s.Hour, s.Minute)
	if at.Before(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

func nextWeekly(s Schedule, now time.Time) time.Time {
	return nextOnWeekday(now, time.Weekday(*s.DayOfWeek), s.Hour, s.Minute)
}

// nextBiweekly is weekly with parity pinned to the schedule's anchor: the
// first matching instant at or after AnchorAt defines week zero, and runs
// fire on even week offsets from it.
func nextBiweekly(s Schedule, now time.Time) time.Time {
	anchor := nextOnWeekday(s.AnchorAt.UTC(), time.Weekday(*s.DayOfWeek), s.Hour, s.Minute)
	at := nextOnWeekday(now, time.Weekday(*s.DayOfWeek), s.Hour, s.Minute)
	if at.Before(anchor) {
		return anchor
	}
	if weeks := at.Sub(anchor) / week; weeks%2 != 0 {
		at = at.AddDate(0, 0, 7)
	}
	return at
}

func nextMonthly(s Schedule, now time.Time) time.Time {
	at := monthlyInstant(now.Year(), now.Month(), *s.DayOfMonth, s.Hour, s.Minute)
	if at.Before(now) {
		y, m := now.Year(), now.Month()+1
		at = monthlyInstant(y, m, *s.DayOfMonth, s.Hour, s.Minute)
	}
	return at
}

// monthlyInstant clamps the day to the last calendar day of shorter months,
// so day 31 in February resolves to the 28th (or 29th).
func monthlyInstant(year int, month time.Month, day, hour, minute int) time.Time {
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func nextOnWeekday(from time.Time, wd time.Weekday, hour, minute int) time.Time {
	daysAhead := (int(wd) - int(from.Weekday()) + 7) % 7
	at := atTimeOfDay(from.AddDate(0, 0, daysAhead), hour, minute)
	if at.Before(from) {
		at = at.AddDate(0, 0, 7)
	}
	return at
}

func atTimeOfDay(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	// day 0 of the next month is the last day of this one
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
