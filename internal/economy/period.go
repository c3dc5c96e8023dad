package economy

import (
	"fmt"
	"time"
)

type PeriodKind string

const (
	PeriodDaily  PeriodKind = "daily"
	PeriodWeekly PeriodKind = "weekly"
)

func ParsePeriodKind(s string) (PeriodKind, error) {
	switch PeriodKind(s) {
	case PeriodDaily, PeriodWeekly:
		return PeriodKind(s), nil
	}
	return "", fmt.Errorf("%w: period kind %q", ErrInvalidAmount, s)
}

func (k PeriodKind) source() Source {
	if k == PeriodWeekly {
		return SourceWeeklyReward
	}
	return SourceDailyReward
}

// Period is a half-open interval [Start, End).
type Period struct {
	Kind  PeriodKind `json:"kind"`
	Key   string     `json:"key"`
	Start time.Time  `json:"start"`
	End   time.Time  `json:"end"`
}

const periodKeyLayout = "2006-01-02"

// DailyPeriod is the calendar day containing t in loc.
func DailyPeriod(t time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Period{
		Kind:  PeriodDaily,
		Key:   start.Format(periodKeyLayout),
		Start: start,
		End:   start.AddDate(0, 0, 1),
	}
}

// WeeklyPeriod is the ISO week (Monday 00:00 UTC) containing t.
func WeeklyPeriod(t time.Time) Period {
	u := t.UTC()
	offset := (int(u.Weekday()) + 6) % 7
	start := time.Date(u.Year(), u.Month(), u.Day()-offset, 0, 0, 0, 0, time.UTC)
	return Period{
		Kind:  PeriodWeekly,
		Key:   start.Format(periodKeyLayout),
		Start: start,
		End:   start.AddDate(0, 0, 7),
	}
}

func ClosedDailyPeriod(now time.Time, loc *time.Location) Period {
	cur := DailyPeriod(now, loc)
	return DailyPeriod(cur.Start.Add(-time.Nanosecond), loc)
}

func ClosedWeeklyPeriod(now time.Time) Period {
	cur := WeeklyPeriod(now)
	return WeeklyPeriod(cur.Start.Add(-time.Nanosecond))
}

func ClosedPeriod(kind PeriodKind, now time.Time, loc *time.Location) Period {
	if kind == PeriodWeekly {
		return ClosedWeeklyPeriod(now)
	}
	return ClosedDailyPeriod(now, loc)
}
