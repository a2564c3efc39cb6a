package service

import (
	"time"
	_ "time/tzdata" // assignment timezones must resolve on hosts without zoneinfo

	"github.com/ignatij/coachflow/pkg/models"
)

// NextRunPolicy computes an assignment's next_run_at after a run at runAt.
// A nil result means the assignment has no further occurrence.
type NextRunPolicy interface {
	NextRun(a models.Assignment, runAt time.Time) *time.Time
}

// RecordOccurrence records the most recent occurrence as next_run_at and
// leaves calendar arithmetic to the scheduler layered on top.
type RecordOccurrence struct{}

func (RecordOccurrence) NextRun(a models.Assignment, runAt time.Time) *time.Time {
	if a.Cadence == models.OneTimeCadence {
		return nil
	}
	next := runAt
	return &next
}

// CalendarCadence sets next_run_at to the first occurrence after the run.
type CalendarCadence struct{}

func (CalendarCadence) NextRun(a models.Assignment, runAt time.Time) *time.Time {
	return NextOccurrence(a, runAt)
}

// NextOccurrence returns the first occurrence of a recurring assignment
// strictly after the given time. Occurrences are start_on plus whole cadence
// periods, counted in the assignment timezone, so late runs do not shift the
// schedule. One-time and unknown cadences have no next occurrence.
func NextOccurrence(a models.Assignment, after time.Time) *time.Time {
	start := a.StartOn.In(assignmentLocation(a))
	for n := 0; ; n++ {
		occ := Occurrence(a.Cadence, start, n)
		if occ == nil {
			return nil
		}
		if occ.After(after) {
			return occ
		}
	}
}

// Occurrence returns the n-th occurrence after start, or nil for one_time
// and unknown cadences. Monthly steps keep the start day of month and clamp
// it to the last day of shorter months.
func Occurrence(cadence models.Cadence, start time.Time, n int) *time.Time {
	var next time.Time
	switch cadence {
	case models.WeeklyCadence:
		next = start.AddDate(0, 0, 7*n)
	case models.MonthlyCadence:
		next = addMonths(start, n)
	case models.QuarterlyCadence:
		next = addMonths(start, 3*n)
	case models.AnnuallyCadence:
		next = addMonths(start, 12*n)
	default:
		return nil
	}
	next = next.UTC()
	return &next
}

func addMonths(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	day := t.Day()
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// StartOfDate reads a midnight start_on as a calendar date and returns
// midnight of that date in loc. Any other time is kept as an instant.
func StartOfDate(startOn time.Time, loc *time.Location) time.Time {
	if startOn.Hour() != 0 || startOn.Minute() != 0 || startOn.Second() != 0 || startOn.Nanosecond() != 0 {
		return startOn.UTC()
	}
	y, m, d := startOn.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).UTC()
}

// assignmentLocation falls back to UTC for timezones that no longer load.
func assignmentLocation(a models.Assignment) *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PolicyFor returns the next-run policy for a configured cadence mode:
// "calendar" selects CalendarCadence, anything else RecordOccurrence.
func PolicyFor(mode string) NextRunPolicy {
	if mode == "calendar" {
		return CalendarCadence{}
	}
	return RecordOccurrence{}
}
