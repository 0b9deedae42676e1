package domain

import (
	"fmt"
	"time"
)

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func NewTimeRange(start time.Time, duration time.Duration) TimeRange {
	return TimeRange{Start: start, End: start.Add(duration)}
}

// Overlaps reports whether the two half-open intervals intersect.
// Ranges that merely touch at a boundary do not overlap.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start.Before(other.End) && r.End.After(other.Start)
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// CombineDateTime builds a wall-clock instant from a calendar date
// ("2006-01-02") and a time of day ("15:04") in the given location.
func CombineDateTime(date, timeOfDay string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	t, err := time.Parse(TimeLayout, timeOfDay)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", timeOfDay, err)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}
