// Package schedule decides whether a playlist is live at a given instant.
// Evaluation is pure: no clock access, no database access.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeRange is a daily time-of-day window in the schedule's timezone.
// Start and End are "HH:MM" strings on the wire. Ranges do not wrap
// midnight; a window spanning midnight is expressed as two ranges.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Recurrence restricts a schedule to certain days and times of day.
// DaysOfWeek uses ISO 8601 numbering (Monday=1 .. Sunday=7).
type Recurrence struct {
	DaysOfWeek []int       `json:"days_of_week,omitempty"`
	TimeRanges []TimeRange `json:"time_ranges,omitempty"`
}

// Schedule bounds when a playlist may play. A nil Schedule means the
// playlist is live whenever it is active.
type Schedule struct {
	StartAt    *time.Time  `json:"start_date,omitempty"`
	EndAt      *time.Time  `json:"end_date,omitempty"`
	Timezone   string      `json:"timezone,omitempty"`
	Recurrence *Recurrence `json:"recurrence,omitempty"`
	Priority   int         `json:"priority,omitempty"`
}

// IsLive reports whether a playlist with the given schedule is live at now.
// isActive is the playlist's own active flag; an inactive playlist is never
// live regardless of schedule.
func IsLive(s *Schedule, isActive bool, now time.Time) bool {
	if !isActive {
		return false
	}
	if s == nil {
		return true
	}
	if s.StartAt != nil && now.Before(*s.StartAt) {
		return false
	}
	if s.EndAt != nil && now.After(*s.EndAt) {
		return false
	}
	if s.Recurrence != nil {
		return matchesRecurrence(s.Recurrence, s.Timezone, now)
	}
	return true
}

func matchesRecurrence(r *Recurrence, timezone string, now time.Time) bool {
	loc, err := time.LoadLocation(normalizeTimezone(timezone))
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	if len(r.DaysOfWeek) > 0 {
		day := isoWeekday(local.Weekday())
		found := false
		for _, d := range r.DaysOfWeek {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(r.TimeRanges) == 0 {
		return true
	}

	minute := local.Hour()*60 + local.Minute()
	for _, tr := range r.TimeRanges {
		start, err := parseTimeOfDay(tr.Start)
		if err != nil {
			continue
		}
		end, err := parseTimeOfDay(tr.End)
		if err != nil {
			continue
		}
		if minute >= start && minute <= end {
			return true
		}
	}
	return false
}

// isoWeekday converts Go's Sunday=0 numbering to ISO Monday=1..Sunday=7.
func isoWeekday(wd time.Weekday) int {
	if wd == time.Sunday {
		return 7
	}
	return int(wd)
}

// parseTimeOfDay parses an "HH:MM" wire string into minutes since midnight.
// The wire format is kept string-typed for compatibility; comparison happens
// on the parsed value.
func parseTimeOfDay(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}

func normalizeTimezone(tz string) string {
	if tz == "" {
		return "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "UTC"
	}
	return tz
}

// Candidate is a live assignment competing to be a device's current playlist.
type Candidate struct {
	Priority   int
	AssignedAt time.Time
}

// Pick returns the index of the winning candidate: highest priority first,
// most recent assignment breaking ties. Returns -1 for an empty slice.
func Pick(cands []Candidate) int {
	best := -1
	for i, c := range cands {
		if best == -1 {
			best = i
			continue
		}
		b := cands[best]
		if c.Priority > b.Priority ||
			(c.Priority == b.Priority && c.AssignedAt.After(b.AssignedAt)) {
			best = i
		}
	}
	return best
}
