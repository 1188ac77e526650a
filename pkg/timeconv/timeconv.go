// Package timeconv converts between UTC instants and wall-clock times in IANA zones.
package timeconv

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	// DateLayout is the wall date format (YYYY-MM-DD)
	DateLayout = "2006-01-02"

	// ClockLayout is the wall clock format (HH:MM, 24-hour)
	ClockLayout = "15:04"

	// InstantLayout is the only accepted UTC instant format (YYYY-MM-DDTHH:MM:SSZ)
	InstantLayout = "2006-01-02T15:04:05Z"

	// OffsetLayout is the numeric UTC offset format (+HH:MM)
	OffsetLayout = "-07:00"
)

var (
	// ErrInvalidTimeZone is returned when a zone name is not a recognized IANA zone
	ErrInvalidTimeZone = errors.New("invalid time zone")

	// ErrInvalidTimeFormat is returned when a date, clock, offset or instant cannot be parsed
	ErrInvalidTimeFormat = errors.New("invalid time format")
)

var (
	datePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	clockPattern   = regexp.MustCompile(`^\d{2}:\d{2}$`)
	offsetPattern  = regexp.MustCompile(`^[+-]\d{2}:\d{2}$`)
	instantPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`)
)

// Local is a wall-clock reading in some zone. Offset is optional; when set it
// selects between the two instants of a fall-back overlap.
type Local struct {
	Date   string `json:"date"`
	Clock  string `json:"time"`
	Offset string `json:"offset,omitempty"`
}

// LoadZone resolves an IANA zone name
func LoadZone(name string) (*time.Location, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeZone, name)
	}
	loc, err := time.LoadLocation(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeZone, name)
	}
	return loc, nil
}

// ParseInstant parses a UTC instant in InstantLayout
func ParseInstant(s string) (time.Time, error) {
	if !instantPattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYY-MM-DDTHH:MM:SSZ", ErrInvalidTimeFormat, s)
	}
	t, err := time.Parse(InstantLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYY-MM-DDTHH:MM:SSZ", ErrInvalidTimeFormat, s)
	}
	return t.UTC(), nil
}

// FormatInstant formats t as a UTC instant in InstantLayout
func FormatInstant(t time.Time) string {
	return t.UTC().Format(InstantLayout)
}

// LocalToUTC interprets date and clock as wall time in tz and returns the UTC
// instant, truncated to whole seconds.
func LocalToUTC(date, clock, tz string) (time.Time, error) {
	return Local{Date: date, Clock: clock}.UTC(tz)
}

// UTCToLocal returns the wall date, clock and offset of instant in tz
func UTCToLocal(instant time.Time, tz string) (Local, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return Local{}, err
	}
	wall := instant.In(loc)
	return Local{
		Date:   wall.Format(DateLayout),
		Clock:  wall.Format(ClockLayout),
		Offset: wall.Format(OffsetLayout),
	}, nil
}

// UTC resolves the wall time in tz to a UTC instant.
//
// A wall time inside a spring-forward gap is read with the offset in effect
// before the transition, which moves it forward by the gap length. A wall time
// inside a fall-back overlap resolves to the occurrence matching l.Offset, or
// the earlier occurrence when no offset matches.
func (l Local) UTC(tz string) (time.Time, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return time.Time{}, err
	}

	if !datePattern.MatchString(l.Date) || !clockPattern.MatchString(l.Clock) {
		return time.Time{}, fmt.Errorf("%w: %q %q is not YYYY-MM-DD HH:MM", ErrInvalidTimeFormat, l.Date, l.Clock)
	}
	wall, err := time.Parse(DateLayout+" "+ClockLayout, l.Date+" "+l.Clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q %q: %v", ErrInvalidTimeFormat, l.Date, l.Clock, err)
	}

	hint, hasHint := 0, false
	if l.Offset != "" {
		hint, err = parseOffset(l.Offset)
		if err != nil {
			return time.Time{}, err
		}
		hasHint = true
	}

	return resolve(wall, loc, hint, hasHint).Truncate(time.Second), nil
}

// resolve maps wall (a wall reading stored as if it were UTC) onto an instant in loc
func resolve(wall time.Time, loc *time.Location, hint int, hasHint bool) time.Time {
	offsets := candidateOffsets(wall, loc)

	var valid []time.Time
	for _, off := range offsets {
		candidate := wall.Add(-time.Duration(off) * time.Second)
		if offsetAt(candidate, loc) == off {
			valid = append(valid, candidate)
		}
	}

	if len(valid) > 0 {
		sort.Slice(valid, func(i, j int) bool { return valid[i].Before(valid[j]) })
		if hasHint {
			for _, candidate := range valid {
				if offsetAt(candidate, loc) == hint {
					return candidate
				}
			}
		}
		return valid[0]
	}

	// Gap: offsets only increase across a gap, so the smallest offset nearby is
	// the one in effect before the transition.
	before := offsets[0]
	for _, off := range offsets[1:] {
		if off < before {
			before = off
		}
	}
	return wall.Add(-time.Duration(before) * time.Second)
}

// candidateOffsets lists the distinct offsets loc uses within a day and a half
// of wall. Every transition that can affect wall lies inside that window.
func candidateOffsets(wall time.Time, loc *time.Location) []int {
	seen := make(map[int]bool, 3)
	var offsets []int
	for _, probe := range []time.Duration{-36 * time.Hour, 0, 36 * time.Hour} {
		off := offsetAt(wall.Add(probe), loc)
		if !seen[off] {
			seen[off] = true
			offsets = append(offsets, off)
		}
	}
	return offsets
}

func offsetAt(t time.Time, loc *time.Location) int {
	_, off := t.In(loc).Zone()
	return off
}

func parseOffset(s string) (int, error) {
	if !offsetPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: offset %q is not ±HH:MM", ErrInvalidTimeFormat, s)
	}
	t, err := time.Parse(OffsetLayout, s)
	if err != nil {
		return 0, fmt.Errorf("%w: offset %q: %v", ErrInvalidTimeFormat, s, err)
	}
	_, off := t.Zone()
	return off, nil
}
