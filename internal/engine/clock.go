package engine

import (
	"fmt"
	"iter"
	"time"
)

// StepMinutes is the fixed grid granularity shared by the forecast and
// the start-time search.
const StepMinutes = 15

// SlotsPerDay is the number of StepMinutes slices in one day.
const SlotsPerDay = 24 * 60 / StepMinutes

// ClockTime is a time of day without a date, held as minutes since
// midnight. Every range built from it is same-day: windows or tariff
// blocks that cross midnight are not supported and will miscompute.
type ClockTime int

// FormatError reports time-of-day text that is not in HH:MM form.
type FormatError struct {
	Input string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid time of day %q (want HH:MM)", e.Input)
}

// ParseClockTime parses 24-hour "HH:MM" text.
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, &FormatError{Input: s}
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Add returns the clock time the given number of minutes later.
func (c ClockTime) Add(minutes int) ClockTime {
	return c + ClockTime(minutes)
}

// slot maps the clock time onto the day's StepMinutes grid, snapping
// down to the slice it falls in.
func (c ClockTime) slot() int {
	return (int(c) / StepMinutes) % SlotsPerDay
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(text []byte) error {
	parsed, err := ParseClockTime(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Window is a same-day [Start, End) time-of-day range.
type Window struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// Overlaps reports whether the two ranges share any time at all.
func (w Window) Overlaps(o Window) bool {
	return w.Start < o.End && o.Start < w.End
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// Starts enumerates candidate start times on the StepMinutes grid:
// every Start + k*StepMinutes whose full run of durationMin minutes
// still ends by End. The sequence is finite and may be ranged over
// more than once.
func (w Window) Starts(durationMin int) iter.Seq[ClockTime] {
	return func(yield func(ClockTime) bool) {
		for cur := w.Start; cur.Add(durationMin) <= w.End; cur += StepMinutes {
			if !yield(cur) {
				return
			}
		}
	}
}
