// Package timeframe provides pure, DST-agnostic conversions between the
// engine's symbolic candle timeframes and UTC-aligned durations.
package timeframe

import (
	"fmt"
	"time"
)

// Timeframe is a symbolic candle period. The zero value is invalid.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
	W1  Timeframe = "W1"
	MN1 Timeframe = "MN1"
)

var durations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
	// W1 and MN1 do not have a fixed duration (calendar months vary); their
	// boundary alignment is handled specially in AlignDown. Duration still
	// reports a nominal value for display/config purposes.
	W1:  7 * 24 * time.Hour,
	MN1: 30 * 24 * time.Hour,
}

// Valid reports whether tf is one of the nine recognised timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := durations[tf]
	return ok
}

// Duration returns the timeframe's fixed duration. For W1 and MN1 this is a
// nominal value only — use AlignDown for correct calendar-aligned boundaries.
func Duration(tf Timeframe) (time.Duration, error) {
	d, ok := durations[tf]
	if !ok {
		return 0, fmt.Errorf("timeframe: unknown timeframe %q", tf)
	}
	return d, nil
}

// AlignDown returns the largest timeframe boundary instant <= ts, in UTC.
// The boundary is inclusive on its left edge: a tick timestamped exactly at
// a boundary belongs to the candle that opens at that boundary.
//
//   - M1..H4: epoch-aligned (ts truncated to the timeframe's duration).
//   - D1: aligned to UTC midnight.
//   - W1: aligned to Monday 00:00 UTC.
//   - MN1: aligned to the first day of the month, 00:00 UTC.
func AlignDown(ts time.Time, tf Timeframe) (time.Time, error) {
	ts = ts.UTC()
	switch tf {
	case M1, M5, M15, M30, H1, H4:
		d, err := Duration(tf)
		if err != nil {
			return time.Time{}, err
		}
		return ts.Truncate(d), nil
	case D1:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
	case W1:
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		// time.Weekday: Sunday=0 .. Saturday=6. Offset back to Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset), nil
	case MN1:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("timeframe: unknown timeframe %q", tf)
	}
}

// All returns the closed set of recognised timeframes in a fixed order
// (shortest to longest), useful for deterministic iteration.
func All() []Timeframe {
	return []Timeframe{M1, M5, M15, M30, H1, H4, D1, W1, MN1}
}
