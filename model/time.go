package model

import "time"

// Epoch is the origin of Time32 and Time64 (2004-01-01T00:00:00Z).
var Epoch = time.Date(2004, time.January, 1, 0, 0, 0, 0, time.UTC)

// Time64 is a count of microseconds since Epoch.
type Time64 uint64

// Time32 is a count of seconds since Epoch.
type Time32 uint32

const (
	Microsecond Time64 = 1
	Millisecond        = 1000 * Microsecond
	Second             = 1000 * Millisecond
	Minute             = 60 * Second
)

// Time64From converts a wall-clock time. Times before Epoch clamp to zero.
func Time64From(t time.Time) Time64 {
	d := t.Sub(Epoch)
	if d < 0 {
		return 0
	}
	return Time64(d / time.Microsecond)
}

// Now returns the current time as Time64.
func Now() Time64 { return Time64From(time.Now()) }

func (t Time64) Time() time.Time { return Epoch.Add(time.Duration(t) * time.Microsecond) }

// Time32 truncates t to whole seconds.
func (t Time64) Time32() Time32 { return Time32(uint64(t) / uint64(Second)) }

func (t Time32) Time64() Time64 { return Time64(t) * Second }

// DurationFrom converts a time.Duration to a Time64 span. Negative durations clamp to zero.
func DurationFrom(d time.Duration) Time64 {
	if d < 0 {
		return 0
	}
	return Time64(d / time.Microsecond)
}

// ValidityPeriod is the half-open interval [Start, End).
type ValidityPeriod struct {
	Start Time64
	End   Time64
}

func (v ValidityPeriod) Contains(t Time64) bool { return t >= v.Start && t < v.End }
