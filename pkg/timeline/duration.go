package timeline

import (
	"fmt"
	"strings"
	"time"
)

// Duration is the granularity bucket the timeline is viewed at.
type Duration string

const (
	DurationHour   Duration = "hour"
	DurationDay    Duration = "day"
	DurationWeek   Duration = "week"
	DurationMonth  Duration = "month"
	DurationYear   Duration = "year"
	DurationCustom Duration = "custom"
)

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// Millis returns the nominal length of the bucket. Custom has none.
func (d Duration) Millis() int64 {
	switch d {
	case DurationHour:
		return int64(time.Hour / time.Millisecond)
	case DurationDay:
		return dayMillis
	case DurationWeek:
		return 7 * dayMillis
	case DurationMonth:
		return 30 * dayMillis
	case DurationYear:
		return 365 * dayMillis
	}
	return 0
}

// ParseDuration maps a duration token onto a Duration.
func ParseDuration(s string) (Duration, error) {
	d := Duration(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DurationHour, DurationDay, DurationWeek, DurationMonth, DurationYear, DurationCustom:
		return d, nil
	}
	return "", fmt.Errorf("unknown duration %q", s)
}

// floorDay returns the start of the UTC day containing ms.
func floorDay(ms int64) int64 {
	d := ms % dayMillis
	if d < 0 {
		d += dayMillis
	}
	return ms - d
}
