package tracker

import (
	"fmt"
	"time"
)

// TimerView is the persistence timer as seen at a given instant.
type TimerView struct {
	Start    *time.Time    `json:"start"`
	Elapsed  time.Duration `json:"-"`
	Seconds  int64         `json:"elapsedSeconds"`
	Display  string        `json:"display"`
	HourMark bool          `json:"hourMark"`
}

// Elapsed returns the whole seconds between start and now. A missing start or
// a start in the future yields zero.
func Elapsed(start *time.Time, now time.Time) time.Duration {
	if start == nil || now.Before(*start) {
		return 0
	}
	return now.Sub(*start).Truncate(time.Second)
}

// FormatElapsed renders d as HHH:MM:SS. Hours grow past three digits rather
// than wrapping.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%03d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// IsHourMark reports whether d falls exactly on a completed hour.
func IsHourMark(d time.Duration) bool {
	secs := int64(d / time.Second)
	return secs >= 3600 && secs%3600 == 0
}

// ViewTimer projects start at now.
func ViewTimer(start *time.Time, now time.Time) TimerView {
	d := Elapsed(start, now)
	return TimerView{
		Start:    start,
		Elapsed:  d,
		Seconds:  int64(d / time.Second),
		Display:  FormatElapsed(d),
		HourMark: IsHourMark(d),
	}
}
