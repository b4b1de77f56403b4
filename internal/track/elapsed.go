package track

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDuration is returned by ParseDuration for malformed input.
var ErrInvalidDuration = errors.New("invalid HH:MM:SS duration")

// Timer tracks the wall-clock duration of the active recording.
// It is not safe for concurrent use; the session manager owns it.
type Timer struct {
	now     func() time.Time
	start   time.Time
	frozen  time.Duration
	running bool
}

// NewTimer creates a stopped timer. A nil now uses time.Now.
func NewTimer(now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	return &Timer{now: now}
}

// Start captures the start instant and begins counting from zero.
func (t *Timer) Start() {
	t.start = t.now()
	t.frozen = 0
	t.running = true
}

// Stop freezes the elapsed value at the current instant.
func (t *Timer) Stop() {
	if !t.running {
		return
	}
	t.frozen = t.now().Sub(t.start)
	t.running = false
}

// Restore freezes the timer at d, as if a recording of that length had just stopped.
func (t *Timer) Restore(d time.Duration) {
	t.running = false
	t.start = time.Time{}
	t.frozen = d
}

// Reset returns the timer to its never-started state.
func (t *Timer) Reset() {
	t.running = false
	t.start = time.Time{}
	t.frozen = 0
}

// Running reports whether the timer is counting.
func (t *Timer) Running() bool {
	return t.running
}

// StartedAt returns the instant of the last Start, zero if none.
func (t *Timer) StartedAt() time.Time {
	return t.start
}

// Elapsed returns the live duration while running, the frozen one otherwise.
func (t *Timer) Elapsed() time.Duration {
	if t.running {
		return t.now().Sub(t.start)
	}
	return t.frozen
}

// FormatDuration renders d as zero-padded HH:MM:SS. Durations of a day or
// more wrap around like a UTC wall clock.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return time.Unix(0, 0).UTC().Add(d).Format("15:04:05")
}

// ParseDuration parses an HH:MM:SS string as produced by FormatDuration.
func ParseDuration(s string) (time.Duration, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	if h < 0 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}
