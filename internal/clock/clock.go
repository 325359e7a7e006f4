// Package clock abstracts wall time so debounce windows and TTL sweeps can
// be driven by a simulated clock in tests instead of sleeping.
package clock

import "time"

// Timer is the controllable handle returned by AfterFunc.
type Timer interface {
	Reset(d time.Duration) bool
	Stop() bool
}

// Clock provides the current time and callback timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// System returns a Clock backed by the time package.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return systemTimer{time.AfterFunc(d, f)}
}

type systemTimer struct{ t *time.Timer }

func (st systemTimer) Reset(d time.Duration) bool { return st.t.Reset(d) }
func (st systemTimer) Stop() bool                 { return st.t.Stop() }
