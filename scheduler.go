package scorecard

import "time"

// Timer is a scheduled callback that can be canceled.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay. Tests inject a manual one.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler schedules on wall clock timers.
var SystemScheduler Scheduler = realScheduler{}
