package supervisor

import (
	"time"
)

// Doer is a unit of recurring background work: the performance sampler and
// the cache cleanup pass both implement it.
type Doer interface {
	Do() error
	Shutdown()
}

// Scheduler runs a doer serially, once per period and once per manual
// trigger, never concurrently with itself.
type Scheduler struct {
	doer    Doer
	period  time.Duration
	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// NewScheduler creates and starts a scheduler. A zero period disables the
// scheduler entirely; triggers are ignored as well in that case.
func NewScheduler(doer Doer, period time.Duration) *Scheduler {
	s := &Scheduler{
		doer:    doer,
		period:  period,
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go s.run()

	return s
}

// Trigger requests an immediate run. Triggers arriving while the doer is
// already running coalesce into a single follow-up run. Trigger never
// blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// run waits out the period between executions, so a slow doer stretches its
// own cadence instead of piling up runs.
func (s *Scheduler) run() {
	defer close(s.done)

	for {
		var wait <-chan time.Time
		var trigger <-chan struct{}
		if s.period > 0 {
			wait = time.After(s.period)
			trigger = s.trigger
		}

		select {
		case <-wait:
			_ = s.doer.Do()
		case <-trigger:
			_ = s.doer.Do()
		case <-s.stop:
			s.doer.Shutdown()
			return
		}
	}
}

// Close waits for any active run to finish, stops the scheduler, and tells
// the doer to perform its shutdown tasks.
func (s *Scheduler) Close() error {
	close(s.stop)
	<-s.done

	return nil
}
