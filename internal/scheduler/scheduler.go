package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, at time.Time) error

// Task is a unit of work executed on the scheduler goroutine between ticks.
type Task func(ctx context.Context)

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	RunOnStart   bool
}

// Scheduler serialises periodic ticks and queued tasks onto one goroutine, so
// a tick never overlaps another tick or a task.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}
}

// Run blocks, invoking tick at each interval and draining tasks in between,
// until ctx is cancelled. A nil tasks channel is allowed.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc, tasks <-chan Task) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
	delay:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case task := <-tasks:
				if task != nil {
					task(ctx)
				}
			case <-timer.C:
				break delay
			}
		}
	}

	if s.opts.RunOnStart {
		s.execute(ctx, tick, s.now().UTC())
	}

	next := s.nextTick(s.now().UTC())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-tasks:
			if task != nil {
				task(ctx)
			}
		case <-timer.C:
			s.execute(ctx, tick, s.tickTime(next))

			next = next.Add(s.opts.Interval)
			if now := s.now().UTC(); !next.After(now) {
				skipped := next
				next = s.nextTick(now)
				s.logger.Warn().Time("skipped_from", skipped).Time("next_tick", next).Msg("tick overran interval, skipping missed ticks")
			}
			timer.Reset(time.Until(next))
			s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc, at time.Time) {
	s.logger.Debug().Time("at", at).Msg("executing scheduled tick")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	next := now.Truncate(s.opts.Interval)
	if !next.After(now) {
		next = next.Add(s.opts.Interval)
	}
	return next
}

func (s *Scheduler) tickTime(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
