// Package schedule drives the past-event filter: one pass at start, a
// settle pass shortly after, a recurring cron pass, and on-demand passes.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"festpage/internal/clock"
	appLog "festpage/internal/log"
	"festpage/internal/pastevent"
)

// Runner performs one filter pass.
type Runner interface {
	Run(ctx context.Context, trigger pastevent.Trigger) (pastevent.Report, error)
}

// Options configures a Scheduler.
type Options struct {
	// Spec is a standard cron expression or descriptor. Default "@hourly".
	Spec string
	// SettleDelay is the delay of the one-shot pass after Start. Zero
	// disables it.
	SettleDelay time.Duration
	Location    *time.Location
	Clock       clock.Clock
	// OnPass, if set, is called after every pass that was not suppressed.
	OnPass func(pastevent.Report)
}

// Scheduler owns the cron entry and the settle timer.
type Scheduler struct {
	runner Runner
	opts   Options
	sched  cron.Schedule
	cron   *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	settle  clock.Timer
	started bool
	stopped bool
}

// New validates opts.Spec and prepares, but does not start, the schedule.
func New(r Runner, opts Options) (*Scheduler, error) {
	if r == nil {
		return nil, errors.New("schedule: runner is nil")
	}
	if opts.Spec == "" {
		opts.Spec = "@hourly"
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	sched, err := cron.ParseStandard(opts.Spec)
	if err != nil {
		return nil, fmt.Errorf("schedule: parse %q: %w", opts.Spec, err)
	}

	logger := cronLogger{}
	s := &Scheduler{
		runner: r,
		opts:   opts,
		sched:  sched,
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
	s.cron.Schedule(sched, cron.FuncJob(func() {
		s.fire(pastevent.TriggerInterval)
	}))
	return s, nil
}

// Start runs the load pass, arms the settle timer and starts cron. Calls
// after the first are no-ops. ctx bounds every scheduled pass.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if _, err := s.Trigger(s.ctx, pastevent.TriggerLoad); err != nil {
		return fmt.Errorf("schedule: initial pass: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	if s.opts.SettleDelay > 0 {
		s.settle = s.opts.Clock.AfterFunc(s.opts.SettleDelay, func() {
			s.fire(pastevent.TriggerSettle)
		})
	}
	s.cron.Start()

	appLog.Info("scheduler started",
		"spec", s.opts.Spec,
		"settle_delay", s.opts.SettleDelay.String(),
		"next", s.nextLocked().Format(time.RFC3339),
	)
	return nil
}

// Trigger runs a pass now.
func (s *Scheduler) Trigger(ctx context.Context, trigger pastevent.Trigger) (pastevent.Report, error) {
	rep, err := s.runner.Run(ctx, trigger)
	if err != nil {
		return rep, err
	}
	if !rep.Suppressed && s.opts.OnPass != nil {
		s.opts.OnPass(rep)
	}
	return rep, nil
}

func (s *Scheduler) fire(trigger pastevent.Trigger) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := s.Trigger(ctx, trigger); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("scheduled pass failed", err, "trigger", trigger)
	}
}

// Next returns the next time the recurring pass fires.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked()
}

func (s *Scheduler) nextLocked() time.Time {
	return s.sched.Next(s.opts.Clock.Now().In(s.opts.Location))
}

// Stop cancels the settle timer and stops cron, waiting for a running
// pass to finish. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.settle != nil {
		s.settle.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.cron.Stop().Done()
	}
	appLog.Info("scheduler stopped")
}

// cronLogger routes cron's own logging through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
