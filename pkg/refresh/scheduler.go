package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goliatone/go-replica/settings"
	"github.com/goliatone/go-replica/snapshot"
)

// PeriodFunc maps an update policy to a refresh interval; ok false disarms
// the schedule.
type PeriodFunc func(settings.UpdatePolicy) (time.Duration, bool)

// Scheduler re-runs a Refresher on the interval of the automaticUpdatePolicy
// setting and re-arms whenever the policy changes, locally or from a peer.
type Scheduler struct {
	refresher *Refresher
	target    Target
	logger    *slog.Logger
	period    PeriodFunc

	rearm chan time.Duration

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
	armed       time.Duration
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPeriod overrides UpdatePolicy.Period.
func WithPeriod(fn PeriodFunc) SchedulerOption {
	return func(s *Scheduler) {
		if fn != nil {
			s.period = fn
		}
	}
}

// NewScheduler returns a stopped scheduler.
func NewScheduler(refresher *Refresher, opts ...SchedulerOption) (*Scheduler, error) {
	if refresher == nil {
		return nil, fmt.Errorf("refresh: refresher is required")
	}
	s := &Scheduler{
		refresher: refresher,
		target:    refresher.target,
		logger:    slog.New(slog.DiscardHandler),
		period:    settings.UpdatePolicy.Period,
		rearm:     make(chan time.Duration, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Start refreshes once when no refresh has ever happened and the policy
// allows it, then runs the schedule until ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("refresh: scheduler already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	current, err := settings.Decode(s.target.State())
	if err != nil {
		s.logger.Warn("scheduler could not read settings", "error", err)
	} else if current.LastUpdatedSelectors == 0 && current.AutomaticUpdatePolicy != settings.UpdateNever {
		if _, err := s.refresher.Refresh(ctx); err != nil {
			s.logger.Warn("initial selector refresh failed", "error", err)
		}
	}

	unsubscribe := s.target.Subscribe([]string{settings.KeyAutomaticUpdatePolicy}, s.onPolicy)
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop ends the schedule and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done, unsubscribe := s.cancel, s.done, s.unsubscribe
	s.cancel, s.unsubscribe = nil, nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
		<-done
	}
}

// Armed returns the interval currently scheduled; zero when disarmed.
func (s *Scheduler) Armed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// onPolicy runs inside the replica's notification path and must not block.
func (s *Scheduler) onPolicy(state snapshot.Snapshot) {
	policy, _ := state[settings.KeyAutomaticUpdatePolicy].(string)
	period, ok := s.period(settings.UpdatePolicy(policy))
	if !ok {
		period = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = period
	select {
	case <-s.rearm:
	default:
	}
	s.rearm <- period
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			return
		case period := <-s.rearm:
			stopTicker()
			if period > 0 {
				ticker = time.NewTicker(period)
				tick = ticker.C
				s.logger.Info("selector refresh armed", "period", period.String())
			} else {
				s.logger.Info("selector refresh disarmed")
			}
		case <-tick:
			if _, err := s.refresher.Refresh(ctx); err != nil {
				s.logger.Warn("scheduled selector refresh failed", "error", err)
			}
		}
	}
}
