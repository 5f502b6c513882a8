// Package background wires the background role's message handlers and the
// selector refresh schedule onto a replica.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	replica "github.com/goliatone/go-replica"
	"github.com/goliatone/go-replica/pkg/message"
	"github.com/goliatone/go-replica/pkg/refresh"
	"github.com/goliatone/go-replica/pkg/rules"
)

// ErrOptionsUnavailable is reported when no options surface is configured.
var ErrOptionsUnavailable = errors.New("background: options surface unavailable")

// OpenOptionsFunc shows the options surface, optionally highlighting one
// setting.
type OpenOptionsFunc func(ctx context.Context, highlight string) error

// Config holds the service collaborators. Zero values get defaults: an
// HTTPFetcher, the built-in rule engines and a discard logger.
type Config struct {
	Fetcher     refresh.Fetcher
	Engines     *rules.Engines
	OpenOptions OpenOptionsFunc
	Logger      *slog.Logger

	RefreshOptions  []refresh.Option
	ScheduleOptions []refresh.SchedulerOption
	// DisableSchedule keeps manual refreshes but never refreshes on its own.
	DisableSchedule bool
}

// Service owns the background handlers.
type Service struct {
	replica     *replica.Replica
	refresher   *refresh.Refresher
	scheduler   *refresh.Scheduler
	engines     *rules.Engines
	openOptions OpenOptionsFunc
	logger      *slog.Logger
	scheduled   bool
}

var kinds = []message.Kind{
	message.KindManualUpdate,
	message.KindPartialUpdate,
	message.KindOpenOptions,
	message.KindEvaluateRule,
}

// New builds the service for a background replica.
func New(r *replica.Replica, cfg Config) (*Service, error) {
	if r == nil {
		return nil, fmt.Errorf("background: replica is required")
	}
	if r.Role() != message.RoleBackground {
		return nil, fmt.Errorf("background: replica role is %s, want %s", r.Role(), message.RoleBackground)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = refresh.NewHTTPFetcher()
	}
	engines := cfg.Engines
	if engines == nil {
		engines = rules.NewEngines(rules.WithLogger(rules.SlogLogger(logger)))
	}

	refreshOpts := append([]refresh.Option{refresh.WithLogger(logger)}, cfg.RefreshOptions...)
	refresher, err := refresh.NewRefresher(fetcher, r, refreshOpts...)
	if err != nil {
		return nil, err
	}
	scheduleOpts := append([]refresh.SchedulerOption{refresh.WithSchedulerLogger(logger)}, cfg.ScheduleOptions...)
	scheduler, err := refresh.NewScheduler(refresher, scheduleOpts...)
	if err != nil {
		return nil, err
	}
	return &Service{
		replica:     r,
		refresher:   refresher,
		scheduler:   scheduler,
		engines:     engines,
		openOptions: cfg.OpenOptions,
		logger:      logger,
		scheduled:   !cfg.DisableSchedule,
	}, nil
}

// Start registers the handlers and starts the refresh schedule.
func (s *Service) Start(ctx context.Context) error {
	s.replica.RegisterMessageHandler(message.KindManualUpdate, s.handleManualUpdate)
	s.replica.RegisterMessageHandler(message.KindPartialUpdate, s.handlePartialUpdate)
	s.replica.RegisterMessageHandler(message.KindOpenOptions, s.handleOpenOptions)
	s.replica.RegisterMessageHandler(message.KindEvaluateRule, rules.Handler(s.engines, s.replica.Role(), s.state))
	if !s.scheduled {
		s.logger.Info("selector schedule disabled")
		return nil
	}
	if err := s.scheduler.Start(ctx); err != nil {
		s.Stop()
		return err
	}
	return nil
}

// Stop halts the schedule and unregisters the handlers.
func (s *Service) Stop() {
	s.scheduler.Stop()
	for _, kind := range kinds {
		s.replica.UnregisterMessageHandler(kind)
	}
}

// Refresher exposes the refresher, e.g. for a CLI-triggered refresh.
func (s *Service) Refresher() *refresh.Refresher {
	return s.refresher
}

// Scheduler exposes the refresh schedule.
func (s *Service) Scheduler() *refresh.Scheduler {
	return s.scheduler
}

func (s *Service) state() map[string]any {
	return s.replica.State()
}

func (s *Service) handleManualUpdate(ctx context.Context, _ message.Message, sender message.Sender) (message.Response, error) {
	diff, err := s.refresher.Manual(ctx)
	if err != nil {
		s.logger.Warn("manual selector refresh failed", "from", string(sender.Role), "error", err)
		return message.Fail(err), nil
	}
	return message.OK("Selectors updated").WithData(diff)
}

func (s *Service) handlePartialUpdate(ctx context.Context, msg message.Message, _ message.Sender) (message.Response, error) {
	payload, err := message.Decode(msg)
	if err != nil {
		return message.Fail(err), nil
	}
	partial, ok := payload.(message.PartialUpdate)
	if !ok || len(partial.Partial) == 0 {
		return message.Failf("background: %s requires a partial snapshot", msg.Kind), nil
	}
	if err := s.replica.Update(ctx, partial.Partial); err != nil {
		return message.Fail(err), nil
	}
	return message.OK(message.StateUpdatedText), nil
}

func (s *Service) handleOpenOptions(ctx context.Context, msg message.Message, _ message.Sender) (message.Response, error) {
	if s.openOptions == nil {
		return message.Fail(ErrOptionsUnavailable), nil
	}
	payload, err := message.Decode(msg)
	if err != nil {
		return message.Fail(err), nil
	}
	open, _ := payload.(message.OpenOptions)
	if err := s.openOptions(ctx, open.Highlight); err != nil {
		return message.Fail(err), nil
	}
	return message.OK("Options opened"), nil
}
