package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/goliatone/go-replica/keyed"
	"github.com/goliatone/go-replica/settings"
	"github.com/goliatone/go-replica/snapshot"
	"golang.org/x/time/rate"
)

// ErrThrottled is returned by Manual when refreshes are requested too often.
var ErrThrottled = errors.New("refresh: manual refresh throttled")

// Target is the replica surface a refresh reads from and writes to.
type Target interface {
	State() snapshot.Snapshot
	Update(ctx context.Context, partial snapshot.Snapshot) error
	Subscribe(keys []string, fn keyed.Callback) func()
}

// Diff describes how a refresh changed the selector bundle.
type Diff struct {
	Added     []string  `json:"added,omitempty"`
	Removed   []string  `json:"removed,omitempty"`
	Changed   []string  `json:"changed,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Empty reports whether the bundle came back unchanged.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Refresher pulls the remote bundle into a Target.
type Refresher struct {
	fetcher Fetcher
	target  Target
	logger  *slog.Logger
	now     func() time.Time
	limiter *rate.Limiter
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides time.Now for the lastUpdatedSelectors stamp.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

// WithManualLimit allows burst manual refreshes, refilled one per every.
func WithManualLimit(every time.Duration, burst int) Option {
	return func(r *Refresher) {
		r.limiter = rate.NewLimiter(rate.Every(every), burst)
	}
}

// NewRefresher returns a refresher writing into target. Manual refreshes
// default to one per minute with a burst of three.
func NewRefresher(fetcher Fetcher, target Target, opts ...Option) (*Refresher, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("refresh: fetcher is required")
	}
	if target == nil {
		return nil, fmt.Errorf("refresh: target is required")
	}
	r := &Refresher{
		fetcher: fetcher,
		target:  target,
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Every(time.Minute), 3),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Refresh fetches the bundle for the configured source and replaces the
// selectors with it. lastUpdatedSelectors is written in the same update so
// it always reflects the fetch that produced the selectors.
func (r *Refresher) Refresh(ctx context.Context) (Diff, error) {
	current, err := settings.Decode(r.target.State())
	if err != nil {
		return Diff{}, fmt.Errorf("refresh: read settings: %w", err)
	}
	fetched, err := r.fetcher.Fetch(ctx, current.Source)
	if err != nil {
		r.logger.Warn("selector refresh failed", "source", string(current.Source), "error", err)
		return Diff{}, err
	}

	now := r.now()
	diff := diffSelectors(current.Selectors, fetched)
	diff.UpdatedAt = now
	err = r.target.Update(ctx, snapshot.Snapshot{
		settings.KeySelectors:            fetched.Map(),
		settings.KeyLastUpdatedSelectors: now.UnixMilli(),
	})
	if err != nil {
		return Diff{}, fmt.Errorf("refresh: store selectors: %w", err)
	}
	r.logger.Info("selectors refreshed",
		"source", string(current.Source),
		"added", len(diff.Added),
		"removed", len(diff.Removed),
		"changed", len(diff.Changed),
	)
	return diff, nil
}

// Manual runs Refresh on behalf of a user request, subject to the manual
// rate limit.
func (r *Refresher) Manual(ctx context.Context) (Diff, error) {
	if !r.limiter.Allow() {
		return Diff{}, ErrThrottled
	}
	return r.Refresh(ctx)
}

func diffSelectors(before, after settings.Selectors) Diff {
	var diff Diff
	for name, selector := range after {
		previous, ok := before[name]
		switch {
		case !ok:
			diff.Added = append(diff.Added, name)
		case previous != selector:
			diff.Changed = append(diff.Changed, name)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			diff.Removed = append(diff.Removed, name)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Changed)
	return diff
}
