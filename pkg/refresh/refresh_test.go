package refresh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	replica "github.com/goliatone/go-replica"
	"github.com/goliatone/go-replica/pkg/message"
	"github.com/goliatone/go-replica/settings"
	"github.com/goliatone/go-replica/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTarget(t *testing.T, overrides snapshot.Snapshot) *replica.Replica {
	t.Helper()
	defaults := snapshot.Merge(overrides, settings.DefaultSnapshot())
	r, err := replica.New(context.Background(), message.RoleBackground, replica.WithDefaults(defaults))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestHTTPFetcherSubstitutesSource(t *testing.T) {
	var path atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path.Store(req.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"userMenuSelector":"[aria-label=\"Menu\"]","test":"h2"}`))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(WithURLTemplate(server.URL+"/refs/heads/{source}/constants.json"))
	got, err := fetcher.Fetch(context.Background(), settings.SourceDev)
	require.NoError(t, err)
	assert.Equal(t, "/refs/heads/dev/constants.json", path.Load())
	assert.Equal(t, settings.Selectors{"userMenuSelector": `[aria-label="Menu"]`, "test": "h2"}, got)

	assert.Contains(t, NewHTTPFetcher().URL(""), "/refs/heads/main/public/data/constants.json")
}

func TestHTTPFetcherErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "gone", http.StatusNotFound)
		},
		"json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"test":`))
		},
		"non-string": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"test":1}`))
		},
		"empty": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(handler)
			defer server.Close()
			_, err := NewHTTPFetcher(WithURLTemplate(server.URL)).Fetch(context.Background(), settings.SourceMain)
			assert.Error(t, err)
		})
	}
}

func TestRefreshReplacesSelectorsAndStamps(t *testing.T) {
	target := newTarget(t, snapshot.Snapshot{settings.KeySource: "dev"})
	var requested settings.Source
	fetcher := FetcherFunc(func(_ context.Context, source settings.Source) (settings.Selectors, error) {
		requested = source
		return settings.Selectors{
			"userNameSelector": "*[data-testid=User-Name]",
			"userMenuSelector": `[aria-label="Menu"]`,
			"brandNew":         "div",
		}, nil
	})
	now := time.UnixMilli(1_750_000_000_000)
	refresher, err := NewRefresher(fetcher, target, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	diff, err := refresher.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, settings.SourceDev, requested)
	assert.Equal(t, []string{"brandNew"}, diff.Added)
	assert.Equal(t, []string{"userMenuSelector"}, diff.Changed)
	assert.Contains(t, diff.Removed, "test")
	assert.True(t, diff.UpdatedAt.Equal(now))
	assert.False(t, diff.Empty())

	got, err := settings.Decode(target.State())
	require.NoError(t, err)
	assert.Len(t, got.Selectors, 3)
	assert.Equal(t, "div", got.Selectors["brandNew"])
	assert.Equal(t, now.UnixMilli(), got.LastUpdatedSelectors)
	assert.Equal(t, settings.SourceDev, got.Source, "other settings must survive a refresh")
}

func TestRefreshFailureLeavesStateAlone(t *testing.T) {
	target := newTarget(t, nil)
	refresher, err := NewRefresher(FetcherFunc(func(context.Context, settings.Source) (settings.Selectors, error) {
		return nil, assert.AnError
	}), target)
	require.NoError(t, err)

	_, err = refresher.Refresh(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	_, stamped := target.State()[settings.KeyLastUpdatedSelectors]
	assert.False(t, stamped)
}

func TestManualRefreshIsThrottled(t *testing.T) {
	target := newTarget(t, nil)
	fetcher := FetcherFunc(func(context.Context, settings.Source) (settings.Selectors, error) {
		return settings.DefaultSelectors(), nil
	})
	refresher, err := NewRefresher(fetcher, target, WithManualLimit(time.Hour, 1))
	require.NoError(t, err)

	diff, err := refresher.Manual(context.Background())
	require.NoError(t, err)
	assert.True(t, diff.Empty())
	_, err = refresher.Manual(context.Background())
	assert.ErrorIs(t, err, ErrThrottled)
}

func TestNewRefresherValidatesArguments(t *testing.T) {
	_, err := NewRefresher(nil, newTarget(t, nil))
	assert.Error(t, err)
	_, err = NewRefresher(FetcherFunc(nil), nil)
	assert.Error(t, err)
	_, err = NewScheduler(nil)
	assert.Error(t, err)
}

func fastPeriod(policy settings.UpdatePolicy) (time.Duration, bool) {
	switch policy {
	case settings.UpdateNever:
		return 0, false
	default:
		return 20 * time.Millisecond, true
	}
}

func TestSchedulerRefreshesAndRearmsOnPolicyChange(t *testing.T) {
	target := newTarget(t, nil)
	var fetches atomic.Int32
	fetcher := FetcherFunc(func(context.Context, settings.Source) (settings.Selectors, error) {
		fetches.Add(1)
		return settings.DefaultSelectors(), nil
	})
	refresher, err := NewRefresher(fetcher, target)
	require.NoError(t, err)
	scheduler, err := NewScheduler(refresher, WithPeriod(fastPeriod))
	require.NoError(t, err)

	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Stop()
	assert.Equal(t, int32(1), fetches.Load(), "first start refreshes immediately")
	assert.Equal(t, 20*time.Millisecond, scheduler.Armed())
	require.Error(t, scheduler.Start(context.Background()))

	require.Eventually(t, func() bool { return fetches.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, target.Update(context.Background(), snapshot.Snapshot{
		settings.KeyAutomaticUpdatePolicy: string(settings.UpdateNever),
	}))
	assert.Zero(t, scheduler.Armed())
	time.Sleep(30 * time.Millisecond)
	settled := fetches.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, settled, fetches.Load(), "never policy disarms the schedule")
}

func TestSchedulerSkipsInitialRefreshWhenStampedOrNever(t *testing.T) {
	for name, overrides := range map[string]snapshot.Snapshot{
		"stamped": {settings.KeyLastUpdatedSelectors: int64(1)},
		"never":   {settings.KeyAutomaticUpdatePolicy: string(settings.UpdateNever)},
	} {
		t.Run(name, func(t *testing.T) {
			target := newTarget(t, overrides)
			var fetches atomic.Int32
			refresher, err := NewRefresher(FetcherFunc(func(context.Context, settings.Source) (settings.Selectors, error) {
				fetches.Add(1)
				return settings.DefaultSelectors(), nil
			}), target)
			require.NoError(t, err)
			scheduler, err := NewScheduler(refresher, WithPeriod(func(settings.UpdatePolicy) (time.Duration, bool) {
				return time.Hour, true
			}))
			require.NoError(t, err)
			require.NoError(t, scheduler.Start(context.Background()))
			scheduler.Stop()
			assert.Zero(t, fetches.Load())
		})
	}
}
