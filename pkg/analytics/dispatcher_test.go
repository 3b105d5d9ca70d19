package analytics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manawiki/sitepulse/pkg/observability"
	"github.com/manawiki/sitepulse/pkg/payload"
)

type staticSites struct {
	sites []payload.Site
	err   error
}

func (s staticSites) EligibleSites(ctx context.Context) ([]payload.Site, error) {
	return s.sites, s.err
}

type runnerFunc func(ctx context.Context, site payload.Site) (*RunResult, error)

func (f runnerFunc) Run(ctx context.Context, site payload.Site) (*RunResult, error) {
	return f(ctx, site)
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	released int
	ttl      time.Duration
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, false, nil
	}
	l.held = true
	l.ttl = ttl
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.released++
		return nil
	}, true, nil
}

func sitesN(n int) []payload.Site {
	sites := make([]payload.Site, n)
	for i := range sites {
		sites[i] = payload.Site{ID: string(rune('a' + i)), Slug: "site-" + string(rune('a'+i)), GAPropertyID: "1", GATagID: "G"}
	}
	return sites
}

func TestGraphQLSiteSource_EligibleSites(t *testing.T) {
	db := &fakeDB{sites: []payload.Site{
		{ID: "1", Slug: "ok", GAPropertyID: "p", GATagID: "t"},
		{ID: "2", Slug: "no-tag", GAPropertyID: "p"},
		{ID: "3", Slug: "no-property", GATagID: "t"},
	}}

	sites, err := NewGraphQLSiteSource(db, testSettings).EligibleSites(context.Background())
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "ok", sites[0].Slug)
}

func TestGraphQLSiteSource_FollowsPages(t *testing.T) {
	db := &fakeDB{sitePages: [][]payload.Site{
		{
			{ID: "1", Slug: "first", GAPropertyID: "p", GATagID: "t"},
			{ID: "2", Slug: "no-tag", GAPropertyID: "p"},
		},
		{
			{ID: "3", Slug: "second", GAPropertyID: "p", GATagID: "t"},
		},
		{
			{ID: "4", Slug: "third", GAPropertyID: "p", GATagID: "t"},
		},
	}}

	sites, err := NewGraphQLSiteSource(db, testSettings).EligibleSites(context.Background())
	require.NoError(t, err)
	require.Len(t, sites, 3)
	assert.Equal(t, "first", sites[0].Slug)
	assert.Equal(t, "second", sites[1].Slug)
	assert.Equal(t, "third", sites[2].Slug)
	assert.Equal(t, []int{1, 2, 3}, db.pagesRequested)
}

func TestGraphQLSiteSource_PageError(t *testing.T) {
	db := &fakeDB{graphqlErr: errors.New("graphql: 502")}

	_, err := NewGraphQLSiteSource(db, testSettings).EligibleSites(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 1")
}

func TestDispatcher_DispatchAllIsolatesFailures(t *testing.T) {
	metrics := observability.NopMetrics()
	runner := runnerFunc(func(ctx context.Context, site payload.Site) (*RunResult, error) {
		switch site.Slug {
		case "site-b":
			return nil, errors.New("report unavailable")
		case "site-c":
			panic("unexpected payload")
		}
		return &RunResult{SiteID: site.ID, SiteSlug: site.Slug, Persisted: true}, nil
	})

	d := NewDispatcher(staticSites{sites: sitesN(5)}, runner, nil, DispatcherOptions{Concurrency: 2}, metrics, testLogger())
	summary, err := d.DispatchAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Sites)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	require.Len(t, summary.Outcomes, 5)

	assert.Equal(t, "site-a", summary.Outcomes[0].SiteSlug)
	assert.Empty(t, summary.Outcomes[0].Error)
	assert.True(t, summary.Outcomes[0].Result.Persisted)
	assert.Contains(t, summary.Outcomes[1].Error, "report unavailable")
	assert.Contains(t, summary.Outcomes[2].Error, "unexpected payload")
	assert.Empty(t, summary.Outcomes[3].Error)
	assert.Empty(t, summary.Outcomes[4].Error)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DispatchesTotal.WithLabelValues("partial")))
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.SitesDispatched))
	assert.Zero(t, testutil.ToFloat64(metrics.LastDispatchSuccess))
}

func TestDispatcher_DispatchAllCountsSkippedSites(t *testing.T) {
	metrics := observability.NopMetrics()
	runner := runnerFunc(func(ctx context.Context, site payload.Site) (*RunResult, error) {
		result := &RunResult{SiteID: site.ID, SiteSlug: site.Slug}
		if site.Slug == "site-b" {
			return result, ErrNoProperty
		}
		return result, nil
	})

	d := NewDispatcher(staticSites{sites: sitesN(3)}, runner, nil, DispatcherOptions{Concurrency: 2}, metrics, testLogger())
	summary, err := d.DispatchAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.True(t, summary.Outcomes[1].Skipped)
	assert.Empty(t, summary.Outcomes[1].Error)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DispatchesTotal.WithLabelValues("completed")))
	assert.NotZero(t, testutil.ToFloat64(metrics.LastDispatchSuccess))
}

func TestDispatcher_LeaseOutlivesDispatch(t *testing.T) {
	tests := []struct {
		name string
		opts DispatcherOptions
		want time.Duration
	}{
		{"defaults", DispatcherOptions{}, 3*time.Hour + lockMargin},
		{"ttl shorter than dispatch", DispatcherOptions{DispatchTimeout: 2 * time.Hour, LockTTL: 30 * time.Minute}, 2*time.Hour + lockMargin},
		{"ttl equal to dispatch", DispatcherOptions{DispatchTimeout: time.Hour, LockTTL: time.Hour}, time.Hour + lockMargin},
		{"ttl already longer", DispatcherOptions{DispatchTimeout: time.Hour, LockTTL: 2 * time.Hour}, 2 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locker := &fakeLocker{}
			runner := runnerFunc(func(ctx context.Context, site payload.Site) (*RunResult, error) {
				return &RunResult{}, nil
			})
			d := NewDispatcher(staticSites{sites: sitesN(1)}, runner, locker, tt.opts, nil, testLogger())

			_, err := d.DispatchAll(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, locker.ttl)
		})
	}
}

func TestDispatcher_DispatchAllStopsAtDeadline(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, site payload.Site) (*RunResult, error) {
		deadline, ok := ctx.Deadline()
		if !ok || time.Until(deadline) > time.Second {
			return nil, errors.New("site run not bounded by the dispatch deadline")
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	d := NewDispatcher(staticSites{sites: sitesN(2)}, runner, nil,
		DispatcherOptions{Concurrency: 2, JobTimeout: time.Hour, DispatchTimeout: 50 * time.Millisecond}, nil, testLogger())

	start := time.Now()
	summary, err := d.DispatchAll(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 2, summary.Failed)
	assert.Contains(t, summary.Outcomes[0].Error, "deadline exceeded")
}

func TestDispatcher_DispatchAllBoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	runner := runnerFunc(func(ctx context.Context, site payload.Site) (*RunResult, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &RunResult{}, nil
	})

	metrics := observability.NopMetrics()
	d := NewDispatcher(staticSites{sites: sitesN(12)}, runner, nil, DispatcherOptions{Concurrency: 3}, metrics, testLogger())
	summary, err := d.DispatchAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, summary.Succeeded)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DispatchesTotal.WithLabelValues("completed")))
	assert.Positive(t, testutil.ToFloat64(metrics.LastDispatchSuccess))
}

func TestDispatcher_DispatchAllNoSites(t *testing.T) {
	var calls int32
	runner := runnerFunc(func(ctx context.Context, site payload.Site) (*RunResult, error) {
		atomic.AddInt32(&calls, 1)
		return &RunResult{}, nil
	})

	d := NewDispatcher(staticSites{}, runner, nil, DispatcherOptions{}, nil, testLogger())
	summary, err := d.DispatchAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Sites)
	assert.Empty(t, summary.Outcomes)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestDispatcher_DispatchAllListingFails(t *testing.T) {
	metrics := observability.NopMetrics()
	d := NewDispatcher(staticSites{err: errors.New("graphql down")}, runnerFunc(nil), nil, DispatcherOptions{}, metrics, testLogger())

	_, err := d.DispatchAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DispatchesTotal.WithLabelValues("failed")))
}

func TestDispatcher_Lock(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, site payload.Site) (*RunResult, error) {
		return &RunResult{}, nil
	})

	t.Run("held lock skips the dispatch", func(t *testing.T) {
		locker := &fakeLocker{held: true}
		d := NewDispatcher(staticSites{sites: sitesN(1)}, runner, locker, DispatcherOptions{}, nil, testLogger())

		_, err := d.DispatchAll(context.Background())
		assert.ErrorIs(t, err, ErrDispatchInProgress)
	})

	t.Run("lock is released afterwards", func(t *testing.T) {
		locker := &fakeLocker{}
		d := NewDispatcher(staticSites{sites: sitesN(2)}, runner, locker, DispatcherOptions{}, nil, testLogger())

		_, err := d.DispatchAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, locker.released)
		assert.False(t, locker.held)

		_, err = d.DispatchAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, locker.released)
	})

	t.Run("lock backend failure still dispatches", func(t *testing.T) {
		locker := &fakeLocker{err: errors.New("redis unreachable")}
		d := NewDispatcher(staticSites{sites: sitesN(2)}, runner, locker, DispatcherOptions{}, nil, testLogger())

		summary, err := d.DispatchAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Succeeded)
	})
}

func TestDispatcher_RunSite(t *testing.T) {
	var ran []string
	runner := runnerFunc(func(ctx context.Context, site payload.Site) (*RunResult, error) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		ran = append(ran, site.Slug)
		return &RunResult{SiteSlug: site.Slug}, nil
	})
	d := NewDispatcher(staticSites{sites: sitesN(3)}, runner, nil, DispatcherOptions{JobTimeout: time.Minute}, nil, testLogger())

	result, err := d.RunSite(context.Background(), "site-b")
	require.NoError(t, err)
	assert.Equal(t, "site-b", result.SiteSlug)

	_, err = d.RunSite(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"site-b", "site-c"}, ran)

	_, err = d.RunSite(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSiteNotFound)
}
