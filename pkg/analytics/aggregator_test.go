package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manawiki/sitepulse/pkg/observability"
	"github.com/manawiki/sitepulse/pkg/payload"
	"github.com/manawiki/sitepulse/pkg/resolver"
)

func newTestAggregator(db *fakeDB, metrics *observability.Metrics) *Aggregator {
	return NewAggregator(resolver.New(db, testSettings), db, testSettings, 4, metrics)
}

func TestAggregator_Build(t *testing.T) {
	db := &fakeDB{route: demoRoutes(7, 12)}
	metrics := observability.NopMetrics()
	agg := newTestAggregator(db, metrics)

	rows := []PageViewRow{
		{Path: "/demo", Views: 50},
		{Path: "/demo/c/weapons/sword-1", Views: 30},
		{Path: "/demo/about", Views: 10},
	}

	snap, err := agg.Build(context.Background(), demoSite, rows)
	require.NoError(t, err)

	require.Len(t, snap.TrendingPages, 2)
	assert.Equal(t, "/demo/c/weapons/sword-1", snap.TrendingPages[0].Path)
	assert.Equal(t, int64(30), snap.TrendingPages[0].PageViews)
	assert.Equal(t, "Sword", snap.TrendingPages[0].Data.Name)
	assert.Equal(t, "https://static.mana.wiki/sword.png", snap.TrendingPages[0].Data.IconURL())
	assert.Equal(t, "/demo/about", snap.TrendingPages[1].Path)
	assert.Equal(t, int64(10), snap.TrendingPages[1].PageViews)

	assert.Equal(t, int64(7), snap.TotalPosts)
	assert.Equal(t, int64(12), snap.TotalEntries)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ResolutionsTotal.WithLabelValues("entry", "resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ResolutionsTotal.WithLabelValues("custom_page", "resolved")))
}

func TestAggregator_TrendingDropsMissesAndKeepsOrder(t *testing.T) {
	db := &fakeDB{route: demoRoutes(0, 0)}
	agg := newTestAggregator(db, nil)

	rows := []PageViewRow{
		{Path: "/demo/about", Views: 90},
		{Path: "/demo/gone", Views: 80},
		{Path: "/demo/c/weapons/sword-1", Views: 70},
		{Path: "/somewhere/else/entirely/deep/path", Views: 60},
		{Path: "/demo", Views: 50},
	}

	trending, err := agg.Trending(context.Background(), demoSite, rows)
	require.NoError(t, err)

	paths := make([]string, len(trending))
	for i, p := range trending {
		paths[i] = p.Path
	}
	assert.Equal(t, []string{"/demo/about", "/demo/c/weapons/sword-1"}, paths)

	// neither the homepage nor the unknown path is looked up
	assert.Equal(t, 3, db.getCount("https://"))
}

func TestAggregator_TrendingIsASubsequenceOfRows(t *testing.T) {
	db := &fakeDB{route: func(u *url.URL) (string, error) {
		// every third custom page exists
		slug := u.Query().Get("where[slug][equals]")
		var n int
		if _, err := fmt.Sscanf(slug, "page-%d", &n); err == nil && n%3 == 0 {
			return fmt.Sprintf(`{"docs":[{"name":%q}]}`, slug), nil
		}
		return "", nil
	}}
	agg := newTestAggregator(db, nil)

	var rows []PageViewRow
	for i := 0; i < 30; i++ {
		rows = append(rows, PageViewRow{Path: fmt.Sprintf("/demo/page-%d", i), Views: int64(100 - i)})
	}

	trending, err := agg.Trending(context.Background(), demoSite, rows)
	require.NoError(t, err)
	require.Len(t, trending, 10)

	next := 0
	for _, tp := range trending {
		for next < len(rows) && rows[next].Path != tp.Path {
			next++
		}
		require.Less(t, next, len(rows), "trending page %s out of order", tp.Path)
		assert.Equal(t, rows[next].Views, tp.PageViews)
		next++
	}
}

func TestAggregator_TrendingFailsOnLookupError(t *testing.T) {
	boom := errors.New("connection reset")
	db := &fakeDB{route: func(u *url.URL) (string, error) { return "", boom }}
	agg := newTestAggregator(db, nil)

	_, err := agg.Trending(context.Background(), demoSite, []PageViewRow{{Path: "/demo/about", Views: 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "/demo/about")
}

func TestAggregator_TotalEntriesSumsCollections(t *testing.T) {
	site := payload.Site{
		ID:   "site-1",
		Slug: "demo",
		Collections: []payload.Collection{
			{ID: "col-a", Slug: "a"},
			{ID: "col-b", Slug: "b"},
			{ID: "col-c", Slug: "c", CustomDatabase: true},
		},
	}
	counts := map[string]int{"col-a": 4, "col-b": 9}
	db := &fakeDB{route: func(u *url.URL) (string, error) {
		if u.Host == "demo-db.mana.wiki" && u.Path == "/api/c" {
			return `{"docs":[],"totalDocs":20}`, nil
		}
		if u.Path == "/api/entries" {
			q := u.Query()
			assert.Equal(t, "site-1", q.Get("where[site][equals]"))
			return fmt.Sprintf(`{"totalDocs":%d}`, counts[q.Get("where[collectionEntity][equals]")]), nil
		}
		return "", nil
	}}
	agg := newTestAggregator(db, nil)

	total, err := agg.TotalEntries(context.Background(), site)
	require.NoError(t, err)
	assert.Equal(t, int64(33), total)

	// one more entry in any one collection moves the total by exactly one
	counts["col-b"]++
	bumped, err := agg.TotalEntries(context.Background(), site)
	require.NoError(t, err)
	assert.Equal(t, total+1, bumped)
}

func TestAggregator_TotalEntriesNoCollections(t *testing.T) {
	db := &fakeDB{}
	agg := newTestAggregator(db, nil)

	total, err := agg.TotalEntries(context.Background(), payload.Site{ID: "s", Slug: "empty"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, db.gets)
}

func TestAggregator_TotalPostsQuery(t *testing.T) {
	db := &fakeDB{route: demoRoutes(5, 0)}
	agg := newTestAggregator(db, nil)

	n, err := agg.TotalPosts(context.Background(), demoSite)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	require.Len(t, db.gets, 1)
	u, err := url.Parse(db.gets[0])
	require.NoError(t, err)
	assert.Equal(t, "/api/posts", u.Path)
	assert.Equal(t, "site-1", u.Query().Get("where[site][equals]"))
	assert.Equal(t, "0", u.Query().Get("depth"))
	assert.Equal(t, "1", u.Query().Get("limit"))
}
