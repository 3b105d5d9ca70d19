package analytics

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manawiki/sitepulse/pkg/payload"
)

func TestBuildPatch(t *testing.T) {
	trending := []payload.TrendingPage{{Path: "/demo/about", PageViews: 10, Data: payload.DocSummary{Name: "About"}}}

	tests := []struct {
		name string
		snap *Snapshot
		want payload.SitePatch
	}{
		{
			name: "nil snapshot",
			snap: nil,
			want: payload.SitePatch{},
		},
		{
			name: "everything observed",
			snap: &Snapshot{TotalPosts: 3, TotalEntries: 12, TrendingPages: trending},
			want: payload.SitePatch{TotalPosts: 3, TotalEntries: 12, TrendingPages: trending},
		},
		{
			name: "zero posts are not written",
			snap: &Snapshot{TotalPosts: 0, TotalEntries: 12, TrendingPages: trending},
			want: payload.SitePatch{TotalEntries: 12, TrendingPages: trending},
		},
		{
			name: "empty trending list is not written",
			snap: &Snapshot{TotalPosts: 3, TotalEntries: 12, TrendingPages: []payload.TrendingPage{}},
			want: payload.SitePatch{TotalPosts: 3, TotalEntries: 12},
		},
		{
			name: "nothing observed",
			snap: &Snapshot{},
			want: payload.SitePatch{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildPatch(tt.snap))
		})
	}
}

func TestPersister_Persist(t *testing.T) {
	t.Run("patches the site record", func(t *testing.T) {
		db := &fakeDB{}
		p := NewPersister(db, testSettings)

		persisted, err := p.Persist(context.Background(), "site-1", payload.SitePatch{TotalEntries: 12})
		require.NoError(t, err)
		assert.True(t, persisted)

		require.Len(t, db.patches, 1)
		assert.Equal(t, http.MethodPatch, db.patches[0].method)
		assert.Equal(t, "https://mana.wiki/api/sites/site-1", db.patches[0].url)
		assert.Equal(t, int64(12), db.patches[0].body.TotalEntries)
		assert.Zero(t, db.patches[0].body.TotalPosts)
	})

	t.Run("empty patch sends nothing", func(t *testing.T) {
		db := &fakeDB{}
		p := NewPersister(db, testSettings)

		persisted, err := p.Persist(context.Background(), "site-1", payload.SitePatch{})
		require.NoError(t, err)
		assert.False(t, persisted)
		assert.Empty(t, db.patches)
	})

	t.Run("missing site id", func(t *testing.T) {
		p := NewPersister(&fakeDB{}, testSettings)
		_, err := p.Persist(context.Background(), "", payload.SitePatch{TotalPosts: 1})
		assert.Error(t, err)
	})

	t.Run("write error", func(t *testing.T) {
		boom := errors.New("forbidden")
		p := NewPersister(&fakeDB{restErr: boom}, testSettings)

		persisted, err := p.Persist(context.Background(), "site-1", payload.SitePatch{TotalPosts: 1})
		assert.False(t, persisted)
		assert.ErrorIs(t, err, boom)
	})
}
