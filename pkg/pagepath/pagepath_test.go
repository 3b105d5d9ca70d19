package pagepath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected Page
	}{
		{"homepage", "/demo", Homepage{}},
		{"other site root", "/other", Unknown{}},
		{"custom page", "/demo/about", CustomPage{Slug: "about"}},
		{"reserved collections", "/demo/collections", Unknown{}},
		{"reserved posts", "/demo/posts", Unknown{}},
		{"custom page on other site", "/other/about", Unknown{}},
		{"collection list", "/demo/c/weapons", CollectionList{Slug: "weapons"}},
		{"entry", "/demo/c/weapons/sword-1", Entry{CollectionSlug: "weapons", EntrySlug: "sword-1"}},
		{"custom db entry", "/demo/c/cards/card-7", Entry{CollectionSlug: "cards", EntrySlug: "card-7"}},
		{"post", "/demo/p/patch-notes", Post{Slug: "patch-notes"}},
		{"post with id and slug", "/demo/p/abc/patch-notes", Unknown{}},
		{"empty", "", Unknown{}},
		{"root", "/", Unknown{}},
		{"trailing slash homepage", "/demo/", CustomPage{Slug: ""}},
		{"too deep", "/demo/c/weapons/sword-1/extra", Unknown{}},
		{"no leading slash", "demo/c/weapons", Unknown{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.path, "demo"))
		})
	}
}

func TestClassify_MarkerIgnoresSiteSegment(t *testing.T) {
	// Collection and post routes match on the marker alone.
	assert.Equal(t, CollectionList{Slug: "weapons"}, Classify("/elsewhere/c/weapons", "demo"))
	assert.Equal(t, Post{Slug: "x"}, Classify("/elsewhere/p/x", "demo"))
}

func TestIsHomepage(t *testing.T) {
	assert.True(t, IsHomepage("/demo", "demo"))
	assert.False(t, IsHomepage("/demo/about", "demo"))
	assert.False(t, IsHomepage("/other", "demo"))
}

func TestResolvable(t *testing.T) {
	assert.True(t, Resolvable(CustomPage{Slug: "a"}))
	assert.True(t, Resolvable(CollectionList{Slug: "a"}))
	assert.True(t, Resolvable(Entry{CollectionSlug: "a", EntrySlug: "b"}))
	assert.True(t, Resolvable(Post{Slug: "a"}))
	assert.False(t, Resolvable(Homepage{}))
	assert.False(t, Resolvable(Unknown{}))
}

func TestKind(t *testing.T) {
	kinds := map[string]Page{
		"homepage":        Homepage{},
		"custom_page":     CustomPage{},
		"collection_list": CollectionList{},
		"entry":           Entry{},
		"post":            Post{},
		"unknown":         Unknown{},
	}
	for kind, page := range kinds {
		assert.Equal(t, kind, page.Kind())
	}
}
