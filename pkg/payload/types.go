package payload

import (
	"encoding/json"
)

// Site is the tenant root as stored in the core database
type Site struct {
	ID           string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	Slug         string       `json:"slug"`
	Type         string       `json:"type,omitempty"`
	GAPropertyID string       `json:"gaPropertyId,omitempty"`
	GATagID      string       `json:"gaTagId,omitempty"`
	Collections  []Collection `json:"collections,omitempty"`
}

// Eligible reports whether the site has both analytics identifiers configured
func (s Site) Eligible() bool {
	return s.GAPropertyID != "" && s.GATagID != ""
}

// Collection looks up one of the site's collections by slug
func (s Site) Collection(slug string) (Collection, bool) {
	for _, c := range s.Collections {
		if c.Slug == slug {
			return c, true
		}
	}
	return Collection{}, false
}

// Collection belongs to exactly one site. CustomDatabase marks collections whose
// documents live in the site's own database instead of the core one.
type Collection struct {
	ID             string `json:"id"`
	Slug           string `json:"slug"`
	CustomDatabase bool   `json:"customDatabase"`
}

// Image is the populated upload relation; only the URL is projected
type Image struct {
	URL string `json:"url,omitempty"`
}

// UnmarshalJSON accepts both a populated image object and a bare relation id.
// An unpopulated id carries no URL.
func (i *Image) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		*i = Image{}
		return nil
	}
	type plain Image
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*i = Image(p)
	return nil
}

// DocSummary is the {name, icon.url} projection fetched for trending pages
type DocSummary struct {
	Name string `json:"name"`
	Icon *Image `json:"icon,omitempty"`
}

// IconURL returns the icon URL or an empty string
func (d DocSummary) IconURL() string {
	if d.Icon == nil {
		return ""
	}
	return d.Icon.URL
}

// PaginatedDocs is the list envelope returned by every collection endpoint
type PaginatedDocs[T any] struct {
	Docs        []T   `json:"docs"`
	TotalDocs   int64 `json:"totalDocs"`
	Limit       int   `json:"limit,omitempty"`
	Page        int   `json:"page,omitempty"`
	TotalPages  int   `json:"totalPages,omitempty"`
	HasNextPage bool  `json:"hasNextPage,omitempty"`
}

// First returns the first document, if any
func (p *PaginatedDocs[T]) First() (T, bool) {
	var zero T
	if p == nil || len(p.Docs) == 0 {
		return zero, false
	}
	return p.Docs[0], true
}

// TrendingPage is one resolved row of a site's trending list
type TrendingPage struct {
	Path      string     `json:"path"`
	PageViews int64      `json:"pageViews"`
	Data      DocSummary `json:"data"`
}

// SitePatch is the partial update sent to the site record. Zero totals and an
// empty trending list are omitted from the encoded body.
type SitePatch struct {
	TotalPosts    int64          `json:"totalPosts,omitempty"`
	TotalEntries  int64          `json:"totalEntries,omitempty"`
	TrendingPages []TrendingPage `json:"trendingPages,omitempty"`
}

// IsEmpty reports whether the patch would not change anything
func (p SitePatch) IsEmpty() bool {
	return p.TotalPosts == 0 && p.TotalEntries == 0 && len(p.TrendingPages) == 0
}
