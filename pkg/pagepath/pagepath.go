package pagepath

import (
	"strings"
)

// Route markers used in site URLs
const (
	CollectionMarker = "c"
	PostMarker       = "p"
)

// reserved second segments that are never custom pages
var reservedSegments = map[string]bool{
	"collections": true,
	"posts":       true,
}

// Page is the semantic kind of an analytics page path. The set of variants is
// closed: Homepage, CustomPage, CollectionList, Entry, Post and Unknown.
type Page interface {
	// Kind returns the variant name, used as a metrics label.
	Kind() string
	isPage()
}

// Homepage is the site root, /{site}
type Homepage struct{}

// CustomPage is an editor-authored page, /{site}/{slug}
type CustomPage struct {
	Slug string
}

// CollectionList is a collection's list view, /{site}/c/{slug}
type CollectionList struct {
	Slug string
}

// Entry is a single entry of a collection, /{site}/c/{collection}/{entry}
type Entry struct {
	CollectionSlug string
	EntrySlug      string
}

// Post is a post singleton, /{site}/p/{slug}
type Post struct {
	Slug string
}

// Unknown is any path that matches none of the other shapes
type Unknown struct{}

func (Homepage) Kind() string       { return "homepage" }
func (CustomPage) Kind() string     { return "custom_page" }
func (CollectionList) Kind() string { return "collection_list" }
func (Entry) Kind() string          { return "entry" }
func (Post) Kind() string           { return "post" }
func (Unknown) Kind() string        { return "unknown" }

func (Homepage) isPage()       {}
func (CustomPage) isPage()     {}
func (CollectionList) isPage() {}
func (Entry) isPage()          {}
func (Post) isPage()           {}
func (Unknown) isPage()        {}

// Classify maps a raw page path to exactly one Page variant.
//
// The path is split on "/" keeping the leading empty segment, so "/demo/about"
// yields ["", "demo", "about"]. Rules are tried in order and the first match wins:
//
//	2 segments, [1] == site                        -> Homepage
//	3 segments, [1] == site, [2] not reserved      -> CustomPage{[2]}
//	4 segments, [2] == "c"                         -> CollectionList{[3]}
//	5 segments, [2] == "c"                         -> Entry{[3], [4]}
//	4 segments, [2] == "p"                         -> Post{[3]}
//	otherwise                                      -> Unknown
func Classify(path, siteSlug string) Page {
	seg := strings.Split(path, "/")

	switch {
	case len(seg) == 2 && seg[1] == siteSlug:
		return Homepage{}
	case len(seg) == 3 && seg[1] == siteSlug && !reservedSegments[seg[2]]:
		return CustomPage{Slug: seg[2]}
	case len(seg) == 4 && seg[2] == CollectionMarker:
		return CollectionList{Slug: seg[3]}
	case len(seg) == 5 && seg[2] == CollectionMarker:
		return Entry{CollectionSlug: seg[3], EntrySlug: seg[4]}
	case len(seg) == 4 && seg[2] == PostMarker:
		return Post{Slug: seg[3]}
	default:
		return Unknown{}
	}
}

// IsHomepage reports whether path is the site's root page
func IsHomepage(path, siteSlug string) bool {
	_, ok := Classify(path, siteSlug).(Homepage)
	return ok
}

// Resolvable reports whether a page can be looked up in a database.
// Homepage and Unknown never resolve.
func Resolvable(p Page) bool {
	switch p.(type) {
	case CustomPage, CollectionList, Entry, Post:
		return true
	default:
		return false
	}
}
