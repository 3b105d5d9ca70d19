package search

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/manawiki/sitepulse/pkg/payload"
)

// Mode selects which databases a search covers
type Mode string

const (
	// ModeCore searches the core database only
	ModeCore Mode = "core"
	// ModeCustom also searches the site's custom database
	ModeCustom Mode = "custom"
)

// ParseMode validates a mode string
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeCore, ModeCustom:
		return Mode(s), true
	default:
		return "", false
	}
}

// Ref is a relationship value. Depending on depth it arrives as a bare id
// (string or number) or as a populated document; only the id is kept.
type Ref string

// UnmarshalJSON accepts "id", 42 or {"id": ...}
func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*r = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Ref(s)
	case data[0] == '{':
		var doc struct {
			ID Ref `json:"id"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		*r = doc.ID
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*r = Ref(n.String())
	}
	return nil
}

// Polymorphic is the search document's pointer back to what it indexes
type Polymorphic struct {
	RelationTo string `json:"relationTo"`
	Value      Ref    `json:"value"`
}

// Hit is one raw search document as stored in a database
type Hit struct {
	ID               Ref            `json:"id"`
	Name             string         `json:"name"`
	Slug             string         `json:"slug,omitempty"`
	Priority         float64        `json:"priority"`
	CollectionEntity Ref            `json:"collectionEntity,omitempty"`
	Icon             *payload.Image `json:"icon,omitempty"`
	Doc              Polymorphic    `json:"doc"`
}

// Result is a search hit ready for display
type Result struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Icon     string  `json:"icon,omitempty"`
	Kind     string  `json:"kind"`
	Label    string  `json:"label,omitempty"`
	Link     string  `json:"link"`
	Priority float64 `json:"priority"`
}

// Link is the site-relative URL a hit points at
func Link(siteSlug string, h Hit) string {
	switch h.Doc.RelationTo {
	case "customPages":
		return "/" + siteSlug + "/" + h.Slug
	case "collections":
		return "/" + siteSlug + "/c/" + h.Slug
	case "entries":
		return "/" + siteSlug + "/c/" + string(h.CollectionEntity) + "/" + string(h.ID)
	case "posts":
		return "/" + siteSlug + "/p/" + string(h.ID) + "/" + h.Slug
	default:
		// custom database documents link by their own collection
		return "/" + siteSlug + "/c/" + h.Doc.RelationTo + "/" + string(h.Doc.Value)
	}
}

// Label names the kind of a hit. Custom pages have no label.
func Label(h Hit) string {
	switch h.Doc.RelationTo {
	case "customPages":
		return ""
	case "collections":
		return "List"
	case "entries":
		return "Entry"
	case "posts":
		return "Post"
	default:
		return h.Doc.RelationTo
	}
}

func toResult(siteSlug string, h Hit) Result {
	r := Result{
		ID:       string(h.ID),
		Name:     h.Name,
		Kind:     h.Doc.RelationTo,
		Label:    Label(h),
		Link:     Link(siteSlug, h),
		Priority: h.Priority,
	}
	if h.Icon != nil {
		r.Icon = h.Icon.URL
	}
	return r
}

func cacheKey(siteSlug string, mode Mode, q string) string {
	return string(mode) + "|" + strconv.Quote(siteSlug) + "|" + q
}
