package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/manawiki/sitepulse/pkg/config"
	"github.com/manawiki/sitepulse/pkg/ledger"
	"github.com/manawiki/sitepulse/pkg/observability"
	"github.com/manawiki/sitepulse/pkg/payload"
)

var testSettings = config.Settings{
	Domain:            "mana.wiki",
	CoreURL:           "https://mana.wiki",
	CustomDatabaseURL: "https://{site}-db.{domain}",
}

var demoSite = payload.Site{
	ID:           "site-1",
	Slug:         "demo",
	GAPropertyID: "properties/123",
	GATagID:      "G-TEST",
	Collections: []payload.Collection{
		{ID: "col-weapons", Slug: "weapons"},
	},
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

type patchCall struct {
	method string
	url    string
	body   payload.SitePatch
}

// fakeDB stands in for the core and custom databases. Reads are answered by
// route, keyed on "host/path" and optionally narrowed by a query value.
type fakeDB struct {
	mu      sync.Mutex
	route   func(u *url.URL) (string, error)
	gets    []string
	patches []patchCall
	sites   []payload.Site
	restErr error

	// sitePages, when set, replaces sites with a paged listing
	sitePages      [][]payload.Site
	pagesRequested []int
	graphqlErr     error
}

func (f *fakeDB) Get(ctx context.Context, rawURL string, out interface{}) error {
	f.mu.Lock()
	f.gets = append(f.gets, rawURL)
	f.mu.Unlock()

	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	body := `{"docs":[],"totalDocs":0}`
	if f.route != nil {
		b, err := f.route(u)
		if err != nil {
			return err
		}
		if b != "" {
			body = b
		}
	}
	return json.Unmarshal([]byte(body), out)
}

func (f *fakeDB) REST(ctx context.Context, method, rawURL string, body, out interface{}) error {
	if f.restErr != nil {
		return f.restErr
	}
	patch, ok := body.(payload.SitePatch)
	if !ok {
		return fmt.Errorf("unexpected body %T", body)
	}
	f.mu.Lock()
	f.patches = append(f.patches, patchCall{method: method, url: rawURL, body: patch})
	f.mu.Unlock()
	return nil
}

func (f *fakeDB) GraphQL(ctx context.Context, endpoint, query string, variables map[string]interface{}, out interface{}) error {
	if f.graphqlErr != nil {
		return f.graphqlErr
	}

	pages := f.sitePages
	if pages == nil {
		pages = [][]payload.Site{f.sites}
	}
	page, _ := variables["page"].(int)
	f.mu.Lock()
	f.pagesRequested = append(f.pagesRequested, page)
	f.mu.Unlock()

	var docs []payload.Site
	if page >= 1 && page <= len(pages) {
		docs = pages[page-1]
	}
	resp := payload.EligibleSitesResponse{SiteData: payload.PaginatedDocs[payload.Site]{
		Docs:        docs,
		Page:        page,
		TotalPages:  len(pages),
		HasNextPage: page < len(pages),
	}}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeDB) getCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, g := range f.gets {
		if strings.HasPrefix(g, prefix) {
			n++
		}
	}
	return n
}

// demoRoutes answers the demo site's lookups
func demoRoutes(posts, weapons int) func(u *url.URL) (string, error) {
	return func(u *url.URL) (string, error) {
		q := u.Query()
		switch u.Host + u.Path {
		case "mana.wiki/api/entries":
			if q.Get("where[or][0][slug][equals]") == "sword-1" {
				return `{"docs":[{"name":"Sword","icon":{"url":"https://static.mana.wiki/sword.png"}}],"totalDocs":1}`, nil
			}
			if q.Get("depth") == "0" {
				return fmt.Sprintf(`{"docs":[],"totalDocs":%d}`, weapons), nil
			}
		case "mana.wiki/api/customPages":
			if q.Get("where[slug][equals]") == "about" {
				return `{"docs":[{"name":"About"}],"totalDocs":1}`, nil
			}
		case "mana.wiki/api/posts":
			if q.Get("depth") == "0" {
				return fmt.Sprintf(`{"docs":[],"totalDocs":%d}`, posts), nil
			}
		}
		return "", nil
	}
}

type fakeReports struct {
	rows []PageViewRow
	err  error
	seen []string
	mu   sync.Mutex
}

func (f *fakeReports) TopPages(ctx context.Context, propertyID string) ([]PageViewRow, error) {
	f.mu.Lock()
	f.seen = append(f.seen, propertyID)
	f.mu.Unlock()
	return f.rows, f.err
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []ledger.Run
	err  error
}

func (f *fakeRecorder) Record(ctx context.Context, run *ledger.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, *run)
	return f.err
}

func (f *fakeRecorder) Recent(ctx context.Context, filter ledger.Filter) ([]ledger.Run, error) {
	return nil, nil
}
