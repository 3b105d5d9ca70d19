package resolver

import (
	"context"
	"fmt"

	"github.com/manawiki/sitepulse/pkg/config"
	"github.com/manawiki/sitepulse/pkg/pagepath"
	"github.com/manawiki/sitepulse/pkg/payload"
)

// Core database collections queried by the resolver
const (
	customPagesCollection = "customPages"
	postsCollection       = "posts"
	entriesCollection     = "entries"
	collectionsCollection = "collections"
)

// Fetcher is the subset of fetch.Client the resolver needs
type Fetcher interface {
	Get(ctx context.Context, rawURL string, out interface{}) error
}

// Resolver looks up the document behind a classified page path in either the
// core database or the site's custom database
type Resolver struct {
	client   Fetcher
	settings config.Settings
}

// New creates a Resolver
func New(client Fetcher, settings config.Settings) *Resolver {
	return &Resolver{
		client:   client,
		settings: settings,
	}
}

// Resolve returns the {name, icon} summary of the document a page shows.
// A page with no matching document returns nil and no error. Transport and
// HTTP failures are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, site payload.Site, page pagepath.Page) (*payload.DocSummary, error) {
	switch p := page.(type) {
	case pagepath.CustomPage:
		if p.Slug == "" {
			return nil, nil
		}
		return r.first(ctx, r.settings.CoreAPI(customPagesCollection), payload.And(
			payload.Equals("site", site.ID),
			payload.Equals("slug", p.Slug),
		))

	case pagepath.Post:
		if p.Slug == "" {
			return nil, nil
		}
		return r.first(ctx, r.settings.CoreAPI(postsCollection), payload.And(
			payload.Equals("site", site.ID),
			payload.Equals("slug", p.Slug),
		))

	case pagepath.Entry:
		return r.resolveEntry(ctx, site, p)

	case pagepath.CollectionList:
		return r.resolveList(ctx, site, p)

	case pagepath.Homepage, pagepath.Unknown:
		return nil, nil

	default:
		return nil, fmt.Errorf("unhandled page kind %T", page)
	}
}

func (r *Resolver) resolveEntry(ctx context.Context, site payload.Site, p pagepath.Entry) (*payload.DocSummary, error) {
	if p.EntrySlug == "" {
		return nil, nil
	}

	collection, ok := site.Collection(p.CollectionSlug)
	if !ok {
		// entries always belong to one of the site's own collections
		return nil, nil
	}

	if collection.CustomDatabase {
		endpoint, err := r.settings.CustomAPI(site.Slug, collection.Slug)
		if err != nil {
			return nil, err
		}
		return r.first(ctx, endpoint, payload.SlugOrID(p.EntrySlug))
	}

	return r.first(ctx, r.settings.CoreAPI(entriesCollection), payload.And(
		payload.Equals("site", site.ID),
		payload.Equals("collectionEntity", collection.ID),
		payload.SlugOrID(p.EntrySlug),
	))
}

func (r *Resolver) resolveList(ctx context.Context, site payload.Site, p pagepath.CollectionList) (*payload.DocSummary, error) {
	if p.Slug == "" {
		return nil, nil
	}

	if collection, ok := site.Collection(p.Slug); ok && collection.CustomDatabase {
		endpoint, err := r.settings.CustomAPI(site.Slug, collection.Slug)
		if err != nil {
			return nil, err
		}
		return r.first(ctx, endpoint, payload.SlugOrID(p.Slug))
	}

	return r.first(ctx, r.settings.CoreAPI(collectionsCollection), payload.And(
		payload.Equals("site", site.ID),
		payload.SlugOrID(p.Slug),
	))
}

// first fetches at most one document with its icon populated
func (r *Resolver) first(ctx context.Context, endpoint string, where payload.Where) (*payload.DocSummary, error) {
	q := payload.Query{Where: where, Depth: 1, Limit: 1}

	var page payload.PaginatedDocs[payload.DocSummary]
	if err := r.client.Get(ctx, q.URL(endpoint), &page); err != nil {
		return nil, fmt.Errorf("failed to resolve from %s: %w", endpoint, err)
	}

	doc, ok := page.First()
	if !ok {
		return nil, nil
	}
	return &doc, nil
}
