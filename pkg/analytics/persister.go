package analytics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/manawiki/sitepulse/pkg/config"
	"github.com/manawiki/sitepulse/pkg/payload"
)

// BuildPatch applies the never-overwrite-with-zero policy: a zero total or an
// empty trending list is left out of the patch, so the value already stored
// on the site survives a run that observed nothing.
func BuildPatch(snap *Snapshot) payload.SitePatch {
	var patch payload.SitePatch
	if snap == nil {
		return patch
	}
	if snap.TotalPosts > 0 {
		patch.TotalPosts = snap.TotalPosts
	}
	if snap.TotalEntries > 0 {
		patch.TotalEntries = snap.TotalEntries
	}
	if len(snap.TrendingPages) > 0 {
		patch.TrendingPages = append([]payload.TrendingPage(nil), snap.TrendingPages...)
	}
	return patch
}

// Persister writes patches back to site records in the core database
type Persister struct {
	client   Writer
	settings config.Settings
}

// NewPersister creates a Persister
func NewPersister(client Writer, settings config.Settings) *Persister {
	return &Persister{
		client:   client,
		settings: settings,
	}
}

// Persist sends the patch to the site record. An empty patch sends nothing
// and reports false.
func (p *Persister) Persist(ctx context.Context, siteID string, patch payload.SitePatch) (bool, error) {
	if patch.IsEmpty() {
		return false, nil
	}
	if siteID == "" {
		return false, fmt.Errorf("site id is required")
	}

	endpoint := p.settings.CoreAPI("sites") + "/" + url.PathEscape(siteID)
	if err := p.client.REST(ctx, http.MethodPatch, endpoint, patch, nil); err != nil {
		return false, fmt.Errorf("failed to patch site %s: %w", siteID, err)
	}
	return true, nil
}
