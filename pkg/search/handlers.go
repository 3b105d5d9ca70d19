package search

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/manawiki/sitepulse/pkg/config"
	"github.com/manawiki/sitepulse/pkg/httputil"
	"github.com/manawiki/sitepulse/pkg/observability"
)

// Handlers exposes Service over HTTP
type Handlers struct {
	service *Service
}

// NewHandlers creates search handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers search routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sites/{siteSlug}/search", h.search).Methods("GET")
}

type searchResponse struct {
	SearchResults []Result `json:"searchResults"`
}

// search handles GET /sites/{siteSlug}/search?q=&type=core|custom
func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	siteSlug, ok := httputil.ParsePathStringOrError(w, r, "siteSlug")
	if !ok {
		return
	}

	if !config.ValidSiteSlug(siteSlug) {
		httputil.WriteBadRequest(w, fmt.Sprintf("invalid site slug %q", siteSlug))
		return
	}

	mode := ModeCore
	if t := httputil.ParseQueryString(r, "type", ""); t != "" {
		if mode, ok = ParseMode(t); !ok {
			httputil.WriteBadRequest(w, fmt.Sprintf("unknown search type %q", t))
			return
		}
	}

	results, err := h.service.Search(r.Context(), siteSlug, r.URL.Query().Get("q"), mode)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("site_slug", siteSlug).Error("Search failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	ttl := int(h.service.TTL().Seconds())
	w.Header().Set("Cache-Control", fmt.Sprintf("public, s-maxage=%d, max-age=%d", ttl, ttl))
	httputil.WriteJSONOrError(w, http.StatusOK, searchResponse{SearchResults: results}, "failed to encode search results")
}
