package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/manawiki/sitepulse/pkg/analytics"
	"github.com/manawiki/sitepulse/pkg/async"
	"github.com/manawiki/sitepulse/pkg/httputil"
	"github.com/manawiki/sitepulse/pkg/ledger"
	"github.com/manawiki/sitepulse/pkg/observability"
)

// DispatchResponse acknowledges a background dispatch
type DispatchResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"requestId,omitempty"`
}

// RunsResponse lists ledger rows, newest first
type RunsResponse struct {
	Runs []ledger.Run `json:"runs"`
}

// dispatchAll handles POST /api/v1/analytics/run. The dispatch keeps running
// after the 202 and is bounded by the server's base context.
func (s *Server) dispatchAll(w http.ResponseWriter, r *http.Request) {
	if !s.dispatching.CompareAndSwap(false, true) {
		httputil.WriteConflict(w, analytics.ErrDispatchInProgress.Error())
		return
	}

	requestID := observability.GetRequestID(r.Context())
	logger := observability.FromContext(r.Context())

	async.SafeGo(s.opts.BaseContext, logger, s.opts.DispatchTimeout, "manual dispatch", func(ctx context.Context) error {
		defer s.dispatching.Store(false)
		ctx = observability.WithLogger(observability.WithRequestID(ctx, requestID), logger)

		summary, err := s.opts.Dispatcher.DispatchAll(ctx)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"sites":     summary.Sites,
			"succeeded": summary.Succeeded,
			"skipped":   summary.Skipped,
			"failed":    summary.Failed,
		}).Info("Manual dispatch finished")
		return nil
	})

	_ = httputil.WriteAccepted(w, DispatchResponse{Status: "dispatching", RequestID: requestID})
}

// runSite handles POST /api/v1/sites/{siteId}/analytics/run and answers with
// the finished run
func (s *Server) runSite(w http.ResponseWriter, r *http.Request) {
	siteID, ok := httputil.ParsePathStringOrError(w, r, "siteId")
	if !ok {
		return
	}

	result, err := s.opts.Dispatcher.RunSite(r.Context(), siteID)
	switch {
	case errors.Is(err, analytics.ErrSiteNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case err != nil:
		observability.FromContext(r.Context()).WithError(err).WithField("site", siteID).Error("Site run failed")
		httputil.WriteInternalError(w, err)
	default:
		httputil.WriteJSONOrError(w, http.StatusOK, result, "failed to encode run result")
	}
}

// listRuns handles GET /api/v1/runs?site=&limit=
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := httputil.ParseQueryIntOrError(w, r, "limit", 50, 1, 500)
	if !ok {
		return
	}

	runs, err := s.opts.Runs.Recent(r.Context(), ledger.Filter{
		SiteID: httputil.ParseQueryString(r, "site", ""),
		Limit:  limit,
	})
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to list runs")
		httputil.WriteInternalError(w, err)
		return
	}
	if runs == nil {
		runs = []ledger.Run{}
	}
	httputil.WriteJSONOrError(w, http.StatusOK, RunsResponse{Runs: runs}, "failed to encode runs")
}
