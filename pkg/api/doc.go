// Package api serves the sitepulse admin and search endpoints.
//
//	GET  /healthz                             liveness
//	GET  /readyz                              ledger and Redis readiness
//	GET  /metrics                             Prometheus exposition
//	POST /api/v1/analytics/run                dispatch every site (202, runs in background)
//	POST /api/v1/sites/{siteId}/analytics/run run one site and return its result
//	GET  /api/v1/runs?site=&limit=            recent ledger rows
//	GET  /api/v1/sites/{siteSlug}/search      federated search
//
// There is no authentication. The server is meant to listen on an internal
// address only.
package api
