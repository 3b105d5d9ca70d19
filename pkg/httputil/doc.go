// Package httputil provides the JSON response helpers, request parsing and
// middleware shared by the admin API handlers.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteAccepted(w, status)
//	httputil.WriteBadRequest(w, "limit must be between 1 and 500")
//
// Every error body has the shape {"error": "..."}.
//
// # Requests
//
//	siteID, ok := httputil.ParsePathStringOrError(w, r, "siteId")
//	limit, ok := httputil.ParseQueryIntOrError(w, r, "limit", 50, 1, 500)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//	)(router)
//
// RequestIDMiddleware stores the request ID and logger in the context, so
// handlers log through observability.FromContext.
package httputil
