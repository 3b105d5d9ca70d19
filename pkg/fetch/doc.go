// Package fetch is the HTTP client for the core database, the per-site custom
// databases and the analytics provider.
//
// Every attempt runs under its own timeout. Network errors, attempt
// timeouts, 408, 429 and 5xx responses are retried with bounded exponential
// backoff. Other 4xx responses and GraphQL errors fail immediately. Requests
// share a token-bucket rate limiter and are traced with otelhttp.
//
//	client := fetch.NewFromConfig(cfg.Fetch, cfg.Settings.APIKey, metrics, logger)
//
//	var page payload.PaginatedDocs[payload.DocSummary]
//	err := client.Get(ctx, q.URL(settings.CoreAPI("posts")), &page)
//
//	var sites payload.EligibleSitesResponse
//	err = client.GraphQL(ctx, settings.GraphQLEndpoint(), payload.EligibleSitesQuery,
//		map[string]interface{}{"page": 1, "limit": payload.EligibleSitesPageSize}, &sites)
//
// Failures are typed: *HTTPError for non-2xx responses and *GraphQLError for
// a GraphQL errors array.
package fetch
