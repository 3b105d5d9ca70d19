// Package ga fetches page-view reports from the Google Analytics 4 Data API.
//
// Requests go through the shared fetch client, so they get the same
// per-attempt timeout and transient retry as every other outbound call.
// Authentication uses a service-account JWT.
package ga
