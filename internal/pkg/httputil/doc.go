// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handlers use these helpers instead of writing raw http.ResponseWriter
// calls so JSON formatting, error envelopes and logging stay consistent
// across the API and webhook endpoints.
package httputil
