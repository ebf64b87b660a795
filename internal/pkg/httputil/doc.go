// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handler files should use these helpers instead of writing raw
// http.ResponseWriter calls. This keeps JSON formatting, error structures,
// and logging consistent across all endpoints. Tracking endpoints are the
// exception: they serve image bytes and redirects, never JSON.
package httputil
