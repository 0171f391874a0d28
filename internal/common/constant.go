// Package common contains shared constants, sentinel errors and small helpers
// used across phrkeeper components.
package common

const (
	// AuthorizationHeaderName carries the bearer access token on outbound requests.
	AuthorizationHeaderName = "Authorization"

	// RequestIDHeaderName tags every outbound request for server-side tracing.
	RequestIDHeaderName = "X-Request-ID"

	// TotalCountHeaderName carries the number of matching records on search/count responses.
	TotalCountHeaderName = "X-Total-Count"

	// DateLayout is the wire layout of record dates (yyyy-mm-dd).
	DateLayout = "2006-01-02"

	ContentTypeJSON        = "application/json"
	ContentTypeOctetStream = "application/octet-stream"
)
