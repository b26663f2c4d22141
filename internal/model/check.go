// Package model defines shared types for the proxy.
package model

import (
	"net/http"
)

// CheckQuery holds the inbound lookup parameters. An empty field means the
// parameter was not supplied and must not be forwarded.
type CheckQuery struct {
	Mobile string
	Email  string
}

// UpstreamResponse is the fully read result of one outbound call.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
