package httputil

import (
	"net/http"
	"time"
)

// Timeouts for calls to the imagery provider. Raster rendering is the
// slowest operation, token issuance the fastest.
const (
	DefaultTimeout = 30 * time.Second
	TokenTimeout   = 10 * time.Second
	ProcessTimeout = 60 * time.Second
)

// NewClient returns an HTTP client with the default timeout.
func NewClient() *http.Client {
	return NewClientWithTimeout(DefaultTimeout)
}

// NewClientWithTimeout returns an HTTP client bounded by the given
// per-request timeout.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
