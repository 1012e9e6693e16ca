// Package httpx owns the shared HTTP client used for outbound calls to
// external services. One client, one timeout, reused everywhere.
package httpx

import (
	"net/http"
	"time"
)

const defaultExternalHTTPTimeout = 90 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

// ConfigureExternalHTTPClient applies the configured timeout to the shared
// client. A non-positive value keeps the default. Returns the timeout in
// effect so the caller can log it.
func ConfigureExternalHTTPClient(timeoutSeconds int) time.Duration {
	timeout := defaultExternalHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	externalHTTPClient.Timeout = timeout
	return timeout
}

// ExternalHTTPClient returns the shared outbound client.
func ExternalHTTPClient() *http.Client {
	return externalHTTPClient
}
