package utils

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient returns the shared HTTP client used for calls to other
// services, with bounded timeouts so no request can hang a handler.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 2 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 2 * time.Second,
		},
	}
}
