// Package network builds the HTTP clients of the service client and sorts
// transport failures into connectivity and transfer errors.
package network

import (
	"net/http"
	"time"
)

// ClientConfig sizes one HTTP client
type ClientConfig struct {
	Timeout               time.Duration
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	ResponseHeaderTimeout time.Duration
}

// DefaultClientConfig is used for API calls
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:               30 * time.Second,
		MaxConnsPerHost:       32,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
}

// NewClient creates an HTTP client honoring the proxy environment variables.
// Idle connections are kept per host up to MaxConnsPerHost.
func NewClient(config *ClientConfig) *http.Client {
	if config == nil {
		config = DefaultClientConfig()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = config.MaxConnsPerHost
	transport.MaxIdleConnsPerHost = config.MaxConnsPerHost
	transport.IdleConnTimeout = config.IdleConnTimeout
	transport.ResponseHeaderTimeout = config.ResponseHeaderTimeout
	transport.MaxResponseHeaderBytes = 1 << 20

	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}
}

// GetTransferClient returns an HTTP client for audio and cover transfers.
// Every worker may hold one connection to the storage host.
func GetTransferClient(timeout time.Duration, workers int) *http.Client {
	config := DefaultClientConfig()
	config.Timeout = timeout
	config.ResponseHeaderTimeout = 60 * time.Second
	config.MaxConnsPerHost = max(config.MaxConnsPerHost, workers)
	return NewClient(config)
}
