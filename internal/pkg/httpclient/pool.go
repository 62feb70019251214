// Package httpclient provides shared upstream HTTP clients.
//
// Clients with the same options reuse one http.Client instance so the
// Transport connection pool survives across requests. The overall client
// timeout is deliberately zero: SSE responses stay open for minutes, so
// per-phase budgets (connect and response-header timeout here, body-idle
// timeout in the forwarder) replace a total-request deadline.
package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second
)

// Options defines the construction parameters of a shared client.
type Options struct {
	// ResponseHeaderTimeout bounds both dialing the upstream and waiting for
	// its response headers. Zero disables both bounds.
	ResponseHeaderTimeout time.Duration

	// Optional pool sizing (defaults applied when zero).
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
}

var sharedClients sync.Map

// GetClient returns the shared HTTP client for the given options.
func GetClient(opts Options) *http.Client {
	key := buildClientKey(opts)
	if cached, ok := sharedClients.Load(key); ok {
		if client, ok := cached.(*http.Client); ok {
			return client
		}
	}

	client := buildClient(opts)
	actual, _ := sharedClients.LoadOrStore(key, client)
	if c, ok := actual.(*http.Client); ok {
		return c
	}
	return client
}

func buildClient(opts Options) *http.Client {
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	maxIdleConnsPerHost := opts.MaxIdleConnsPerHost
	if maxIdleConnsPerHost <= 0 {
		maxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}

	dialer := &net.Dialer{Timeout: opts.ResponseHeaderTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		MaxConnsPerHost:       opts.MaxConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
	}
	return &http.Client{Transport: transport}
}

func buildClientKey(opts Options) string {
	return fmt.Sprintf("%s|%d|%d|%d",
		opts.ResponseHeaderTimeout.String(),
		opts.MaxIdleConns,
		opts.MaxIdleConnsPerHost,
		opts.MaxConnsPerHost,
	)
}
