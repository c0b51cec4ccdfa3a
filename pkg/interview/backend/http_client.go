package backend

import (
	"net"
	"net/http"
	"time"
)

// newDefaultHTTPClient sets transport-level timeouts only; request lifetime
// is bounded by per-call context deadlines.
func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Answer evaluation runs transcription server side before responding.
		ResponseHeaderTimeout: 2 * time.Minute,
	}
	return &http.Client{Transport: transport}
}
