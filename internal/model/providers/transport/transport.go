package transport

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultConnectTimeout = 10 * time.Second

// NewClient returns an HTTP client for model backends. connectTimeout bounds dialing and the TLS
// handshake only. Hosted backends answer non-streaming calls once generation is done, so waiting
// for headers and reading the body are bounded by the step deadline on the request context.
func NewClient(connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}

	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{Transport: otelhttp.NewTransport(base)}
}
