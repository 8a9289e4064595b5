// Package transport provides the outbound HTTP transports used by the gateway:
// one for the storefront and one for the payment vendor.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// =============================================================================
// STOREFRONT TRANSPORT
// =============================================================================
//
// Shared WordPress hosts commonly sit behind CDNs that rate limit clients by
// TLS fingerprint (JA3). Go's default ClientHello is easy to single out, so
// storefront calls present a Chrome ClientHello through uTLS and let ALPN pick
// between h2 and http/1.1.
//
// =============================================================================

// NewChromeTransport returns a RoundTripper presenting Chrome's TLS
// fingerprint. dialTimeout bounds the TCP dial and the TLS handshake.
func NewChromeTransport(dialTimeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: dialTimeout}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialChromeTLS(ctx, dialer, dialTimeout, network, addr)
	}

	return &chromeTransport{
		h2: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dial(ctx, network, addr)
			},
		},
		h1: &http.Transport{
			DialTLSContext:        dial,
			ForceAttemptHTTP2:     false,
			ResponseHeaderTimeout: dialTimeout * 2,
			MaxIdleConnsPerHost:   4,
		},
	}
}

type chromeTransport struct {
	h2 *http2.Transport
	h1 *http.Transport
}

// RoundTrip tries HTTP/2 and falls back to HTTP/1.1 for hosts without h2.
// Requests with a body that was already consumed are not replayed.
func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, err
		}
		body, gerr := req.GetBody()
		if gerr != nil {
			return nil, err
		}
		req = req.Clone(req.Context())
		req.Body = body
	}
	return t.h1.RoundTrip(req)
}

func dialChromeTLS(ctx context.Context, dialer *net.Dialer, handshakeTimeout time.Duration, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)

	if handshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	return tlsConn, nil
}

// =============================================================================
// VENDOR TRANSPORT
// =============================================================================

// NewVendorTransport returns a standard transport with every phase bounded.
// The payment vendor has no fingerprinting, but a hung connection must never
// hold a shopper's request open indefinitely.
func NewVendorTransport(timeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	t.TLSHandshakeTimeout = timeout
	t.ResponseHeaderTimeout = timeout
	t.IdleConnTimeout = 90 * time.Second
	return t
}
