// This file implements a custom HTTP transport using utls so outbound TLS
// handshakes carry a Firefox fingerprint. The identity-provider frontends
// rate-limit fingerprint-less Go clients much more aggressively than
// browsers.
package federation

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"
)

// newBrowserHTTPClient builds the HTTP client the federation flow runs over:
// a shared cookie jar, no automatic redirect following (every hop in the
// federation chain is inspected by hand) and the fingerprinted transport.
func newBrowserHTTPClient(proxyAddr string, timeout time.Duration) *http.Client {
	// cookiejar.New only fails on a nil-options-invariant that cannot
	// trigger here.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &http.Client{
		Transport: newUtlsRoundTripper(proxyAddr),
		Jar:       jar,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// utlsRoundTripper implements http.RoundTripper over per-host HTTP/2
// connections whose TLS handshake mimics Firefox.
type utlsRoundTripper struct {
	// mu protects the connections map
	mu          sync.Mutex
	connections map[string]*http2.ClientConn
	// group collapses concurrent dials to the same host into one
	group  singleflight.Group
	dialer proxy.Dialer
}

// newUtlsRoundTripper creates a new utls-based round tripper with optional
// proxy support. An unparsable proxy URL falls back to a direct connection.
func newUtlsRoundTripper(proxyAddr string) *utlsRoundTripper {
	var dialer proxy.Dialer = proxy.Direct
	if proxyAddr != "" {
		proxyURL, err := url.Parse(proxyAddr)
		if err != nil {
			log.Errorf("failed to parse proxy URL %q: %v", proxyAddr, err)
		} else if pDialer, err := proxy.FromURL(proxyURL, proxy.Direct); err != nil {
			log.Errorf("failed to create proxy dialer for %q: %v", proxyAddr, err)
		} else {
			dialer = pDialer
		}
	}

	return &utlsRoundTripper{
		connections: make(map[string]*http2.ClientConn),
		dialer:      dialer,
	}
}

// connFor returns a usable cached connection for host or dials a new one.
// Concurrent callers for the same host share a single dial.
func (t *utlsRoundTripper) connFor(host, addr string) (*http2.ClientConn, error) {
	t.mu.Lock()
	if conn, ok := t.connections[host]; ok && conn.CanTakeNewRequest() {
		t.mu.Unlock()
		return conn, nil
	}
	t.mu.Unlock()

	v, err, _ := t.group.Do(host, func() (any, error) {
		// A concurrent dial may have finished between the check above
		// and entering the group.
		t.mu.Lock()
		if conn, ok := t.connections[host]; ok && conn.CanTakeNewRequest() {
			t.mu.Unlock()
			return conn, nil
		}
		t.mu.Unlock()

		conn, err := t.dial(host, addr)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.connections[host] = conn
		t.mu.Unlock()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*http2.ClientConn), nil
}

// dial opens a TCP connection (optionally through the proxy), performs the
// Firefox-fingerprinted TLS handshake and layers an HTTP/2 client connection
// on top.
func (t *utlsRoundTripper) dial(host, addr string) (*http2.ClientConn, error) {
	conn, err := t.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloFirefox_Auto)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	tr := &http2.Transport{}
	h2Conn, err := tr.NewClientConn(tlsConn)
	if err != nil {
		tlsConn.Close()
		return nil, err
	}
	return h2Conn, nil
}

// RoundTrip implements http.RoundTripper.
func (t *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	addr := req.URL.Host
	if !strings.Contains(addr, ":") {
		addr += ":443"
	}
	hostname := req.URL.Hostname()

	h2Conn, err := t.connFor(hostname, addr)
	if err != nil {
		return nil, err
	}

	resp, err := h2Conn.RoundTrip(req)
	if err != nil {
		// Drop the broken connection so the next request redials.
		t.mu.Lock()
		if cached, ok := t.connections[hostname]; ok && cached == h2Conn {
			delete(t.connections, hostname)
		}
		t.mu.Unlock()
		return nil, err
	}
	return resp, nil
}
