package probe

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/quic-go/quic-go/http3"
)

// NewHTTPClient builds the managed client used for the round-trip phase.
//
// protocol is one of auto, h1, h2 or h3. Every round trip pays for a fresh
// connection, like a first-time visitor would: keep-alives are disabled for
// the TCP variants and h3 dials a new QUIC connection per request.
func NewHTTPClient(protocol string, timeout time.Duration) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	var transport http.RoundTripper
	switch protocol {
	case "", "auto":
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			ForceAttemptHTTP2:   true,
			DisableKeepAlives:   true,
			TLSHandshakeTimeout: timeout,
		}
	case "h1":
		transport = &http.Transport{
			Proxy:       http.ProxyFromEnvironment,
			DialContext: dialer.DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			// A non-nil empty map disables the automatic HTTP/2 upgrade.
			TLSNextProto:        map[string]func(string, *tls.Conn) http.RoundTripper{},
			ForceAttemptHTTP2:   false,
			DisableKeepAlives:   true,
			TLSHandshakeTimeout: timeout,
		}
	case "h2":
		transport = &http.Transport{
			Proxy:       http.ProxyFromEnvironment,
			DialContext: dialer.DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"h2"},
			},
			ForceAttemptHTTP2:   true,
			DisableKeepAlives:   true,
			TLSHandshakeTimeout: timeout,
		}
	case "h3":
		transport = &freshTransport{
			newTransport: func() roundTripCloser {
				return &http3.Transport{TLSClientConfig: &tls.Config{}}
			},
		}
	default:
		return nil, fmt.Errorf("unsupported protocol %q", protocol)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

type roundTripCloser interface {
	http.RoundTripper
	io.Closer
}

// freshTransport uses a new underlying transport for each request and closes
// it together with the response body.
type freshTransport struct {
	newTransport func() roundTripCloser
}

func (f *freshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tr := f.newTransport()
	resp, err := tr.RoundTrip(req)
	if err != nil {
		tr.Close()
		return nil, err
	}
	resp.Body = &closingBody{ReadCloser: resp.Body, transport: tr}
	return resp, nil
}

type closingBody struct {
	io.ReadCloser
	transport io.Closer
}

func (b *closingBody) Close() error {
	err := b.ReadCloser.Close()
	if cerr := b.transport.Close(); err == nil {
		err = cerr
	}
	return err
}
