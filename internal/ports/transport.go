package ports

import "net/http"

// Transport is the single network primitive. It wraps, never replaces, an
// *http.Client so callers can inject proxies or fakes.
type Transport interface {
	Send(req *http.Request) (*http.Response, error)
}

// HTTPTransport adapts *http.Client to Transport.
type HTTPTransport struct {
	Client *http.Client
}

func (t HTTPTransport) Send(req *http.Request) (*http.Response, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}
