package ipveil

import (
	"crypto/tls"
	"fmt"
	"net/http"

	"golang.org/x/net/proxy"
	"h12.io/socks"
)

// HopHeaders are hop-by-hop headers stripped before relaying.
var HopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Transport builds an http.Transport that routes requests through the
// candidate. HTTP/S upstreams go through ProxyURL, SOCKS4/4a through
// h12.io/socks, SOCKS5 through x/net with optional auth.
func Transport(c ProxyCandidate) (*http.Transport, error) {
	switch c.Scheme {
	case SchemeHTTP, SchemeHTTPS:
		return &http.Transport{
			Proxy:             http.ProxyURL(c.URL()),
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			DisableKeepAlives: true,
		}, nil
	case SchemeSOCKS4, SchemeSOCKS4A:
		dial := socks.Dial(fmt.Sprintf("%s://%s?timeout=5s", c.Scheme, c.Address))

		return &http.Transport{
			Dial:              dial,
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			DisableKeepAlives: true,
		}, nil
	case SchemeSOCKS5:
		var auth *proxy.Auth

		if c.User != nil {
			pass, _ := c.User.Password()
			auth = &proxy.Auth{User: c.User.Username(), Password: pass}
		}

		d, err := proxy.SOCKS5("tcp", c.Address, auth, proxy.Direct)
		if err != nil {
			return nil, err
		}

		tr := &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			DisableKeepAlives: true,
		}

		if cd, ok := d.(proxy.ContextDialer); ok {
			tr.DialContext = cd.DialContext
		} else {
			tr.Dial = d.Dial
		}

		return tr, nil
	}

	return nil, fmt.Errorf("unsupported proxy scheme %q", c.Scheme)
}

// Proxy binds a candidate to its transport for a single probe or request.
type Proxy struct {
	Address   string
	Transport *http.Transport
}

// New builds a disposable client for req through the proxy, stripping
// hop-by-hop headers from the outgoing request. Redirects are not followed;
// the echo endpoint must answer directly.
func (p *Proxy) New(req *http.Request) (*http.Client, *http.Request) {
	req = req.Clone(req.Context())

	for _, h := range HopHeaders {
		req.Header.Del(h)
	}

	client := &http.Client{
		Transport: p.Transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return client, req
}
