package ipveil

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
	"h12.io/socks"
)

// DialUpstream opens a raw connection to target (host:port) through the
// candidate upstream. HTTP upstreams get a CONNECT handshake, HTTPS the same
// after a TLS client handshake, SOCKS variants their native handshakes. The
// returned conn carries end-to-end bytes only; handshake traffic never
// appears on it.
func DialUpstream(ctx context.Context, c ProxyCandidate, target string, timeout time.Duration) (net.Conn, error) {
	switch c.Scheme {
	case SchemeHTTP, SchemeHTTPS:
		return dialHTTPConnect(ctx, c, target, timeout)
	case SchemeSOCKS4, SchemeSOCKS4A:
		dial := socks.Dial(fmt.Sprintf("%s://%s?timeout=%s", c.Scheme, c.Address, timeout))

		conn, err := dial("tcp", target)
		if err != nil {
			return nil, &UpstreamError{Address: c.Address, Err: err}
		}

		return conn, nil
	case SchemeSOCKS5:
		var auth *proxy.Auth

		if c.User != nil {
			pass, _ := c.User.Password()
			auth = &proxy.Auth{User: c.User.Username(), Password: pass}
		}

		d, err := proxy.SOCKS5("tcp", c.Address, auth, &net.Dialer{Timeout: timeout})
		if err != nil {
			return nil, &UpstreamError{Address: c.Address, Err: err}
		}

		var conn net.Conn

		if cd, ok := d.(proxy.ContextDialer); ok {
			conn, err = cd.DialContext(ctx, "tcp", target)
		} else {
			conn, err = d.Dial("tcp", target)
		}

		if err != nil {
			return nil, &UpstreamError{Address: c.Address, Err: err}
		}

		return conn, nil
	}

	return nil, &UpstreamError{Address: c.Address, Err: fmt.Errorf("unsupported proxy scheme %q", c.Scheme)}
}

func dialHTTPConnect(ctx context.Context, c ProxyCandidate, target string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}

	conn, err := d.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return nil, &UpstreamError{Address: c.Address, Err: err}
	}

	if c.Scheme == SchemeHTTPS {
		host, _, _ := net.SplitHostPort(c.Address)
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host, InsecureSkipVerify: true})

		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, &UpstreamError{Address: c.Address, Err: err}
		}

		conn = tlsConn
	}

	connect := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)

	if c.User != nil {
		pass, _ := c.User.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(c.User.Username() + ":" + pass))
		connect += "Proxy-Authorization: Basic " + cred + "\r\n"
	}

	connect += "\r\n"

	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write([]byte(connect)); err != nil {
		_ = conn.Close()
		return nil, &UpstreamError{Address: c.Address, Err: err}
	}

	br := bufio.NewReader(conn)

	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		_ = conn.Close()
		return nil, &UpstreamError{Address: c.Address, Err: err}
	}

	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, &UpstreamError{Address: c.Address, Err: fmt.Errorf("connect rejected: %s", resp.Status)}
	}

	_ = conn.SetDeadline(time.Time{})

	// Tunneled bytes may already sit in the reader's buffer.
	return &bufferedConn{Conn: conn, r: br}, nil
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *bufferedConn) CloseWrite() error {
	if cw, ok := b.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}

	return nil
}
