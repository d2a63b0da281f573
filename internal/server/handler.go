package server

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"alkemi.dev/ipveil/internal/trafficlog"
	"alkemi.dev/ipveil/pkg/ipveil"
)

const headerTimeout = 10 * time.Second

// handle reads the first request off a raw client connection and routes it:
// CONNECT and absolute-form requests become forwarded sessions, origin-form
// requests hit the status endpoints.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	s.track(conn)
	defer s.untrack(conn)

	_ = conn.SetReadDeadline(time.Now().Add(headerTimeout))

	br := bufio.NewReader(conn)

	req, err := http.ReadRequest(br)
	if err != nil {
		log.Debugf("%s: malformed request: %s", conn.RemoteAddr(), err)
		return
	}

	_ = conn.SetReadDeadline(time.Time{})

	if !s.authorized(req) {
		log.Warnf("%s: Unauthorized proxy request to %s", conn.RemoteAddr(), req.Host)
		writeProxyAuthRequired(conn)

		return
	}

	// The reader may have buffered bytes past the header; every later read
	// has to drain it before touching the socket.
	client := &bufferedClient{Conn: conn, r: br}

	switch {
	case req.Method == http.MethodConnect:
		s.forward(client, req, connectTarget(req.Host), true)
	case req.URL.IsAbs():
		s.forward(client, req, absTarget(req.URL), false)
	default:
		s.nonProxy(client, req)
	}
}

// forward runs one proxied session: snapshot the active upstream, dial the
// target through it, then relay bytes until either side finishes. The
// snapshot is taken once; a rotation happening mid-session never touches
// this connection, and a failed upstream fails the session rather than
// being retried.
func (s *Server) forward(client net.Conn, req *http.Request, target string, isConnect bool) {
	s.sessions.Add(1)

	session := trafficlog.Session{
		ID:         uuid.NewString(),
		ClientAddr: client.RemoteAddr().String(),
		Target:     target,
		StartedAt:  time.Now(),
	}

	snapshot := s.awaitUpstream()
	if snapshot == nil {
		log.Errorf("%s %s: %s", client.RemoteAddr(), target, ipveil.ErrPoolExhausted)
		s.finish(&session, trafficlog.OutcomeKillswitchBlocked)
		writeHTTPError(client, http.StatusServiceUnavailable, "No upstream proxy available")

		return
	}

	session.Upstream = snapshot.Address()
	session.UpstreamScheme = snapshot.Candidate.Scheme

	log.Debugf("%s %s %s via %s", client.RemoteAddr(), req.Method, target, snapshot.Candidate)

	upstream, err := ipveil.DialUpstream(context.Background(), snapshot.Candidate, target, s.Options.Timeout)
	if err != nil {
		log.Errorf("%s %s", client.RemoteAddr(), err)
		s.finish(&session, trafficlog.OutcomeUpstreamFailed)
		writeHTTPError(client, http.StatusBadGateway, "Proxy server error")
		s.reportUpstreamFailure(snapshot.Address())

		return
	}
	defer upstream.Close()

	var in, out atomic.Uint64
	counted := ipveil.NewCountedConn(upstream, &in, &out)

	if isConnect {
		if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
			s.finish(&session, trafficlog.OutcomeClientClosed)
			return
		}
	} else {
		for _, h := range ipveil.HopHeaders {
			req.Header.Del(h)
		}

		// The tunnel ends at the origin, so the request goes origin-form,
		// one request per connection.
		req.Header.Set("Connection", "close")

		if err := req.Write(counted); err != nil {
			log.Errorf("%s %s", client.RemoteAddr(), err)
			s.finish(&session, trafficlog.OutcomeUpstreamFailed)
			writeHTTPError(client, http.StatusBadGateway, "Proxy server error")
			s.reportUpstreamFailure(snapshot.Address())

			return
		}
	}

	outcome := relay(client, counted)

	session.BytesIn = in.Load()
	session.BytesOut = out.Load()
	s.finish(&session, outcome)

	log.Debugf("%s %s via %s in=%d out=%d %s",
		session.ClientAddr, target, session.Upstream, session.BytesIn, session.BytesOut, outcome)

	if outcome == trafficlog.OutcomeUpstreamFailed {
		s.reportUpstreamFailure(snapshot.Address())
	}
}

func (s *Server) finish(session *trafficlog.Session, outcome trafficlog.Outcome) {
	session.Outcome = outcome
	session.EndedAt = time.Now()

	if s.Options.TrafficLog != nil {
		s.Options.TrafficLog.Record(*session)
	}
}

// awaitUpstream snapshots the active pointer, waiting out brief rotation
// gaps until the kill switch trips. Returns nil when the session must be
// refused.
func (s *Server) awaitUpstream() *ipveil.ProxyRecord {
	for {
		if s.Options.KillSwitch != nil && !s.Options.KillSwitch.Permit() {
			return nil
		}

		if rec := s.Options.Pool.Active(); rec != nil {
			return rec
		}

		if s.Options.KillSwitch == nil {
			return nil
		}

		select {
		case <-s.quit:
			return nil
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (s *Server) reportUpstreamFailure(addr string) {
	if s.Options.Pool != nil {
		s.Options.Pool.ReportFailure(addr)
	}

	if s.Options.Rotator != nil {
		s.Options.Rotator.ReportUpstreamFailure(addr)
	}
}

// relay pumps bytes both ways until both directions finish. The first error
// decides the outcome: an upstream-side error fails the session, a
// client-side error means the client went away, clean EOFs are ok. A clean
// EOF half-closes the other side; an error tears both down.
func relay(client, upstream net.Conn) trafficlog.Outcome {
	var (
		once    sync.Once
		outcome = trafficlog.OutcomeOK
	)

	decide := func(o trafficlog.Outcome) {
		once.Do(func() { outcome = o })
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()

		readErr, writeErr := pump(upstream, client)

		switch {
		case writeErr != nil:
			decide(trafficlog.OutcomeUpstreamFailed)
			teardown(client, upstream)
		case readErr != nil:
			decide(trafficlog.OutcomeClientClosed)
			teardown(client, upstream)
		default:
			closeWrite(upstream)
		}
	}()

	go func() {
		defer wg.Done()

		readErr, writeErr := pump(client, upstream)

		switch {
		case readErr != nil:
			decide(trafficlog.OutcomeUpstreamFailed)
			teardown(client, upstream)
		case writeErr != nil:
			decide(trafficlog.OutcomeClientClosed)
			teardown(client, upstream)
		default:
			closeWrite(client)
		}
	}()

	wg.Wait()

	return outcome
}

// pump copies src to dst, separating read-side from write-side failures.
// EOF is a clean end. An error caused by the teardown of an already-decided
// session still surfaces here, but decide keeps only the first verdict.
func pump(dst io.Writer, src io.Reader) (readErr, writeErr error) {
	buf := make([]byte, 32*1024)

	for {
		n, rerr := src.Read(buf)

		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return nil, werr
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil, nil
			}

			return rerr, nil
		}
	}
}

func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

func teardown(conns ...net.Conn) {
	for _, c := range conns {
		_ = c.Close()
	}
}

// authorized checks Proxy-Authorization (proxied requests) or plain basic
// auth (status endpoints) against the configured credential.
func (s *Server) authorized(req *http.Request) bool {
	if s.Options.Auth == "" {
		return true
	}

	auth := req.Header.Get("Proxy-Authorization")
	if auth == "" {
		if user, password, ok := req.BasicAuth(); ok {
			return fmt.Sprintf("%s:%s", user, password) == s.Options.Auth
		}

		return false
	}

	creds := strings.SplitN(auth, " ", 2)
	if len(creds) != 2 {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(creds[1])
	if err != nil {
		log.Warnf("%s: Error decoding proxy authorization", req.RemoteAddr)
		return false
	}

	if string(decoded) != s.Options.Auth {
		log.Errorf("%s: Invalid proxy authorization", req.RemoteAddr)
		return false
	}

	return true
}

func connectTarget(host string) string {
	if !strings.Contains(host, ":") {
		return net.JoinHostPort(host, "443")
	}

	return host
}

func absTarget(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}

	if u.Scheme == "https" {
		return net.JoinHostPort(u.Hostname(), "443")
	}

	return net.JoinHostPort(u.Hostname(), "80")
}

// bufferedClient drains the request reader's lookahead before reading from
// the socket again.
type bufferedClient struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedClient) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *bufferedClient) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}

	return nil
}
