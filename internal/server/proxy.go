package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"alkemi.dev/ipveil/common"
	"alkemi.dev/ipveil/internal/trafficlog"
	"alkemi.dev/ipveil/pkg/ipveil"
)

// ProxyInfoList is the /list response body.
type ProxyInfoList struct {
	Proxies []ProxyInfo `json:"proxies"`
}

// ProxyInfo is one pool record as exposed on the status surface.
type ProxyInfo struct {
	Address       string    `json:"address"`
	Scheme        string    `json:"scheme"`
	Status        string    `json:"status"`
	LatencyMs     int64     `json:"latency_ms"`
	ExitIP        string    `json:"exit_ip,omitempty"`
	Country       string    `json:"country,omitempty"`
	City          string    `json:"city,omitempty"`
	Failures      int       `json:"consecutive_failures"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

func proxyInfoOf(rec ipveil.ProxyRecord) ProxyInfo {
	return ProxyInfo{
		Address:       rec.Address(),
		Scheme:        rec.Candidate.Scheme,
		Status:        string(rec.Status),
		LatencyMs:     rec.Latency.Milliseconds(),
		ExitIP:        rec.ExitIP,
		Country:       rec.Country,
		City:          rec.City,
		Failures:      rec.ConsecutiveFailures,
		LastCheckedAt: rec.LastCheckedAt,
	}
}

// statusResponse is the /status body.
type statusResponse struct {
	Version    string     `json:"version,omitempty"`
	Uptime     string     `json:"uptime"`
	Active     *ProxyInfo `json:"active,omitempty"`
	Pool       poolCounts `json:"pool"`
	KillSwitch string     `json:"killswitch"`
	Rotator    string     `json:"rotator"`
	Sessions   uint64     `json:"sessions"`
	Dropped    uint64     `json:"dropped_log_records"`
	Schema     int        `json:"schema"`
}

type poolCounts struct {
	Total    int `json:"total"`
	Healthy  int `json:"healthy"`
	Degraded int `json:"degraded"`
	Dead     int `json:"dead"`
}

// nonProxy answers origin-form requests: the status surface, or a refusal.
func (s *Server) nonProxy(conn net.Conn, req *http.Request) {
	switch req.URL.Path {
	case "/status":
		s.statusHandler(conn, req)

		return
	case "/list":
		s.proxyListHandler(conn, req)

		return
	}

	writeHTTPError(conn, http.StatusInternalServerError,
		"This is an ipveil proxy server. Does not respond to non-proxy requests.")
}

func (s *Server) statusHandler(conn net.Conn, req *http.Request) {
	snap := s.Options.Pool.Snapshot()

	status := statusResponse{
		Version: common.Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Pool: poolCounts{
			Total:    snap.Total,
			Healthy:  snap.Healthy,
			Degraded: snap.Degraded,
			Dead:     snap.Dead,
		},
		Sessions: s.sessions.Load(),
		Schema:   trafficlog.SchemaVersion,
	}

	if snap.Active != nil {
		info := proxyInfoOf(*snap.Active)
		status.Active = &info
	}

	if s.Options.KillSwitch != nil {
		status.KillSwitch = string(s.Options.KillSwitch.State())
	}

	if s.Options.Rotator != nil {
		status.Rotator = string(s.Options.Rotator.State())
	}

	if s.Options.TrafficLog != nil {
		status.Dropped = s.Options.TrafficLog.Dropped()
	}

	writeJSON(conn, http.StatusOK, status)

	log.Debugf("%s %s %s", req.RemoteAddr, req.Method, req.URL)
}

func (s *Server) proxyListHandler(conn net.Conn, req *http.Request) {
	countryQuery := req.URL.Query().Get("country")
	cityQuery := req.URL.Query().Get("city")
	statusQuery := req.URL.Query().Get("status")

	snap := s.Options.Pool.Snapshot()

	proxies := ProxyInfoList{Proxies: make([]ProxyInfo, 0, len(snap.Records))}

	for _, rec := range snap.Records {
		if countryQuery != "" && rec.Country != countryQuery {
			continue
		}

		if cityQuery != "" && rec.City != cityQuery {
			continue
		}

		if statusQuery != "" && string(rec.Status) != statusQuery {
			continue
		}

		proxies.Proxies = append(proxies.Proxies, proxyInfoOf(rec))
	}

	writeJSON(conn, http.StatusOK, proxies)

	log.Debugf("%s %s %s", req.RemoteAddr, req.Method, req.URL)
}

func writeHTTPError(conn net.Conn, code int, msg string) {
	body := msg + "\n"

	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		code, http.StatusText(code), len(body), body)
}

func writeProxyAuthRequired(conn net.Conn) {
	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nProxy-Authenticate: Basic realm=%q\r\nContent-Length: 0\r\nConnection: close\r\n\r\n",
		http.StatusProxyAuthRequired, http.StatusText(http.StatusProxyAuthRequired), common.App)
}

func writeJSON(conn net.Conn, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeHTTPError(conn, http.StatusInternalServerError, "Failed to encode response")
		return
	}

	version := ""
	if common.Version != "" {
		version = fmt.Sprintf("X-Ipveil-Version: %s\r\n", common.Version)
	}

	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\n%sConnection: close\r\n\r\n",
		code, http.StatusText(code), len(data), version)

	_, _ = conn.Write(data)
}
