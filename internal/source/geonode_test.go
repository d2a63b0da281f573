package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"alkemi.dev/ipveil/pkg/ipveil"
)

const geonodePayload = `{
  "data": [
    {"ip": "10.0.0.1", "port": "8080", "protocols": ["http"], "country": "ID", "latency": 120},
    {"ip": "10.0.0.2", "port": "1080", "protocols": ["socks5", "http"], "country": "NL", "latency": 40},
    {"ip": "10.0.0.3", "port": "3128", "protocols": ["http"], "country": "US", "latency": 900},
    {"ip": "10.0.0.4", "port": "0", "protocols": ["http"], "country": "NL", "latency": 10}
  ]
}`

func TestGeonodeFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(geonodePayload))
	}))
	defer ts.Close()

	got, err := NewGeonode(ts.URL, Options{}, false).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %s", err)
	}

	// The zero port entry is unparseable and dropped.
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3: %v", len(got), got)
	}

	// Multi-protocol entries keep only the first protocol.
	if got[1].Scheme != ipveil.SchemeSOCKS5 || got[1].Address != "10.0.0.2:1080" {
		t.Errorf("multi-protocol entry parsed as %+v", got[1])
	}

	if got[0].Country != "ID" {
		t.Errorf("country hint lost: %+v", got[0])
	}
}

func TestGeonodeFetchPrefilters(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(geonodePayload))
	}))
	defer ts.Close()

	got, err := NewGeonode(ts.URL, Options{Countries: []string{"nl"}}, false).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %s", err)
	}

	for _, c := range got {
		if c.Country != "NL" {
			t.Errorf("country filter leaked %+v", c)
		}
	}

	got, err = NewGeonode(ts.URL, Options{MaxAdvertised: 200 * time.Millisecond}, false).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %s", err)
	}

	for _, c := range got {
		if c.Address == "10.0.0.3:3128" {
			t.Error("latency filter leaked the 900ms entry")
		}
	}
}

func TestGeonodeFetchBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer ts.Close()

	if _, err := NewGeonode(ts.URL, Options{}, false).Fetch(context.Background()); err == nil {
		t.Error("expected an error on 403")
	}
}

func TestGeonodeFetchBadJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>rate limited</html>"))
	}))
	defer ts.Close()

	if _, err := NewGeonode(ts.URL, Options{}, false).Fetch(context.Background()); err == nil {
		t.Error("expected an error on a non-JSON body")
	}
}
