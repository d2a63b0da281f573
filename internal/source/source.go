package source

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/projectdiscovery/gologger"

	"alkemi.dev/ipveil/pkg/helper"
	"alkemi.dev/ipveil/pkg/ipveil"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"

// Source produces proxy candidates. Every Fetch pulls fresh from the origin.
type Source interface {
	Fetch(ctx context.Context) ([]ipveil.ProxyCandidate, error)
	Name() string
}

// Options tune fetching and the prefilters that metadata-carrying sources
// honor before candidates ever reach the validator.
type Options struct {
	Timeout       time.Duration
	UserAgent     string
	Countries     []string
	MaxAdvertised time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 15 * time.Second
	}

	return o.Timeout
}

func (o Options) userAgent() string {
	if o.UserAgent == "" {
		return defaultUserAgent
	}

	return o.UserAgent
}

// ParseSpec builds a source from a "kind:origin" entry. file origins point
// at local lists; a "#ja3" suffix on remote origins fetches with a browser
// TLS fingerprint for listings that reject plain Go clients.
func ParseSpec(spec string, opt Options) (Source, error) {
	spec = strings.TrimSpace(helper.Eval(spec))

	kind, origin, found := strings.Cut(spec, ":")
	if !found || origin == "" {
		return nil, fmt.Errorf("invalid source %q, want kind:origin", spec)
	}

	origin, ja3 := strings.CutSuffix(origin, "#ja3")

	switch strings.ToLower(kind) {
	case "geonode":
		return NewGeonode(origin, opt, ja3), nil
	case "htmltable":
		return NewHTMLTable(origin, opt, ja3), nil
	case "pagescrape":
		return NewPageScrape(origin, opt), nil
	case "file":
		return NewFile(origin), nil
	}

	return nil, fmt.Errorf("unknown source kind %q", kind)
}

// Sources fans in every configured origin and deduplicates candidates by
// address, first occurrence winning. Protocols, when set, restrict which
// schemes survive the merge.
type Sources struct {
	list      []Source
	protocols []string
}

func NewSources(list []Source, protocols []string) *Sources {
	return &Sources{list: list, protocols: protocols}
}

// Len reports how many origins are configured.
func (s *Sources) Len() int { return len(s.list) }

// SetProtocols replaces the scheme filter applied on the next Fetch.
func (s *Sources) SetProtocols(protocols []string) {
	s.protocols = protocols
}

// Fetch pulls every origin in order. Individual origin failures are logged
// and skipped; only when no origin yields a single candidate does Fetch
// fail, and then with SourceUnavailableError.
func (s *Sources) Fetch(ctx context.Context) ([]ipveil.ProxyCandidate, error) {
	var (
		out  []ipveil.ProxyCandidate
		errs []error
	)

	seen := make(map[string]bool)

	for _, src := range s.list {
		candidates, err := src.Fetch(ctx)
		if err != nil {
			gologger.Warning().Msgf("source %s: %s", src.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))

			continue
		}

		for _, c := range candidates {
			if len(s.protocols) > 0 && !slices.Contains(s.protocols, c.Scheme) {
				continue
			}

			if seen[c.Address] {
				continue
			}

			seen[c.Address] = true
			out = append(out, c)
		}
	}

	if len(out) == 0 {
		return nil, &ipveil.SourceUnavailableError{Tried: len(s.list), Err: errors.Join(errs...)}
	}

	return out, nil
}

func matchCC(cc []string, code string) bool {
	if code == "" {
		return false
	}

	for _, c := range cc {
		if strings.EqualFold(strings.TrimSpace(c), code) {
			return true
		}
	}

	return false
}
