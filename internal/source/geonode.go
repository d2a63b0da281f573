package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"alkemi.dev/ipveil/pkg/ipveil"
)

type geonodeResponse struct {
	Data []geonodeEntry `json:"data"`
}

type geonodeEntry struct {
	IP        string   `json:"ip"`
	Port      string   `json:"port"`
	Protocols []string `json:"protocols"`
	Country   string   `json:"country"`
	Latency   float64  `json:"latency"`
}

// Geonode fetches a geonode-style JSON list API. Country and advertised
// latency prefilters apply here since this is the only source kind that
// carries that metadata.
type Geonode struct {
	origin string
	opt    Options
	ja3    bool
	client *resty.Client
}

func NewGeonode(origin string, opt Options, ja3 bool) *Geonode {
	client := resty.New().
		SetTimeout(opt.timeout()).
		SetRetryCount(2).
		SetRetryWaitTime(300 * time.Millisecond).
		SetHeader("User-Agent", opt.userAgent())

	return &Geonode{origin: origin, opt: opt, ja3: ja3, client: client}
}

func (g *Geonode) Name() string { return "geonode" }

func (g *Geonode) Fetch(ctx context.Context) ([]ipveil.ProxyCandidate, error) {
	var body []byte

	if g.ja3 {
		b, err := fetchJA3(g.origin, g.opt)
		if err != nil {
			return nil, err
		}

		body = b
	} else {
		resp, err := g.client.R().SetContext(ctx).Get(g.origin)
		if err != nil {
			return nil, err
		}

		if !resp.IsSuccess() {
			return nil, fmt.Errorf("unexpected status %s", resp.Status())
		}

		body = resp.Body()
	}

	var list geonodeResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, err
	}

	var out []ipveil.ProxyCandidate

	for _, e := range list.Data {
		if len(g.opt.Countries) > 0 && !matchCC(g.opt.Countries, e.Country) {
			continue
		}

		if g.opt.MaxAdvertised > 0 && time.Duration(e.Latency)*time.Millisecond > g.opt.MaxAdvertised {
			continue
		}

		for _, proto := range e.Protocols {
			c, err := ipveil.ParseCandidate(fmt.Sprintf("%s://%s:%s", strings.ToLower(proto), e.IP, e.Port), g.Name())
			if err != nil {
				continue
			}

			c.Country = e.Country

			out = append(out, c)

			break
		}
	}

	return out, nil
}
