package source

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"alkemi.dev/ipveil/pkg/ipveil"
)

// HTMLTable scrapes IP/port pairs from table rows, the layout used by
// free-proxy-list style sites. The first two cells are host and port; when
// an https column is present it upgrades the scheme.
type HTMLTable struct {
	origin string
	opt    Options
	ja3    bool
	client *resty.Client
}

func NewHTMLTable(origin string, opt Options, ja3 bool) *HTMLTable {
	client := resty.New().
		SetTimeout(opt.timeout()).
		SetRetryCount(2).
		SetRetryWaitTime(300 * time.Millisecond).
		SetHeader("User-Agent", opt.userAgent())

	return &HTMLTable{origin: origin, opt: opt, ja3: ja3, client: client}
}

func (h *HTMLTable) Name() string { return "htmltable" }

func (h *HTMLTable) Fetch(ctx context.Context) ([]ipveil.ProxyCandidate, error) {
	var body []byte

	if h.ja3 {
		b, err := fetchJA3(h.origin, h.opt)
		if err != nil {
			return nil, err
		}

		body = b
	} else {
		resp, err := h.client.R().SetContext(ctx).Get(h.origin)
		if err != nil {
			return nil, err
		}

		if !resp.IsSuccess() {
			return nil, fmt.Errorf("unexpected status %s", resp.Status())
		}

		body = resp.Body()
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var out []ipveil.ProxyCandidate

	doc.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}

		host := strings.TrimSpace(cells.Eq(0).Text())
		port := strings.TrimSpace(cells.Eq(1).Text())

		if host == "" || port == "" {
			return
		}

		scheme := ipveil.SchemeHTTP
		if cells.Length() >= 7 && strings.EqualFold(strings.TrimSpace(cells.Eq(6).Text()), "yes") {
			scheme = ipveil.SchemeHTTPS
		}

		c, err := ipveil.ParseCandidate(fmt.Sprintf("%s://%s:%s", scheme, host, port), h.Name())
		if err != nil {
			return
		}

		if cells.Length() >= 3 {
			c.Country = strings.TrimSpace(cells.Eq(2).Text())
		}

		out = append(out, c)
	})

	if len(out) == 0 {
		return nil, fmt.Errorf("no proxy rows found")
	}

	return out, nil
}
