package source

import (
	"context"
	"fmt"
	"regexp"

	"github.com/gocolly/colly/v2"

	"alkemi.dev/ipveil/pkg/ipveil"
)

var hostPortRe = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3}):(\d{2,5})`)

// PageScrape pulls host:port pairs out of a raw page body, for plain-text
// dumps and pages too irregular for table scraping.
type PageScrape struct {
	origin string
	opt    Options
}

func NewPageScrape(origin string, opt Options) *PageScrape {
	return &PageScrape{origin: origin, opt: opt}
}

func (p *PageScrape) Name() string { return "pagescrape" }

func (p *PageScrape) Fetch(_ context.Context) ([]ipveil.ProxyCandidate, error) {
	var (
		out      []ipveil.ProxyCandidate
		fetchErr error
	)

	c := colly.NewCollector(
		colly.UserAgent(p.opt.userAgent()),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(p.opt.timeout())

	c.OnResponse(func(r *colly.Response) {
		for _, m := range hostPortRe.FindAllStringSubmatch(string(r.Body), -1) {
			cand, err := ipveil.ParseCandidate(m[1]+":"+m[2], p.Name())
			if err != nil {
				continue
			}

			out = append(out, cand)
		}
	})

	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(p.origin); err != nil {
		return nil, err
	}

	c.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no proxies found in page")
	}

	return out, nil
}
