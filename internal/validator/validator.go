package validator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"

	"alkemi.dev/ipveil/pkg/ipveil"
)

// IPInfo is the echo endpoint's view of the probe: the IP it saw the
// request come from, which must be the proxy's exit, never ours.
type IPInfo struct {
	IP      string `json:"ip"`
	Country string `json:"country"`
	City    string `json:"city"`
}

// Validator probes candidates through themselves against an echo endpoint
// and turns the survivors into pool records.
type Validator struct {
	Endpoint    string
	Timeout     time.Duration
	Concurrency int
	Verbose     bool
}

func (v *Validator) endpoint() string {
	if v.Endpoint == "" {
		return defaultEndpoint
	}

	return v.Endpoint
}

func (v *Validator) timeout() time.Duration {
	if v.Timeout <= 0 {
		return defaultTimeout
	}

	return v.Timeout
}

func (v *Validator) concurrency() int {
	if v.Concurrency <= 0 {
		return defaultConcurrency
	}

	return v.Concurrency
}

// Validate probes a single candidate. The request is routed through the
// candidate itself; any failure comes back as a ValidationError carrying
// the probe verdict.
func (v *Validator) Validate(ctx context.Context, c ipveil.ProxyCandidate) (ipveil.ProxyRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint(), nil)
	if err != nil {
		return ipveil.ProxyRecord{}, err
	}

	tr, err := ipveil.Transport(c)
	if err != nil {
		return ipveil.ProxyRecord{}, &ipveil.ValidationError{
			Address: c.Address,
			Kind:    ipveil.ValidationProtocolMismatch,
			Err:     err,
		}
	}
	defer tr.CloseIdleConnections()

	proxy := &ipveil.Proxy{Address: c.Address, Transport: tr}

	client, req := proxy.New(req)
	client.Timeout = v.timeout()
	req.Header.Set("Connection", "close")

	if v.Verbose {
		client.Transport = dump.RoundTripper(tr)
	}

	start := time.Now()

	resp, err := client.Do(req)
	if err != nil {
		return ipveil.ProxyRecord{}, &ipveil.ValidationError{Address: c.Address, Kind: classify(err), Err: err}
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return ipveil.ProxyRecord{}, &ipveil.ValidationError{
			Address: c.Address,
			Kind:    ipveil.ValidationProtocolMismatch,
			Err:     errors.New("echo endpoint returned " + resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ipveil.ProxyRecord{}, &ipveil.ValidationError{Address: c.Address, Kind: classify(err), Err: err}
	}

	var info IPInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return ipveil.ProxyRecord{}, &ipveil.ValidationError{
			Address: c.Address,
			Kind:    ipveil.ValidationProtocolMismatch,
			Err:     err,
		}
	}

	country := info.Country
	if country == "" {
		country = c.Country
	}

	return ipveil.ProxyRecord{
		Candidate:     c,
		Latency:       latency,
		LastCheckedAt: time.Now(),
		Status:        ipveil.StatusHealthy,
		ExitIP:        info.IP,
		Country:       country,
		City:          info.City,
	}, nil
}

// Sweep validates candidates with bounded concurrency, returning records
// for the passes and one error per drop.
func (v *Validator) Sweep(ctx context.Context, candidates []ipveil.ProxyCandidate) ([]ipveil.ProxyRecord, []error) {
	p := pool.New().WithMaxGoroutines(v.concurrency())

	var (
		mu      sync.Mutex
		records []ipveil.ProxyRecord
		errs    []error
	)

	for _, c := range candidates {
		c := c

		p.Go(func() {
			record, err := v.Validate(ctx, c)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs = append(errs, err)
				return
			}

			records = append(records, record)
		})
	}

	p.Wait()

	return records, errs
}

// classify maps a probe failure onto the validation verdicts. Anything that
// is neither a timeout nor a refused connection means the peer spoke, just
// not the protocol we expected.
func classify(err error) ipveil.ValidationKind {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ipveil.ValidationTimeout
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ipveil.ValidationTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ipveil.ValidationConnectionRefused
	}

	return ipveil.ValidationProtocolMismatch
}
