package checker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/logrusorgru/aurora"
	"github.com/projectdiscovery/gologger"
	"github.com/robfig/cron/v3"

	"alkemi.dev/ipveil/common"
	"alkemi.dev/ipveil/internal/rotator"
	"alkemi.dev/ipveil/internal/source"
	"alkemi.dev/ipveil/internal/validator"
	"alkemi.dev/ipveil/pkg/ipveil"
)

// ProxyChecker drives validation sweeps: one-shot for the CLI, periodically
// as the server's pool refresh cycle.
type ProxyChecker struct {
	sources   *source.Sources
	validator *validator.Validator
}

// New builds the checker from the configured origins. At least one origin
// must be given, through -f or -s.
func New(opt *common.Options) (*ProxyChecker, error) {
	var list []source.Source

	srcOpt := source.Options{
		Timeout:       opt.Timeout,
		Countries:     opt.Countries,
		MaxAdvertised: opt.MaxAdvertisedLatency,
	}

	if opt.File != "" {
		list = append(list, source.NewFile(opt.File))
	}

	for _, spec := range opt.Sources {
		src, err := source.ParseSpec(spec, srcOpt)
		if err != nil {
			return nil, err
		}

		list = append(list, src)
	}

	if len(list) == 0 {
		return nil, errors.New("no proxy sources given")
	}

	return &ProxyChecker{
		sources: source.NewSources(list, nil),
		validator: &validator.Validator{
			Endpoint:    opt.Endpoint,
			Timeout:     opt.Timeout,
			Concurrency: opt.Goroutine,
			Verbose:     opt.Verbose,
		},
	}, nil
}

// Sources exposes the aggregate for preference-driven filter updates.
func (pc *ProxyChecker) Sources() *source.Sources {
	return pc.sources
}

// RunWatch re-checks on the polling schedule, printing verdicts each round.
func (pc *ProxyChecker) RunWatch(opt *common.Options) {
	c := cron.New()

	if _, err := c.AddFunc(opt.PollingPeriod, func() {
		pc.Do(opt)
	}); err != nil {
		gologger.Fatal().Msgf("Error! %s", err)
	}

	c.Start()
}

// RunRefresh schedules the server-side refresh cycle.
func (pc *ProxyChecker) RunRefresh(opt *common.Options) {
	c := cron.New()

	interval := opt.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	if _, err := c.AddFunc("@every "+interval.String(), func() {
		pc.Refresh(opt)
	}); err != nil {
		gologger.Fatal().Msgf("Error! %s", err)
	}

	c.Start()
}

// Do checks every configured proxy once.
//
// Displays proxies that have died if verbose mode is enabled,
// or saves live proxies into the user-defined file.
func (pc *ProxyChecker) Do(opt *common.Options) {
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond)
	s.Suffix = " Checking proxies..."

	if !opt.Verbose {
		s.Start()
	}

	candidates, err := pc.sources.Fetch(context.Background())
	if err != nil {
		if !opt.Verbose {
			s.Stop()
		}

		gologger.Fatal().Msgf("Error! %s", err)
	}

	records, errs := pc.validator.Sweep(context.Background(), candidates)

	if !opt.Verbose {
		s.Stop()
	}

	slices.SortFunc(records, func(a, b ipveil.ProxyRecord) int {
		return int(a.Latency - b.Latency)
	})

	for _, rec := range records {
		if len(opt.Countries) > 0 && !pc.isMatchCC(opt.Countries, rec.Country) {
			continue
		}

		fmt.Printf("[%s] [%s] [%s] %s\n",
			aurora.Green("LIVE"),
			aurora.Magenta(rec.Country),
			aurora.Cyan(fmt.Sprintf("%dms", rec.Latency.Milliseconds())),
			rec.Candidate,
		)

		if opt.Output != "" && opt.Result != nil {
			fmt.Fprintf(opt.Result, "%s\n", rec.Candidate)
		}
	}

	if opt.Verbose {
		for _, err := range errs {
			var ve *ipveil.ValidationError
			if errors.As(err, &ve) {
				fmt.Printf("[%s] [%s] %s\n", aurora.Red("DIED"), aurora.Yellow(string(ve.Kind)), ve.Address)
			}
		}
	}
}

// Refresh is one server-side cycle: pull the origins, probe everything new
// alongside every known member, feed verdicts into the pool, evict what has
// been dead past grace, and wake the rotator when the pool has upstreams
// but no active one.
func (pc *ProxyChecker) Refresh(opt *common.Options) {
	ctx := context.Background()

	candidates, err := pc.sources.Fetch(ctx)
	if err != nil {
		var su *ipveil.SourceUnavailableError
		if errors.As(err, &su) {
			gologger.Warning().Msgf("refresh: %s", su)
		} else {
			gologger.Warning().Msgf("refresh fetch: %s", err)
		}
	}

	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		seen[c.Address] = true
	}

	// Members missing from this round's listings still get re-probed, so a
	// record's status always reflects a recent check.
	for _, rec := range opt.Pool.Snapshot().Records {
		if !seen[rec.Address()] {
			candidates = append(candidates, rec.Candidate)
		}
	}

	if len(candidates) == 0 {
		return
	}

	records, errs := pc.validator.Sweep(ctx, candidates)

	for _, rec := range records {
		opt.Pool.Upsert(rec)
	}

	for _, err := range errs {
		var ve *ipveil.ValidationError
		if errors.As(err, &ve) {
			// Failed members degrade; failed newcomers were never added.
			opt.Pool.ReportFailure(ve.Address)
		}
	}

	if evicted := opt.Pool.EvictDead(opt.EvictionGrace); evicted > 0 {
		gologger.Info().Msgf("evicted %d dead proxies", evicted)
	}

	snap := opt.Pool.Snapshot()

	if snap.Active == nil && snap.Healthy > 0 && opt.Rotator != nil {
		opt.Rotator.Trigger(rotator.ReasonRevalidation)
	}

	gologger.Info().Msgf("refresh done: %d checked, %d live, pool %d/%d healthy",
		len(candidates), len(records), snap.Healthy, snap.Total)
}

func (pc *ProxyChecker) isMatchCC(cc []string, code string) bool {
	if code == "" {
		return false
	}

	for _, c := range cc {
		if code == strings.ToUpper(strings.TrimSpace(c)) {
			return true
		}
	}

	return false
}
