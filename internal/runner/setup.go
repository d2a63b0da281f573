package runner

import (
	"context"

	"github.com/projectdiscovery/gologger"

	"alkemi.dev/ipveil/common"
	"alkemi.dev/ipveil/internal/checker"
	"alkemi.dev/ipveil/internal/killswitch"
	"alkemi.dev/ipveil/internal/pool"
	"alkemi.dev/ipveil/internal/prefs"
	"alkemi.dev/ipveil/internal/rotator"
	"alkemi.dev/ipveil/internal/trafficlog"
	"alkemi.dev/ipveil/pkg/helper"
	"alkemi.dev/ipveil/pkg/ipveil"
)

// setup wires the server-mode components: preferences, pool, kill switch,
// traffic log, rotator, and the refresh cycle. It returns the teardown to
// run once the server has stopped.
func setup(opt *common.Options) (func(), error) {
	opt.Logger = helper.NewLogger(common.App, opt.LogFile, opt.Verbose)

	opt.Prefs = prefs.NewStore(opt.PrefsFile)

	if err := opt.Prefs.Ensure(); err != nil {
		gologger.Warning().Msgf("preferences: %s", err)
	}

	pref, err := opt.Prefs.Load()
	if err != nil {
		gologger.Warning().Msgf("preferences unreadable, using defaults: %s", err)
		pref = prefs.Default()
	}

	policyName := opt.Policy
	if policyName == "" {
		policyName = pref.Policy
	}

	policy, err := pool.ParsePolicy(policyName)
	if err != nil {
		return nil, err
	}

	opt.Pool = pool.New(pool.Options{
		Policy:        policy,
		DeadThreshold: opt.DeadThreshold,
		Favorites:     pref.Favorites,
	})

	opt.KillSwitch = killswitch.New(opt.KillswitchGrace)

	var mirror = opt.Logger
	if !opt.Verbose {
		mirror = nil
	}

	opt.TrafficLog = trafficlog.New(opt.TrafficLogFile, mirror)

	opt.Rotator = rotator.New(opt.Pool, opt.TrafficLog, rotator.Options{
		Interval:    opt.RotationInterval,
		HistoryPath: opt.HistoryFile,
	})

	// Watchers fire on every pointer swap: the kill switch tracks outage
	// starts, and losing the active upstream nudges the rotator.
	opt.Pool.OnActiveChange(func(rec *ipveil.ProxyRecord) {
		opt.KillSwitch.SetEmpty(rec == nil)

		if rec == nil {
			opt.Rotator.Trigger(rotator.ReasonRevalidation)
		}
	})

	pc, err := checker.New(opt)
	if err != nil {
		return nil, err
	}

	if len(pref.ProtocolPreference) > 0 {
		pc.Sources().SetProtocols(pref.ProtocolPreference)
	}

	if err := opt.Rotator.Start(); err != nil {
		return nil, err
	}

	if opt.Pick {
		if err := pick(opt, pc); err != nil {
			gologger.Warning().Msgf("interactive pick skipped: %s", err)
		}
	} else {
		go pc.Refresh(opt)
	}

	pc.RunRefresh(opt)

	watchCancel := watchPrefs(opt, pc)

	return func() {
		watchCancel()
		opt.Rotator.Stop()
		opt.TrafficLog.Close()
	}, nil
}

// watchPrefs applies preference-file edits live: policy, favorites, and the
// protocol filter take effect without a restart.
func watchPrefs(opt *common.Options, pc *checker.ProxyChecker) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())

	if opt.Prefs.Path() == "" {
		return cancel
	}

	watcher, err := opt.Prefs.Watch()
	if err != nil {
		gologger.Debug().Msgf("preferences watch unavailable: %s", err)
		return cancel
	}

	go func() {
		defer watcher.Close()

		_ = opt.Prefs.WatchFile(ctx, watcher, func(p prefs.Preferences) {
			if policy, err := pool.ParsePolicy(p.Policy); err == nil {
				opt.Pool.SetPolicy(policy)
			} else {
				gologger.Warning().Msgf("preferences: %s", err)
			}

			opt.Pool.SetFavorites(p.Favorites)
			pc.Sources().SetProtocols(p.ProtocolPreference)
		})
	}()

	return cancel
}
