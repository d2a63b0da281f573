package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/logrusorgru/aurora"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/levels"
	"github.com/valyala/fasttemplate"

	"alkemi.dev/ipveil/common"
	"alkemi.dev/ipveil/internal/pool"
)

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// Parse builds Options from flags layered over the optional config file.
// Flags given explicitly always win over the file.
func Parse() *common.Options {
	opt := &common.Options{}

	var (
		sources   multiFlag
		countries string
		version   bool
	)

	flag.StringVar(&opt.ConfigFile, "c", "", "")
	flag.StringVar(&opt.ConfigFile, "config", "", "")

	flag.StringVar(&opt.File, "f", "", "")
	flag.StringVar(&opt.File, "file", "", "")

	flag.Var(&sources, "s", "")
	flag.Var(&sources, "source", "")

	flag.StringVar(&opt.Address, "a", "", "")
	flag.StringVar(&opt.Address, "address", "", "")

	flag.StringVar(&opt.Auth, "auth", "", "")

	flag.StringVar(&opt.Policy, "m", "", "")
	flag.StringVar(&opt.Policy, "method", "", "")

	flag.DurationVar(&opt.RotationInterval, "r", 10*time.Minute, "")
	flag.DurationVar(&opt.RotationInterval, "rotate", 10*time.Minute, "")

	flag.DurationVar(&opt.Timeout, "t", 5*time.Second, "")
	flag.DurationVar(&opt.Timeout, "timeout", 5*time.Second, "")

	flag.IntVar(&opt.Goroutine, "g", 20, "")
	flag.IntVar(&opt.Goroutine, "goroutine", 20, "")

	flag.StringVar(&opt.Endpoint, "echo", "", "")

	flag.IntVar(&opt.DeadThreshold, "dead-threshold", 3, "")
	flag.DurationVar(&opt.EvictionGrace, "eviction-grace", 3*time.Minute, "")
	flag.DurationVar(&opt.RefreshInterval, "refresh", 5*time.Minute, "")
	flag.DurationVar(&opt.KillswitchGrace, "killswitch-grace", 10*time.Second, "")
	flag.DurationVar(&opt.MaxAdvertisedLatency, "max-latency", 0, "")
	flag.IntVar(&opt.MaxConns, "max-conns", 512, "")

	flag.BoolVar(&opt.Check, "check", false, "")
	flag.StringVar(&opt.PollingPeriod, "watch", "", "")
	flag.BoolVar(&opt.Pick, "pick", false, "")
	flag.BoolVar(&opt.Daemon, "d", false, "")
	flag.BoolVar(&opt.Daemon, "daemon", false, "")
	flag.BoolVar(&opt.Update, "u", false, "")
	flag.BoolVar(&opt.Update, "update", false, "")

	flag.StringVar(&countries, "cc", "", "")
	flag.StringVar(&countries, "only-cc", "", "")

	flag.StringVar(&opt.Output, "o", "", "")
	flag.StringVar(&opt.Output, "output", "", "")

	flag.StringVar(&opt.LogFile, "l", "", "")
	flag.StringVar(&opt.LogFile, "log", "", "")

	flag.StringVar(&opt.TrafficLogFile, "traffic-log", "", "")
	flag.StringVar(&opt.PrefsFile, "prefs", "", "")
	flag.StringVar(&opt.HistoryFile, "history", "", "")

	flag.BoolVar(&opt.Verbose, "v", false, "")
	flag.BoolVar(&opt.Verbose, "verbose", false, "")

	flag.BoolVar(&version, "V", false, "")
	flag.BoolVar(&version, "version", false, "")

	flag.Usage = usage

	flag.Parse()

	if version {
		showVersion()
	}

	opt.Sources = sources
	opt.CheckPeriodically = opt.PollingPeriod != ""

	if opt.ConfigFile != "" {
		set := make(map[string]bool)
		flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

		if err := applyConfig(opt, set); err != nil {
			gologger.Fatal().Msgf("Error! %s", err)
		}
	}

	if countries != "" {
		for _, cc := range strings.Split(countries, ",") {
			opt.Countries = append(opt.Countries, strings.ToUpper(strings.TrimSpace(cc)))
		}
	}

	// Serving is the default action. Check, watch, and update modes keep the
	// address empty unless one was given.
	if opt.Address == "" && !opt.Check && !opt.CheckPeriodically && !opt.Update {
		opt.Address = ":8080"
	}

	if opt.Verbose {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelDebug)
	}

	if opt.Policy != "" {
		if _, err := pool.ParsePolicy(opt.Policy); err != nil {
			gologger.Fatal().Msgf("Error! %s", err)
		}
	}

	if opt.Output != "" {
		result, err := os.OpenFile(opt.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			gologger.Fatal().Msgf("Error! %s", err)
		}

		opt.Result = result
	}

	if opt.File == "" && len(opt.Sources) == 0 && !opt.Update {
		flag.Usage()
		gologger.Fatal().Msg("Error! No proxy source given, use -f or -s")
	}

	return opt
}

func showVersion() {
	v := common.Version
	if v == "" {
		v = "unknown (built from source)"
	}

	fmt.Printf("%s %s\n", common.App, v)
	os.Exit(0)
}

func usage() {
	t := fasttemplate.New(usageTemplate, "{{", "}}")

	fmt.Fprint(os.Stderr, t.ExecuteString(map[string]interface{}{
		"banner": aurora.Cyan(banner).String(),
		"app":    common.App,
	}))
}
