package runner

import (
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/projectdiscovery/gologger"

	"alkemi.dev/ipveil/common"
	"alkemi.dev/ipveil/internal/checker"
	"alkemi.dev/ipveil/pkg/ipveil"
)

// pick runs one synchronous refresh, then lets the operator choose the
// first active upstream and optionally pin it as a favorite.
func pick(opt *common.Options, pc *checker.ProxyChecker) error {
	pc.Refresh(opt)

	snap := opt.Pool.Snapshot()

	var options []string

	for _, rec := range snap.Records {
		if !rec.Selectable() {
			continue
		}

		options = append(options, fmt.Sprintf("%s  %dms  %s", rec.Address(), rec.Latency.Milliseconds(), rec.Country))
	}

	if len(options) == 0 {
		return ipveil.ErrPoolExhausted
	}

	var choice string

	if err := survey.AskOne(&survey.Select{
		Message: "Choose the active upstream:",
		Options: options,
	}, &choice); err != nil {
		return err
	}

	addr := strings.Fields(choice)[0]

	if err := opt.Pool.Promote(addr); err != nil {
		return err
	}

	var pin bool

	if err := survey.AskOne(&survey.Confirm{
		Message: "Pin it as a favorite?",
		Default: false,
	}, &pin); err == nil && pin {
		if err := opt.Prefs.AddFavorite(addr); err != nil {
			gologger.Warning().Msgf("favorites: %s", err)
		} else {
			opt.Pool.SetFavorites(opt.Prefs.Current().Favorites)
		}
	}

	return nil
}
