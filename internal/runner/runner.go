package runner

import (
	"context"
	"errors"
	"os"

	"alkemi.dev/ipveil/common"
	"alkemi.dev/ipveil/internal/checker"
	"alkemi.dev/ipveil/internal/daemon"
	"alkemi.dev/ipveil/internal/server"
	"alkemi.dev/ipveil/internal/updater"
)

// New switches an action: self-update, one-shot check, watch mode, or the
// rotating proxy server, optionally as a daemon.
func New(opt *common.Options) error {
	if opt.Update {
		return updater.Do(common.Version)
	}

	if opt.CheckPeriodically {
		ctx := context.Background()

		pc, err := checker.New(opt)
		if err != nil {
			return err
		}

		go pc.RunWatch(opt)

		<-ctx.Done()

		if opt.Output != "" {
			defer func(result *os.File) {
				_ = result.Close()
			}(opt.Result)
		}
	} else if opt.Address != "" {
		teardown, err := setup(opt)
		if err != nil {
			return err
		}
		defer teardown()

		if opt.Daemon {
			return daemon.New(opt)
		}

		server.Run(opt)
	} else if opt.Check {
		pc, err := checker.New(opt)
		if err != nil {
			return err
		}

		pc.Do(opt)

		if opt.Output != "" {
			defer opt.Result.Close()
		}
	} else {
		return errors.New("no action to run")
	}

	return nil
}
