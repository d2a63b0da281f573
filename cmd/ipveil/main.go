package main

import (
	"github.com/projectdiscovery/gologger"

	"alkemi.dev/ipveil/internal/cli"
	"alkemi.dev/ipveil/internal/runner"
)

func main() {
	opt := cli.Parse()

	if err := runner.New(opt); err != nil {
		gologger.Fatal().Msgf("Error! %s", err)
	}
}
