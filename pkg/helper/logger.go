package helper

import (
	"os"

	"github.com/mbndr/logo"
	"github.com/projectdiscovery/gologger"
)

// NewLogger builds the server logger: a colored stderr receiver, plus a
// plain file receiver when output names a path. Verbose lowers both to
// debug level.
func NewLogger(prefix, output string, verbose bool) *logo.Logger {
	cli := logo.NewReceiver(os.Stderr, prefix)
	cli.Color = true
	cli.Level = logo.INFO

	if verbose {
		cli.Level = logo.DEBUG
	}

	if output == "" {
		return logo.NewLogger(cli)
	}

	file, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		gologger.Error().Msgf("Error! %s", err)
		return logo.NewLogger(cli)
	}

	rec := logo.NewReceiver(file, prefix)
	rec.Color = false
	rec.Level = cli.Level

	return logo.NewLogger(cli, rec)
}
