package updater

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/go-resty/resty/v2"
	update "github.com/inconshreveable/go-update"
	"github.com/projectdiscovery/gologger"
	latest "github.com/tcnksm/go-latest"

	"alkemi.dev/ipveil/common"
)

const (
	ghOwner = "alkemi"
	ghRepo  = "ipveil"
)

// Do checks the latest release tag and, after confirmation, replaces the
// running binary with the matching release asset.
func Do(version string) error {
	if version == "" {
		version = "0.0.0"
	}

	githubTag := &latest.GithubTag{
		Owner:      ghOwner,
		Repository: ghRepo,
	}

	res, err := latest.Check(githubTag, strings.TrimPrefix(version, "v"))
	if err != nil {
		return err
	}

	if !res.Outdated {
		gologger.Info().Msgf("%s %s is up to date", common.App, version)
		return nil
	}

	var ok bool

	if err := survey.AskOne(&survey.Confirm{
		Message: fmt.Sprintf("New release v%s available. Update now?", res.Current),
		Default: true,
	}, &ok); err != nil {
		return err
	}

	if !ok {
		return nil
	}

	asset := fmt.Sprintf("https://github.com/%s/%s/releases/download/v%s/%s_%s_%s",
		ghOwner, ghRepo, res.Current, common.App, runtime.GOOS, runtime.GOARCH)

	client := resty.New().SetDoNotParseResponse(true)

	resp, err := client.R().Get(asset)
	if err != nil {
		return err
	}
	defer resp.RawBody().Close()

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("release asset fetch failed: %s", resp.Status())
	}

	if err := update.Apply(resp.RawBody(), update.Options{}); err != nil {
		return err
	}

	gologger.Info().Msgf("Updated to v%s", res.Current)

	return nil
}
