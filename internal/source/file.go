package source

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/projectdiscovery/gologger"

	"alkemi.dev/ipveil/pkg/helper"
	"alkemi.dev/ipveil/pkg/ipveil"
)

// File reads a local proxy list, one URI per line. Blank lines and #
// comments are skipped, and {{ VAR }} placeholders expand from the
// environment so lists can carry credentials without embedding them.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Name() string { return "file" }

func (f *File) Fetch(_ context.Context) ([]ipveil.ProxyCandidate, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []ipveil.ProxyCandidate

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(helper.Eval(scanner.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		c, err := ipveil.ParseCandidate(line, f.Name())
		if err != nil {
			gologger.Debug().Msgf("skipping %q: %s", line, err)
			continue
		}

		out = append(out, c)
	}

	return out, scanner.Err()
}
