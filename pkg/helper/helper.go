package helper

import (
	"io"
	"os"
	"strings"

	"github.com/valyala/fasttemplate"
)

// Eval expands {{ VAR }} placeholders in s from the environment, so list
// files and source URLs can carry credentials without storing them.
func Eval(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	return fasttemplate.ExecuteFuncString(s, "{{", "}}", func(w io.Writer, tag string) (int, error) {
		return w.Write([]byte(os.Getenv(strings.TrimSpace(tag))))
	})
}
