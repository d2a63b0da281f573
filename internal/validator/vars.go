package validator

import (
	"time"

	"github.com/henvic/httpretty"
)

const defaultEndpoint = "https://ipinfo.io/json"

const (
	defaultTimeout     = 5 * time.Second
	defaultConcurrency = 20
)

// dump prints full probe round trips when running verbose.
var dump = &httpretty.Logger{
	Time:           true,
	TLS:            true,
	RequestHeader:  true,
	RequestBody:    true,
	ResponseHeader: true,
	ResponseBody:   true,
	Colors:         true,
	Formatters:     []httpretty.Formatter{&httpretty.JSONFormatter{}},
}
