package source

import (
	"fmt"
	"net/http"

	"github.com/Danny-Dasilva/CycleTLS/cycletls"
)

// Chrome-like fingerprint; some listing sites fingerprint the TLS hello and
// serve empty pages to stock Go clients.
const defaultJA3 = "771,4865-4866-4867-49195-49199-49196-49200-52393-52392-49171-49172-156-157-47-53,0-23-65281-10-11-35-16-5-13-18-51-45-43-27-17513,29-23-24,0"

func fetchJA3(origin string, opt Options) ([]byte, error) {
	client := cycletls.Init()

	resp, err := client.Do(origin, cycletls.Options{
		Ja3:       defaultJA3,
		UserAgent: opt.userAgent(),
		Timeout:   int(opt.timeout().Seconds()),
	}, http.MethodGet)
	if err != nil {
		return nil, err
	}

	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.Status)
	}

	return []byte(resp.Body), nil
}
