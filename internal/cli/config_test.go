package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-test/deep"

	"alkemi.dev/ipveil/common"
)

const sampleConfig = `[server]
listen = 0.0.0.0:8089
auth = ops:secret
max_conns = 128

[rotation]
rotation_interval_ms = 300000
rotation_policy = round-robin

[validator]
validator_concurrency = 50
validator_timeout_ms = 8000
echo_endpoint = https://echo.internal/json
max_advertised_latency_ms = 1500
countries = id, nl

[pool]
dead_threshold = 5
eviction_grace_ms = 60000
refresh_interval_ms = 120000

[killswitch]
killswitch_grace_ms = 15000

[log]
file = /var/log/ipveil.log
traffic_log = /var/log/ipveil-traffic.jsonl
prefs = /etc/ipveil/prefs.json
history = /var/lib/ipveil/history.json

[sources]
file = /etc/ipveil/proxies.txt
urls = geonode:https://proxylist.geonode.com/api/proxy-list, htmltable:https://free-proxy-list.net/
`

func writeConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ipveil.ini")
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		t.Fatalf("write config: %s", err)
	}

	return path
}

func TestApplyConfig(t *testing.T) {
	opt := &common.Options{ConfigFile: writeConfig(t)}

	if err := applyConfig(opt, map[string]bool{}); err != nil {
		t.Fatalf("apply: %s", err)
	}

	if opt.Address != "0.0.0.0:8089" || opt.Auth != "ops:secret" || opt.MaxConns != 128 {
		t.Errorf("server section not applied: %+v", opt)
	}

	if opt.RotationInterval != 5*time.Minute || opt.Policy != "round-robin" {
		t.Errorf("rotation section not applied: interval %s policy %q", opt.RotationInterval, opt.Policy)
	}

	if opt.Goroutine != 50 || opt.Timeout != 8*time.Second || opt.Endpoint != "https://echo.internal/json" {
		t.Errorf("validator section not applied: %+v", opt)
	}

	if opt.MaxAdvertisedLatency != 1500*time.Millisecond {
		t.Errorf("max latency = %s", opt.MaxAdvertisedLatency)
	}

	if diff := deep.Equal(opt.Countries, []string{"ID", "NL"}); diff != nil {
		t.Error(diff)
	}

	if opt.DeadThreshold != 5 || opt.EvictionGrace != time.Minute || opt.RefreshInterval != 2*time.Minute {
		t.Errorf("pool section not applied: %+v", opt)
	}

	if opt.KillswitchGrace != 15*time.Second {
		t.Errorf("killswitch grace = %s", opt.KillswitchGrace)
	}

	if opt.LogFile != "/var/log/ipveil.log" || opt.TrafficLogFile != "/var/log/ipveil-traffic.jsonl" {
		t.Errorf("log section not applied: %+v", opt)
	}

	if opt.PrefsFile != "/etc/ipveil/prefs.json" || opt.HistoryFile != "/var/lib/ipveil/history.json" {
		t.Errorf("log section paths not applied: %+v", opt)
	}

	if opt.File != "/etc/ipveil/proxies.txt" {
		t.Errorf("source file = %q", opt.File)
	}

	want := []string{
		"geonode:https://proxylist.geonode.com/api/proxy-list",
		"htmltable:https://free-proxy-list.net/",
	}
	if diff := deep.Equal(opt.Sources, want); diff != nil {
		t.Error(diff)
	}
}

func TestApplyConfigFlagsWin(t *testing.T) {
	opt := &common.Options{
		ConfigFile:       writeConfig(t),
		Address:          "127.0.0.1:9000",
		Policy:           "random",
		RotationInterval: time.Minute,
		File:             "./local.txt",
	}

	set := map[string]bool{
		"a":    true,
		"m":    true,
		"r":    true,
		"file": true,
	}

	if err := applyConfig(opt, set); err != nil {
		t.Fatalf("apply: %s", err)
	}

	if opt.Address != "127.0.0.1:9000" {
		t.Errorf("explicit -a overridden: %s", opt.Address)
	}

	if opt.Policy != "random" || opt.RotationInterval != time.Minute {
		t.Errorf("explicit rotation flags overridden: %q %s", opt.Policy, opt.RotationInterval)
	}

	if opt.File != "./local.txt" {
		t.Errorf("explicit -file overridden: %s", opt.File)
	}

	// Settings with no explicit flag still come from the file.
	if opt.Auth != "ops:secret" {
		t.Errorf("auth not layered in: %q", opt.Auth)
	}
}

func TestApplyConfigExplicitSourcesWin(t *testing.T) {
	opt := &common.Options{
		ConfigFile: writeConfig(t),
		Sources:    []string{"file:/tmp/mine.txt"},
	}

	if err := applyConfig(opt, map[string]bool{"s": true}); err != nil {
		t.Fatalf("apply: %s", err)
	}

	if diff := deep.Equal(opt.Sources, []string{"file:/tmp/mine.txt"}); diff != nil {
		t.Error(diff)
	}
}

func TestApplyConfigMissingFile(t *testing.T) {
	opt := &common.Options{ConfigFile: filepath.Join(t.TempDir(), "absent.ini")}

	if err := applyConfig(opt, map[string]bool{}); err == nil {
		t.Error("expected an error for a missing config file")
	}
}
