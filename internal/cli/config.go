package cli

import (
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"alkemi.dev/ipveil/common"
)

type serverSection struct {
	Listen   string `ini:"listen"`
	Auth     string `ini:"auth"`
	MaxConns int    `ini:"max_conns"`
}

type rotationSection struct {
	IntervalMs int64  `ini:"rotation_interval_ms"`
	Policy     string `ini:"rotation_policy"`
}

type validatorSection struct {
	Concurrency  int    `ini:"validator_concurrency"`
	TimeoutMs    int64  `ini:"validator_timeout_ms"`
	Endpoint     string `ini:"echo_endpoint"`
	MaxLatencyMs int64  `ini:"max_advertised_latency_ms"`
	Countries    string `ini:"countries"`
}

type poolSection struct {
	DeadThreshold     int   `ini:"dead_threshold"`
	EvictionGraceMs   int64 `ini:"eviction_grace_ms"`
	RefreshIntervalMs int64 `ini:"refresh_interval_ms"`
}

type killswitchSection struct {
	GraceMs int64 `ini:"killswitch_grace_ms"`
}

type logSection struct {
	File       string `ini:"file"`
	TrafficLog string `ini:"traffic_log"`
	Prefs      string `ini:"prefs"`
	History    string `ini:"history"`
}

// applyConfig layers the ini file under the flags: only settings whose flag
// was not given explicitly are taken from the file.
func applyConfig(opt *common.Options, set map[string]bool) error {
	cfg, err := ini.Load(opt.ConfigFile)
	if err != nil {
		return err
	}

	var (
		srv  serverSection
		rot  rotationSection
		val  validatorSection
		pl   poolSection
		ks   killswitchSection
		logs logSection
	)

	if err := cfg.Section("server").MapTo(&srv); err != nil {
		return err
	}

	if err := cfg.Section("rotation").MapTo(&rot); err != nil {
		return err
	}

	if err := cfg.Section("validator").MapTo(&val); err != nil {
		return err
	}

	if err := cfg.Section("pool").MapTo(&pl); err != nil {
		return err
	}

	if err := cfg.Section("killswitch").MapTo(&ks); err != nil {
		return err
	}

	if err := cfg.Section("log").MapTo(&logs); err != nil {
		return err
	}

	if srv.Listen != "" && !set["a"] && !set["address"] {
		opt.Address = srv.Listen
	}

	if srv.Auth != "" && !set["auth"] {
		opt.Auth = srv.Auth
	}

	if srv.MaxConns > 0 && !set["max-conns"] {
		opt.MaxConns = srv.MaxConns
	}

	if rot.IntervalMs > 0 && !set["r"] && !set["rotate"] {
		opt.RotationInterval = time.Duration(rot.IntervalMs) * time.Millisecond
	}

	if rot.Policy != "" && !set["m"] && !set["method"] {
		opt.Policy = rot.Policy
	}

	if val.Concurrency > 0 && !set["g"] && !set["goroutine"] {
		opt.Goroutine = val.Concurrency
	}

	if val.TimeoutMs > 0 && !set["t"] && !set["timeout"] {
		opt.Timeout = time.Duration(val.TimeoutMs) * time.Millisecond
	}

	if val.Endpoint != "" && !set["echo"] {
		opt.Endpoint = val.Endpoint
	}

	if val.MaxLatencyMs > 0 && !set["max-latency"] {
		opt.MaxAdvertisedLatency = time.Duration(val.MaxLatencyMs) * time.Millisecond
	}

	if val.Countries != "" && !set["cc"] && !set["only-cc"] {
		for _, cc := range strings.Split(val.Countries, ",") {
			opt.Countries = append(opt.Countries, strings.ToUpper(strings.TrimSpace(cc)))
		}
	}

	if pl.DeadThreshold > 0 && !set["dead-threshold"] {
		opt.DeadThreshold = pl.DeadThreshold
	}

	if pl.EvictionGraceMs > 0 && !set["eviction-grace"] {
		opt.EvictionGrace = time.Duration(pl.EvictionGraceMs) * time.Millisecond
	}

	if pl.RefreshIntervalMs > 0 && !set["refresh"] {
		opt.RefreshInterval = time.Duration(pl.RefreshIntervalMs) * time.Millisecond
	}

	if ks.GraceMs > 0 && !set["killswitch-grace"] {
		opt.KillswitchGrace = time.Duration(ks.GraceMs) * time.Millisecond
	}

	if logs.File != "" && !set["l"] && !set["log"] {
		opt.LogFile = logs.File
	}

	if logs.TrafficLog != "" && !set["traffic-log"] {
		opt.TrafficLogFile = logs.TrafficLog
	}

	if logs.Prefs != "" && !set["prefs"] {
		opt.PrefsFile = logs.Prefs
	}

	if logs.History != "" && !set["history"] {
		opt.HistoryFile = logs.History
	}

	if !set["f"] && !set["file"] {
		if file := cfg.Section("sources").Key("file").String(); file != "" {
			opt.File = file
		}
	}

	if len(opt.Sources) == 0 {
		for _, key := range cfg.Section("sources").Key("urls").Strings(",") {
			if key != "" {
				opt.Sources = append(opt.Sources, key)
			}
		}
	}

	return nil
}
