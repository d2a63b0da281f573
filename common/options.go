package common

import (
	"os"
	"time"

	"github.com/mbndr/logo"

	"alkemi.dev/ipveil/internal/killswitch"
	"alkemi.dev/ipveil/internal/pool"
	"alkemi.dev/ipveil/internal/prefs"
	"alkemi.dev/ipveil/internal/rotator"
	"alkemi.dev/ipveil/internal/trafficlog"
)

// Version is set at build time via ldflags.
var Version string

// App is the canonical binary name.
const App = "ipveil"

// Options binds everything parsed from flags and the config file, plus the
// runtime components the runner wires up before handing them to the server
// and the checker.
type Options struct {
	// Modes.
	Check             bool
	CheckPeriodically bool
	Pick              bool
	Daemon            bool
	Update            bool
	Verbose           bool

	// Inputs.
	ConfigFile string
	File       string
	Sources    []string
	Countries  []string

	// Server.
	Address  string
	Auth     string
	MaxConns int

	// Rotation.
	Policy           string
	RotationInterval time.Duration

	// Validation.
	Endpoint             string
	Timeout              time.Duration
	Goroutine            int
	MaxAdvertisedLatency time.Duration
	PollingPeriod        string

	// Pool upkeep.
	DeadThreshold   int
	EvictionGrace   time.Duration
	RefreshInterval time.Duration
	KillswitchGrace time.Duration

	// Outputs.
	Output         string
	Result         *os.File
	LogFile        string
	TrafficLogFile string
	PrefsFile      string
	HistoryFile    string

	// Runtime wiring, built by the runner.
	Logger     *logo.Logger
	Pool       *pool.Pool
	Rotator    *rotator.Rotator
	KillSwitch *killswitch.KillSwitch
	TrafficLog *trafficlog.Logger
	Prefs      *prefs.Store
}
