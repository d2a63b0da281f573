package trafficlog

import (
	"encoding/json"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mbndr/logo"
	"github.com/projectdiscovery/gologger"
	"github.com/valyala/fasttemplate"
)

// SchemaVersion tags every record so external analyzers can detect layout
// changes.
const SchemaVersion = 1

const queueSize = 1024

// Outcome classifies how a session ended.
type Outcome string

const (
	OutcomeOK                Outcome = "ok"
	OutcomeUpstreamFailed    Outcome = "upstream-failed"
	OutcomeClientClosed      Outcome = "client-closed"
	OutcomeKillswitchBlocked Outcome = "killswitch-blocked"
)

// Session is one client connection's accounting record.
type Session struct {
	ID             string    `json:"id"`
	ClientAddr     string    `json:"client_addr"`
	Upstream       string    `json:"upstream,omitempty"`
	UpstreamScheme string    `json:"upstream_scheme,omitempty"`
	Target         string    `json:"target,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	BytesIn        uint64    `json:"bytes_in"`
	BytesOut       uint64    `json:"bytes_out"`
	Outcome        Outcome   `json:"outcome"`
}

// Rotation is one active-upstream change.
type Rotation struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to,omitempty"`
}

type sessionEntry struct {
	Schema int    `json:"schema"`
	Type   string `json:"type"`
	Session
}

type rotationEntry struct {
	Schema int    `json:"schema"`
	Type   string `json:"type"`
	Rotation
}

const mirrorFormat = "{type} {id} client={client} upstream={upstream} in={in} out={out} outcome={outcome}"

// Logger serializes session and rotation records into an append-only JSONL
// sink. Records go through a bounded queue drained by a single writer
// goroutine; when the queue is full or the sink is broken they are dropped
// and counted, never blocking the forwarding path.
type Logger struct {
	queue    chan any
	quit     chan struct{}
	done     chan struct{}
	closed   atomic.Bool
	dropped  atomic.Uint64
	enabled  bool
	sink     bool
	file     *os.File
	mirror   *logo.Logger
	template *fasttemplate.Template
}

// New opens the sink at path ("" disables the file) with an optional mirror
// that echoes a one-line summary per record. A sink that cannot be opened
// is not fatal: the logger keeps running and counts every record as
// dropped.
func New(path string, mirror *logo.Logger) *Logger {
	l := &Logger{
		queue:    make(chan any, queueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		enabled:  path != "" || mirror != nil,
		sink:     path != "",
		mirror:   mirror,
		template: fasttemplate.New(mirrorFormat, "{", "}"),
	}

	if path != "" {
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			gologger.Error().Msgf("traffic log unavailable: %s", err)
		} else {
			l.file = file
		}
	}

	go l.run()

	return l
}

// Record hands a finished session to the writer.
func (l *Logger) Record(s Session) {
	l.enqueue(sessionEntry{Schema: SchemaVersion, Type: "session", Session: s})
}

// RecordRotation logs an active-upstream change.
func (l *Logger) RecordRotation(r Rotation) {
	l.enqueue(rotationEntry{Schema: SchemaVersion, Type: "rotation", Rotation: r})
}

// Dropped reports how many records were lost to backpressure or sink
// errors.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// Close drains the queue, stops the writer, and closes the sink. Records
// arriving after Close are dropped and counted.
func (l *Logger) Close() {
	if l.closed.Swap(true) {
		return
	}

	close(l.quit)
	<-l.done

	if l.file != nil {
		_ = l.file.Close()
	}
}

func (l *Logger) enqueue(e any) {
	if !l.enabled {
		return
	}

	if l.closed.Load() {
		l.dropped.Add(1)
		return
	}

	select {
	case l.queue <- e:
	default:
		l.dropped.Add(1)
	}
}

func (l *Logger) run() {
	defer close(l.done)

	for {
		select {
		case e := <-l.queue:
			l.write(e)
		case <-l.quit:
			for {
				select {
				case e := <-l.queue:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(e any) {
	data, err := json.Marshal(e)
	if err != nil {
		l.dropped.Add(1)
		return
	}

	if l.file != nil {
		if _, err := l.file.Write(append(data, '\n')); err != nil {
			l.dropped.Add(1)
			gologger.Debug().Msgf("traffic log write failed: %s", err)
		}
	} else if l.sink {
		// Sink was configured but never opened.
		l.dropped.Add(1)
	}

	if l.mirror != nil {
		l.mirror.Info(l.line(e))
	}
}

func (l *Logger) line(e any) string {
	m := map[string]interface{}{
		"type":     "",
		"id":       "",
		"client":   "-",
		"upstream": "-",
		"in":       "0",
		"out":      "0",
		"outcome":  "-",
	}

	switch v := e.(type) {
	case sessionEntry:
		m["type"] = v.Type
		m["id"] = v.ID
		m["client"] = v.ClientAddr
		m["upstream"] = orDash(v.Upstream)
		m["in"] = strconv.FormatUint(v.BytesIn, 10)
		m["out"] = strconv.FormatUint(v.BytesOut, 10)
		m["outcome"] = string(v.Outcome)
	case rotationEntry:
		m["type"] = v.Type
		m["id"] = v.ID
		m["client"] = orDash(v.From)
		m["upstream"] = orDash(v.To)
		m["outcome"] = v.Reason
	}

	return l.template.ExecuteString(m)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
