package rotator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/projectdiscovery/gologger"
	"github.com/robfig/cron/v3"

	"alkemi.dev/ipveil/internal/pool"
	"alkemi.dev/ipveil/internal/trafficlog"
	"alkemi.dev/ipveil/pkg/ipveil"
)

// State of the rotation machine.
type State string

const (
	StateIdle     State = "idle"
	StateRotating State = "rotating"
	StateStable   State = "stable"
)

// Reasons attached to rotation events.
const (
	ReasonInterval        = "interval"
	ReasonUpstreamFailure = "upstream-failure"
	ReasonManual          = "manual"
	ReasonRevalidation    = "revalidation"
	ReasonRetry           = "retry"
)

type trigger struct {
	reason string
	failed string // reactive only: the address the report is about
}

// Options configure a rotator.
type Options struct {
	Interval    time.Duration
	Backoff     time.Duration
	HistoryPath string
	HistoryMax  int
}

// Rotator swaps the pool's active pointer on a timer and on upstream
// failure reports. Both trigger sources funnel into one transition loop,
// so pointer changes are strictly serialized. Swapping the pointer never
// touches sessions already in flight; they finish on the snapshot they
// took.
type Rotator struct {
	pool    *pool.Pool
	logger  *trafficlog.Logger
	history *History

	interval time.Duration
	backoff  time.Duration

	mu    sync.Mutex
	state State
	retry *time.Timer

	triggers chan trigger
	quit     chan struct{}
	done     chan struct{}
	cron     *cron.Cron
}

func New(p *pool.Pool, tl *trafficlog.Logger, opt Options) *Rotator {
	if opt.Interval <= 0 {
		opt.Interval = 10 * time.Minute
	}

	if opt.Backoff <= 0 {
		opt.Backoff = 30 * time.Second
	}

	return &Rotator{
		pool:     p,
		logger:   tl,
		history:  NewHistory(opt.HistoryPath, opt.HistoryMax),
		interval: opt.Interval,
		backoff:  opt.Backoff,
		state:    StateIdle,
		triggers: make(chan trigger, 8),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// History exposes the persisted rotation trail.
func (r *Rotator) History() *History {
	return r.history
}

// State reports the machine's current phase.
func (r *Rotator) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Start launches the trigger loop and the interval timer, then requests the
// initial selection.
func (r *Rotator) Start() error {
	go r.loop()

	r.cron = cron.New()

	if _, err := r.cron.AddFunc("@every "+r.interval.String(), func() {
		r.Trigger(ReasonInterval)
	}); err != nil {
		return err
	}

	r.cron.Start()

	r.Trigger(ReasonManual)

	return nil
}

// Stop halts the timers and waits for the trigger loop to drain.
func (r *Rotator) Stop() {
	r.mu.Lock()
	if r.retry != nil {
		r.retry.Stop()
		r.retry = nil
	}
	r.mu.Unlock()

	if r.cron != nil {
		<-r.cron.Stop().Done()
	}

	close(r.quit)
	<-r.done
}

// Trigger requests a rotation. Requests arriving while the queue is full
// collapse into the pending ones.
func (r *Rotator) Trigger(reason string) {
	select {
	case r.triggers <- trigger{reason: reason}:
	default:
	}
}

// ReportUpstreamFailure requests a reactive rotation away from addr. The
// request is skipped if addr is no longer the active upstream by the time
// the loop gets to it, so a stale report cannot evict its successor.
func (r *Rotator) ReportUpstreamFailure(addr string) {
	select {
	case r.triggers <- trigger{reason: ReasonUpstreamFailure, failed: addr}:
	default:
	}
}

func (r *Rotator) loop() {
	defer close(r.done)

	for {
		select {
		case t := <-r.triggers:
			r.rotate(t)
		case <-r.quit:
			return
		}
	}
}

// rotate is the single transition function. Every pointer change in the
// process goes through here.
func (r *Rotator) rotate(t trigger) {
	r.setState(StateRotating)

	cur := r.pool.Active()

	if t.failed != "" && (cur == nil || cur.Address() != t.failed) {
		gologger.Debug().Msgf("stale failure report for %s, active already moved", t.failed)
		r.settle(cur)

		return
	}

	next, ok := r.pool.SelectBest(r.pool.Policy())

	switch {
	case !ok:
		gologger.Warning().Msgf("rotation failed: %s", ipveil.ErrPoolExhausted)
		r.setState(StateIdle)
		r.armRetry()
	case cur != nil && next.Address() == cur.Address():
		r.setState(StateStable)
	default:
		if err := r.pool.Promote(next.Address()); err != nil {
			gologger.Warning().Msgf("rotation skipped: %s", err)
			r.setState(StateIdle)
			r.armRetry()

			return
		}

		event := trafficlog.Rotation{
			ID:     uuid.NewString(),
			At:     time.Now(),
			Reason: t.reason,
			To:     next.Address(),
		}

		from := "-"
		if cur != nil {
			event.From = cur.Address()
			from = event.From
		}

		if r.logger != nil {
			r.logger.RecordRotation(event)
		}

		r.history.Append(event)

		gologger.Info().Msgf("rotated %s -> %s (%s)", from, next.Address(), t.reason)

		r.setState(StateStable)
	}
}

func (r *Rotator) settle(cur *ipveil.ProxyRecord) {
	if cur != nil {
		r.setState(StateStable)
	} else {
		r.setState(StateIdle)
	}
}

// armRetry schedules one delayed re-attempt after an exhausted selection.
// Only a single retry is ever pending.
func (r *Rotator) armRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.retry != nil {
		return
	}

	r.retry = time.AfterFunc(r.backoff, func() {
		r.mu.Lock()
		r.retry = nil
		r.mu.Unlock()

		r.Trigger(ReasonRetry)
	})
}

func (r *Rotator) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = s
}
