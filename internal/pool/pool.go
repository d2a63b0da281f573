package pool

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/valyala/fastrand"

	"alkemi.dev/ipveil/pkg/ipveil"
	"alkemi.dev/ipveil/pkg/loadbalancer"
)

// Options configure a pool.
type Options struct {
	Policy        Policy
	DeadThreshold int
	Favorites     []string
}

// Pool is the registry of validated upstreams and the single owner of the
// active pointer. Sessions read the pointer lock-free; all mutation goes
// through the pool's lock.
type Pool struct {
	mu        sync.RWMutex
	records   map[string]*ipveil.ProxyRecord
	policy    Policy
	favorites map[string]bool
	threshold int
	watchers  []func(*ipveil.ProxyRecord)

	ring *loadbalancer.LoadBalancer[string]

	active atomic.Pointer[ipveil.ProxyRecord]
}

func New(opt Options) *Pool {
	if opt.DeadThreshold <= 0 {
		opt.DeadThreshold = 3
	}

	if opt.Policy == "" {
		opt.Policy = PolicyLowestLatency
	}

	p := &Pool{
		records:   make(map[string]*ipveil.ProxyRecord),
		policy:    opt.Policy,
		threshold: opt.DeadThreshold,
		favorites: make(map[string]bool),
		ring:      loadbalancer.NewLoadBalancer[string](),
	}

	for _, f := range opt.Favorites {
		p.favorites[f] = true
	}

	return p
}

// OnActiveChange registers fn for active pointer swaps; nil means the pool
// went empty. Callbacks run under the pool lock and must not call back in.
func (p *Pool) OnActiveChange(fn func(*ipveil.ProxyRecord)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.watchers = append(p.watchers, fn)
}

// Active returns the current active snapshot, nil when empty. The returned
// record never mutates, so a session may hold it for its whole lifetime.
func (p *Pool) Active() *ipveil.ProxyRecord {
	return p.active.Load()
}

// Policy returns the configured selection policy.
func (p *Pool) Policy() Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.policy
}

// SetPolicy swaps the selection policy used by subsequent rotations.
func (p *Pool) SetPolicy(policy Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.policy = policy
}

// SetFavorites replaces the pinned set. Pinned healthy proxies win over
// unpinned ones regardless of policy.
func (p *Pool) SetFavorites(addrs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.favorites = make(map[string]bool, len(addrs))
	for _, a := range addrs {
		p.favorites[a] = true
	}

	p.rebuildRingLocked()
}

// Len reports how many records the pool holds, dead ones included.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.records)
}

// Upsert inserts or refreshes a record after a successful probe. Consecutive
// failures reset and the record becomes healthy again whatever it was
// before. An upsert of the active address republishes the fresh snapshot.
func (p *Pool) Upsert(record ipveil.ProxyRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	record.Status = ipveil.StatusHealthy
	record.ConsecutiveFailures = 0

	if record.LastCheckedAt.IsZero() {
		record.LastCheckedAt = time.Now()
	}

	addr := record.Address()

	if cur, ok := p.records[addr]; ok {
		*cur = record
	} else {
		r := record
		p.records[addr] = &r
	}

	p.rebuildRingLocked()

	if a := p.active.Load(); a != nil && a.Address() == addr {
		p.publishLocked(&record)
	}
}

// ReportFailure counts one failed probe or session against addr. The first
// failure degrades a healthy record; reaching the dead threshold kills it
// and, when it was the active upstream, empties the pointer. Unknown
// addresses are ignored. Reports whether the record just died.
func (p *Pool) ReportFailure(addr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[addr]
	if !ok {
		return false
	}

	rec.ConsecutiveFailures++
	rec.LastCheckedAt = time.Now()

	if rec.ConsecutiveFailures >= p.threshold {
		rec.Status = ipveil.StatusDead
	} else {
		rec.Status = ipveil.StatusDegraded
	}

	gologger.Debug().Msgf("proxy %s marked %s (%d consecutive failures)", addr, rec.Status, rec.ConsecutiveFailures)

	p.rebuildRingLocked()

	if rec.Status == ipveil.StatusDead {
		if a := p.active.Load(); a != nil && a.Address() == addr {
			p.publishLocked(nil)
		}

		return true
	}

	return false
}

// EvictDead drops records that have been dead longer than grace, measured
// from their last status change. The active upstream is never dead, so
// eviction can never touch it.
func (p *Pool) EvictDead(grace time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-grace)
	evicted := 0

	for addr, rec := range p.records {
		if rec.Status == ipveil.StatusDead && rec.LastCheckedAt.Before(cutoff) {
			delete(p.records, addr)
			evicted++
		}
	}

	if evicted > 0 {
		p.rebuildRingLocked()
	}

	return evicted
}

// SelectBest picks a healthy record under the given policy, favorites
// first. It never returns a degraded or dead record; ok is false when no
// healthy record exists.
func (p *Pool) SelectBest(policy Policy) (ipveil.ProxyRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	healthy := p.preferredLocked()
	if len(healthy) == 0 {
		return ipveil.ProxyRecord{}, false
	}

	switch policy {
	case PolicyRoundRobin:
		for i := 0; i < p.ring.Len(); i++ {
			addr, ok := p.ring.Next()
			if !ok {
				break
			}

			if rec, exists := p.records[addr]; exists && rec.Selectable() {
				return *rec, true
			}
		}

		return *healthy[0], true
	case PolicyRandom:
		return *healthy[fastrand.Uint32n(uint32(len(healthy)))], true
	default:
		best := healthy[0]

		for _, rec := range healthy[1:] {
			if rec.Latency < best.Latency ||
				(rec.Latency == best.Latency && rec.LastCheckedAt.After(best.LastCheckedAt)) {
				best = rec
			}
		}

		return *best, true
	}
}

// Promote makes addr the active upstream. It refuses records that are no
// longer selectable, so a selection that raced a death cannot land.
func (p *Pool) Promote(addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[addr]
	if !ok {
		return fmt.Errorf("unknown proxy %s", addr)
	}

	if !rec.Selectable() {
		return fmt.Errorf("proxy %s is %s", addr, rec.Status)
	}

	p.publishLocked(rec)

	return nil
}

// Clear empties the active pointer.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.publishLocked(nil)
}

// Snapshot returns counts and a stable-ordered copy of every record:
// healthy before degraded before dead, fastest first within a status.
type Snapshot struct {
	Total    int
	Healthy  int
	Degraded int
	Dead     int
	Active   *ipveil.ProxyRecord
	Records  []ipveil.ProxyRecord
}

func (p *Pool) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Snapshot{Active: p.active.Load()}

	for _, rec := range p.records {
		s.Total++

		switch rec.Status {
		case ipveil.StatusHealthy:
			s.Healthy++
		case ipveil.StatusDegraded:
			s.Degraded++
		default:
			s.Dead++
		}

		s.Records = append(s.Records, *rec)
	}

	slices.SortFunc(s.Records, func(a, b ipveil.ProxyRecord) int {
		if r := cmp.Compare(statusRank(a.Status), statusRank(b.Status)); r != 0 {
			return r
		}

		if r := cmp.Compare(a.Latency, b.Latency); r != 0 {
			return r
		}

		return strings.Compare(a.Address(), b.Address())
	})

	return s
}

// publishLocked swaps the active pointer to a private copy of rec and fans
// the change out to the watchers.
func (p *Pool) publishLocked(rec *ipveil.ProxyRecord) {
	if rec == nil {
		p.active.Store(nil)
	} else {
		snap := *rec
		p.active.Store(&snap)
	}

	for _, fn := range p.watchers {
		fn(p.active.Load())
	}
}

// preferredLocked lists selectable records, narrowed to favorites when any
// favorite is currently selectable.
func (p *Pool) preferredLocked() []*ipveil.ProxyRecord {
	var all, favs []*ipveil.ProxyRecord

	for _, rec := range p.records {
		if !rec.Selectable() {
			continue
		}

		all = append(all, rec)

		if p.favorites[rec.Address()] {
			favs = append(favs, rec)
		}
	}

	if len(favs) > 0 {
		return favs
	}

	return all
}

func (p *Pool) rebuildRingLocked() {
	sel := p.preferredLocked()

	addrs := make([]string, 0, len(sel))
	for _, rec := range sel {
		addrs = append(addrs, rec.Address())
	}

	slices.Sort(addrs)

	p.ring.SetItems(addrs...)
}

func statusRank(s ipveil.Status) int {
	switch s {
	case ipveil.StatusHealthy:
		return 0
	case ipveil.StatusDegraded:
		return 1
	default:
		return 2
	}
}
