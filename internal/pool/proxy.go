package pool

import (
	"sync"
	"time"

	"github.com/nexus-db/nexus-pool/internal/txn"
	"github.com/nexus-db/nexus-pool/pkg/datasource"
	"github.com/nexus-db/nexus-pool/pkg/poolerrors"
)

// State is a connection proxy's position in its state machine.
type State int

const (
	StateFresh State = iota
	StateIdle
	StateInUse
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in_use"
	case StateClosed:
		return "closed"
	default:
		return "fresh"
	}
}

// Dependent is anything a Proxy tracks as open on top of it — statement
// handles, principally. Proxy drains (closes) every tracked Dependent on
// the IN_USE -> IDLE transition.
type Dependent interface {
	Close() error
}

// Proxy is the connection proxy: it wraps one physical
// connection, tracks lifecycle state and open dependent statements, and
// answers close() by returning itself to the owning pool instead of
// destroying the physical handle. Proxy is itself the pooled-connection
// view Acquire returns — there is no separate
// wrapper type, since Go's exported/unexported method split already gives
// callers a narrower surface (Close, Conn, Resource) than the manager
// uses internally (markInUse, drainDependentsLocked, ...).
type Proxy struct {
	pool     *Manager // non-owning back-reference; the pool outlives its proxies
	physical *datasource.Physical

	mu         sync.Mutex
	state      State
	idleSince  time.Time
	dependents map[Dependent]struct{}
}

func newProxy(pool *Manager, physical *datasource.Physical) *Proxy {
	return &Proxy{pool: pool, physical: physical, state: StateFresh}
}

// State returns the proxy's current lifecycle state.
func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IdleSince returns the timestamp the proxy last became idle. Only
// meaningful while IDLE: it is zero while IN_USE or FRESH, and a CLOSED
// proxy keeps whatever value it had when it was closed.
func (p *Proxy) IdleSince() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idleSince
}

// Conn returns the underlying physical connection for building
// statements. Fails with ProxyClosed once the proxy has been destroyed.
func (p *Proxy) Conn() (datasource.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return nil, poolerrors.New(poolerrors.ProxyClosed, p.pool.cfg.Name, "use of a closed connection proxy")
	}
	return p.physical.Conn, nil
}

// Resource returns the proxy's enlistable transactional resource, if the
// owning pool is XA-enabled.
func (p *Proxy) Resource() (txn.Resource, bool) {
	if p.physical.Resource == nil {
		return nil, false
	}
	return p.physical.Resource, true
}

// Close returns the proxy to its owning pool. This is the load-bearing
// contract: callers see the proxy as an ordinary
// connection and Close is release, not destroy.
func (p *Proxy) Close() error {
	return p.pool.release(p)
}

// Track registers d as a statement dependent on this proxy, to be closed
// on release.
func (p *Proxy) Track(d Dependent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dependents == nil {
		p.dependents = make(map[Dependent]struct{})
	}
	p.dependents[d] = struct{}{}
}

// Untrack removes d, e.g. when a caller closes a statement explicitly
// before releasing the proxy.
func (p *Proxy) Untrack(d Dependent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.dependents, d)
}

// markIdleAt is called by Chain.Add to set the state to IDLE and stamp
// the idle time.
func (p *Proxy) markIdleAt(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateIdle
	p.idleSince = t
}

// markInUse transitions IDLE (or FRESH, for a proxy just grown) to
// IN_USE. Called by the manager immediately after popping from the chain.
func (p *Proxy) markInUse() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateInUse
	p.idleSince = time.Time{}
}

// releaseFromInUse attempts the IN_USE -> (drained, released) transition
// atomically: it reports ok=false without side effects if the proxy is
// not currently IN_USE, so a caller can distinguish a legitimate release
// from a double-release (this pool treats a
// double-release as a fault, ProxyClosed, not a silent no-op).
func (p *Proxy) releaseFromInUse() (drained []Dependent, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateInUse {
		return nil, false
	}
	drained = p.drainDependentsLocked()
	p.state = StateIdle
	return drained, true
}

func (p *Proxy) drainDependentsLocked() []Dependent {
	if len(p.dependents) == 0 {
		return nil
	}
	out := make([]Dependent, 0, len(p.dependents))
	for d := range p.dependents {
		out = append(out, d)
	}
	p.dependents = nil
	return out
}

// markClosed transitions to CLOSED, e.g. after a validation failure or on
// forced shutdown. Once CLOSED, Conn always fails with ProxyClosed.
func (p *Proxy) markClosed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.dependents) > 0 {
		for d := range p.dependents {
			_ = d.Close()
		}
		p.dependents = nil
	}
	p.state = StateClosed
}
