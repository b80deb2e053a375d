package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/meshgate/meshgate/logging"
)

// Dialer establishes a connection to a participant. Implementations wrap the
// actual transport (MCP client, message bus, in-process stub for tests).
type Dialer func(ctx context.Context, p Participant) (ParticipantConn, error)

// ParticipantConn is a live connection to a participant agent.
type ParticipantConn interface {
	AgentID() string
	// Deliver hands a message to the participant. Implementations must honor
	// ctx cancellation.
	Deliver(ctx context.Context, msg Message) error
	Close() error
}

type idleConn struct {
	conn     ParticipantConn
	idleFrom time.Time
}

// Pool manages connections to downstream participants grouped by participant
// type (role). It caps concurrent connections per type, reuses idle
// connections, and evicts connections idle past a threshold. Each type also
// gets a token-bucket limiter so bursts of dials do not overwhelm a
// participant class.
type Pool struct {
	*loggerAdapter

	maxPerType int
	idleTTL    time.Duration
	dialRate   rate.Limit
	dialBurst  int
	dialer     Dialer

	mu       sync.Mutex
	idle     map[string][]idleConn
	active   map[string]int
	limiters map[string]*rate.Limiter
	closed   bool
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	// MaxPerType caps concurrent connections per participant type.
	MaxPerType int
	// IdleTTL is the threshold after which idle connections are evicted.
	IdleTTL time.Duration
	// DialsPerSecond limits new dials per participant type.
	DialsPerSecond float64
	// DialBurst is the dial limiter burst size.
	DialBurst int
	// Logger defaults to NoOp when nil.
	Logger logging.Logger
}

// NewPool constructs a connection pool around the given dialer.
func NewPool(dialer Dialer, optFns ...func(o *PoolOptions)) *Pool {
	opts := PoolOptions{
		MaxPerType:     8,
		IdleTTL:        2 * time.Minute,
		DialsPerSecond: 10,
		DialBurst:      5,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Pool{
		loggerAdapter: newLoggerAdapter(opts.Logger),
		maxPerType:    opts.MaxPerType,
		idleTTL:       opts.IdleTTL,
		dialRate:      rate.Limit(opts.DialsPerSecond),
		dialBurst:     opts.DialBurst,
		dialer:        dialer,
		idle:          map[string][]idleConn{},
		active:        map[string]int{},
		limiters:      map[string]*rate.Limiter{},
	}
}

// Acquire returns a connection to the participant, reusing an idle one for the
// same agent when available. It blocks on the per-type rate limiter before
// dialing and fails when the per-type cap is exhausted.
func (p *Pool) Acquire(ctx context.Context, participant Participant) (ParticipantConn, error) {
	kind := participant.Role

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}
	// Prefer an idle connection to the same agent.
	conns := p.idle[kind]
	for i, ic := range conns {
		if ic.conn.AgentID() == participant.AgentID {
			p.idle[kind] = append(conns[:i:i], conns[i+1:]...)
			p.active[kind]++
			p.mu.Unlock()
			return ic.conn, nil
		}
	}
	if p.active[kind] >= p.maxPerType {
		p.mu.Unlock()
		return nil, fmt.Errorf("connection cap reached for participant type %q (%d)", kind, p.maxPerType)
	}
	p.active[kind]++
	limiter := p.limiterLocked(kind)
	p.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		p.decActive(kind)
		return nil, fmt.Errorf("dial rate limit: %w", err)
	}
	conn, err := p.dialer(ctx, participant)
	if err != nil {
		p.decActive(kind)
		return nil, fmt.Errorf("dial %s: %w", participant.AgentID, err)
	}
	p.LogDebug("participant connection established", "agent_id", participant.AgentID, "type", kind)
	return conn, nil
}

// Release returns a connection to the idle set for reuse.
func (p *Pool) Release(kind string, conn ParticipantConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[kind] > 0 {
		p.active[kind]--
	}
	if p.closed {
		_ = conn.Close()
		return
	}
	p.idle[kind] = append(p.idle[kind], idleConn{conn: conn, idleFrom: time.Now()})
}

// Sweep evicts connections idle longer than the configured TTL, returning the
// number closed. Callers typically run this on a ticker.
func (p *Pool) Sweep(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	evicted := 0
	for kind, conns := range p.idle {
		kept := conns[:0]
		for _, ic := range conns {
			if now.Sub(ic.idleFrom) > p.idleTTL {
				_ = ic.conn.Close()
				evicted++
				continue
			}
			kept = append(kept, ic)
		}
		p.idle[kind] = kept
	}
	if evicted > 0 {
		p.LogDebug("evicted idle participant connections", "count", evicted)
	}
	return evicted
}

// Stats reports active and idle connection counts per participant type.
func (p *Pool) Stats() (active, idle map[string]int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	active = make(map[string]int, len(p.active))
	idle = make(map[string]int, len(p.idle))
	for k, v := range p.active {
		active[k] = v
	}
	for k, conns := range p.idle {
		idle[k] = len(conns)
	}
	return active, idle
}

// Close evicts every idle connection and rejects further acquisitions.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, conns := range p.idle {
		for _, ic := range conns {
			_ = ic.conn.Close()
		}
	}
	p.idle = map[string][]idleConn{}
	return nil
}

func (p *Pool) decActive(kind string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[kind] > 0 {
		p.active[kind]--
	}
}

// limiterLocked returns the dial limiter for a participant type; caller holds mu.
func (p *Pool) limiterLocked(kind string) *rate.Limiter {
	limiter, ok := p.limiters[kind]
	if !ok {
		limiter = rate.NewLimiter(p.dialRate, p.dialBurst)
		p.limiters[kind] = limiter
	}
	return limiter
}
