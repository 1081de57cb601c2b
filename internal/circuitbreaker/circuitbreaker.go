// Package circuitbreaker stops the dispatcher from hammering a push service
// that is failing. One breaker is kept per push-service host, so an outage
// at one provider never blocks delivery through another.
package circuitbreaker

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of a breaker.
//
//	Closed -> Open:      consecutive failures reach MaxFailures
//	Open -> HalfOpen:    RecoveryTimeout elapsed since the last failure
//	HalfOpen -> Closed:  a probe succeeds
//	HalfOpen -> Open:    a probe fails
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without contacting the push service while the
// breaker for its host is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds breaker thresholds.
type Config struct {
	MaxFailures     int
	RecoveryTimeout time.Duration
	HalfOpenProbes  int
}

// DefaultConfig trips after 5 consecutive failures and probes again after
// 30 seconds.
func DefaultConfig() Config {
	return Config{
		MaxFailures:     5,
		RecoveryTimeout: 30 * time.Second,
		HalfOpenProbes:  1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = d.HalfOpenProbes
	}
	return c
}

// Breaker guards one push-service host.
type Breaker struct {
	mu     sync.Mutex
	name   string
	config Config
	logger *zap.Logger
	now    func() time.Time

	state       State
	failures    int
	lastFailure time.Time
	probes      int

	rejected int64
}

func newBreaker(name string, cfg Config, logger *zap.Logger, now func() time.Time) *Breaker {
	return &Breaker{
		name:   name,
		config: cfg,
		logger: logger,
		now:    now,
	}
}

// Allow reports whether a request may go through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.config.RecoveryTimeout {
			b.transition(StateHalfOpen)
			b.probes = 1
			return true
		}
	case StateHalfOpen:
		if b.probes < b.config.HalfOpenProbes {
			b.probes++
			return true
		}
	}

	b.rejected++
	return false
}

// Success closes a half-open breaker and clears the failure streak.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
		b.logger.Info("push host recovered", zap.String("host", b.name))
	}
}

// Failure extends the failure streak and opens the breaker when it reaches
// the threshold, or immediately when a probe fails.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.MaxFailures {
			b.transition(StateOpen)
			b.logger.Warn("push host failing, circuit opened",
				zap.String("host", b.name),
				zap.Int("failures", b.failures),
			)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
		b.logger.Warn("push host probe failed, circuit re-opened", zap.String("host", b.name))
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.logger.Debug("circuit state transition",
		zap.String("host", b.name),
		zap.String("from", b.state.String()),
		zap.String("to", to.String()),
	)
	b.state = to
	b.probes = 0
}

// Stats is a snapshot of one breaker for the admin dashboard.
type Stats struct {
	Host        string `json:"host"`
	State       string `json:"state"`
	Failures    int    `json:"failures"`
	Rejected    int64  `json:"rejected"`
	LastFailure string `json:"lastFailure,omitempty"`
}

func (b *Breaker) stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Host:     b.name,
		State:    b.state.String(),
		Failures: b.failures,
		Rejected: b.rejected,
	}
	if !b.lastFailure.IsZero() {
		s.LastFailure = b.lastFailure.UTC().Format(time.RFC3339)
	}
	return s
}

// Group lazily creates one Breaker per host.
type Group struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewGroup creates an empty breaker group.
func NewGroup(cfg Config, logger *zap.Logger) *Group {
	return &Group{
		breakers: make(map[string]*Breaker),
		config:   cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

// For returns the breaker for host, creating it on first use.
func (g *Group) For(host string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[host]
	if !ok {
		b = newBreaker(host, g.config, g.logger, g.now)
		g.breakers[host] = b
	}
	return b
}

// Stats returns a snapshot of every breaker, sorted by host.
func (g *Group) Stats() []Stats {
	g.mu.Lock()
	list := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		list = append(list, b)
	}
	g.mu.Unlock()

	out := make([]Stats, 0, len(list))
	for _, b := range list {
		out = append(out, b.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}
