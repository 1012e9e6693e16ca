// Package breaker implements a circuit breaker guarding a single external
// dependency. After repeated failures it stops letting calls through, then
// periodically probes for recovery.
package breaker

import (
	"log"
	"sync"
	"time"
)

// Phase of the breaker state machine.
type Phase string

const (
	Closed   Phase = "closed"
	Open     Phase = "open"
	HalfOpen Phase = "half_open"
)

type Config struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes needed to close
	RecoveryTimeout  time.Duration // time in open before probing
	// MaxProbes caps in-flight half-open probes. Zero means SuccessThreshold.
	MaxProbes int
}

// Gate is a single-dependency circuit breaker. One mutex orders all phase
// transitions; the critical sections do arithmetic only.
type Gate struct {
	mu                   sync.Mutex
	cfg                  Config
	phase                Phase
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	inflightProbes       int
	now                  func() time.Time

	// OnTransition, if set before use, observes every phase change.
	// Called outside the lock.
	OnTransition func(from, to Phase)
}

func New(cfg Config) *Gate {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 3
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.MaxProbes < 1 {
		cfg.MaxProbes = cfg.SuccessThreshold
	}
	return &Gate{cfg: cfg, phase: Closed, now: time.Now}
}

// BeforeCall reports whether the protected call may proceed. While open it
// denies until the recovery timeout elapses, then flips to half-open and
// admits the call as a probe.
func (g *Gate) BeforeCall() bool {
	g.mu.Lock()

	switch g.phase {
	case Closed:
		g.mu.Unlock()
		return true
	case Open:
		if g.now().Sub(g.openedAt) < g.cfg.RecoveryTimeout {
			g.mu.Unlock()
			return false
		}
		notify := g.transition(HalfOpen)
		g.inflightProbes = 1
		g.mu.Unlock()
		notify()
		return true
	default: // HalfOpen
		if g.inflightProbes >= g.cfg.MaxProbes {
			g.mu.Unlock()
			return false
		}
		g.inflightProbes++
		g.mu.Unlock()
		return true
	}
}

// OnSuccess records a successful call against the breaker.
func (g *Gate) OnSuccess() {
	g.mu.Lock()
	notify := func() {}
	switch g.phase {
	case Closed:
		g.consecutiveFailures = 0
	case HalfOpen:
		g.releaseProbe()
		g.consecutiveSuccesses++
		if g.consecutiveSuccesses >= g.cfg.SuccessThreshold {
			notify = g.transition(Closed)
		}
	}
	g.mu.Unlock()
	notify()
}

// OnFailure records a failed call. A single half-open failure reopens
// immediately; the failure counter is pinned at the threshold so the breaker
// never has to re-accumulate failures to reopen.
func (g *Gate) OnFailure() {
	g.mu.Lock()
	notify := func() {}
	switch g.phase {
	case HalfOpen:
		g.releaseProbe()
		notify = g.transition(Open)
		g.consecutiveFailures = g.cfg.FailureThreshold
		g.openedAt = g.now()
	case Closed:
		g.consecutiveFailures++
		if g.consecutiveFailures >= g.cfg.FailureThreshold {
			notify = g.transition(Open)
			g.openedAt = g.now()
		}
	}
	g.mu.Unlock()
	notify()
}

// OnCancel releases a probe slot for a call that ended without an outcome,
// such as caller-side cancellation. It counts as neither success nor failure.
func (g *Gate) OnCancel() {
	g.mu.Lock()
	if g.phase == HalfOpen {
		g.releaseProbe()
	}
	g.mu.Unlock()
}

// State returns the current phase without side effects.
func (g *Gate) State() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// RetryAfter reports how long until an open breaker will admit a probe.
// Zero when the breaker is not open or the timeout already elapsed.
func (g *Gate) RetryAfter() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.phase != Open {
		return 0
	}
	remaining := g.cfg.RecoveryTimeout - g.now().Sub(g.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// transition mutates phase under the caller-held lock and returns the
// notification to run after unlock.
func (g *Gate) transition(to Phase) func() {
	from := g.phase
	g.phase = to
	switch to {
	case Closed:
		g.consecutiveFailures = 0
		g.consecutiveSuccesses = 0
	case HalfOpen:
		g.consecutiveSuccesses = 0
		g.inflightProbes = 0
	}
	hook := g.OnTransition
	return func() {
		log.Printf("breaker transition %s -> %s", from, to)
		if hook != nil {
			hook(from, to)
		}
	}
}

func (g *Gate) releaseProbe() {
	if g.inflightProbes > 0 {
		g.inflightProbes--
	}
}
