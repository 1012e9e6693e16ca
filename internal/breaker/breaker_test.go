package breaker

import (
	"testing"
	"time"
)

func newTestGate(cfg Config) (*Gate, *time.Time) {
	g := New(cfg)
	now := time.Now()
	g.now = func() time.Time { return now }
	return g, &now
}

func TestOpensAtExactlyFailureThreshold(t *testing.T) {
	g, _ := newTestGate(Config{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: 30 * time.Second})

	for i := 0; i < 4; i++ {
		g.OnFailure()
		if g.State() != Closed {
			t.Fatalf("breaker opened after %d failures, threshold is 5", i+1)
		}
	}
	g.OnFailure()
	if g.State() != Open {
		t.Fatalf("breaker should be open after 5 consecutive failures, got %s", g.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	g, _ := newTestGate(Config{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: 30 * time.Second})

	for i := 0; i < 4; i++ {
		g.OnFailure()
	}
	g.OnSuccess()
	if g.State() != Closed {
		t.Fatalf("phase = %s, want closed", g.State())
	}

	// Counter restarted: four more failures must not open.
	for i := 0; i < 4; i++ {
		g.OnFailure()
	}
	if g.State() != Closed {
		t.Fatalf("breaker opened before re-accumulating the full threshold")
	}
	g.OnFailure()
	if g.State() != Open {
		t.Fatalf("breaker should open on the fifth consecutive failure")
	}
}

func TestOpenDeniesUntilRecoveryTimeout(t *testing.T) {
	g, now := newTestGate(Config{FailureThreshold: 1, SuccessThreshold: 3, RecoveryTimeout: 30 * time.Second})
	g.OnFailure()

	if g.BeforeCall() {
		t.Fatalf("open breaker must deny calls")
	}
	*now = now.Add(29 * time.Second)
	if g.BeforeCall() {
		t.Fatalf("open breaker must deny until the recovery timeout elapses")
	}
	*now = now.Add(2 * time.Second)
	if !g.BeforeCall() {
		t.Fatalf("breaker should admit a probe after the recovery timeout")
	}
	if g.State() != HalfOpen {
		t.Fatalf("phase = %s, want half_open", g.State())
	}
}

func TestHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	g, now := newTestGate(Config{FailureThreshold: 1, SuccessThreshold: 3, RecoveryTimeout: time.Second})
	g.OnFailure()
	*now = now.Add(2 * time.Second)

	for i := 0; i < 3; i++ {
		if !g.BeforeCall() {
			t.Fatalf("probe %d should be admitted", i+1)
		}
		g.OnSuccess()
	}
	if g.State() != Closed {
		t.Fatalf("phase = %s after 3 probe successes, want closed", g.State())
	}
}

func TestHalfOpenFailureReopensImmediately(t *testing.T) {
	g, now := newTestGate(Config{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: time.Second})
	for i := 0; i < 5; i++ {
		g.OnFailure()
	}
	*now = now.Add(2 * time.Second)

	// Two successful probes, then a single failure: back to open.
	for i := 0; i < 2; i++ {
		if !g.BeforeCall() {
			t.Fatalf("probe should be admitted")
		}
		g.OnSuccess()
	}
	if !g.BeforeCall() {
		t.Fatalf("probe should be admitted")
	}
	g.OnFailure()
	if g.State() != Open {
		t.Fatalf("phase = %s after half-open failure, want open", g.State())
	}

	// The failure counter is pinned at the threshold, not reset to zero:
	// a later half-open failure reopens again without re-accumulation.
	g.mu.Lock()
	failures := g.consecutiveFailures
	g.mu.Unlock()
	if failures != 5 {
		t.Fatalf("consecutiveFailures = %d after reopen, want threshold 5", failures)
	}
}

func TestHalfOpenProbeBudget(t *testing.T) {
	g, now := newTestGate(Config{FailureThreshold: 1, SuccessThreshold: 2, RecoveryTimeout: time.Second})
	g.OnFailure()
	*now = now.Add(2 * time.Second)

	if !g.BeforeCall() {
		t.Fatalf("first probe should be admitted")
	}
	if !g.BeforeCall() {
		t.Fatalf("second probe should be admitted (budget = success threshold)")
	}
	if g.BeforeCall() {
		t.Fatalf("third in-flight probe should be denied")
	}

	// A cancelled probe frees its slot without counting either way.
	g.OnCancel()
	if !g.BeforeCall() {
		t.Fatalf("probe slot should be free after cancel")
	}
	if g.State() != HalfOpen {
		t.Fatalf("cancel must not change phase, got %s", g.State())
	}
}

func TestRetryAfter(t *testing.T) {
	g, now := newTestGate(Config{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: 30 * time.Second})
	if g.RetryAfter() != 0 {
		t.Fatalf("closed breaker retry-after should be 0")
	}
	g.OnFailure()
	if got := g.RetryAfter(); got != 30*time.Second {
		t.Fatalf("retry-after = %s, want 30s", got)
	}
	*now = now.Add(10 * time.Second)
	if got := g.RetryAfter(); got != 20*time.Second {
		t.Fatalf("retry-after = %s, want 20s", got)
	}
}

func TestTransitionHook(t *testing.T) {
	g, now := newTestGate(Config{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: time.Second})
	var seen []string
	g.OnTransition = func(from, to Phase) {
		seen = append(seen, string(from)+">"+string(to))
	}

	g.OnFailure()
	*now = now.Add(2 * time.Second)
	g.BeforeCall()
	g.OnSuccess()

	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
}
