// Package pipeline composes admission control, the classification gateway,
// and the dispatcher into the single synchronous entry point the transport
// layer calls. Once a request is admitted and not breaker-blocked it always
// completes with some actionable outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"triagebot/internal/admission"
	"triagebot/internal/dispatch"
	"triagebot/internal/domain"
	"triagebot/internal/gateway"
)

// RateLimitedError reports an admission denial. Recoverable: the caller
// should retry after the indicated delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// CircuitOpenError reports a breaker denial in fail-fast mode. Distinct
// from RateLimitedError because the cause is a downstream outage, not
// caller volume.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("classifier unavailable, retry after %s", e.RetryAfter)
}

// Event is a fire-and-forget telemetry record.
type Event struct {
	Name      string
	ClientKey string
	Channel   domain.Channel
	Category  domain.Category
	Detail    string
}

// TelemetrySink receives pipeline events. Implementations may block or
// panic; the pipeline shields itself from both.
type TelemetrySink interface {
	Record(event Event)
}

type Config struct {
	// FailFastWhenOpen rejects breaker-denied requests with CircuitOpenError
	// instead of serving the fallback outcome.
	FailFastWhenOpen bool
}

type Pipeline struct {
	admission  *admission.Controller
	gateway    *gateway.Gateway
	dispatcher *dispatch.Dispatcher
	sink       TelemetrySink
	cfg        Config

	stats Stats
}

// Stats carries the running counters reported by the scheduled summary.
type Stats struct {
	Processed   atomic.Int64
	RateLimited atomic.Int64
	BreakerOpen atomic.Int64
	Fallbacks   atomic.Int64
	Escalations atomic.Int64
}

func New(adm *admission.Controller, gw *gateway.Gateway, disp *dispatch.Dispatcher, sink TelemetrySink, cfg Config) *Pipeline {
	return &Pipeline{admission: adm, gateway: gw, dispatcher: disp, sink: sink, cfg: cfg}
}

// Result pairs the classification with the outcome its workflow produced.
type Result struct {
	Classification domain.ClassificationResult
	Outcome        domain.WorkflowOutcome
}

// ProcessMessage runs one request through admission, classification, and
// dispatch. The only errors it returns are *RateLimitedError and, in
// fail-fast mode, *CircuitOpenError; every other path yields an outcome.
func (p *Pipeline) ProcessMessage(ctx context.Context, req domain.ClassificationRequest) (Result, error) {
	decision := p.admission.TryAcquire(req.ClientKey)
	if !decision.Admitted {
		p.stats.RateLimited.Add(1)
		p.emit(Event{Name: "admission_denied", ClientKey: req.ClientKey, Channel: req.Channel,
			Detail: fmt.Sprintf("retry_after=%s", decision.RetryAfter)})
		log.Printf("pipeline rate limited client=%s retry_after=%s", req.ClientKey, decision.RetryAfter)
		return Result{}, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	result, err := p.gateway.Classify(ctx, req)
	var open *gateway.BreakerOpenError
	if errors.As(err, &open) {
		p.stats.BreakerOpen.Add(1)
		p.emit(Event{Name: "breaker_rejected", ClientKey: req.ClientKey, Channel: req.Channel,
			Detail: fmt.Sprintf("retry_after=%s", open.RetryAfter)})
		if p.cfg.FailFastWhenOpen {
			return Result{}, &CircuitOpenError{RetryAfter: open.RetryAfter}
		}
		// Degrade: the fallback result still routes the message to a human.
	}

	if result.IsFallback {
		p.stats.Fallbacks.Add(1)
		p.emit(Event{Name: "fallback_served", ClientKey: req.ClientKey, Channel: req.Channel,
			Category: result.Category, Detail: result.Reasoning})
	}

	outcome := p.dispatcher.Dispatch(ctx, req, result)
	if outcome.Action == "escalate_to_human" {
		p.stats.Escalations.Add(1)
		p.emit(Event{Name: "dispatch_escalated", ClientKey: req.ClientKey, Channel: req.Channel,
			Category: result.Category})
	}

	p.stats.Processed.Add(1)
	log.Printf("pipeline processed client=%s channel=%s category=%s confidence=%.2f fallback=%t action=%s review=%t",
		req.ClientKey, req.Channel, result.Category, result.Confidence, result.IsFallback,
		outcome.Action, outcome.RequiresHumanReview)
	return Result{Classification: result, Outcome: outcome}, nil
}

// Stats exposes the running counters for the scheduled summary job.
func (p *Pipeline) Stats() *Stats {
	return &p.stats
}

// emit delivers the event without ever blocking or failing the pipeline.
func (p *Pipeline) emit(event Event) {
	if p.sink == nil {
		return
	}
	sink := p.sink
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("telemetry sink panic: %v", r)
			}
		}()
		sink.Record(event)
	}()
}
