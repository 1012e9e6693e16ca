// Package gateway wraps the external classifier call with circuit breaking,
// per-attempt timeouts, sequential retry with backoff, payload validation,
// and a deterministic fallback. A message that reaches the gateway always
// leaves it with a usable classification result.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"triagebot/internal/breaker"
	"triagebot/internal/domain"
)

// FallbackConfidence sits below any sane review threshold so a fallback
// result always lands in human review downstream.
const FallbackConfidence = 0.3

// RawResult is the classifier's answer before validation. Category is kept
// as the raw string so the gateway owns the decision of what is valid.
type RawResult struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classifier is the external LLM call. Implementations return a
// MalformedResponseError when the provider answered but the payload cannot
// be parsed; any other error is treated as a transport failure.
type Classifier interface {
	Classify(ctx context.Context, text string, channel domain.Channel) (RawResult, error)
}

// MalformedResponseError marks a response the provider delivered but that
// cannot be parsed. It is a validation failure, not a transport failure:
// the dependency answered, it answered badly.
type MalformedResponseError struct {
	Payload string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed classifier response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// BreakerOpenError reports that the breaker rejected the call before the
// classifier was contacted. Classify still returns the fallback result
// alongside it; the caller picks fail-fast or degrade.
type BreakerOpenError struct {
	RetryAfter time.Duration
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("classifier circuit open, retry after %s", e.RetryAfter)
}

type Config struct {
	Timeout     time.Duration // per-attempt classifier timeout
	MaxRetries  int           // additional attempts after the first
	BackoffBase time.Duration // first retry delay, doubled per retry
}

type Gateway struct {
	classifier Classifier
	gate       *breaker.Gate
	cfg        Config
}

func New(classifier Classifier, gate *breaker.Gate, cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	return &Gateway{classifier: classifier, gate: gate, cfg: cfg}
}

// Classify runs the request through the breaker and the external
// classifier. Every failure path terminates in the fallback result; the
// only non-nil error is *BreakerOpenError, returned together with the
// fallback so the caller can choose between rejecting and degrading.
func (g *Gateway) Classify(ctx context.Context, req domain.ClassificationRequest) (domain.ClassificationResult, error) {
	if !g.gate.BeforeCall() {
		retryAfter := g.gate.RetryAfter()
		log.Printf("gateway breaker open client=%s retry_after=%s", req.ClientKey, retryAfter)
		return fallback("classifier circuit open"), &BreakerOpenError{RetryAfter: retryAfter}
	}

	attempts := g.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := g.cfg.BackoffBase << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				// Caller went away during backoff: no outcome for the breaker.
				g.gate.OnCancel()
				return fallback("caller cancelled during retry backoff"), nil
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		raw, err := g.classifier.Classify(attemptCtx, req.Text, req.Channel)
		cancel()

		if err == nil {
			g.gate.OnSuccess()
			return g.validate(raw), nil
		}

		var malformed *MalformedResponseError
		if errors.As(err, &malformed) {
			// Transport-level success; the payload is the problem.
			g.gate.OnSuccess()
			log.Printf("gateway malformed response client=%s err=%v", req.ClientKey, malformed.Err)
			return fallback("classifier response unparseable"), nil
		}

		if ctx.Err() != nil {
			// The caller's context ended, not our per-attempt timeout.
			// Counted as neither success nor failure.
			g.gate.OnCancel()
			log.Printf("gateway call cancelled by caller client=%s", req.ClientKey)
			return fallback("caller cancelled classification"), nil
		}

		lastErr = err
		log.Printf("gateway transport error client=%s attempt=%d/%d err=%v", req.ClientKey, attempt+1, attempts, err)
	}

	// One breaker failure per request, not per attempt.
	g.gate.OnFailure()
	log.Printf("gateway retries exhausted client=%s err=%v", req.ClientKey, lastErr)
	return fallback("classifier unavailable after retries"), nil
}

// validate enforces the response contract: one of the three known
// categories, confidence within [0,1]. Violations degrade to the fallback
// without touching the breaker's failure counter.
func (g *Gateway) validate(raw RawResult) domain.ClassificationResult {
	category, ok := domain.ParseCategory(raw.Category)
	if !ok {
		log.Printf("gateway invalid category %q, using fallback", raw.Category)
		return fallback(fmt.Sprintf("classifier returned unknown category '%s'", raw.Category))
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		log.Printf("gateway confidence %f out of range, using fallback", raw.Confidence)
		return fallback(fmt.Sprintf("classifier confidence %.3f out of range", raw.Confidence))
	}
	reasoning := raw.Reasoning
	if reasoning == "" {
		reasoning = "no reasoning provided"
	}
	return domain.ClassificationResult{
		Category:   category,
		Confidence: raw.Confidence,
		Reasoning:  reasoning,
	}
}

// fallback routes to a human-facing action by default: the message is never
// dropped, and the low confidence forces review downstream.
func fallback(reason string) domain.ClassificationResult {
	return domain.ClassificationResult{
		Category:   domain.CategoryServiceAction,
		Confidence: FallbackConfidence,
		Reasoning:  reason,
		IsFallback: true,
	}
}
