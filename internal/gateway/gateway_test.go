package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"triagebot/internal/breaker"
	"triagebot/internal/domain"
)

type fakeClassifier struct {
	calls   int
	results []RawResult
	errs    []error
	block   chan struct{} // when set, Classify waits for ctx or the channel
}

func (f *fakeClassifier) Classify(ctx context.Context, text string, channel domain.Channel) (RawResult, error) {
	idx := f.calls
	f.calls++
	if f.block != nil {
		select {
		case <-ctx.Done():
			return RawResult{}, ctx.Err()
		case <-f.block:
		}
	}
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	var res RawResult
	if idx < len(f.results) {
		res = f.results[idx]
	}
	return res, err
}

func testGateway(c Classifier, gateCfg breaker.Config) (*Gateway, *breaker.Gate) {
	gate := breaker.New(gateCfg)
	gw := New(c, gate, Config{
		Timeout:     100 * time.Millisecond,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
	})
	return gw, gate
}

func req() domain.ClassificationRequest {
	return domain.ClassificationRequest{Text: "where is my order", Channel: domain.ChannelChat, ClientKey: "c1"}
}

func TestClassifySuccess(t *testing.T) {
	fc := &fakeClassifier{results: []RawResult{{Category: "informational", Confidence: 0.92, Reasoning: "faq"}}}
	gw, _ := testGateway(fc, breaker.Config{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: time.Second})

	res, err := gw.Classify(context.Background(), req())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Category != domain.CategoryInformational || res.Confidence != 0.92 || res.IsFallback {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	fc := &fakeClassifier{
		errs:    []error{errors.New("connection reset"), nil},
		results: []RawResult{{}, {Category: "service_action", Confidence: 0.8, Reasoning: "refund"}},
	}
	gw, gate := testGateway(fc, breaker.Config{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: time.Second})

	res, err := gw.Classify(context.Background(), req())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.calls != 2 {
		t.Fatalf("classifier called %d times, want 2", fc.calls)
	}
	if res.IsFallback {
		t.Fatalf("retry success must not be a fallback: %+v", res)
	}
	if gate.State() != breaker.Closed {
		t.Fatalf("one transient error must not move the breaker, got %s", gate.State())
	}
}

func TestExhaustedRetriesFallBackAndCountOneFailure(t *testing.T) {
	transient := errors.New("dial timeout")
	fc := &fakeClassifier{errs: []error{transient, transient, transient}}
	gw, gate := testGateway(fc, breaker.Config{FailureThreshold: 1, SuccessThreshold: 3, RecoveryTimeout: time.Minute})

	res, err := gw.Classify(context.Background(), req())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.calls != 3 {
		t.Fatalf("classifier called %d times, want 3 (1 + 2 retries)", fc.calls)
	}
	if !res.IsFallback || res.Category != domain.CategoryServiceAction || res.Confidence != FallbackConfidence {
		t.Fatalf("want deterministic fallback, got %+v", res)
	}
	// FailureThreshold is 1 and exactly one failure was recorded.
	if gate.State() != breaker.Open {
		t.Fatalf("breaker = %s, want open after exhausted retries", gate.State())
	}
}

func TestMalformedResponseIsNotABreakerFailure(t *testing.T) {
	fc := &fakeClassifier{errs: []error{&MalformedResponseError{Payload: "```oops", Err: errors.New("bad json")}}}
	gw, gate := testGateway(fc, breaker.Config{FailureThreshold: 1, SuccessThreshold: 3, RecoveryTimeout: time.Minute})

	res, err := gw.Classify(context.Background(), req())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.calls != 1 {
		t.Fatalf("malformed payload must not be retried, got %d calls", fc.calls)
	}
	if !res.IsFallback || res.Category != domain.CategoryServiceAction {
		t.Fatalf("want fallback for malformed payload, got %+v", res)
	}
	if gate.State() != breaker.Closed {
		t.Fatalf("malformed payload tripped the breaker (threshold 1): %s", gate.State())
	}
}

func TestUnknownCategoryFallsBack(t *testing.T) {
	fc := &fakeClassifier{results: []RawResult{{Category: "spam", Confidence: 0.99}}}
	gw, _ := testGateway(fc, breaker.Config{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: time.Second})

	res, _ := gw.Classify(context.Background(), req())
	if !res.IsFallback || res.Category != domain.CategoryServiceAction || res.Confidence != FallbackConfidence {
		t.Fatalf("want fallback for unknown category, got %+v", res)
	}
}

func TestOutOfRangeConfidenceFallsBack(t *testing.T) {
	fc := &fakeClassifier{results: []RawResult{{Category: "informational", Confidence: 1.7}}}
	gw, _ := testGateway(fc, breaker.Config{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: time.Second})

	res, _ := gw.Classify(context.Background(), req())
	if !res.IsFallback || res.Confidence != FallbackConfidence {
		t.Fatalf("want fallback for out-of-range confidence, got %+v", res)
	}
}

func TestOpenBreakerShortCircuits(t *testing.T) {
	transient := errors.New("timeout")
	fc := &fakeClassifier{errs: []error{transient, transient, transient}}
	gw, gate := testGateway(fc, breaker.Config{FailureThreshold: 1, SuccessThreshold: 3, RecoveryTimeout: time.Minute})

	// Trip the breaker.
	if _, err := gw.Classify(context.Background(), req()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gate.State() != breaker.Open {
		t.Fatalf("breaker should be open")
	}

	callsBefore := fc.calls
	res, err := gw.Classify(context.Background(), req())
	if fc.calls != callsBefore {
		t.Fatalf("open breaker must not contact the classifier")
	}
	if !res.IsFallback {
		t.Fatalf("breaker-denied request must still carry a fallback result: %+v", res)
	}
	var open *BreakerOpenError
	if !errors.As(err, &open) {
		t.Fatalf("want BreakerOpenError, got %v", err)
	}
	if open.RetryAfter <= 0 {
		t.Fatalf("BreakerOpenError should carry a positive retry-after, got %s", open.RetryAfter)
	}
}

func TestFiveTimeoutsOpenBreakerSixthNeverCallsClassifier(t *testing.T) {
	transient := errors.New("i/o timeout")
	errs := make([]error, 15)
	for i := range errs {
		errs[i] = transient
	}
	fc := &fakeClassifier{errs: errs}
	gate := breaker.New(breaker.Config{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: time.Minute})
	gw := New(fc, gate, Config{Timeout: 50 * time.Millisecond, MaxRetries: 0, BackoffBase: time.Millisecond})

	for i := 0; i < 5; i++ {
		if _, err := gw.Classify(context.Background(), req()); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}
	if gate.State() != breaker.Open {
		t.Fatalf("breaker = %s after 5 failed requests, want open", gate.State())
	}

	callsBefore := fc.calls
	res, err := gw.Classify(context.Background(), req())
	if fc.calls != callsBefore {
		t.Fatalf("6th request must not reach the classifier")
	}
	if !res.IsFallback {
		t.Fatalf("6th request should get the fallback result")
	}
	if err == nil {
		t.Fatalf("6th request should report the open breaker")
	}
}

func TestCallerCancellationCountsNeitherWay(t *testing.T) {
	fc := &fakeClassifier{block: make(chan struct{})}
	gate := breaker.New(breaker.Config{FailureThreshold: 1, SuccessThreshold: 3, RecoveryTimeout: time.Minute})
	gw := New(fc, gate, Config{Timeout: 10 * time.Second, MaxRetries: 0, BackoffBase: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan domain.ClassificationResult, 1)
	go func() {
		res, _ := gw.Classify(ctx, req())
		done <- res
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		if !res.IsFallback {
			t.Fatalf("cancelled call should degrade to the fallback, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancellation did not abort the in-flight call promptly")
	}
	if gate.State() != breaker.Closed {
		t.Fatalf("caller cancellation must not count toward the breaker (threshold 1), got %s", gate.State())
	}
}

func TestPerAttemptTimeoutCountsAsFailure(t *testing.T) {
	fc := &fakeClassifier{block: make(chan struct{})}
	gate := breaker.New(breaker.Config{FailureThreshold: 1, SuccessThreshold: 3, RecoveryTimeout: time.Minute})
	gw := New(fc, gate, Config{Timeout: 20 * time.Millisecond, MaxRetries: 0, BackoffBase: time.Millisecond})

	res, err := gw.Classify(context.Background(), req())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsFallback {
		t.Fatalf("timed-out call should fall back, got %+v", res)
	}
	if gate.State() != breaker.Open {
		t.Fatalf("attempt timeout must count as a breaker failure, got %s", gate.State())
	}
}
