package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/infra/resilience"
)

func TestRetryWithBackoff_Success(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
	}

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_RetriesOnFailure(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
	}

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     2,
		InitialBackoff: 10 * time.Millisecond,
	}

	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
}

func TestRetryWithBackoff_RespectsContext(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := resilience.RetryWithBackoff(ctx, cfg, func() error {
		return errors.New("error")
	})

	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestBulkhead_AcquireRelease(t *testing.T) {
	bh := resilience.NewBulkhead(2)

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire, got %v", err)
	}
	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire, got %v", err)
	}

	// Third acquire should block, test with timeout context
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := bh.Acquire(ctx)
	if err == nil {
		t.Fatal("expected timeout on third acquire")
	}

	// Release one slot
	bh.Release()

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
}

func TestRetryWithBackoff_StopsOnPermanent(t *testing.T) {
	cfg := resilience.Config{MaxRetries: 5, InitialBackoff: time.Millisecond}
	sentinel := errors.New("bad request")

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		return resilience.Permanent(sentinel)
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_ZeroBackoff(t *testing.T) {
	cfg := resilience.Config{MaxRetries: 2}

	callCount := 0
	_ = resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		return errors.New("fail")
	})
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test-call")
	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond}

	attempts := 0
	got, err := resilience.Call(context.Background(), cb, cfg, func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "ok" || attempts != 2 {
		t.Errorf("expected ok after 2 attempts, got %q after %d", got, attempts)
	}
}

func TestCall_OpenBreaker(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test-open")
	cfg := resilience.Config{}

	for i := 0; i < 5; i++ {
		_, _ = resilience.Call(context.Background(), cb, cfg, func() (int, error) {
			return 0, errors.New("down")
		})
	}

	_, err := resilience.Call(context.Background(), cb, cfg, func() (int, error) { return 1, nil })
	var open *domain.ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if open.Service != "test-open" {
		t.Errorf("unexpected service %q", open.Service)
	}
}

type countingRecorder map[string]int

func (c countingRecorder) IncrExternalError(service string) { c[service]++ }

func TestCall_CountsFinalFailures(t *testing.T) {
	rec := countingRecorder{}
	cb := resilience.NewCircuitBreaker("test-count")
	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, Errors: rec}

	_, _ = resilience.Call(context.Background(), cb, cfg, func() (int, error) {
		return 0, errors.New("down")
	})
	_, _ = resilience.Call(context.Background(), cb, cfg, func() (int, error) { return 1, nil })

	if rec["test-count"] != 1 {
		t.Errorf("expected one failure counted across retries, got %d", rec["test-count"])
	}
}

func TestConfig_Once(t *testing.T) {
	cfg := resilience.Config{MaxRetries: 3, InitialBackoff: time.Second, MaxConcurrency: 4}
	once := cfg.Once()
	if once.MaxRetries != 0 || once.InitialBackoff != time.Second || once.MaxConcurrency != 4 {
		t.Errorf("unexpected config %+v", once)
	}
	if cfg.MaxRetries != 3 {
		t.Error("Once must not modify the receiver")
	}
}
