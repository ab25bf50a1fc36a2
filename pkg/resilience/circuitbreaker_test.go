package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/mushan/thinkspeak/pkg/provider"
)

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Cooldown: 10 * time.Millisecond})

	boom := errors.New("boom")
	fail := func() error { return boom }

	for i := 0; i < 2; i++ {
		if err := cb.Execute(fail); !errors.Is(err, boom) {
			t.Fatalf("attempt %d error = %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if err := cb.Execute(fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker should reject, got %v", err)
	}

	time.Sleep(15 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state after cooldown = %v, want half-open", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state after probe = %v, want closed", cb.State())
	}
}

func TestCircuitBreakerFailureClassifier(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
		FailureIf:        IsServerError,
	})

	badRequest := &provider.Error{Provider: "openai", Op: "generate", Status: 400, Err: errors.New("nope")}
	for i := 0; i < 5; i++ {
		if err := cb.Execute(func() error { return badRequest }); !errors.Is(err, badRequest) {
			t.Fatalf("Execute error = %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("4xx errors tripped the circuit: state = %v", cb.State())
	}

	overloaded := &provider.Error{Provider: "openai", Op: "generate", Status: 503, Err: errors.New("busy")}
	if err := cb.Execute(func() error { return overloaded }); !errors.Is(err, overloaded) {
		t.Fatalf("Execute error = %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("5xx error did not trip the circuit: state = %v", cb.State())
	}
}

func TestErrorClassifiers(t *testing.T) {
	rateLimited := &provider.Error{Provider: "openai", Op: "generate", Status: 429, Err: errors.New("slow down")}
	overloaded := &provider.Error{Provider: "openai", Op: "generate", Status: 503, Err: errors.New("busy")}
	badRequest := &provider.Error{Provider: "openai", Op: "generate", Status: 400, Err: errors.New("nope")}

	if !IsRateLimited(rateLimited) {
		t.Fatalf("429 should classify as rate limited")
	}
	if IsRateLimited(overloaded) {
		t.Fatalf("503 is not rate limited")
	}
	if !IsServerError(rateLimited) || !IsServerError(overloaded) {
		t.Fatalf("429 and 5xx should classify as server errors")
	}
	if IsServerError(badRequest) {
		t.Fatalf("400 is not a server error")
	}
	if IsServerError(errors.New("plain")) {
		t.Fatalf("non-provider errors are not server errors")
	}
}

func TestKeyPoolRoundRobin(t *testing.T) {
	kp := NewKeyPool([]string{"a", "b"})

	got := make([]string, 4)
	for i := range got {
		k, err := kp.Next()
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		got[i] = k
	}
	want := []string{"a", "b", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}
}

func TestKeyPoolSkipsRateLimited(t *testing.T) {
	kp := NewKeyPool([]string{"a", "b"})
	kp.MarkRateLimited("a", time.Now().Add(time.Hour))

	for i := 0; i < 3; i++ {
		k, err := kp.Next()
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		if k != "b" {
			t.Fatalf("got exhausted key %q", k)
		}
	}

	kp.MarkRateLimited("b", time.Now().Add(time.Hour))
	if _, err := kp.Next(); err == nil {
		t.Fatalf("expected error when all keys are exhausted")
	}
}
