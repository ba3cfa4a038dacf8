package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/fd1az/chainguard/internal/apperror"
)

func transientErr() error {
	return apperror.New(apperror.CodeNetworkError)
}

func TestOpensAfterThreshold(t *testing.T) {
	r := NewRegistry[string](Config{Threshold: 3, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := r.Execute("explorer:etherscan", func() (string, error) {
			return "", transientErr()
		})
		if apperror.CodeOf(err) != apperror.CodeNetworkError {
			t.Fatalf("attempt %d: unexpected error %v", i+1, err)
		}
	}

	if r.Allow("explorer:etherscan") {
		t.Fatal("breaker should be open after 3 consecutive failures")
	}

	// The fourth call must short-circuit without invoking the operation.
	invoked := false
	_, err := r.Execute("explorer:etherscan", func() (string, error) {
		invoked = true
		return "ok", nil
	})
	if invoked {
		t.Error("operation was invoked while the breaker was open")
	}
	if apperror.CodeOf(err) != apperror.CodeCircuitOpen {
		t.Errorf("code = %s, want %s", apperror.CodeOf(err), apperror.CodeCircuitOpen)
	}

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatal("expected AppError")
	}
	if appErr.Resource != "explorer:etherscan" {
		t.Errorf("resource = %q, want %q", appErr.Resource, "explorer:etherscan")
	}
	if appErr.NextRetry.IsZero() {
		t.Error("expected next-retry time on circuit-open error")
	}
}

func TestPerKeyIsolation(t *testing.T) {
	r := NewRegistry[int](Config{Threshold: 2, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		r.Execute("rpc:ethereum", func() (int, error) { return 0, transientErr() })
	}

	if r.Allow("rpc:ethereum") {
		t.Error("failing key should be open")
	}
	if !r.Allow("rpc:polygon") {
		t.Error("unrelated key must stay closed")
	}

	got, err := r.Execute("rpc:polygon", func() (int, error) { return 7, nil })
	if err != nil || got != 7 {
		t.Errorf("Execute on healthy key = (%d, %v), want (7, nil)", got, err)
	}
}

func TestDomainErrorsDoNotTrip(t *testing.T) {
	r := NewRegistry[string](Config{Threshold: 2, Cooldown: time.Minute})

	for i := 0; i < 5; i++ {
		_, err := r.Execute("rpc:ethereum", func() (string, error) {
			return "", apperror.New(apperror.CodeInvalidAddress)
		})
		if apperror.CodeOf(err) != apperror.CodeInvalidAddress {
			t.Fatalf("unexpected error %v", err)
		}
	}

	if !r.Allow("rpc:ethereum") {
		t.Error("validation errors must not open the breaker")
	}
}

func TestHalfOpenProbeHeals(t *testing.T) {
	r := NewRegistry[string](Config{Threshold: 2, Cooldown: 30 * time.Millisecond})

	for i := 0; i < 2; i++ {
		r.Execute("explorer:blockscout", func() (string, error) { return "", transientErr() })
	}
	if r.State("explorer:blockscout") != gobreaker.StateOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(50 * time.Millisecond)

	got, err := r.Execute("explorer:blockscout", func() (string, error) { return "healed", nil })
	if err != nil || got != "healed" {
		t.Fatalf("half-open probe = (%q, %v), want success", got, err)
	}
	if r.State("explorer:blockscout") != gobreaker.StateClosed {
		t.Error("successful probe should close the breaker")
	}

	// The failure count must have reset: one new failure stays closed.
	r.Execute("explorer:blockscout", func() (string, error) { return "", transientErr() })
	if !r.Allow("explorer:blockscout") {
		t.Error("single failure after heal should not reopen the breaker")
	}
}

func TestFailedProbeReopens(t *testing.T) {
	r := NewRegistry[string](Config{Threshold: 2, Cooldown: 30 * time.Millisecond})

	for i := 0; i < 2; i++ {
		r.Execute("explorer:etherscan", func() (string, error) { return "", transientErr() })
	}
	time.Sleep(50 * time.Millisecond)

	_, err := r.Execute("explorer:etherscan", func() (string, error) { return "", transientErr() })
	if apperror.CodeOf(err) != apperror.CodeNetworkError {
		t.Fatalf("probe error = %v, want network error", err)
	}

	if r.Allow("explorer:etherscan") {
		t.Error("failed probe must reopen the breaker")
	}
}

func TestStatesSnapshot(t *testing.T) {
	r := NewRegistry[string](Config{Threshold: 1, Cooldown: time.Minute})

	r.Execute("a", func() (string, error) { return "ok", nil })
	r.Execute("b", func() (string, error) { return "", transientErr() })

	states := r.States()
	if states["a"] != "closed" {
		t.Errorf("state a = %q, want closed", states["a"])
	}
	if states["b"] != "open" {
		t.Errorf("state b = %q, want open", states["b"])
	}
}
