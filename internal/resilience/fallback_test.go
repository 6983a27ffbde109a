package resilience

import (
	"errors"
	"testing"
	"time"
)

func newStringGroup(cfg CircuitBreakerConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary-tts", "primary-tts", FallbackConfig{CircuitBreaker: cfg})
	fg.AddFallback("backup-tts", "backup-tts")
	return fg
}

func TestFallbackGroupPrefersPrimary(t *testing.T) {
	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	var used string
	err := fg.Execute(func(v string) error {
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if used != "primary-tts" {
		t.Fatalf("used = %q, want primary-tts", used)
	}
}

func TestFallbackGroupFailsOverOnError(t *testing.T) {
	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	var used string
	err := fg.Execute(func(v string) error {
		if v == "primary-tts" {
			return errBackend
		}
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if used != "backup-tts" {
		t.Fatalf("used = %q, want backup-tts", used)
	}
}

func TestFallbackGroupAllBackendsDown(t *testing.T) {
	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	err := fg.Execute(func(string) error { return errBackend })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroupSkipsOpenBreaker(t *testing.T) {
	fg := newStringGroup(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	// Fail the primary until its breaker opens.
	for i := 0; i < 2; i++ {
		_ = fg.Execute(func(v string) error {
			if v == "primary-tts" {
				return errBackend
			}
			return nil
		})
	}

	primaryCalled := false
	var used string
	err := fg.Execute(func(v string) error {
		if v == "primary-tts" {
			primaryCalled = true
		}
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if primaryCalled {
		t.Fatal("primary was invoked behind an open breaker")
	}
	if used != "backup-tts" {
		t.Fatalf("used = %q, want backup-tts", used)
	}
}

func TestExecuteWithResultReturnsValue(t *testing.T) {
	fg := NewFallbackGroup(1, "one", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("two", 2)

	got, err := ExecuteWithResult(fg, func(v int) (string, error) {
		if v == 1 {
			return "from-one", nil
		}
		return "from-two", nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "from-one" {
		t.Fatalf("result = %q, want from-one", got)
	}
}

func TestExecuteWithResultFailsOver(t *testing.T) {
	fg := NewFallbackGroup(1, "one", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("two", 2)

	got, err := ExecuteWithResult(fg, func(v int) (string, error) {
		if v == 1 {
			return "", errBackend
		}
		return "from-two", nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "from-two" {
		t.Fatalf("result = %q, want from-two", got)
	}
}

func TestExecuteWithResultAllFail(t *testing.T) {
	fg := NewFallbackGroup(1, "one", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := ExecuteWithResult(fg, func(int) (string, error) {
		return "", errBackend
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if err.Error() == ErrAllFailed.Error() {
		t.Fatalf("err = %v, want the last backend error included", err)
	}
}
