package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("connection reset")

func fast() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

// ---------------------------------------------------------------------------
// Retry
// ---------------------------------------------------------------------------

func TestRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		permanent bool
		wantCalls int
		wantErr   bool
	}{
		{"first try", 0, false, 1, false},
		{"recovers", 2, false, 3, false},
		{"exhausted", 5, false, 3, true},
		{"permanent stops at once", 5, true, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), "fetch", fast(), func() error {
				calls++
				if calls <= tt.failures {
					if tt.permanent {
						return Permanent(errFlaky)
					}
					return errFlaky
				}
				return nil
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if err != nil && !errors.Is(err, errFlaky) {
				t.Errorf("error does not wrap cause: %v", err)
			}
		})
	}
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, "fetch", RetryConfig{MaxAttempts: 5, InitialDelay: time.Second}, func() error { return errFlaky })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Circuit breaker
// ---------------------------------------------------------------------------

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("shards", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     10 * time.Millisecond,
		OnStateChange:    func(name string, to State) { transitions = append(transitions, to) },
	})
	fail := func() error { return errFlaky }

	cb.Execute(fail)
	cb.Execute(fail)
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open breaker ran fn: %v", err)
	}

	time.Sleep(15 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed", cb.GetState())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestBenignErrorsDoNotTrip(t *testing.T) {
	errMissing := errors.New("not found")
	cb := NewCircuitBreaker("shards", CircuitBreakerConfig{
		FailureThreshold: 1,
		Benign:           func(err error) bool { return errors.Is(err, errMissing) },
	})
	for range 3 {
		cb.Execute(func() error { return errMissing })
	}
	if cb.GetState() != StateClosed {
		t.Errorf("benign errors opened the breaker")
	}
}

// ---------------------------------------------------------------------------
// WithTimeout
// ---------------------------------------------------------------------------

func TestWithTimeout(t *testing.T) {
	got, err := WithTimeout(context.Background(), time.Second, "fetch", func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil || string(got) != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}

	release := make(chan struct{})
	defer close(release)
	_, err = WithTimeout(context.Background(), 5*time.Millisecond, "fetch", func(ctx context.Context) ([]byte, error) {
		<-release
		return nil, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = WithTimeout(ctx, time.Second, "fetch", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want canceled", err)
	}
}

func TestHalfOpenAdmitsLimitedProbes(t *testing.T) {
	cb := NewCircuitBreaker("shards", CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     5 * time.Millisecond,
	})
	cb.Execute(func() error { return errFlaky })
	time.Sleep(10 * time.Millisecond)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(inProbe)
			<-release
			return errFlaky
		})
	}()
	<-inProbe
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe admitted: %v", err)
	}
	close(release)
	<-done
	if cb.GetState() != StateOpen {
		t.Errorf("failed probe left state %v, want open", cb.GetState())
	}
}
