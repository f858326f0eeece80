package step

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle()

	if lc.State() != StateAwaitingFirstStep {
		t.Errorf("expected StateAwaitingFirstStep, got %v", lc.State())
	}
	if lc.IsSubmitting() {
		t.Error("expected IsSubmitting to be false")
	}
	if err := lc.BeginSubmit(); err != ErrNoActiveStep {
		t.Errorf("expected ErrNoActiveStep before first step, got %v", err)
	}
}

func TestLifecycle_Activate_OnlyOnce(t *testing.T) {
	lc := NewLifecycle()

	if !lc.Activate() {
		t.Error("first Activate should change state")
	}
	if lc.Activate() {
		t.Error("second Activate should be a no-op")
	}
	if lc.State() != StateStepActive {
		t.Errorf("expected StateStepActive, got %v", lc.State())
	}
}

func TestLifecycle_BeginSubmit_RejectsSecond(t *testing.T) {
	lc := NewLifecycle()
	lc.Activate()

	if err := lc.BeginSubmit(); err != nil {
		t.Fatalf("first submit: unexpected error: %v", err)
	}
	if err := lc.BeginSubmit(); err != ErrSubmissionInFlight {
		t.Errorf("second submit: expected ErrSubmissionInFlight, got %v", err)
	}
	if !lc.IsSubmitting() {
		t.Error("expected IsSubmitting to be true")
	}
}

func TestLifecycle_Fail_AllowsRetry(t *testing.T) {
	lc := NewLifecycle()
	lc.Activate()
	_ = lc.BeginSubmit()

	if !lc.Fail() {
		t.Error("Fail should leave SUBMITTING")
	}
	if lc.State() != StateStepActive {
		t.Errorf("expected StateStepActive after failure, got %v", lc.State())
	}
	if err := lc.BeginSubmit(); err != nil {
		t.Errorf("retry should be accepted, got %v", err)
	}
}

func TestLifecycle_Resolve_NoopOutsideSubmitting(t *testing.T) {
	lc := NewLifecycle()
	lc.Activate()

	if lc.Resolve() {
		t.Error("Resolve outside SUBMITTING should be a no-op")
	}
	if lc.State() != StateStepActive {
		t.Errorf("expected StateStepActive, got %v", lc.State())
	}
}

func TestLifecycle_Complete(t *testing.T) {
	lc := NewLifecycle()
	lc.Activate()
	_ = lc.BeginSubmit()
	lc.Complete()
	lc.Complete()

	if lc.State() != StateComplete {
		t.Errorf("expected StateComplete, got %v", lc.State())
	}
	if err := lc.BeginSubmit(); err != ErrComplete {
		t.Errorf("expected ErrComplete, got %v", err)
	}
	if lc.Resolve() {
		t.Error("Resolve after Complete should be a no-op")
	}
}

func TestLifecycle_Reset(t *testing.T) {
	lc := NewLifecycle()
	lc.Activate()
	_ = lc.BeginSubmit()

	lc.Reset()

	if lc.State() != StateAwaitingFirstStep {
		t.Errorf("expected StateAwaitingFirstStep after reset, got %v", lc.State())
	}
	if !lc.Activate() {
		t.Error("Activate should work again after reset")
	}
}

func TestLifecycle_ConcurrentBeginSubmit(t *testing.T) {
	lc := NewLifecycle()
	lc.Activate()

	var wg sync.WaitGroup
	var accepted int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lc.BeginSubmit() == nil {
				atomic.AddInt32(&accepted, 1)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Errorf("expected exactly one accepted submission, got %d", accepted)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateAwaitingFirstStep, "AWAITING_FIRST_STEP"},
		{StateStepActive, "STEP_ACTIVE"},
		{StateSubmitting, "SUBMITTING"},
		{StateComplete, "COMPLETE"},
		{State(42), "UNKNOWN(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestState_UnmarshalText(t *testing.T) {
	var s State
	if err := s.UnmarshalText([]byte("SUBMITTING")); err != nil || s != StateSubmitting {
		t.Errorf("got %v, %v", s, err)
	}
	if err := s.UnmarshalText([]byte("UNKNOWN(42)")); err == nil {
		t.Error("expected error for unknown state")
	}
}
