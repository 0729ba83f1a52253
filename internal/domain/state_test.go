package domain

import (
	"testing"
	"time"
)

func TestStateType_IsTerminal(t *testing.T) {
	terminal := []StateType{StateTypeCompleted, StateTypeFailed, StateTypeCancelled, StateTypeCrashed}
	for _, st := range terminal {
		if !st.IsTerminal() {
			t.Errorf("%s should be terminal", st)
		}
	}

	nonTerminal := []StateType{StateTypeScheduled, StateTypePending, StateTypeRunning, StateTypeCancelling, StateTypePaused}
	for _, st := range nonTerminal {
		if st.IsTerminal() {
			t.Errorf("%s should not be terminal", st)
		}
	}
}

func TestStateType_IsValid(t *testing.T) {
	if !StateTypeRunning.IsValid() {
		t.Error("RUNNING should be valid")
	}
	if StateType("BOGUS").IsValid() {
		t.Error("unknown type should not be valid")
	}
	if StateType("").IsValid() {
		t.Error("empty type should not be valid")
	}
}

func TestNewState(t *testing.T) {
	s := NewState(StateTypePending)

	if s.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("state should have an ID")
	}
	if s.Type != StateTypePending {
		t.Errorf("expected PENDING, got %s", s.Type)
	}
	if s.Name != "PENDING" {
		t.Errorf("expected name PENDING, got %s", s.Name)
	}
	if s.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestAwaitingRetry(t *testing.T) {
	at := time.Now().Add(30 * time.Second)
	s := AwaitingRetry(at, 2)

	if s.Type != StateTypeScheduled {
		t.Errorf("expected SCHEDULED, got %s", s.Type)
	}
	if s.Name != "AwaitingRetry" {
		t.Errorf("expected name AwaitingRetry, got %s", s.Name)
	}
	if s.Details.ScheduledTime == nil || !s.Details.ScheduledTime.Equal(at) {
		t.Error("scheduled time should be set")
	}
	if s.Details.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", s.Details.RetryCount)
	}
}

func TestState_Copy(t *testing.T) {
	orig := Failed("boom")
	c := orig.Copy()

	if c.ID == orig.ID {
		t.Error("copy should have a new ID")
	}
	if c.Type != orig.Type || c.Message != orig.Message {
		t.Error("copy should preserve type and message")
	}
}

func TestRun_CanRetry(t *testing.T) {
	run := &Run{MaxRetries: 0, RunCount: 1}
	if run.CanRetry() {
		t.Error("run with MaxRetries=0 should not retry")
	}

	run = &Run{MaxRetries: 2, RunCount: 1}
	if !run.CanRetry() {
		t.Error("first failure with MaxRetries=2 should retry")
	}

	run = &Run{MaxRetries: 2, RunCount: 3}
	if run.CanRetry() {
		t.Error("retries exhausted, should not retry")
	}
}

func TestRun_IsFinished(t *testing.T) {
	run := &Run{CurrentStateType: StateTypeRunning}
	if run.IsFinished() {
		t.Error("RUNNING run should not be finished")
	}

	run.CurrentStateType = StateTypeCompleted
	if !run.IsFinished() {
		t.Error("COMPLETED run should be finished")
	}
}
