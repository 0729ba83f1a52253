package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cadence/internal/domain"
)

// chanPublisher — Publisher, отдающий события в канал.
type chanPublisher struct {
	ch  chan *Event
	err error
}

func newChanPublisher() *chanPublisher {
	return &chanPublisher{ch: make(chan *Event, 16)}
}

func (p *chanPublisher) PublishEvent(_ context.Context, ev *Event) error {
	p.ch <- ev
	return p.err
}

func (p *chanPublisher) wait(t *testing.T) *Event {
	t.Helper()
	select {
	case ev := <-p.ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// --- Tests ---

func TestEmitter_Emit(t *testing.T) {
	pub := newChanPublisher()
	em := NewEmitter(pub, nil)

	ev := NewEvent("cadence.test", Resource{"cadence.resource.id": "cadence.test.1"})
	em.Emit(ev)

	got := pub.wait(t)
	if got.ID != ev.ID {
		t.Errorf("published wrong event: %s", got.ID)
	}
}

func TestEmitter_NilSafe(t *testing.T) {
	// Эмиттер без транспорта и nil-эмиттер молча отбрасывают события.
	NewEmitter(nil, nil).Emit(NewEvent("cadence.test", nil))

	var em *Emitter
	em.Emit(NewEvent("cadence.test", nil))
	em.EmitAll(NewEvent("cadence.test", nil), nil)
}

func TestEmitter_PublishFailureIsSwallowed(t *testing.T) {
	pub := newChanPublisher()
	pub.err = errors.New("broker is down")
	em := NewEmitter(pub, nil)

	// Ошибка публикации не всплывает к вызывающему.
	em.Emit(NewEvent("cadence.test", nil))
	pub.wait(t)
}

func TestRunStateChange(t *testing.T) {
	parent := uuid.New()
	run := &domain.Run{
		ID:          uuid.New(),
		Name:        "extract-orders",
		Kind:        domain.RunKindTask,
		ParentRunID: &parent,
	}
	from := domain.Pending()
	to := domain.Running()

	ev := RunStateChange(run, from, to)

	if ev.Event != EventRunStateChange {
		t.Errorf("unexpected event name %q", ev.Event)
	}
	if got := ev.Resource["cadence.resource.id"]; got != "cadence.task-run."+run.ID.String() {
		t.Errorf("unexpected resource id %q", got)
	}
	if ev.Resource["cadence.state-type"] != "RUNNING" {
		t.Errorf("unexpected state type %q", ev.Resource["cadence.state-type"])
	}
	if ev.Resource["cadence.prior-state-type"] != "PENDING" {
		t.Errorf("unexpected prior state %q", ev.Resource["cadence.prior-state-type"])
	}

	if len(ev.Related) != 1 {
		t.Fatalf("expected parent-run related resource, got %d", len(ev.Related))
	}
	if ev.Related[0]["cadence.resource.role"] != "parent-run" {
		t.Errorf("unexpected related role %q", ev.Related[0]["cadence.resource.role"])
	}
}

func TestRunStateChange_NoPriorState(t *testing.T) {
	run := &domain.Run{ID: uuid.New(), Kind: domain.RunKindFlow}

	ev := RunStateChange(run, nil, domain.Scheduled(time.Now()))
	if _, ok := ev.Resource["cadence.prior-state-type"]; ok {
		t.Error("initial transition should not carry a prior state")
	}
}

func TestLimitEvent(t *testing.T) {
	occupant := uuid.New()
	primary := domain.ConcurrencyLimit{ID: uuid.New(), Tag: "database", Limit: 5}
	other := domain.ConcurrencyLimit{ID: uuid.New(), Tag: "gpu", Limit: 1}

	acquired := LimitEvent(SlotAcquired, primary, []domain.ConcurrencyLimit{primary, other}, occupant, nil)

	if acquired.Event != "cadence.concurrency-limit.v1.acquired" {
		t.Errorf("unexpected event name %q", acquired.Event)
	}
	if acquired.Resource["task_run_id"] != occupant.String() {
		t.Error("event should carry the occupant")
	}
	if acquired.Follows != nil {
		t.Error("acquired event follows nothing")
	}
	// related не включает сам primary.
	if len(acquired.Related) != 1 {
		t.Fatalf("expected 1 related resource, got %d", len(acquired.Related))
	}

	released := LimitEvent(SlotReleased, primary, []domain.ConcurrencyLimit{primary, other}, occupant, acquired)
	if released.Event != "cadence.concurrency-limit.v1.released" {
		t.Errorf("unexpected event name %q", released.Event)
	}
	if released.Follows == nil || *released.Follows != acquired.ID {
		t.Error("released event should follow its acquired pair")
	}
}

func TestLimitV2Event(t *testing.T) {
	token := uuid.New()
	primary := domain.ConcurrencyLimitV2{ID: uuid.New(), Name: "api", Limit: 10}

	acquired := LimitV2Event(SlotAcquired, primary, []domain.ConcurrencyLimitV2{primary}, 3, token, nil)

	if acquired.Event != "cadence.concurrency-limit.acquired" {
		t.Errorf("unexpected event name %q", acquired.Event)
	}
	if acquired.Resource["slots-acquired"] != "3" {
		t.Errorf("unexpected slots %q", acquired.Resource["slots-acquired"])
	}
	if acquired.Resource["lease-token"] != token.String() {
		t.Error("event should carry the lease token")
	}

	released := LimitV2Event(SlotReleased, primary, nil, 3, token, acquired)
	if released.Follows == nil || *released.Follows != acquired.ID {
		t.Error("released event should follow its acquired pair")
	}
}
