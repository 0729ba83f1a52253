package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/mq"
	"github.com/shaiso/Cadence/internal/orchestration"
)

// waitProposer всегда отвечает WAIT с подсказкой задержки.
type waitProposer struct {
	retryAfter time.Duration
}

func (f *waitProposer) ProposeState(_ context.Context, _ uuid.UUID, _ *domain.State, _ bool) (*orchestration.Result, error) {
	return &orchestration.Result{
		Status:     orchestration.StatusWait,
		Reason:     "no slots available",
		RetryAfter: f.retryAfter,
	}, nil
}

// chanProposalPublisher отдаёт опубликованные payload в канал.
type chanProposalPublisher struct {
	ch chan mq.ProposalPayload
}

func (p *chanProposalPublisher) PublishProposal(_ context.Context, payload mq.ProposalPayload) error {
	p.ch <- payload
	return nil
}

func (p *chanProposalPublisher) wait(t *testing.T) mq.ProposalPayload {
	t.Helper()
	select {
	case payload := <-p.ch:
		return payload
	case <-time.After(time.Second):
		t.Fatal("proposal was not republished")
		return mq.ProposalPayload{}
	}
}

func newTestIntake(engine StateProposer, publisher ProposalPublisher) *ProposalIntake {
	return &ProposalIntake{
		engine:    engine,
		publisher: publisher,
		logger:    slog.Default(),
	}
}

func proposalDelivery(payload mq.ProposalPayload) *mq.Delivery {
	return &mq.Delivery{
		Message: mq.Message{
			ID:        uuid.New().String(),
			Type:      mq.MessageTypeProposal,
			Payload:   payload,
			Timestamp: time.Now(),
		},
	}
}

// --- Tests ---

func TestProposalIntake_WaitRepublishesWithDelay(t *testing.T) {
	publisher := &chanProposalPublisher{ch: make(chan mq.ProposalPayload, 1)}
	intake := newTestIntake(&waitProposer{retryAfter: 10 * time.Millisecond}, publisher)

	runID := uuid.New()
	state := domain.Running()

	err := intake.handle(context.Background(), proposalDelivery(mq.ProposalPayload{
		RunID: runID,
		State: state,
	}))
	if err != nil {
		t.Fatalf("WAIT must ack the current delivery, got %v", err)
	}

	republished := publisher.wait(t)
	if republished.RunID != runID {
		t.Errorf("republished run id: want %s, got %s", runID, republished.RunID)
	}
	if republished.Attempt != 1 {
		t.Errorf("attempt must grow on republish, got %d", republished.Attempt)
	}
	if republished.State == nil || republished.State.ID != state.ID {
		t.Error("republished proposal must carry the same state")
	}
}

func TestProposalIntake_WaitAttemptsExhaustedGoToDLQ(t *testing.T) {
	publisher := &chanProposalPublisher{ch: make(chan mq.ProposalPayload, 1)}
	intake := newTestIntake(&waitProposer{retryAfter: time.Millisecond}, publisher)

	err := intake.handle(context.Background(), proposalDelivery(mq.ProposalPayload{
		RunID:   uuid.New(),
		State:   domain.Running(),
		Attempt: maxProposalAttempts - 1,
	}))
	if !errors.Is(err, mq.ErrDrop) {
		t.Fatalf("exhausted proposal must be dropped to DLQ, got %v", err)
	}

	select {
	case <-publisher.ch:
		t.Error("exhausted proposal must not be republished")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProposalIntake_AcceptDoesNotRepublish(t *testing.T) {
	publisher := &chanProposalPublisher{ch: make(chan mq.ProposalPayload, 1)}
	intake := newTestIntake(&fakeProposer{}, publisher)

	err := intake.handle(context.Background(), proposalDelivery(mq.ProposalPayload{
		RunID: uuid.New(),
		State: domain.Completed(nil),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-publisher.ch:
		t.Error("accepted proposal must not be republished")
	case <-time.After(50 * time.Millisecond):
	}
}
