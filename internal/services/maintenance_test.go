package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/orchestration"
	"github.com/shaiso/Cadence/internal/repo"
)

// --- Fakes ---

type fakeRuns struct {
	runs   map[uuid.UUID]*domain.Run
	states map[uuid.UUID]*domain.State
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{
		runs:   make(map[uuid.UUID]*domain.Run),
		states: make(map[uuid.UUID]*domain.State),
	}
}

func (f *fakeRuns) put(run *domain.Run, state *domain.State) {
	f.states[state.ID] = state
	id := state.ID
	run.CurrentStateID = &id
	run.CurrentStateType = state.Type
	f.runs[run.ID] = run
}

func (f *fakeRuns) GetRun(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return run, nil
}

func (f *fakeRuns) GetState(_ context.Context, id uuid.UUID) (*domain.State, error) {
	st, ok := f.states[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return st, nil
}

func (f *fakeRuns) ListByStateType(_ context.Context, t domain.StateType, _ time.Time, _ int) ([]domain.Run, error) {
	var out []domain.Run
	for _, run := range f.runs {
		if run.CurrentStateType == t {
			out = append(out, *run)
		}
	}
	return out, nil
}

// ListScheduledBefore повторяет фильтр репозитория: по scheduled_time
// текущего состояния, пропуская уже помеченные Late.
func (f *fakeRuns) ListScheduledBefore(_ context.Context, cutoff time.Time, _ int) ([]domain.Run, error) {
	var out []domain.Run
	for _, run := range f.runs {
		if run.CurrentStateType != domain.StateTypeScheduled || run.CurrentStateID == nil {
			continue
		}
		st := f.states[*run.CurrentStateID]
		if st.Name == "Late" || st.Details.ScheduledTime == nil {
			continue
		}
		if st.Details.ScheduledTime.After(cutoff) {
			continue
		}
		out = append(out, *run)
	}
	return out, nil
}

// fakeProposer записывает предложения, не применяя их.
type fakeProposer struct {
	proposed []struct {
		RunID uuid.UUID
		State *domain.State
	}
}

func (f *fakeProposer) ProposeState(_ context.Context, runID uuid.UUID, state *domain.State, _ bool) (*orchestration.Result, error) {
	f.proposed = append(f.proposed, struct {
		RunID uuid.UUID
		State *domain.State
	}{runID, state})
	return &orchestration.Result{Status: orchestration.StatusAccept, State: state}, nil
}

type fakeLimits struct {
	limits   []domain.ConcurrencyLimit
	released []uuid.UUID
}

func (f *fakeLimits) List(_ context.Context) ([]domain.ConcurrencyLimit, error) {
	return f.limits, nil
}

func (f *fakeLimits) Release(_ context.Context, _ []string, occupant uuid.UUID) ([]domain.ConcurrencyLimit, error) {
	f.released = append(f.released, occupant)
	for i := range f.limits {
		f.limits[i].Release(occupant)
	}
	return f.limits, nil
}

type fakeLimitsV2 struct {
	limits []domain.ConcurrencyLimitV2
}

func (f *fakeLimitsV2) List(_ context.Context) ([]domain.ConcurrencyLimitV2, error) {
	return f.limits, nil
}

// --- Tests ---

func TestMaintenance_MarkLateRuns(t *testing.T) {
	runs := newFakeRuns()
	proposer := &fakeProposer{}

	// Просрочен на минуту — должен стать Late.
	overdue := &domain.Run{ID: uuid.New(), Name: "overdue", Kind: domain.RunKindFlow}
	runs.put(overdue, domain.Scheduled(time.Now().UTC().Add(-time.Minute)))

	// Стартует через час — трогать нельзя.
	future := &domain.Run{ID: uuid.New(), Name: "future", Kind: domain.RunKindFlow}
	runs.put(future, domain.Scheduled(time.Now().UTC().Add(time.Hour)))

	// Уже помечен — повторная пометка не нужна.
	late := &domain.Run{ID: uuid.New(), Name: "already-late", Kind: domain.RunKindFlow}
	runs.put(late, domain.Late(time.Now().UTC().Add(-time.Hour)))

	// Просрочен давно, но недавно обновлялся: свежий updated_at
	// не спасает от пометки — фильтр идёт по scheduled_time.
	touched := &domain.Run{ID: uuid.New(), Name: "touched", Kind: domain.RunKindFlow, UpdatedAt: time.Now().UTC()}
	runs.put(touched, domain.Scheduled(time.Now().UTC().Add(-time.Hour)))

	m := New(Config{Runs: runs, Engine: proposer})
	if err := m.MarkLateRuns(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(proposer.proposed) != 2 {
		t.Fatalf("expected exactly 2 proposals, got %d", len(proposer.proposed))
	}
	marked := make(map[uuid.UUID]bool)
	for _, p := range proposer.proposed {
		marked[p.RunID] = true
		if p.State.Type != domain.StateTypeScheduled || p.State.Name != "Late" {
			t.Errorf("expected Late state, got %s/%s", p.State.Type, p.State.Name)
		}
	}
	if !marked[overdue.ID] || !marked[touched.ID] {
		t.Errorf("overdue and recently touched runs must both be marked, got %v", marked)
	}
}

func TestMaintenance_CancellationCleanup(t *testing.T) {
	runs := newFakeRuns()
	proposer := &fakeProposer{}

	stuck := &domain.Run{ID: uuid.New(), Name: "stuck", Kind: domain.RunKindFlow}
	runs.put(stuck, domain.Cancelling())

	m := New(Config{Runs: runs, Engine: proposer})
	if err := m.CancellationCleanup(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(proposer.proposed) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(proposer.proposed))
	}
	if proposer.proposed[0].State.Type != domain.StateTypeCancelled {
		t.Errorf("expected CANCELLED, got %s", proposer.proposed[0].State.Type)
	}
}

func TestMaintenance_ReapOrphanedSlots(t *testing.T) {
	runs := newFakeRuns()

	// Живой владелец — слот остаётся.
	alive := &domain.Run{ID: uuid.New(), Name: "alive", Kind: domain.RunKindTask}
	runs.put(alive, domain.Running())

	// Финальный владелец — слот осиротел.
	finished := &domain.Run{ID: uuid.New(), Name: "finished", Kind: domain.RunKindTask}
	runs.put(finished, domain.Completed(nil))

	// Владелец удалён из БД.
	deleted := uuid.New()

	limits := &fakeLimits{limits: []domain.ConcurrencyLimit{{
		ID:          uuid.New(),
		Tag:         "database",
		Limit:       5,
		ActiveSlots: []uuid.UUID{alive.ID, finished.ID, deleted},
	}}}

	m := New(Config{Runs: runs, Engine: &fakeProposer{}, Limits: limits})
	if err := m.ReapOrphanedSlots(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(limits.released) != 2 {
		t.Fatalf("expected 2 reaped slots, got %d", len(limits.released))
	}
	for _, occupant := range limits.released {
		if occupant == alive.ID {
			t.Error("live occupant must keep its slot")
		}
	}
	if !limits.limits[0].Holds(alive.ID) {
		t.Error("live occupant lost its slot")
	}
}

func TestMaintenance_SampleSlotGauges(t *testing.T) {
	limits := &fakeLimits{limits: []domain.ConcurrencyLimit{{
		ID:          uuid.New(),
		Tag:         "database",
		Limit:       5,
		ActiveSlots: []uuid.UUID{uuid.New()},
	}}}
	limitsV2 := &fakeLimitsV2{limits: []domain.ConcurrencyLimitV2{{
		ID:          uuid.New(),
		Name:        "api",
		Limit:       10,
		ActiveSlots: 3,
		UpdatedAt:   time.Now(),
	}}}

	m := New(Config{Runs: newFakeRuns(), Engine: &fakeProposer{}, Limits: limits, LimitsV2: limitsV2})
	if err := m.SampleSlotGauges(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
