package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cadence/internal/domain"
)

// Имена событий.
const (
	EventRunStateChange = "cadence.run.state-change"
)

// Resource — описание ресурса события (что изменилось).
type Resource map[string]string

// Event — событие оркестрации.
type Event struct {
	// ID — уникальный идентификатор события.
	ID uuid.UUID `json:"id"`

	// Occurred — когда событие произошло.
	Occurred time.Time `json:"occurred"`

	// Event — имя события, например "cadence.concurrency-limit.acquired".
	Event string `json:"event"`

	// Resource — основной ресурс события.
	Resource Resource `json:"resource"`

	// Related — связанные ресурсы (контекст: другие лимиты,
	// затронутые тем же multi-limit acquire).
	Related []Resource `json:"related,omitempty"`

	// Follows — причинная связь с предыдущим событием.
	// Например, "released" ссылается на парный "acquired".
	Follows *uuid.UUID `json:"follows,omitempty"`
}

// NewEvent создаёт событие с заполненными ID и временем.
func NewEvent(name string, resource Resource) *Event {
	return &Event{
		ID:       uuid.New(),
		Occurred: time.Now().UTC(),
		Event:    name,
		Resource: resource,
	}
}

// RunStateChange строит событие смены состояния run.
func RunStateChange(run *domain.Run, from, to *domain.State) *Event {
	resource := Resource{
		"cadence.resource.id":   fmt.Sprintf("cadence.%s-run.%s", run.Kind, run.ID),
		"cadence.resource.name": run.Name,
		"cadence.state-type":    string(to.Type),
		"cadence.state-name":    to.Name,
		"cadence.state-id":      to.ID.String(),
	}
	if from != nil {
		resource["cadence.prior-state-type"] = string(from.Type)
	}

	ev := NewEvent(EventRunStateChange, resource)
	if run.ParentRunID != nil {
		ev.Related = append(ev.Related, Resource{
			"cadence.resource.id":   fmt.Sprintf("cadence.flow-run.%s", run.ParentRunID),
			"cadence.resource.role": "parent-run",
		})
	}
	return ev
}

// SlotPhase — фаза событий слотов.
type SlotPhase string

const (
	// SlotAcquired — слот(ы) заняты.
	SlotAcquired SlotPhase = "acquired"

	// SlotReleased — слот(ы) освобождены.
	SlotReleased SlotPhase = "released"
)

// LimitEvent строит событие v1-лимита для occupant.
// related — остальные лимиты того же atomic acquire.
func LimitEvent(phase SlotPhase, primary domain.ConcurrencyLimit, related []domain.ConcurrencyLimit, occupant uuid.UUID, follows *Event) *Event {
	ev := NewEvent(
		fmt.Sprintf("cadence.concurrency-limit.v1.%s", phase),
		Resource{
			"cadence.resource.id":   fmt.Sprintf("cadence.concurrency-limit.v1.%s", primary.ID),
			"cadence.resource.name": primary.Tag,
			"limit":                 fmt.Sprintf("%d", primary.Limit),
			"task_run_id":           occupant.String(),
		},
	)

	for _, lim := range related {
		if lim.ID == primary.ID {
			continue
		}
		ev.Related = append(ev.Related, Resource{
			"cadence.resource.id":   fmt.Sprintf("cadence.concurrency-limit.v1.%s", lim.ID),
			"cadence.resource.role": "concurrency-limit",
		})
	}

	if follows != nil {
		ev.Follows = &follows.ID
	}
	return ev
}

// LimitV2Event строит событие v2-лимита.
// slots — сколько слотов занято/освобождено, token — корреляция пары
// acquire/release.
func LimitV2Event(phase SlotPhase, primary domain.ConcurrencyLimitV2, related []domain.ConcurrencyLimitV2, slots int, token uuid.UUID, follows *Event) *Event {
	ev := NewEvent(
		fmt.Sprintf("cadence.concurrency-limit.%s", phase),
		Resource{
			"cadence.resource.id":   fmt.Sprintf("cadence.concurrency-limit.%s", primary.ID),
			"cadence.resource.name": primary.Name,
			"slots-acquired":        fmt.Sprintf("%d", slots),
			"limit":                 fmt.Sprintf("%d", primary.Limit),
			"lease-token":           token.String(),
		},
	)

	for _, lim := range related {
		if lim.ID == primary.ID {
			continue
		}
		ev.Related = append(ev.Related, Resource{
			"cadence.resource.id":   fmt.Sprintf("cadence.concurrency-limit.%s", lim.ID),
			"cadence.resource.role": "concurrency-limit",
		})
	}

	if follows != nil {
		ev.Follows = &follows.ID
	}
	return ev
}
