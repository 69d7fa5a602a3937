package bus

import "github.com/normanking/cortex-memory/internal/memorycore"

// TaskPublisher adapts Bus into memorycore.TaskUpdatedPublisher, the
// best-effort "task-updated" event TaskGraph fires after a create,
// transition, or close. Grounded on the teacher's NewMemoryUpdatedEvent-
// style constructors, narrowed to the one event shape this module needs.
type TaskPublisher struct {
	bus *Bus
}

// NewTaskPublisher wraps bus as a memorycore.TaskUpdatedPublisher.
func NewTaskPublisher(bus *Bus) *TaskPublisher {
	return &TaskPublisher{bus: bus}
}

// PublishTaskUpdated publishes EventTaskUpdated for sessionID. Publish
// failures (a closed bus) are swallowed, matching TaskGraph's contract
// that publishing is best-effort and never surfaces to callers.
func (p *TaskPublisher) PublishTaskUpdated(sessionID string, tasks []*memorycore.Task) {
	ev := NewEvent(EventTaskUpdated)
	ev.SessionID = sessionID
	ev.TaskIDs = make([]string, len(tasks))
	for i, t := range tasks {
		ev.TaskIDs[i] = t.ID
	}
	_ = p.bus.Publish(ev)
}
