package metrics

import (
	"sync"
	"time"

	"github.com/normanking/cortex-memory/internal/bus"
)

// Collector subscribes to a bus.Bus and aggregates memory-engine lifecycle
// events (observation/reflection start+completion, task updates) into
// session-local counters, persisting completed events to a Store when one
// is attached.
type Collector struct {
	bus          *bus.Bus
	store        *Store
	session      *SessionStats
	recentEvents []bus.Event
	mu           sync.RWMutex
	maxEvents    int
	subs         []bus.SubscriptionID
	pending      map[pendingKey]time.Time
	stopped      bool
}

// pendingKey identifies an in-flight started event awaiting its matching
// completed event, so latency can be derived without the bus itself
// carrying duration.
type pendingKey struct {
	eventType bus.EventType
	scopeKey  string
}

// SessionStats holds current session metrics.
type SessionStats struct {
	StartTime             time.Time
	ObservationsStarted   int
	ObservationsCompleted int
	ObservationsFailed    int
	ReflectionsStarted    int
	ReflectionsCompleted  int
	ReflectionsFailed     int
	TaskUpdatedCount      int
	WorkingMemoryUpdates  int
	LastEvent             string
	LastEventTime         time.Time
}

// NewCollector creates a metrics collector. store may be nil, in which case
// completed events are aggregated in memory only.
func NewCollector(eventBus *bus.Bus, store *Store) *Collector {
	return &Collector{
		bus:          eventBus,
		store:        store,
		session:      &SessionStats{StartTime: time.Now()},
		recentEvents: make([]bus.Event, 0),
		maxEvents:    50,
		pending:      make(map[pendingKey]time.Time),
	}
}

// Start begins listening to the bus.
func (c *Collector) Start() {
	if c.bus == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	c.subs = append(c.subs, c.bus.Subscribe(bus.EventTaskUpdated, c.handleEvent))
	c.subs = append(c.subs, c.bus.Subscribe(bus.EventObservationStarted, c.handleEvent))
	c.subs = append(c.subs, c.bus.Subscribe(bus.EventObservationCompleted, c.handleEvent))
	c.subs = append(c.subs, c.bus.Subscribe(bus.EventReflectionStarted, c.handleEvent))
	c.subs = append(c.subs, c.bus.Subscribe(bus.EventReflectionCompleted, c.handleEvent))
	c.subs = append(c.subs, c.bus.Subscribe(bus.EventWorkingMemoryUpdated, c.handleEvent))
}

// Stop unsubscribes from the bus.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true

	for _, id := range c.subs {
		_ = c.bus.Unsubscribe(id)
	}
	c.subs = nil
}

// Session returns a copy of the current session stats (thread-safe).
func (c *Collector) Session() SessionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.session
}

// RecentEvents returns up to n of the most recently observed events.
func (c *Collector) RecentEvents(n int) []bus.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n > len(c.recentEvents) {
		n = len(c.recentEvents)
	}
	start := len(c.recentEvents) - n
	if start < 0 {
		start = 0
	}

	events := make([]bus.Event, n)
	copy(events, c.recentEvents[start:])
	return events
}

func (c *Collector) scopeKey(e bus.Event) string {
	if e.ThreadID != "" {
		return "thread:" + e.ThreadID
	}
	return "resource:" + e.ResourceID
}

func (c *Collector) handleEvent(e bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recentEvents = append(c.recentEvents, e)
	if len(c.recentEvents) > c.maxEvents {
		c.recentEvents = c.recentEvents[1:]
	}

	c.session.LastEvent = string(e.Type)
	c.session.LastEventTime = e.Timestamp

	switch e.Type {
	case bus.EventTaskUpdated:
		c.session.TaskUpdatedCount++
	case bus.EventWorkingMemoryUpdated:
		c.session.WorkingMemoryUpdates++
	case bus.EventObservationStarted:
		c.session.ObservationsStarted++
		c.pending[pendingKey{e.Type, c.scopeKey(e)}] = e.Timestamp
	case bus.EventReflectionStarted:
		c.session.ReflectionsStarted++
		c.pending[pendingKey{e.Type, c.scopeKey(e)}] = e.Timestamp
	case bus.EventObservationCompleted:
		c.session.ObservationsCompleted++
		if e.Error != "" {
			c.session.ObservationsFailed++
		}
		c.recordCompletion(bus.EventObservationStarted, e)
	case bus.EventReflectionCompleted:
		c.session.ReflectionsCompleted++
		if e.Error != "" {
			c.session.ReflectionsFailed++
		}
		c.recordCompletion(bus.EventReflectionStarted, e)
	}
}

// recordCompletion looks up the matching *_started timestamp and, if a
// Store is attached, persists the paired event with its derived latency.
func (c *Collector) recordCompletion(startedType bus.EventType, e bus.Event) {
	key := pendingKey{startedType, c.scopeKey(e)}
	startedAt, ok := c.pending[key]
	var latencyMs int64
	if ok {
		latencyMs = e.Timestamp.Sub(startedAt).Milliseconds()
		delete(c.pending, key)
	}

	if c.store == nil {
		return
	}
	metric := &EventMetric{
		EventType:       e.Type,
		ScopeKey:        c.scopeKey(e),
		LatencyMs:       latencyMs,
		GenerationCount: e.GenerationCount,
		Success:         e.Error == "",
		ErrorMsg:        e.Error,
		CreatedAt:       e.Timestamp,
	}
	_ = c.store.RecordEvent(metric)
}
