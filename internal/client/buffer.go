package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/afroash/realtimeapp/internal/models"
)

// EventBuffer is a thread-safe FIFO of events received from the server
type EventBuffer struct {
	events     []models.Event
	capacity   int
	dropOldest bool
	mutex      sync.RWMutex
	stats      BufferStats
	changed    chan struct{}
}

// BufferStats tracks buffer usage statistics
type BufferStats struct {
	TotalPushed   int64
	TotalDropped  int64
	HighWaterMark int
	LastPushTime  time.Time
	LastDropTime  time.Time
}

// NewEventBuffer creates a new event buffer with given capacity
func NewEventBuffer(capacity int, dropOldest bool) *EventBuffer {
	return &EventBuffer{
		events:     make([]models.Event, 0, capacity),
		capacity:   capacity,
		dropOldest: dropOldest,
		changed:    make(chan struct{}),
	}
}

// Push adds an event to the buffer.
// Returns true if successful, false if dropped (when full and dropOldest=false)
func (eb *EventBuffer) Push(ev models.Event) bool {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if len(eb.events) >= eb.capacity {
		eb.stats.TotalDropped++
		eb.stats.LastDropTime = time.Now()
		if !eb.dropOldest {
			return false
		}
		eb.events = eb.events[1:]
	}
	eb.events = append(eb.events, ev)
	eb.stats.TotalPushed++
	eb.stats.LastPushTime = time.Now()

	if len(eb.events) > eb.stats.HighWaterMark {
		eb.stats.HighWaterMark = len(eb.events)
	}

	// Wake waiters
	close(eb.changed)
	eb.changed = make(chan struct{})

	return true
}

// Drain removes and returns every event for namespace, oldest first.
// An empty namespace drains all events.
func (eb *EventBuffer) Drain(namespace string) []models.Event {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	var taken []models.Event
	kept := eb.events[:0:0]
	for _, ev := range eb.events {
		if namespace == "" || ev.Namespace == namespace {
			taken = append(taken, ev)
		} else {
			kept = append(kept, ev)
		}
	}
	eb.events = kept
	return taken
}

// Count returns the number of buffered events for namespace (all if empty)
func (eb *EventBuffer) Count(namespace string) int {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	if namespace == "" {
		return len(eb.events)
	}
	n := 0
	for _, ev := range eb.events {
		if ev.Namespace == namespace {
			n++
		}
	}
	return n
}

// waitChan returns a channel closed on the next Push
func (eb *EventBuffer) waitChan() <-chan struct{} {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return eb.changed
}

// Size returns the current number of events in the buffer
func (eb *EventBuffer) Size() int {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return len(eb.events)
}

// Stats returns a copy of current buffer statistics
func (eb *EventBuffer) Stats() BufferStats {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return eb.stats
}

// String returns a human-readable representation of buffer state
func (eb *EventBuffer) String() string {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	mode := "drop-newest"
	if eb.dropOldest {
		mode = "drop-oldest"
	}

	return fmt.Sprintf("Buffer[%d/%d, dropped: %d, mode: %s]",
		len(eb.events),
		eb.capacity,
		eb.stats.TotalDropped,
		mode,
	)
}
