// Package events carries the "state changed" notifications the tracker emits after every mutation.
package events

import (
	"sync"
	"time"
)

// Type names an event kind.
type Type string

const (
	TypeTaskCreated        Type = "task.created"
	TypeTaskDeleted        Type = "task.deleted"
	TypeCompletionRecorded Type = "completion.recorded"
	TypeCompletionDeleted  Type = "completion.deleted"
	TypeTasksReclassified  Type = "tasks.reclassified"
	TypeStatsRecomputed    Type = "statistics.recomputed"
	TypeTimerReset         Type = "timer.reset"
	TypeNamespaceSwitched  Type = "namespace.switched"
	TypeDataMerged         Type = "data.merged"
	TypeWarning            Type = "warning"
)

// Event tells presentation code to re-read the tracker. Subject is the id of
// the task or record involved, when there is one.
type Event struct {
	Type      Type      `json:"type"`
	Namespace string    `json:"namespace"`
	Subject   string    `json:"subject,omitempty"`
	Count     int       `json:"count,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and is expected to re-read state.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a buffered channel and returns it with a cancel func.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers e to every subscriber that has room.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
