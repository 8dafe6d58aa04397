// Package logstream keeps a bounded history of recent log entries and fans
// them out to live subscribers such as the dashboard.
package logstream

import (
	"sync"
	"time"
)

const (
	DefaultCapacity = 100

	subscriberBuffer = 32
)

type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

type Hub struct {
	mu       sync.Mutex
	capacity int
	history  []Entry
	subs     map[chan Entry]struct{}
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		capacity: capacity,
		history:  make([]Entry, 0, capacity),
		subs:     make(map[chan Entry]struct{}),
	}
}

// Publish records e and delivers it to subscribers. A subscriber whose
// buffer is full misses the entry.
func (h *Hub) Publish(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.history) == h.capacity {
		copy(h.history, h.history[1:])
		h.history = h.history[:h.capacity-1]
	}
	h.history = append(h.history, e)
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *Hub) History() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.history))
	copy(out, h.history)
	return out
}

// Subscribe returns the current history and a channel of later entries.
// cancel must be called to release the subscription; it closes the channel.
func (h *Hub) Subscribe() (history []Entry, entries <-chan Entry, cancel func()) {
	ch := make(chan Entry, subscriberBuffer)
	h.mu.Lock()
	history = make([]Entry, len(h.history))
	copy(history, h.history)
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return history, ch, cancel
}
