package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/orchestra/pkg/logging"
)

// emitTimeout bounds how long Emit waits on a full subscriber.
const emitTimeout = 100 * time.Millisecond

// EventEmitter fans engine events out to subscribers.
// A slow subscriber loses events rather than stalling execution.
type EventEmitter struct {
	mu           sync.RWMutex
	subs         map[int]chan Event
	nextID       int
	bufferSize   int
	closed       bool
	droppedCount atomic.Uint64
	log          *logging.Logger
}

// NewEventEmitter creates a new EventEmitter whose subscriptions use the given
// buffer size. Dropped events are reported to log; nil discards the reports.
func NewEventEmitter(bufferSize int, log *logging.Logger) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if log == nil {
		log = logging.Nop()
	}
	return &EventEmitter{
		subs:       make(map[int]chan Event),
		bufferSize: bufferSize,
		log:        log,
	}
}

// Subscribe returns a channel receiving every subsequent event and a function
// that ends the subscription and closes the channel.
func (e *EventEmitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, e.bufferSize)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if sub, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(sub)
			}
		})
	}
}

// Emit sends an event to every subscriber.
// If a subscriber is full, it tries with a timeout before dropping the event.
func (e *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, ch := range e.subs {
		// Try immediate send first
		select {
		case ch <- event:
			continue
		default:
		}

		select {
		case ch <- event:
		case <-time.After(emitTimeout):
			count := e.droppedCount.Add(1)
			if count%10 == 1 { // Log every 10th drop to avoid spam
				e.log.Warn("event subscriber full, dropped event",
					"total_dropped", count,
					"type", string(event.Type))
			}
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// SubscriberCount returns the number of live subscriptions.
func (e *EventEmitter) SubscriberCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Close closes every subscription. Later subscriptions receive a closed channel.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
