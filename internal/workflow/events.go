package workflow

import (
	"sync"

	"scribe/internal/queue"
)

// EventType labels what happened to a job.
type EventType string

const (
	EventJobQueued    EventType = "job_queued"
	EventJobUpdated   EventType = "job_updated"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventJobSkipped   EventType = "job_skipped"
	EventJobRequeued  EventType = "job_requeued"
)

// Event is one job state change published by the orchestrator. Consumers
// receive it on their own channel and marshal to their own execution
// context.
type Event struct {
	Type        EventType
	JobID       string
	VideoID     string
	Title       string
	Status      queue.Status
	Stage       queue.Stage
	ProgressPct int
	ErrorCode   string
}

// Bus fans events out to subscribers. Publishing never blocks the worker:
// a subscriber that falls behind loses events rather than stalling the
// pipeline.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel function removes the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with room in its buffer.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func jobEvent(eventType EventType, job *queue.Job) Event {
	return Event{
		Type:        eventType,
		JobID:       job.ID,
		VideoID:     job.VideoID,
		Title:       job.Title,
		Status:      job.Status,
		Stage:       job.Stage,
		ProgressPct: job.ProgressPct,
		ErrorCode:   job.ErrorCode,
	}
}
