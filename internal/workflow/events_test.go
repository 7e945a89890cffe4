package workflow_test

import (
	"testing"

	"scribe/internal/workflow"
)

func TestBusFanOut(t *testing.T) {
	bus := workflow.NewBus()

	first, cancelFirst := bus.Subscribe()
	second, cancelSecond := bus.Subscribe()
	defer cancelSecond()

	bus.Publish(workflow.Event{Type: workflow.EventJobUpdated, JobID: "a"})

	for _, ch := range []<-chan workflow.Event{first, second} {
		select {
		case ev := <-ch:
			if ev.JobID != "a" {
				t.Fatalf("unexpected event %+v", ev)
			}
		default:
			t.Fatal("subscriber missed event")
		}
	}

	cancelFirst()
	if _, open := <-first; open {
		t.Fatal("cancelled subscription must close its channel")
	}

	// Publishing after a cancel must not panic or block.
	bus.Publish(workflow.Event{Type: workflow.EventJobUpdated, JobID: "b"})
	select {
	case ev := <-second:
		if ev.JobID != "b" {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("remaining subscriber missed event")
	}
}

func TestBusSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := workflow.NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	// Overflow the buffer; Publish must never block the worker.
	for i := 0; i < 200; i++ {
		bus.Publish(workflow.Event{Type: workflow.EventJobUpdated})
	}
	if len(ch) == 0 {
		t.Fatal("subscriber should have buffered events")
	}
}
