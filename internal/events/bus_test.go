package events

import (
	"testing"
	"time"
)

func TestBusDeliversToTopicSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	runCh := bus.Subscribe(TopicRun, 4)
	taskCh := bus.Subscribe(TopicTask, 4)

	bus.Publish(RunStartedEvent{RunID: "r1", PipelineName: "p", TaskCount: 2, Timestamp: time.Now()})
	bus.Publish(TaskStartedEvent{RunID: "r1", ID: "a", Type: "delay", Timestamp: time.Now()})

	select {
	case e := <-runCh:
		if e.EventType() != EventTypeRunStarted {
			t.Errorf("run subscriber got %s", e.EventType())
		}
	case <-time.After(time.Second):
		t.Fatal("run subscriber received nothing")
	}

	select {
	case e := <-taskCh:
		if e.EventType() != EventTypeTaskStarted {
			t.Errorf("task subscriber got %s", e.EventType())
		}
	case <-time.After(time.Second):
		t.Fatal("task subscriber received nothing")
	}

	select {
	case e := <-runCh:
		t.Errorf("run subscriber received a task event: %v", e)
	default:
	}
}

func TestBusSubscribeAllSeesEveryTopic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(4)
	bus.Publish(RunStartedEvent{RunID: "r1"})
	bus.Publish(TaskSucceededEvent{RunID: "r1", ID: "a"})

	got := []string{(<-all).EventType(), (<-all).EventType()}
	want := []string{EventTypeRunStarted, EventTypeTaskSucceeded}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestBusPublishNeverBlocksOnFullBuffer(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)
	bus.Publish(TaskStartedEvent{ID: "first"})

	done := make(chan struct{})
	go func() {
		// Buffer is full; this publish must drop instead of blocking.
		bus.Publish(TaskStartedEvent{ID: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish() blocked on a full subscriber")
	}

	if e := <-ch; e.(TaskStartedEvent).ID != "first" {
		t.Errorf("buffered event = %v", e)
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicRun, 1)

	bus.Close()
	bus.Close() // idempotent

	if _, open := <-ch; open {
		t.Error("subscriber channel still open after Close()")
	}

	// Publishing and subscribing after close are harmless no-ops.
	bus.Publish(RunStartedEvent{RunID: "r"})
	if _, open := <-bus.Subscribe(TopicRun, 1); open {
		t.Error("Subscribe() after Close() returned an open channel")
	}
}
