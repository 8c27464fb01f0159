package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/aristath/taskflow/internal/scheduler"
)

func started(id string) TaskStartedEvent {
	return TaskStartedEvent{
		taskEvent: taskEvent{Workflow: "wf-1", ID: id},
		Name:      "Test Task",
		Role:      scheduler.RoleImplementation,
		Attempt:   1,
		Timestamp: time.Now(),
	}
}

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)
	bus.Publish(started("task-1"))

	select {
	case received := <-ch:
		if received.TaskID() != "task-1" {
			t.Errorf("expected task ID 'task-1', got '%s'", received.TaskID())
		}
		if received.WorkflowID() != "wf-1" {
			t.Errorf("expected workflow ID 'wf-1', got '%s'", received.WorkflowID())
		}
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskStarted, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TaskCompletedEvent{
		taskEvent: taskEvent{Workflow: "wf-1", ID: "task-2"},
		Attempts:  1,
		Output:    "success",
		Timestamp: time.Now(),
	})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "task-2" {
				t.Errorf("subscriber %d: expected task ID 'task-2', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(started(fmt.Sprintf("task-%d", i)))
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	if got := (<-ch).TaskID(); got != "task-0" {
		t.Errorf("expected first event to be kept, got %s", got)
	}
	if bus.Dropped() != 9 {
		t.Errorf("expected 9 dropped deliveries, got %d", bus.Dropped())
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)
	all := bus.SubscribeAll(10)

	bus.Close()
	bus.Close() // idempotent

	for name, c := range map[string]<-chan Event{"topic": ch, "all": all} {
		select {
		case _, ok := <-c:
			if ok {
				t.Errorf("%s: expected closed channel", name)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("%s: channel not closed", name)
		}
	}

	// Publishing and subscribing after close are harmless.
	bus.Publish(started("late"))
	if _, ok := <-bus.Subscribe(TopicTask, 1); ok {
		t.Error("subscription after close should be closed")
	}
}

// TestTopicRouting verifies events only reach subscribers of their own topic.
func TestTopicRouting(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	wfCh := bus.Subscribe(TopicWorkflow, 10)
	allCh := bus.SubscribeAll(10)

	bus.Publish(started("t1"))
	bus.Publish(WorkflowCompletedEvent{Workflow: "wf-1", Status: scheduler.WorkflowCompleted, Completed: 1})

	if len(taskCh) != 1 || len(wfCh) != 1 || len(allCh) != 2 {
		t.Fatalf("task=%d workflow=%d all=%d, want 1/1/2", len(taskCh), len(wfCh), len(allCh))
	}
	if ev := <-wfCh; ev.EventType() != EventTypeWorkflowCompleted || ev.TaskID() != "" {
		t.Errorf("workflow subscriber got %s", ev.EventType())
	}
	if ev := <-allCh; ev.EventType() != EventTypeTaskStarted {
		t.Errorf("all subscriber got %s first", ev.EventType())
	}
}
