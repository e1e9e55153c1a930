package stream

import (
	"fmt"
	"testing"
	"time"

	"tutordesk/pkg/logger"
	"tutordesk/pkg/model"
)

func newTestLogger() *logger.Logger {
	return logger.New(logger.Config{Level: logger.ERROR, Format: logger.JSON, Service: "test"})
}

func makeEvent(id string) model.RequestEvent {
	return model.RequestEvent{
		EventID:    id,
		Type:       model.EventRequestCreated,
		OccurredAt: time.Now().UTC(),
	}
}

func TestHubDeliversToAllSubscribers(t *testing.T) {
	hub := NewHub(4, newTestLogger())

	first, cancelFirst := hub.Subscribe("tutor-1")
	defer cancelFirst()
	second, cancelSecond := hub.Subscribe("tutor-2")
	defer cancelSecond()

	hub.Publish(makeEvent("evt-1"))

	for name, ch := range map[string]<-chan model.RequestEvent{"first": first, "second": second} {
		select {
		case event := <-ch:
			if event.EventID != "evt-1" {
				t.Errorf("%s subscriber got %s, want evt-1", name, event.EventID)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber got nothing", name)
		}
	}
}

func TestHubPublishNeverBlocksAndDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(2, newTestLogger())

	slow, _ := hub.Subscribe("slow-tutor")

	// Never read from slow: once its buffer is full the hub must drop
	// it instead of stalling the publisher.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(makeEvent(fmt.Sprintf("evt-%d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	if count := hub.SubscriberCount(); count != 0 {
		t.Errorf("expected slow subscriber to be dropped, still %d registered", count)
	}

	// The dropped subscriber's channel must be closed after draining.
	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-slow:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("dropped subscriber channel never closed")
		}
	}
}

func TestHubCancelRemovesSubscriber(t *testing.T) {
	hub := NewHub(4, newTestLogger())

	events, cancel := hub.Subscribe("tutor-1")
	if count := hub.SubscriberCount(); count != 1 {
		t.Fatalf("expected 1 subscriber, got %d", count)
	}

	cancel()
	if count := hub.SubscriberCount(); count != 0 {
		t.Errorf("expected 0 subscribers after cancel, got %d", count)
	}

	if _, open := <-events; open {
		t.Error("expected channel closed after cancel")
	}

	// Second cancel is a no-op.
	cancel()
}

func TestDedupeMarkSeen(t *testing.T) {
	dedupe := NewDedupe(time.Minute)
	defer dedupe.Stop()

	if !dedupe.MarkSeen("evt-1") {
		t.Error("first sighting should be new")
	}
	if dedupe.MarkSeen("evt-1") {
		t.Error("second sighting should be a duplicate")
	}
	if !dedupe.MarkSeen("evt-2") {
		t.Error("different ID should be new")
	}
}

func TestDedupeNeverGrowsPastBound(t *testing.T) {
	dedupe := NewDedupe(time.Hour)
	defer dedupe.Stop()

	// With an hour TTL nothing expires during the test, so the table can
	// only stay bounded by evicting live entries.
	for i := 0; i < dedupeMaxEntries+100; i++ {
		dedupe.MarkSeen(fmt.Sprintf("evt-%d", i))
	}

	dedupe.mu.Lock()
	size := len(dedupe.seen)
	dedupe.mu.Unlock()

	if size > dedupeMaxEntries {
		t.Errorf("table grew to %d entries, bound is %d", size, dedupeMaxEntries)
	}
}

func TestDedupeExpiresEntries(t *testing.T) {
	dedupe := NewDedupe(20 * time.Millisecond)
	defer dedupe.Stop()

	dedupe.MarkSeen("evt-1")
	time.Sleep(50 * time.Millisecond)

	if !dedupe.MarkSeen("evt-1") {
		t.Error("expired ID should count as new again")
	}
}
