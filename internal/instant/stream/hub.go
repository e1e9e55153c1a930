package stream

import (
	"sync"

	"tutordesk/pkg/logger"
	"tutordesk/pkg/model"

	"github.com/google/uuid"
)

// Hub fans lifecycle events out to connected tutors. Publish never
// blocks: a subscriber whose buffer is full is dropped and has to
// reconnect, which re-seeds it from the pending list anyway.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	bufferSize  int
	log         *logger.Logger
}

type subscriber struct {
	tutorID string
	events  chan model.RequestEvent
}

func NewHub(bufferSize int, log *logger.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]*subscriber),
		bufferSize:  bufferSize,
		log:         log,
	}
}

// Subscribe registers a tutor connection and returns its event channel
// plus a cancel function. The channel closes when the subscriber is
// cancelled or dropped.
func (h *Hub) Subscribe(tutorID string) (<-chan model.RequestEvent, func()) {
	sub := &subscriber{
		tutorID: tutorID,
		events:  make(chan model.RequestEvent, h.bufferSize),
	}
	id := uuid.New().String()

	h.mu.Lock()
	h.subscribers[id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	h.log.Info("Tutor subscribed to instant feed", "tutor_id", tutorID, "subscribers", count)

	cancel := func() { h.remove(id) }
	return sub.events, cancel
}

// Publish delivers the event to every subscriber that can take it right
// now and drops the ones that cannot.
func (h *Hub) Publish(event model.RequestEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subscribers {
		select {
		case sub.events <- event:
		default:
			h.log.Warn("Dropping slow instant feed subscriber",
				"tutor_id", sub.tutorID,
				"event_id", event.EventID,
			)
			delete(h.subscribers, id)
			close(sub.events)
		}
	}
}

// SubscriberCount reports the current number of connections.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)
	close(sub.events)
}
