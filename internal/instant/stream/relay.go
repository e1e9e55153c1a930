package stream

import (
	"context"

	"tutordesk/pkg/kafka"
	"tutordesk/pkg/logger"
	"tutordesk/pkg/model"
)

// Relay bridges lifecycle events between instances. Every instance
// publishes its events to the bus; the relay consumes the topic and
// re-injects events into the local hub, so tutors connected elsewhere
// still hear about them. The dedupe table swallows events this instance
// already fanned out locally.
type Relay struct {
	hub    *Hub
	dedupe *Dedupe
	log    *logger.Logger
}

func NewRelay(hub *Hub, dedupe *Dedupe, log *logger.Logger) *Relay {
	return &Relay{
		hub:    hub,
		dedupe: dedupe,
		log:    log,
	}
}

// Handle is the consumer callback for the session-events topic. Booking
// events share the topic but carry no tutor-facing payload; anything
// that does not decode as a RequestEvent is skipped, not retried.
func (r *Relay) Handle(ctx context.Context, msg kafka.Message) error {
	eventType := msg.GetEventType()
	switch eventType {
	case model.EventRequestCreated, model.EventRequestAccepted, model.EventRequestCancelled:
	default:
		return nil
	}

	var event model.RequestEvent
	if err := msg.DecodeValue(&event); err != nil {
		r.log.Warn("Skipping undecodable relay event",
			"event_id", msg.GetEventID(),
			"event_type", eventType,
			"error", err,
		)
		return nil
	}

	if !r.dedupe.MarkSeen(event.EventID) {
		return nil
	}

	r.hub.Publish(event)
	r.log.Debug("Relayed event into local hub",
		"event_id", event.EventID,
		"event_type", event.Type,
	)
	return nil
}
