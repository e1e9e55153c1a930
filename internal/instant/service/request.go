package service

import (
	"context"
	"errors"
	"time"

	instanterrors "tutordesk/internal/instant/errors"
	"tutordesk/internal/instant/repository"
	"tutordesk/internal/instant/stream"
	"tutordesk/internal/instant/validator"
	"tutordesk/pkg/config"
	apperrors "tutordesk/pkg/errors"
	"tutordesk/pkg/kafka"
	"tutordesk/pkg/model"
	"tutordesk/pkg/sanitizer"

	"github.com/google/uuid"
)

// EventPublisher is the slice of the bus producer this service needs.
type EventPublisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

type RequestService interface {
	Create(ctx context.Context, request *model.InstantRequest) error
	Cancel(ctx context.Context, id string, requesterID string) (*model.InstantRequest, error)
	TryAccept(ctx context.Context, id string, tutorID string) (*model.InstantRequest, error)
	ListPending(ctx context.Context) ([]*model.InstantRequest, error)
}

type requestService struct {
	repo      repository.RequestRepository
	matchRepo repository.MatchRepository
	validator *validator.RequestValidator
	hub       *stream.Hub
	dedupe    *stream.Dedupe
	publisher EventPublisher
	cfg       *config.Config
}

func NewRequestService(
	repo repository.RequestRepository,
	matchRepo repository.MatchRepository,
	validator *validator.RequestValidator,
	hub *stream.Hub,
	dedupe *stream.Dedupe,
	publisher EventPublisher,
	cfg *config.Config,
) RequestService {
	return &requestService{
		repo:      repo,
		matchRepo: matchRepo,
		validator: validator,
		hub:       hub,
		dedupe:    dedupe,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Create opens a request in the pending state. Identity and the meeting
// handle are assigned here so both sides can be told the handle right
// away; it only goes live on acceptance.
func (s *requestService) Create(ctx context.Context, request *model.InstantRequest) error {
	request.RequesterID = sanitizer.SanitizeActorID(request.RequesterID)
	request.Subject = sanitizer.SanitizeSubject(request.Subject)
	request.Status = model.RequestPending
	request.AcceptedBy = ""
	request.MeetingHandle = "meet-" + uuid.New().String()

	if err := s.validator.Validate(request); err != nil {
		s.cfg.Log.Warn("Instant request validation failed", "error", err)
		return apperrors.Validation("Instant request validation failed", map[string]any{"error": err.Error()})
	}

	if err := s.repo.Create(ctx, request); err != nil {
		s.cfg.Log.Error("Failed to create instant request", "error", err)
		return apperrors.Internal("Failed to create instant request", err)
	}

	s.cfg.Log.Info("Instant request created",
		"id", request.ID,
		"requester_id", request.RequesterID,
		"subject", request.Subject,
	)
	s.broadcast(ctx, model.EventRequestCreated, request)
	return nil
}

// Cancel closes the caller's own pending request. A request that was
// accepted first stays accepted: the caller gets AlreadyResolved and
// nothing mutates.
func (s *requestService) Cancel(ctx context.Context, id string, requesterID string) (*model.InstantRequest, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Instant request ID cannot be empty")
	}
	requesterID = sanitizer.SanitizeActorID(requesterID)
	if requesterID == "" {
		return nil, apperrors.InvalidInput("Requester ID cannot be empty")
	}

	request, err := s.repo.CancelPending(ctx, id, requesterID)
	if err != nil {
		return nil, s.mapResolveError(err, id, "cancel")
	}

	s.cfg.Log.Info("Instant request cancelled", "id", request.ID, "requester_id", requesterID)
	s.broadcast(ctx, model.EventRequestCancelled, request)
	return request, nil
}

// TryAccept races the caller against every other tutor. The winner gets
// the request with the meeting handle; losers get AlreadyResolved. The
// match audit record is best-effort: the acceptance already happened,
// so a failed insert is logged and never unwound.
func (s *requestService) TryAccept(ctx context.Context, id string, tutorID string) (*model.InstantRequest, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Instant request ID cannot be empty")
	}
	tutorID = sanitizer.SanitizeActorID(tutorID)
	if tutorID == "" {
		return nil, apperrors.InvalidInput("Tutor ID cannot be empty")
	}

	request, err := s.repo.TryAccept(ctx, id, tutorID)
	if err != nil {
		return nil, s.mapResolveError(err, id, "accept")
	}

	s.cfg.Log.Info("Instant request accepted",
		"id", request.ID,
		"tutor_id", tutorID,
		"meeting_handle", request.MeetingHandle,
	)
	s.broadcast(ctx, model.EventRequestAccepted, request)
	s.recordMatch(ctx, request)
	return request, nil
}

func (s *requestService) ListPending(ctx context.Context) ([]*model.InstantRequest, error) {
	requests, err := s.repo.ListPending(ctx)
	if err != nil {
		s.cfg.Log.Error("Failed to list pending requests", "error", err)
		return nil, apperrors.Internal("Failed to list pending requests", err)
	}
	return requests, nil
}

func (s *requestService) mapResolveError(err error, id string, op string) error {
	switch {
	case errors.Is(err, instanterrors.ErrRequestNotFound):
		return apperrors.NotFoundWithID("Instant request", id)
	case errors.Is(err, instanterrors.ErrNotOwner):
		return apperrors.Forbidden("Only the requester can cancel this request")
	case errors.Is(err, instanterrors.ErrAlreadyResolved):
		return apperrors.AlreadyResolved(id)
	case errors.Is(err, instanterrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid instant request ID format")
	default:
		s.cfg.Log.Error("Instant request operation failed", "op", op, "id", id, "error", err)
		return apperrors.Internal("Failed to resolve instant request", err)
	}
}

// broadcast fans the event out locally and onto the bus. The event ID
// is marked in the dedupe table first, so the relay does not deliver
// this instance's own events twice.
func (s *requestService) broadcast(ctx context.Context, eventType string, request *model.InstantRequest) {
	event := model.RequestEvent{
		EventID:    uuid.New().String(),
		Type:       eventType,
		Request:    *request,
		OccurredAt: time.Now().UTC(),
	}

	if s.dedupe != nil {
		s.dedupe.MarkSeen(event.EventID)
	}
	if s.hub != nil {
		s.hub.Publish(event)
	}

	if s.publisher == nil {
		return
	}
	msg := kafka.NewMessage().
		WithKey(request.ID).
		WithValue(event).
		WithEventID(event.EventID).
		WithEventType(eventType).
		WithSource("instant").
		Build()
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.cfg.Log.Warn("Failed to publish request event",
			"event_type", eventType,
			"request_id", request.ID,
			"error", err,
		)
	}
}

func (s *requestService) recordMatch(ctx context.Context, request *model.InstantRequest) {
	if s.matchRepo == nil {
		return
	}

	match := &model.SessionMatch{
		RequestID:     request.ID,
		RequesterID:   request.RequesterID,
		TutorID:       request.AcceptedBy,
		MeetingHandle: request.MeetingHandle,
	}
	if err := s.matchRepo.Create(ctx, match); err != nil {
		s.cfg.Log.Warn("Failed to record session match",
			"request_id", request.ID,
			"tutor_id", request.AcceptedBy,
			"error", err,
		)
	}
}
