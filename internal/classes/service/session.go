package service

import (
	"context"
	"errors"

	classeserrors "tutordesk/internal/classes/errors"
	"tutordesk/internal/classes/repository"
	"tutordesk/internal/classes/validator"
	"tutordesk/pkg/config"
	apperrors "tutordesk/pkg/errors"
	"tutordesk/pkg/model"
	"tutordesk/pkg/sanitizer"
)

type SessionService interface {
	Create(ctx context.Context, session *model.ClassSession) error
	GetByID(ctx context.Context, id string) (*model.ClassSession, error)
}

type sessionService struct {
	repo      repository.SessionRepository
	validator *validator.ClassesValidator
	cfg       *config.Config
}

func NewSessionService(
	repo repository.SessionRepository,
	validator *validator.ClassesValidator,
	cfg *config.Config,
) SessionService {
	return &sessionService{
		repo:      repo,
		validator: validator,
		cfg:       cfg,
	}
}

func (s *sessionService) Create(ctx context.Context, session *model.ClassSession) error {
	session.Subject = sanitizer.SanitizeSubject(session.Subject)
	session.TutorID = sanitizer.SanitizeActorID(session.TutorID)
	if session.Status == "" {
		session.Status = model.SessionScheduled
	}
	session.Reserved = 0
	session.ReservationTokens = []string{}

	if err := s.validator.ValidateSession(session, s.cfg.MaxSessionCapacity); err != nil {
		s.cfg.Log.Warn("Class session validation failed", "error", err)
		return apperrors.Validation("Class session validation failed", map[string]any{"error": err.Error()})
	}

	if err := s.repo.Create(ctx, session); err != nil {
		s.cfg.Log.Error("Failed to create class session", "error", err)
		return apperrors.Internal("Failed to create class session", err)
	}

	s.cfg.Log.Info("Class session created",
		"id", session.ID,
		"tutor_id", session.TutorID,
		"capacity", session.Capacity,
		"starts_at", session.StartsAt,
	)
	return nil
}

func (s *sessionService) GetByID(ctx context.Context, id string) (*model.ClassSession, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Class session ID cannot be empty")
	}

	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, classeserrors.ErrSessionNotFound) {
			return nil, apperrors.NotFoundWithID("Class session", id)
		}
		if errors.Is(err, classeserrors.ErrInvalidID) {
			return nil, apperrors.InvalidInput("Invalid class session ID format")
		}
		return nil, apperrors.Internal("Failed to retrieve class session", err)
	}

	return session, nil
}
