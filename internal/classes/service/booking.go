package service

import (
	"context"
	"errors"
	"sync"
	"time"

	classeserrors "tutordesk/internal/classes/errors"
	"tutordesk/internal/classes/repository"
	"tutordesk/internal/classes/validator"
	"tutordesk/pkg/config"
	apperrors "tutordesk/pkg/errors"
	"tutordesk/pkg/kafka"
	"tutordesk/pkg/model"
	"tutordesk/pkg/sanitizer"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
)

// EventPublisher is the slice of the bus producer this service needs.
type EventPublisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

type BookingService interface {
	Create(ctx context.Context, booking *model.Booking) error
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	GetAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, int64, error)
	Cancel(ctx context.Context, id string) (*model.Booking, error)
	RunReconciler(ctx context.Context)
}

type bookingService struct {
	repo        repository.BookingRepository
	sessionRepo repository.SessionRepository
	validator   *validator.ClassesValidator
	publisher   EventPublisher
	cfg         *config.Config
}

func NewBookingService(
	repo repository.BookingRepository,
	sessionRepo repository.SessionRepository,
	validator *validator.ClassesValidator,
	publisher EventPublisher,
	cfg *config.Config,
) BookingService {
	return &bookingService{
		repo:        repo,
		sessionRepo: sessionRepo,
		validator:   validator,
		publisher:   publisher,
		cfg:         cfg,
	}
}

// Create reserves a seat and inserts the confirmed booking in one
// transaction, so a failed insert also rolls the seat back. A full
// class is a business outcome, not a fault.
func (s *bookingService) Create(ctx context.Context, booking *model.Booking) error {
	booking.RequesterID = sanitizer.SanitizeActorID(booking.RequesterID)
	booking.Status = model.BookingConfirmed
	booking.ReservationReleased = false

	if err := s.validator.ValidateBooking(booking); err != nil {
		s.cfg.Log.Warn("Booking validation failed", "error", err)
		return apperrors.Validation("Booking validation failed", map[string]any{"error": err.Error()})
	}

	err := s.repo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		token, err := s.sessionRepo.Reserve(sessCtx, booking.SessionID)
		if err != nil {
			return s.mapReserveError(err, booking.SessionID)
		}
		booking.ReservationToken = token

		if err := s.repo.Create(sessCtx, booking); err != nil {
			return apperrors.Internal("Failed to create booking", err)
		}
		return nil
	})
	if err != nil {
		if apperrors.IsBusinessOutcome(err) {
			s.cfg.Log.Info("Booking rejected",
				"session_id", booking.SessionID,
				"requester_id", booking.RequesterID,
				"reason", err.Error(),
			)
		} else {
			s.cfg.Log.Error("Failed to create booking", "session_id", booking.SessionID, "error", err)
		}
		return err
	}

	s.cfg.Log.Info("Booking created",
		"id", booking.ID,
		"session_id", booking.SessionID,
		"requester_id", booking.RequesterID,
	)
	s.publishBookingEvent(ctx, model.EventBookingCreated, booking)
	return nil
}

func (s *bookingService) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Booking ID cannot be empty")
	}

	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, classeserrors.ErrBookingNotFound) {
			return nil, apperrors.NotFoundWithID("Booking", id)
		}
		if errors.Is(err, classeserrors.ErrInvalidID) {
			return nil, apperrors.InvalidInput("Invalid booking ID format")
		}
		return nil, apperrors.Internal("Failed to retrieve booking", err)
	}

	return booking, nil
}

func (s *bookingService) GetAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, int64, error) {
	var count int64
	var bookings []*model.Booking
	var errCount, errFind error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		count, errCount = s.repo.Count(ctx)
		if errCount != nil {
			s.cfg.Log.Error("Failed to count bookings", "error", errCount)
			errCount = apperrors.Internal("Failed to count bookings", errCount)
		}
	}()

	go func() {
		defer wg.Done()
		bookings, errFind = s.repo.FindAll(ctx, limit, offset)
		if errFind != nil {
			s.cfg.Log.Error("Failed to list bookings", "error", errFind)
			errFind = apperrors.Internal("Failed to retrieve bookings", errFind)
		}
	}()

	wg.Wait()
	if errCount != nil {
		return nil, 0, errCount
	}
	if errFind != nil {
		return nil, 0, errFind
	}

	return bookings, count, nil
}

// Cancel is idempotent: an already-cancelled booking comes back
// unchanged with no second release. The status flip is guarded on
// confirmed, so of two racing cancels exactly one performs the release.
func (s *bookingService) Cancel(ctx context.Context, id string) (*model.Booking, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Booking ID cannot be empty")
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, classeserrors.ErrBookingNotFound) {
			return nil, apperrors.NotFoundWithID("Booking", id)
		}
		if errors.Is(err, classeserrors.ErrInvalidID) {
			return nil, apperrors.InvalidInput("Invalid booking ID format")
		}
		return nil, apperrors.Internal("Failed to retrieve booking", err)
	}

	if existing.Status == model.BookingCancelled {
		return existing, nil
	}

	cancelled, err := s.repo.CancelConfirmed(ctx, id)
	if err != nil {
		if errors.Is(err, classeserrors.ErrBookingNotFound) {
			// Lost the race to a concurrent cancel. Idempotent outcome.
			current, readErr := s.repo.FindByID(ctx, id)
			if readErr == nil && current.Status == model.BookingCancelled {
				return current, nil
			}
			return nil, apperrors.NotFoundWithID("Booking", id)
		}
		return nil, apperrors.Internal("Failed to cancel booking", err)
	}

	s.releaseReservation(ctx, cancelled)

	s.cfg.Log.Info("Booking cancelled", "id", cancelled.ID, "session_id", cancelled.SessionID)
	s.publishBookingEvent(ctx, model.EventBookingCancelled, cancelled)
	return cancelled, nil
}

// releaseReservation returns the seat and records that it happened. A
// transient ledger failure leaves reservation_released false for the
// reconciler; AlreadyReleased still marks, since the seat is back either
// way.
func (s *bookingService) releaseReservation(ctx context.Context, booking *model.Booking) {
	err := s.sessionRepo.Release(ctx, booking.SessionID, booking.ReservationToken)
	if err != nil && !errors.Is(err, classeserrors.ErrAlreadyReleased) {
		s.cfg.Log.Warn("Failed to release reservation, leaving for reconciliation",
			"booking_id", booking.ID,
			"session_id", booking.SessionID,
			"error", err,
		)
		return
	}

	if err := s.repo.MarkReleased(ctx, booking.ID); err != nil {
		s.cfg.Log.Warn("Failed to mark reservation released",
			"booking_id", booking.ID,
			"error", err,
		)
		return
	}
	booking.ReservationReleased = true
}

const reconcileBatchSize = 100

// RunReconciler sweeps for cancelled bookings whose seat never made it
// back to the ledger and retries the release. Safe to run concurrently
// with cancels: the token-guarded release makes retries idempotent.
func (s *bookingService) RunReconciler(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	s.cfg.Log.Info("Reservation reconciler started", "interval", s.cfg.ReconcileInterval)

	for {
		select {
		case <-ctx.Done():
			s.cfg.Log.Info("Reservation reconciler stopped")
			return
		case <-ticker.C:
			s.reconcileOnce(ctx)
		}
	}
}

func (s *bookingService) reconcileOnce(ctx context.Context) {
	orphaned, err := s.repo.FindCancelledUnreleased(ctx, reconcileBatchSize)
	if err != nil {
		s.cfg.Log.Error("Reconciliation sweep failed", "error", err)
		return
	}
	if len(orphaned) == 0 {
		return
	}

	s.cfg.Log.Info("Reconciling unreleased reservations", "count", len(orphaned))
	for _, booking := range orphaned {
		s.releaseReservation(ctx, booking)
	}
}

func (s *bookingService) mapReserveError(err error, sessionID string) error {
	switch {
	case errors.Is(err, classeserrors.ErrClassFull):
		return apperrors.ClassFull(sessionID)
	case errors.Is(err, classeserrors.ErrSessionNotFound):
		return apperrors.NotFoundWithID("Class session", sessionID)
	case errors.Is(err, classeserrors.ErrSessionNotBookable):
		return apperrors.Conflict("Class session is not open for booking")
	case errors.Is(err, classeserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid class session ID format")
	default:
		return apperrors.Internal("Failed to reserve seat", err)
	}
}

func (s *bookingService) publishBookingEvent(ctx context.Context, eventType string, booking *model.Booking) {
	if s.publisher == nil {
		return
	}

	event := model.BookingEvent{
		EventID:    uuid.New().String(),
		Type:       eventType,
		Booking:    *booking,
		OccurredAt: time.Now().UTC(),
	}

	msg := kafka.NewMessage().
		WithKey(booking.SessionID).
		WithValue(event).
		WithEventID(event.EventID).
		WithEventType(eventType).
		WithSource("classes").
		Build()

	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.cfg.Log.Warn("Failed to publish booking event",
			"event_type", eventType,
			"booking_id", booking.ID,
			"error", err,
		)
	}
}
