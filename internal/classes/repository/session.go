package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	classeserrors "tutordesk/internal/classes/errors"
	"tutordesk/pkg/config"
	mongotx "tutordesk/pkg/db/mongo"
	"tutordesk/pkg/model"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	SessionCollectionName = "class_sessions"
)

// SessionRepository is the seat ledger. Reserve and Release are each a
// single guarded write: the filter carries the business condition, so
// the database decides winners under concurrency and reserved can never
// drift past capacity or below zero.
type SessionRepository interface {
	Create(ctx context.Context, session *model.ClassSession) error
	FindByID(ctx context.Context, id string) (*model.ClassSession, error)
	Reserve(ctx context.Context, sessionID string) (string, error)
	Release(ctx context.Context, sessionID string, token string) error
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

type mongoSessionRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
	txManager  mongotx.TransactionManager
}

func NewMongoSessionRepository(cfg *config.Config) SessionRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoSessionRepository{
		cfg:        cfg,
		collection: db.Collection(SessionCollectionName),
		txManager:  mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

// withTimeout wraps ctx with a per-op timeout unless it is a session
// context, which cannot be wrapped without breaking the transaction.
func (r *mongoSessionRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithTimeout(ctx, time.Until(deadline))
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *mongoSessionRepository) Create(ctx context.Context, session *model.ClassSession) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	session.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	if session.ReservationTokens == nil {
		session.ReservationTokens = []string{}
	}

	result, err := r.collection.InsertOne(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to create class session: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		session.ID = oid.Hex()
	}
	return nil
}

func (r *mongoSessionRepository) FindByID(ctx context.Context, id string) (*model.ClassSession, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", classeserrors.ErrInvalidID, id)
	}

	var session model.ClassSession
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, classeserrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to find class session: %w", err)
	}

	return &session, nil
}

// Reserve takes one seat and returns the reservation token that owns
// it. The filter admits only a scheduled session with a free seat, so
// concurrent callers past capacity all miss and get ErrClassFull.
func (r *mongoSessionRepository) Reserve(ctx context.Context, sessionID string) (string, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", classeserrors.ErrInvalidID, sessionID)
	}

	token := uuid.New().String()

	filter := bson.M{
		"_id":    objectID,
		"status": model.SessionScheduled,
		"$expr":  bson.M{"$lt": bson.A{"$reserved", "$capacity"}},
	}
	update := bson.M{
		"$inc":  bson.M{"reserved": 1},
		"$push": bson.M{"reservation_tokens": token},
	}

	err = r.collection.FindOneAndUpdate(ctx, filter, update).Err()
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return "", fmt.Errorf("failed to reserve seat: %w", err)
	}

	// Miss: find out which condition failed.
	var session model.ClassSession
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", classeserrors.ErrSessionNotFound
		}
		return "", fmt.Errorf("failed to inspect class session after reserve miss: %w", err)
	}
	if session.Status != model.SessionScheduled {
		return "", classeserrors.ErrSessionNotBookable
	}
	return "", classeserrors.ErrClassFull
}

// Release gives the token's seat back. The filter requires the token to
// still be present, so releasing twice decrements exactly once: the
// second call matches nothing and returns ErrAlreadyReleased.
func (r *mongoSessionRepository) Release(ctx context.Context, sessionID string, token string) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return fmt.Errorf("%w: %s", classeserrors.ErrInvalidID, sessionID)
	}

	filter := bson.M{
		"_id":                objectID,
		"reservation_tokens": token,
	}
	update := bson.M{
		"$inc":  bson.M{"reserved": -1},
		"$pull": bson.M{"reservation_tokens": token},
	}

	err = r.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return classeserrors.ErrAlreadyReleased
	}
	return fmt.Errorf("failed to release seat: %w", err)
}

func (r *mongoSessionRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}
