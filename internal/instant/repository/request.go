package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	instanterrors "tutordesk/internal/instant/errors"
	"tutordesk/pkg/config"
	"tutordesk/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	RequestCollectionName = "instant_requests"
)

// RequestRepository persists instant requests. TryAccept and
// CancelPending are guarded single writes: the pending-status condition
// rides in the filter, so among concurrent resolvers the database picks
// exactly one winner.
type RequestRepository interface {
	Create(ctx context.Context, request *model.InstantRequest) error
	FindByID(ctx context.Context, id string) (*model.InstantRequest, error)
	ListPending(ctx context.Context) ([]*model.InstantRequest, error)
	TryAccept(ctx context.Context, id string, tutorID string) (*model.InstantRequest, error)
	CancelPending(ctx context.Context, id string, requesterID string) (*model.InstantRequest, error)
}

type mongoRequestRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoRequestRepository(cfg *config.Config) RequestRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoRequestRepository{
		cfg:        cfg,
		collection: db.Collection(RequestCollectionName),
	}
}

func (r *mongoRequestRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithTimeout(ctx, time.Until(deadline))
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *mongoRequestRepository) Create(ctx context.Context, request *model.InstantRequest) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	request.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	result, err := r.collection.InsertOne(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to create instant request: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		request.ID = oid.Hex()
	}
	return nil
}

func (r *mongoRequestRepository) FindByID(ctx context.Context, id string) (*model.InstantRequest, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", instanterrors.ErrInvalidID, id)
	}

	var request model.InstantRequest
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&request)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, instanterrors.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to find instant request: %w", err)
	}

	return &request, nil
}

func (r *mongoRequestRepository) ListPending(ctx context.Context) ([]*model.InstantRequest, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"status": model.RequestPending}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	defer cursor.Close(ctx)

	var requests []*model.InstantRequest
	if err = cursor.All(ctx, &requests); err != nil {
		return nil, fmt.Errorf("failed to decode pending requests: %w", err)
	}

	return requests, nil
}

// TryAccept is the acceptance race in one write. The filter admits only
// a still-pending request, so of N concurrent tutors exactly one update
// matches; everyone else re-reads and learns why they lost.
func (r *mongoRequestRepository) TryAccept(ctx context.Context, id string, tutorID string) (*model.InstantRequest, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", instanterrors.ErrInvalidID, id)
	}

	filter := bson.M{"_id": objectID, "status": model.RequestPending}
	update := bson.M{"$set": bson.M{
		"status":      model.RequestAccepted,
		"accepted_by": tutorID,
	}}

	var request model.InstantRequest
	err = r.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&request)
	if err == nil {
		return &request, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to accept instant request: %w", err)
	}

	return nil, r.classifyMiss(ctx, objectID, "")
}

// CancelPending cancels the caller's own pending request. Ownership is
// part of the guard, and a miss is re-read to tell not-found, not-owner
// and already-resolved apart.
func (r *mongoRequestRepository) CancelPending(ctx context.Context, id string, requesterID string) (*model.InstantRequest, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", instanterrors.ErrInvalidID, id)
	}

	filter := bson.M{
		"_id":          objectID,
		"requester_id": requesterID,
		"status":       model.RequestPending,
	}
	update := bson.M{"$set": bson.M{"status": model.RequestCancelled}}

	var request model.InstantRequest
	err = r.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&request)
	if err == nil {
		return &request, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to cancel instant request: %w", err)
	}

	return nil, r.classifyMiss(ctx, objectID, requesterID)
}

// classifyMiss re-reads a request after a guarded update matched
// nothing. requesterID is non-empty for ownership-guarded updates.
func (r *mongoRequestRepository) classifyMiss(ctx context.Context, objectID primitive.ObjectID, requesterID string) error {
	var request model.InstantRequest
	err := r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&request)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return instanterrors.ErrRequestNotFound
		}
		return fmt.Errorf("failed to inspect instant request after guarded miss: %w", err)
	}

	if requesterID != "" && request.RequesterID != requesterID {
		return instanterrors.ErrNotOwner
	}
	return instanterrors.ErrAlreadyResolved
}
