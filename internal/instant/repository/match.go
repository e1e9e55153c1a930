package repository

import (
	"context"
	"fmt"
	"time"

	"tutordesk/pkg/config"
	"tutordesk/pkg/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	MatchCollectionName = "session_matches"
)

// MatchRepository stores the audit trail of accepted matches.
type MatchRepository interface {
	Create(ctx context.Context, match *model.SessionMatch) error
}

type mongoMatchRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoMatchRepository(cfg *config.Config) MatchRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoMatchRepository{
		cfg:        cfg,
		collection: db.Collection(MatchCollectionName),
	}
}

func (r *mongoMatchRepository) Create(ctx context.Context, match *model.SessionMatch) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	match.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	result, err := r.collection.InsertOne(ctx, match)
	if err != nil {
		return fmt.Errorf("failed to record session match: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		match.ID = oid.Hex()
	}
	return nil
}
