package database

import (
	"context"
	"ingest/internal/model"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrorDatabase defines validation-error database operations
type ErrorDatabase interface {
	// Insert the task's validation errors in bulk at the end of validation
	InsertValidationErrors(ctx context.Context, errors []model.ValidationError) error

	// List a task's validation errors ordered by row number
	ListValidationErrors(ctx context.Context, taskID primitive.ObjectID) ([]model.ValidationError, error)

	// Remove every validation error owned by the task; returns the count removed
	DeleteErrorsByTask(ctx context.Context, taskID primitive.ObjectID) (int64, error)
}

// InsertValidationErrors stores the offending rows for operator review
func (m *mongoDB) InsertValidationErrors(ctx context.Context, verrs []model.ValidationError) error {
	if len(verrs) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(verrs))
	for _, verr := range verrs {
		docs = append(docs, verr)
	}

	_, err := m.errorsCol.InsertMany(ctx, docs)
	if err != nil {
		log.Error().Err(err).Int("count", len(verrs)).Msg("Failed to insert validation errors")
		return err
	}

	return nil
}

// ListValidationErrors returns a task's errors ordered by row number
func (m *mongoDB) ListValidationErrors(ctx context.Context, taskID primitive.ObjectID) ([]model.ValidationError, error) {
	opts := options.Find().SetSort(bson.D{{Key: "row_number", Value: 1}})

	cursor, err := m.errorsCol.Find(ctx, bson.M{"task_id": taskID}, opts)
	if err != nil {
		log.Error().Err(err).Str("taskId", taskID.Hex()).Msg("Failed to list validation errors")
		return nil, err
	}

	verrs := []model.ValidationError{}
	if err := cursor.All(ctx, &verrs); err != nil {
		return nil, err
	}

	return verrs, nil
}

// DeleteErrorsByTask removes the task's validation errors
func (m *mongoDB) DeleteErrorsByTask(ctx context.Context, taskID primitive.ObjectID) (int64, error) {
	result, err := m.errorsCol.DeleteMany(ctx, bson.M{"task_id": taskID})
	if err != nil {
		log.Error().Err(err).Str("taskId", taskID.Hex()).Msg("Failed to delete validation errors")
		return 0, err
	}

	return result.DeletedCount, nil
}
