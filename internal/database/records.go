package database

import (
	"context"
	"ingest/internal/model"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RecordDatabase defines persisted-row database operations
type RecordDatabase interface {
	// Insert one batch of validated rows
	InsertRecords(ctx context.Context, records []model.PersonRecord) error

	// Remove every persisted row owned by the task; returns the count removed
	DeleteRecordsByTask(ctx context.Context, taskID primitive.ObjectID) (int64, error)
}

// InsertRecords writes one batch of validated rows
func (m *mongoDB) InsertRecords(ctx context.Context, records []model.PersonRecord) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(records))
	for _, record := range records {
		docs = append(docs, record)
	}

	_, err := m.recordsCol.InsertMany(ctx, docs)
	if err != nil {
		log.Error().Err(err).Int("count", len(records)).Msg("Failed to insert record batch")
		return err
	}

	return nil
}

// DeleteRecordsByTask removes the task's rows. Running it at the start of the
// saving phase makes a redelivered job converge instead of double-inserting.
func (m *mongoDB) DeleteRecordsByTask(ctx context.Context, taskID primitive.ObjectID) (int64, error) {
	result, err := m.recordsCol.DeleteMany(ctx, bson.M{"task_id": taskID})
	if err != nil {
		log.Error().Err(err).Str("taskId", taskID.Hex()).Msg("Failed to delete records")
		return 0, err
	}

	return result.DeletedCount, nil
}
