package database

import (
	"context"
	"ingest/internal/config"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Database interface {
	Health() error
	Disconnect(ctx context.Context) error

	TaskDatabase
	RecordDatabase
	ErrorDatabase
	JobDatabase
}

type mongoDB struct {
	client *mongo.Client
	db     *mongo.Database

	tasksCol   *mongo.Collection
	recordsCol *mongo.Collection
	errorsCol  *mongo.Collection
	jobsCol    *mongo.Collection
}

func New(config *config.Config) (Database, error) {
	clientOptions := options.Client().ApplyURI(config.MongoDB.URI)
	if config.MongoDB.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: config.MongoDB.Username,
			Password: config.MongoDB.Password,
		})
	}

	client, err := mongo.Connect(context.TODO(), clientOptions)
	if err != nil {
		return nil, err
	}

	db := client.Database(config.MongoDB.DB)

	tasksCol := db.Collection("tasks")
	taskIndexModels := []mongo.IndexModel{
		{
			// Index for status-based queries
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index(),
		},
		{
			// Index for sorting by creation date (newest first listing)
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index(),
		},
	}

	recordsCol := db.Collection("person_records")
	errorsCol := db.Collection("validation_errors")
	ownedIndexModels := []mongo.IndexModel{
		{
			// Index for task-scoped queries and cascading deletes
			Keys:    bson.D{{Key: "task_id", Value: 1}},
			Options: options.Index(),
		},
	}

	jobsCol := db.Collection("jobs")
	jobIndexModels := []mongo.IndexModel{
		{
			// Partial unique index on dedup_id scoped to unfinished jobs:
			// re-enqueuing an active task hits a duplicate key error, while a
			// finished task could in principle be ingested again.
			Keys: bson.D{{Key: "dedup_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
				"status": bson.M{"$in": bson.A{"queued", "processing", "retrying"}},
			}),
		},
		{
			// Index for the stall reaper's status + heartbeat scan
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "heartbeat_at", Value: 1}},
			Options: options.Index(),
		},
		{
			// TTL index to bound retention of finished job records
			Keys:    bson.D{{Key: "completed_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(60 * 60 * 24 * 7),
		},
	}

	_, err = tasksCol.Indexes().CreateMany(context.Background(), taskIndexModels)
	if err != nil {
		log.Warn().Err(err).Str("Collection", "Tasks").Msg("Error creating indexes")
	}

	for _, col := range []*mongo.Collection{recordsCol, errorsCol} {
		_, err = col.Indexes().CreateMany(context.Background(), ownedIndexModels)
		if err != nil {
			log.Warn().Err(err).Str("Collection", col.Name()).Msg("Error creating indexes")
		}
	}

	_, err = jobsCol.Indexes().CreateMany(context.Background(), jobIndexModels)
	if err != nil {
		log.Warn().Err(err).Str("Collection", "Jobs").Msg("Error creating indexes")
	}

	return &mongoDB{
		client:     client,
		db:         db,
		tasksCol:   tasksCol,
		recordsCol: recordsCol,
		errorsCol:  errorsCol,
		jobsCol:    jobsCol,
	}, nil
}

// Health implements Database interface
func (m *mongoDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	err := m.client.Ping(ctx, nil)
	if err != nil {
		log.Error().Msgf("Database health error: %v", err)
		return err
	}

	return nil
}

func (m *mongoDB) Disconnect(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
