package database

import (
	"context"
	"errors"
	"ingest/internal/model"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrDuplicateJob is returned when a job with the same dedup id is already
// queued or active
var ErrDuplicateJob = errors.New("job already queued for this task")

// ErrJobNotFound is returned when a job id resolves to no document
var ErrJobNotFound = errors.New("job not found")

// JobDatabase defines job-record database operations
type JobDatabase interface {
	// Create a new job record; rejects duplicates by dedup id
	CreateJob(ctx context.Context, job *model.Job) error

	// Get a job by ID
	GetJob(ctx context.Context, id primitive.ObjectID) (*model.Job, error)

	// Mark a job processing and bump its attempt counter and heartbeat
	MarkJobStarted(ctx context.Context, id primitive.ObjectID) (*model.Job, error)

	// Renew the job's liveness timestamp
	HeartbeatJob(ctx context.Context, id primitive.ObjectID) error

	// Record overall job progress (0-100)
	UpdateJobProgress(ctx context.Context, id primitive.ObjectID, progress int) error

	// Mark a job retrying after a failed attempt
	MarkJobRetrying(ctx context.Context, id primitive.ObjectID, errMsg string) error

	// Mark a job finished, recording completion time for TTL-bounded retention
	MarkJobFinished(ctx context.Context, id primitive.ObjectID, status model.JobStatus, errMsg string) error

	// Find processing jobs whose heartbeat is older than the cutoff
	FindStalledJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error)

	// Count jobs grouped into queue statistics
	GetQueueStats(ctx context.Context) (*model.QueueStats, error)
}

// CreateJob inserts a new job record. The partial unique index on dedup_id
// turns a concurrent duplicate into ErrDuplicateJob.
func (m *mongoDB) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID.IsZero() {
		job.ID = primitive.NewObjectID()
	}

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.HeartbeatAt = now
	if job.Status == "" {
		job.Status = model.JobQueued
	}
	if job.ErrorList == nil {
		job.ErrorList = []string{}
	}

	_, err := m.jobsCol.InsertOne(ctx, job)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateJob
		}
		log.Error().Err(err).Str("jobId", job.ID.Hex()).Msg("Failed to create job")
		return err
	}

	log.Debug().Str("jobId", job.ID.Hex()).Str("dedupId", job.DedupID).Msg("Created new job")
	return nil
}

// GetJob retrieves a job by its ID
func (m *mongoDB) GetJob(ctx context.Context, id primitive.ObjectID) (*model.Job, error) {
	var job model.Job
	err := m.jobsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrJobNotFound
		}
		log.Error().Err(err).Str("jobId", id.Hex()).Msg("Failed to get job")
		return nil, err
	}

	return &job, nil
}

// MarkJobStarted transitions the job to processing and returns the updated
// record, with the attempt counter already incremented
func (m *mongoDB) MarkJobStarted(ctx context.Context, id primitive.ObjectID) (*model.Job, error) {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"status":       model.JobProcessing,
			"heartbeat_at": now,
			"updated_at":   now,
		},
		"$inc": bson.M{"attempts": 1},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	result := m.jobsCol.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts)

	var job model.Job
	if err := result.Decode(&job); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	return &job, nil
}

// HeartbeatJob renews the worker-side liveness signal
func (m *mongoDB) HeartbeatJob(ctx context.Context, id primitive.ObjectID) error {
	_, err := m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"heartbeat_at": time.Now()},
	})
	return err
}

// UpdateJobProgress records overall job progress
func (m *mongoDB) UpdateJobProgress(ctx context.Context, id primitive.ObjectID, progress int) error {
	_, err := m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"progress":   progress,
			"updated_at": time.Now(),
		},
	})
	return err
}

// MarkJobRetrying parks the job until its backoff delay elapses
func (m *mongoDB) MarkJobRetrying(ctx context.Context, id primitive.ObjectID, errMsg string) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"status":       model.JobRetrying,
			"heartbeat_at": now,
			"updated_at":   now,
		},
	}
	if errMsg != "" {
		update["$push"] = bson.M{"error_list": errMsg}
	}

	_, err := m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// MarkJobFinished records the terminal outcome of a job
func (m *mongoDB) MarkJobFinished(ctx context.Context, id primitive.ObjectID, status model.JobStatus, errMsg string) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"status":       status,
			"updated_at":   now,
			"completed_at": now,
		},
	}
	if errMsg != "" {
		update["$push"] = bson.M{"error_list": errMsg}
	}

	_, err := m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		log.Error().Err(err).Str("jobId", id.Hex()).Str("status", string(status)).Msg("Failed to finish job")
	}
	return err
}

// FindStalledJobs returns processing jobs whose worker stopped heartbeating
func (m *mongoDB) FindStalledJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error) {
	cursor, err := m.jobsCol.Find(ctx, bson.M{
		"status":       model.JobProcessing,
		"heartbeat_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return nil, err
	}

	jobs := []model.Job{}
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}

	return jobs, nil
}

// GetQueueStats counts jobs by state for diagnostics
func (m *mongoDB) GetQueueStats(ctx context.Context) (*model.QueueStats, error) {
	stats := &model.QueueStats{}

	counts := []struct {
		statuses []model.JobStatus
		dest     *int64
	}{
		{[]model.JobStatus{model.JobQueued, model.JobRetrying}, &stats.Waiting},
		{[]model.JobStatus{model.JobProcessing}, &stats.Active},
		{[]model.JobStatus{model.JobCompleted}, &stats.Completed},
		{[]model.JobStatus{model.JobFailed}, &stats.Failed},
	}

	for _, c := range counts {
		n, err := m.jobsCol.CountDocuments(ctx, bson.M{"status": bson.M{"$in": c.statuses}})
		if err != nil {
			return nil, err
		}
		*c.dest = n
	}

	return stats, nil
}
