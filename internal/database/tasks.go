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

// ErrTaskNotFound is returned when a task id resolves to no document
var ErrTaskNotFound = errors.New("task not found")

// TaskPageSize is the fixed page size for task listings
const TaskPageSize = 10

// TaskDatabase defines task-related database operations
type TaskDatabase interface {
	// Create a new task in PENDING state with zeroed counters
	CreateTask(ctx context.Context, fileName string) (*model.Task, error)

	// Get a task by ID
	GetTask(ctx context.Context, id primitive.ObjectID) (*model.Task, error)

	// Get a task together with its persisted rows and validation errors
	GetTaskDetail(ctx context.Context, id primitive.ObjectID) (*model.TaskDetail, error)

	// List tasks newest first, one fixed-size page at a time (page is 1-based)
	ListTasks(ctx context.Context, page int) ([]model.Task, error)

	// Update the task status
	UpdateTaskStatus(ctx context.Context, id primitive.ObjectID, status model.TaskStatus) error

	// Update a subset of the task's row counters in one atomic write
	UpdateTaskCounts(ctx context.Context, id primitive.ObjectID, counts model.TaskCounts) error

	// Delete the task and cascade to its rows and errors; returns the number
	// of deleted records and errors
	DeleteTask(ctx context.Context, id primitive.ObjectID) (int64, int64, error)
}

// CreateTask creates a new task in the database
func (m *mongoDB) CreateTask(ctx context.Context, fileName string) (*model.Task, error) {
	now := time.Now()
	task := &model.Task{
		ID:        primitive.NewObjectID(),
		Status:    model.TaskPending,
		FileName:  fileName,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := m.tasksCol.InsertOne(ctx, task)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create task")
		return nil, err
	}

	log.Debug().Str("taskId", task.ID.Hex()).Str("fileName", fileName).Msg("Created new task")
	return task, nil
}

// GetTask retrieves a task by its ID
func (m *mongoDB) GetTask(ctx context.Context, id primitive.ObjectID) (*model.Task, error) {
	var task model.Task
	err := m.tasksCol.FindOne(ctx, bson.M{"_id": id}).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTaskNotFound
		}
		log.Error().Err(err).Str("taskId", id.Hex()).Msg("Failed to get task")
		return nil, err
	}

	return &task, nil
}

// GetTaskDetail retrieves a task with its owned records and errors
func (m *mongoDB) GetTaskDetail(ctx context.Context, id primitive.ObjectID) (*model.TaskDetail, error) {
	task, err := m.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	records := []model.PersonRecord{}
	cursor, err := m.recordsCol.Find(ctx, bson.M{"task_id": id})
	if err != nil {
		return nil, err
	}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}

	verrs, err := m.ListValidationErrors(ctx, id)
	if err != nil {
		return nil, err
	}

	return &model.TaskDetail{
		Task:        *task,
		Records:     records,
		Errors:      verrs,
		RecordCount: int64(len(records)),
		ErrorCount:  int64(len(verrs)),
	}, nil
}

// ListTasks returns one page of tasks, newest first
func (m *mongoDB) ListTasks(ctx context.Context, page int) ([]model.Task, error) {
	if page < 1 {
		page = 1
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * TaskPageSize)).
		SetLimit(int64(TaskPageSize))

	cursor, err := m.tasksCol.Find(ctx, bson.M{}, opts)
	if err != nil {
		log.Error().Err(err).Int("page", page).Msg("Failed to list tasks")
		return nil, err
	}

	tasks := []model.Task{}
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, err
	}

	return tasks, nil
}

// activeTaskStatuses are the states a task may still transition out of.
// Terminal statuses are write-once.
var activeTaskStatuses = bson.A{string(model.TaskPending), string(model.TaskProcessing)}

// taskTransitionFilter matches the task only while it is still active, so a
// racing redelivery can never demote a settled task
func taskTransitionFilter(id primitive.ObjectID) bson.M {
	return bson.M{
		"_id":    id,
		"status": bson.M{"$in": activeTaskStatuses},
	}
}

// UpdateTaskStatus updates the status of a task. The first terminal writer
// wins: once a task settles, later status writes from duplicate deliveries
// are ignored.
func (m *mongoDB) UpdateTaskStatus(ctx context.Context, id primitive.ObjectID, status model.TaskStatus) error {
	result, err := m.tasksCol.UpdateOne(
		ctx,
		taskTransitionFilter(id),
		bson.M{"$set": bson.M{
			"status":     status,
			"updated_at": time.Now(),
		}},
	)
	if err != nil {
		log.Error().Err(err).Str("taskId", id.Hex()).Str("status", string(status)).Msg("Failed to update task status")
		return err
	}

	if result.MatchedCount == 0 {
		var current model.Task
		if ferr := m.tasksCol.FindOne(ctx, bson.M{"_id": id}).Decode(&current); ferr != nil {
			return ErrTaskNotFound
		}
		log.Debug().
			Str("taskId", id.Hex()).
			Str("current", string(current.Status)).
			Str("requested", string(status)).
			Msg("Ignoring status write to a settled task")
		return nil
	}

	return nil
}

// UpdateTaskCounts applies a partial counter update as a single $set so
// readers never observe a torn write
func (m *mongoDB) UpdateTaskCounts(ctx context.Context, id primitive.ObjectID, counts model.TaskCounts) error {
	set := bson.M{"updated_at": time.Now()}
	if counts.TotalRows != nil {
		set["total_rows"] = *counts.TotalRows
	}
	if counts.ValidatedRows != nil {
		set["validated_rows"] = *counts.ValidatedRows
	}
	if counts.ErrorRows != nil {
		set["error_rows"] = *counts.ErrorRows
	}
	if counts.SavedRows != nil {
		set["saved_rows"] = *counts.SavedRows
	}

	result, err := m.tasksCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		log.Error().Err(err).Str("taskId", id.Hex()).Msg("Failed to update task counts")
		return err
	}

	if result.MatchedCount == 0 {
		return ErrTaskNotFound
	}

	return nil
}

// DeleteTask removes the task and everything it owns
func (m *mongoDB) DeleteTask(ctx context.Context, id primitive.ObjectID) (int64, int64, error) {
	deletedRecords, err := m.DeleteRecordsByTask(ctx, id)
	if err != nil {
		return 0, 0, err
	}

	deletedErrors, err := m.DeleteErrorsByTask(ctx, id)
	if err != nil {
		return deletedRecords, 0, err
	}

	taskResult, err := m.tasksCol.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return deletedRecords, deletedErrors, err
	}
	if taskResult.DeletedCount == 0 {
		return deletedRecords, deletedErrors, ErrTaskNotFound
	}

	log.Info().
		Str("taskId", id.Hex()).
		Int64("deletedRecords", deletedRecords).
		Int64("deletedErrors", deletedErrors).
		Msg("Deleted task")

	return deletedRecords, deletedErrors, nil
}
