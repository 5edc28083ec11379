package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ingest/internal/blob"
	"ingest/internal/database"
	"ingest/internal/model"
	"ingest/internal/queue"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotSpreadsheet is returned when the uploaded file is not an xlsx upload
var ErrNotSpreadsheet = errors.New("file must be an XLSX file")

// ErrNoValidationErrors is returned when an error report is requested for a
// task with none
var ErrNoValidationErrors = errors.New("task has no validation errors")

// DeleteResult reports what a cascading task deletion removed
type DeleteResult struct {
	Success        bool   `json:"success"`
	DeletedRecords int64  `json:"deletedRecords"`
	DeletedErrors  int64  `json:"deletedErrors"`
	Message        string `json:"message"`
}

// TaskController handles the ingestion task lifecycle from the HTTP side
type TaskController interface {
	// Upload accepts a spreadsheet, creates the task and stores the blob
	// synchronously, then hands off enqueuing as an independent background
	// step. It returns as soon as the task is accepted.
	Upload(ctx context.Context, fileName, contentType string, data []byte) (*model.Task, error)

	// GetTasks lists one page of tasks, newest first
	GetTasks(ctx context.Context, page int) ([]model.Task, error)

	// GetTask returns a task with its rows, errors and counts
	GetTask(ctx context.Context, taskID string) (*model.TaskDetail, error)

	// DeleteTask cascades over the task's rows and errors
	DeleteTask(ctx context.Context, taskID string) (*DeleteResult, error)

	// BuildErrorReport generates a spreadsheet listing every validation error
	BuildErrorReport(ctx context.Context, taskID string) (string, []byte, error)

	// QueueStats snapshots job counts for diagnostics
	QueueStats(ctx context.Context) (*model.QueueStats, error)
}

type taskController struct {
	db    database.Database
	blobs blob.Store
	jobs  *queue.Queue
}

// NewTaskController creates the task controller
func NewTaskController(db database.Database, blobs blob.Store, jobs *queue.Queue) TaskController {
	return &taskController{
		db:    db,
		blobs: blobs,
		jobs:  jobs,
	}
}

// IsSpreadsheetUpload checks the declared type before any bytes are accepted
func IsSpreadsheetUpload(fileName, contentType string) bool {
	return strings.Contains(contentType, "spreadsheet") ||
		strings.HasSuffix(strings.ToLower(fileName), ".xlsx")
}

func (c *taskController) Upload(ctx context.Context, fileName, contentType string, data []byte) (*model.Task, error) {
	if !IsSpreadsheetUpload(fileName, contentType) {
		return nil, ErrNotSpreadsheet
	}

	task, err := c.db.CreateTask(ctx, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	key, err := c.blobs.Store(ctx, task.ID.Hex(), data)
	if err != nil {
		// No blob means nothing to process; resolve the task immediately
		c.db.UpdateTaskStatus(ctx, task.ID, model.TaskFailed)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	// Hand off enqueuing so a slow or failing queue cannot delay the
	// response. The background unit owns its own error boundary: a failed
	// enqueue must still resolve the task and free the orphaned blob.
	go c.enqueueTask(task.ID, key, fileName)

	log.Info().
		Str("taskId", task.ID.Hex()).
		Str("fileName", fileName).
		Int("size", len(data)).
		Msg("Upload accepted")

	return task, nil
}

// enqueueTask is the independent background hand-off after the response is
// sent. It has no caller to report to; failures are internal bookkeeping.
func (c *taskController) enqueueTask(taskID primitive.ObjectID, blobKey, fileName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := c.jobs.Enqueue(ctx, model.JobPayload{
		TaskID:   taskID.Hex(),
		BlobKey:  blobKey,
		FileName: fileName,
	})
	if err == nil {
		return
	}

	if errors.Is(err, queue.ErrDuplicateJob) {
		// A racing retry of the same task already admitted a job; this
		// enqueue is a deliberate no-op
		log.Warn().Str("taskId", taskID.Hex()).Msg("Job already queued for task, skipping enqueue")
		return
	}

	log.Error().Err(err).Str("taskId", taskID.Hex()).Msg("Enqueue failed after response was sent")

	if statusErr := c.db.UpdateTaskStatus(ctx, taskID, model.TaskFailed); statusErr != nil {
		log.Error().Err(statusErr).Str("taskId", taskID.Hex()).Msg("Failed to fail task after enqueue error")
	}
	if blobErr := c.blobs.Delete(ctx, blobKey); blobErr != nil {
		log.Error().Err(blobErr).Str("blobKey", blobKey).Msg("Failed to delete orphaned blob")
	}
}

func (c *taskController) GetTasks(ctx context.Context, page int) ([]model.Task, error) {
	return c.db.ListTasks(ctx, page)
}

func (c *taskController) GetTask(ctx context.Context, taskID string) (*model.TaskDetail, error) {
	id, err := primitive.ObjectIDFromHex(taskID)
	if err != nil {
		return nil, database.ErrTaskNotFound
	}

	return c.db.GetTaskDetail(ctx, id)
}

func (c *taskController) DeleteTask(ctx context.Context, taskID string) (*DeleteResult, error) {
	id, err := primitive.ObjectIDFromHex(taskID)
	if err != nil {
		return nil, database.ErrTaskNotFound
	}

	deletedRecords, deletedErrors, err := c.db.DeleteTask(ctx, id)
	if err != nil {
		return nil, err
	}

	return &DeleteResult{
		Success:        true,
		DeletedRecords: deletedRecords,
		DeletedErrors:  deletedErrors,
		Message: fmt.Sprintf("Task %s deleted successfully with %d records and %d errors",
			taskID, deletedRecords, deletedErrors),
	}, nil
}

func (c *taskController) QueueStats(ctx context.Context) (*model.QueueStats, error) {
	return c.jobs.Stats(ctx)
}
