package pipeline

import (
	"context"
	"fmt"

	"ingest/internal/blob"
	"ingest/internal/config"
	"ingest/internal/model"
	"ingest/internal/ws"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store is the slice of the database the coordinator needs
type Store interface {
	RecordStore

	GetTask(ctx context.Context, id primitive.ObjectID) (*model.Task, error)
	UpdateTaskStatus(ctx context.Context, id primitive.ObjectID, status model.TaskStatus) error
	UpdateTaskCounts(ctx context.Context, id primitive.ObjectID, counts model.TaskCounts) error
	InsertValidationErrors(ctx context.Context, errors []model.ValidationError) error
	DeleteErrorsByTask(ctx context.Context, taskID primitive.ObjectID) (int64, error)
	UpdateJobProgress(ctx context.Context, id primitive.ObjectID, progress int) error
}

// Overall job progress checkpoints per phase. Phase-local percentages go to
// subscribers; these go to the job record.
const (
	progressHeadersDone = 20
	progressValidating  = 20 // 20-50 across the validation phase
	progressSaving      = 50 // 50-100 across the saving phase
)

// Coordinator drives one job through the processing state machine:
// LOADING_WORKBOOK -> VALIDATING_HEADERS -> VALIDATING -> SAVING -> terminal.
// It owns the failure path: any error resolves the task, frees the blob,
// broadcasts the outcome and propagates to the queue's retry policy.
type Coordinator struct {
	store       Store
	blobs       blob.Store
	broadcaster ws.Broadcaster
	validator   *RowValidator
	persister   *RowPersister
	cfg         config.IngestConfig
}

// NewCoordinator wires the processing stages
func NewCoordinator(store Store, blobs blob.Store, broadcaster ws.Broadcaster, cfg config.IngestConfig) *Coordinator {
	return &Coordinator{
		store:       store,
		blobs:       blobs,
		broadcaster: broadcaster,
		validator:   NewRowValidator(broadcaster, cfg.ProgressInterval),
		persister:   NewRowPersister(store, broadcaster, cfg.BatchSize),
		cfg:         cfg,
	}
}

// Process handles one delivered job. The payload has already been validated
// against its schema at the queue entry point.
func (c *Coordinator) Process(ctx context.Context, job *model.Job, heartbeat func()) error {
	taskID, err := primitive.ObjectIDFromHex(job.Payload.TaskID)
	if err != nil {
		return fmt.Errorf("malformed task id %q: %w", job.Payload.TaskID, err)
	}

	logger := log.With().
		Str("jobId", job.ID.Hex()).
		Str("taskId", taskID.Hex()).
		Str("fileName", job.Payload.FileName).
		Logger()

	if err := c.run(ctx, job, taskID, heartbeat); err != nil {
		logger.Error().Err(err).Msg("Task processing failed")
		c.fail(taskID, job.Payload.BlobKey, err)
		return err
	}

	return nil
}

func (c *Coordinator) run(ctx context.Context, job *model.Job, taskID primitive.ObjectID, heartbeat func()) error {
	if err := c.store.UpdateTaskStatus(ctx, taskID, model.TaskProcessing); err != nil {
		return fmt.Errorf("failed to mark task processing: %w", err)
	}

	// Phase 1: load the workbook from the blob store
	c.broadcaster.PublishProgress(model.Progress{
		TaskID: taskID.Hex(),
		Phase:  model.PhaseLoadingWorkbook,
	})

	data, err := c.blobs.Get(ctx, job.Payload.BlobKey)
	if err != nil {
		return fmt.Errorf("failed to load upload %q: %w", job.Payload.BlobKey, err)
	}

	headerRow, rows, err := ParseWorkbook(data)
	if err != nil {
		return err
	}

	// Phase 2: resolve required columns, fail-fast on any missing
	c.broadcaster.PublishProgress(model.Progress{
		TaskID: taskID.Hex(),
		Phase:  model.PhaseValidatingHeaders,
	})

	columns, err := ResolveHeaders(headerRow, c.cfg.RequiredColumns)
	if err != nil {
		return err
	}
	c.store.UpdateJobProgress(ctx, job.ID, progressHeadersDone)

	// Phase 3: per-row validation; row errors are data, not faults
	result := c.validator.Run(taskID, rows, columns, func(processed, total int) {
		heartbeat()
		c.store.UpdateJobProgress(ctx, job.ID, overall(progressValidating, progressSaving, processed, total))
	})

	totalRows := result.TotalRows
	if err := c.store.UpdateTaskCounts(ctx, taskID, model.TaskCounts{TotalRows: &totalRows}); err != nil {
		return fmt.Errorf("failed to record total rows: %w", err)
	}

	// Phase 4: persist validated rows in batches
	saved, err := c.persister.Run(ctx, taskID, result.Valid, heartbeat, func(done, total int) {
		c.store.UpdateJobProgress(ctx, job.ID, overall(progressSaving, 100, done, total))
	})
	if err != nil {
		return err
	}

	// Finalization: errors in bulk, final counters, terminal status. Like the
	// row sweep, clearing first keeps a redelivered job from duplicating
	// errors written by an interrupted attempt.
	if _, err := c.store.DeleteErrorsByTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to clear existing validation errors: %w", err)
	}
	if err := c.store.InsertValidationErrors(ctx, result.Errors); err != nil {
		return fmt.Errorf("failed to persist validation errors: %w", err)
	}

	finalStatus := model.TaskCompleted
	if len(result.Errors) > 0 {
		finalStatus = model.TaskHasErrors
	}

	validated := len(result.Valid)
	errorRows := len(result.Errors)
	if err := c.store.UpdateTaskCounts(ctx, taskID, model.TaskCounts{
		TotalRows:     &totalRows,
		ValidatedRows: &validated,
		ErrorRows:     &errorRows,
		SavedRows:     &saved,
	}); err != nil {
		return fmt.Errorf("failed to record final counts: %w", err)
	}
	if err := c.store.UpdateTaskStatus(ctx, taskID, finalStatus); err != nil {
		return fmt.Errorf("failed to record final status: %w", err)
	}
	c.store.UpdateJobProgress(ctx, job.ID, 100)

	// Blob cleanup is unconditional on every terminal transition
	if err := c.blobs.Delete(ctx, job.Payload.BlobKey); err != nil {
		log.Warn().Err(err).Str("blobKey", job.Payload.BlobKey).Msg("Failed to delete blob after completion")
	}

	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load final task snapshot: %w", err)
	}
	c.broadcaster.PublishCompleted(*task)

	log.Info().
		Str("taskId", taskID.Hex()).
		Str("status", string(finalStatus)).
		Int("totalRows", totalRows).
		Int("validatedRows", validated).
		Int("errorRows", errorRows).
		Int("savedRows", saved).
		Msg("Task processing finished")

	return nil
}

// fail resolves the task, frees the blob and broadcasts the failure. It runs
// on a background context so a cancelled or timed-out job context cannot
// block the bookkeeping.
func (c *Coordinator) fail(taskID primitive.ObjectID, blobKey string, cause error) {
	ctx := context.Background()

	if err := c.store.UpdateTaskStatus(ctx, taskID, model.TaskFailed); err != nil {
		log.Error().Err(err).Str("taskId", taskID.Hex()).Msg("Failed to mark task failed")
	}

	if err := c.blobs.Delete(ctx, blobKey); err != nil {
		log.Error().Err(err).Str("blobKey", blobKey).Msg("Failed to delete blob after failure")
	}

	c.broadcaster.PublishFailed(taskID.Hex(), cause.Error())
}

// overall maps phase-local completion onto the job's [from, to) progress band
func overall(from, to, done, total int) int {
	if total <= 0 {
		return to
	}
	return from + (to-from)*done/total
}
