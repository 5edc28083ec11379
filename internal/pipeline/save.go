package pipeline

import (
	"context"
	"fmt"

	"ingest/internal/model"
	"ingest/internal/ws"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RecordStore is the slice of the database the persister needs
type RecordStore interface {
	InsertRecords(ctx context.Context, records []model.PersonRecord) error
	DeleteRecordsByTask(ctx context.Context, taskID primitive.ObjectID) (int64, error)
}

// RowPersister writes validated rows in fixed-size batches, bounding peak
// memory and statement count. A batch failure is fatal to the job.
type RowPersister struct {
	store       RecordStore
	broadcaster ws.Broadcaster
	batchSize   int
}

// NewRowPersister creates a persister writing batchSize rows per statement
func NewRowPersister(store RecordStore, broadcaster ws.Broadcaster, batchSize int) *RowPersister {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &RowPersister{
		store:       store,
		broadcaster: broadcaster,
		batchSize:   batchSize,
	}
}

// Run persists the validated rows and returns the count actually saved.
// Delivery is at-least-once, so the task's rows are cleared once up front:
// a redelivered job then converges to the same end state instead of
// double-inserting. The heartbeat must be renewed after every batch; this
// phase runs long enough to trip stall detection without it.
func (p *RowPersister) Run(ctx context.Context, taskID primitive.ObjectID,
	records []model.PersonRecord, heartbeat func(), onBatch func(saved, total int)) (int, error) {

	removed, err := p.store.DeleteRecordsByTask(ctx, taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear existing rows: %w", err)
	}
	if removed > 0 {
		log.Warn().
			Str("taskId", taskID.Hex()).
			Int64("removed", removed).
			Msg("Cleared rows from a previous delivery before saving")
	}

	if len(records) == 0 {
		return 0, nil
	}

	saved := 0
	for _, batch := range SplitIntoBatches(records, p.batchSize) {
		if err := ctx.Err(); err != nil {
			return saved, err
		}

		if err := p.store.InsertRecords(ctx, batch); err != nil {
			return saved, fmt.Errorf("batch insert failed after %d rows: %w", saved, err)
		}

		saved += len(batch)

		if heartbeat != nil {
			heartbeat()
		}

		percent := float64(saved) / float64(len(records)) * 100
		savedCount := saved
		p.broadcaster.PublishProgress(model.Progress{
			TaskID:    taskID.Hex(),
			Phase:     model.PhaseSaving,
			Percent:   &percent,
			SavedRows: &savedCount,
		})

		if onBatch != nil {
			onBatch(saved, len(records))
		}
	}

	return saved, nil
}
