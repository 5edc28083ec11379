package pipeline

import (
	"context"
	"testing"

	"ingest/internal/blob"
	"ingest/internal/config"
	"ingest/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeBroadcaster records published events for assertion
type fakeBroadcaster struct {
	progress  []model.Progress
	completed []model.Task
	failures  []failedEvent
}

type failedEvent struct {
	TaskID string
	Error  string
}

func (b *fakeBroadcaster) PublishProgress(p model.Progress) { b.progress = append(b.progress, p) }
func (b *fakeBroadcaster) PublishCompleted(task model.Task) { b.completed = append(b.completed, task) }
func (b *fakeBroadcaster) PublishFailed(taskID, errMsg string) {
	b.failures = append(b.failures, failedEvent{TaskID: taskID, Error: errMsg})
}

func (b *fakeBroadcaster) phases() []model.Phase {
	phases := make([]model.Phase, 0, len(b.progress))
	for _, p := range b.progress {
		phases = append(phases, p.Phase)
	}
	return phases
}

// fakeStore is an in-memory stand-in for the database slice the pipeline uses
type fakeStore struct {
	insertBatches       [][]model.PersonRecord
	insertedErrors      []model.ValidationError
	statusLog           []model.TaskStatus
	jobProgress         []int
	existingRecords     int64
	deleteRecordCalls   int
	deletedBeforeInsert bool
	insertErrAfter      int
	insertErr           error

	totalRows     int
	validatedRows int
	errorRows     int
	savedRows     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (s *fakeStore) InsertRecords(ctx context.Context, records []model.PersonRecord) error {
	if s.insertErr != nil && len(s.insertBatches) >= s.insertErrAfter {
		return s.insertErr
	}
	s.insertBatches = append(s.insertBatches, records)
	return nil
}

func (s *fakeStore) DeleteRecordsByTask(ctx context.Context, taskID primitive.ObjectID) (int64, error) {
	s.deleteRecordCalls++
	if len(s.insertBatches) == 0 {
		s.deletedBeforeInsert = true
	}
	removed := s.existingRecords
	s.existingRecords = 0
	return removed, nil
}

func (s *fakeStore) GetTask(ctx context.Context, id primitive.ObjectID) (*model.Task, error) {
	status := model.TaskPending
	if len(s.statusLog) > 0 {
		status = s.statusLog[len(s.statusLog)-1]
	}
	return &model.Task{
		ID:            id,
		Status:        status,
		TotalRows:     s.totalRows,
		ValidatedRows: s.validatedRows,
		ErrorRows:     s.errorRows,
		SavedRows:     s.savedRows,
	}, nil
}

func (s *fakeStore) UpdateTaskStatus(ctx context.Context, id primitive.ObjectID, status model.TaskStatus) error {
	// First terminal writer wins, like the guarded update in the real store
	if len(s.statusLog) > 0 && s.statusLog[len(s.statusLog)-1].IsTerminal() {
		return nil
	}
	s.statusLog = append(s.statusLog, status)
	return nil
}

func (s *fakeStore) UpdateTaskCounts(ctx context.Context, id primitive.ObjectID, counts model.TaskCounts) error {
	if counts.TotalRows != nil {
		s.totalRows = *counts.TotalRows
	}
	if counts.ValidatedRows != nil {
		s.validatedRows = *counts.ValidatedRows
	}
	if counts.ErrorRows != nil {
		s.errorRows = *counts.ErrorRows
	}
	if counts.SavedRows != nil {
		s.savedRows = *counts.SavedRows
	}
	return nil
}

func (s *fakeStore) InsertValidationErrors(ctx context.Context, errors []model.ValidationError) error {
	s.insertedErrors = append(s.insertedErrors, errors...)
	return nil
}

func (s *fakeStore) DeleteErrorsByTask(ctx context.Context, taskID primitive.ObjectID) (int64, error) {
	removed := int64(len(s.insertedErrors))
	s.insertedErrors = nil
	return removed, nil
}

func (s *fakeStore) UpdateJobProgress(ctx context.Context, id primitive.ObjectID, progress int) error {
	s.jobProgress = append(s.jobProgress, progress)
	return nil
}

// fakeBlobStore is an in-memory blob.Store
type fakeBlobStore struct {
	data    map[string][]byte
	deleted []string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{data: map[string][]byte{}}
}

func (s *fakeBlobStore) Store(ctx context.Context, taskID string, data []byte) (string, error) {
	key := blob.KeyForTask(taskID)
	s.data[key] = data
	return key, nil
}

func (s *fakeBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := s.data[key]
	if !ok {
		return nil, blob.ErrBlobNotFound
	}
	return data, nil
}

func (s *fakeBlobStore) Delete(ctx context.Context, key string) error {
	delete(s.data, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := s.data[key]
	return ok, nil
}

func (s *fakeBlobStore) Ping(ctx context.Context) error { return nil }
func (s *fakeBlobStore) Close() error                   { return nil }

func buildWorkbook(t *testing.T, header []string, rows [][]string) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func testIngestConfig() config.IngestConfig {
	return config.IngestConfig{
		BatchSize:        2,
		ProgressInterval: 2,
		RequiredColumns:  []string{"Name", "Gender", "Bio-ID"},
	}
}

func seedJob(t *testing.T, blobs *fakeBlobStore, workbook []byte) (*model.Job, primitive.ObjectID) {
	t.Helper()

	taskID := primitive.NewObjectID()
	key, err := blobs.Store(context.Background(), taskID.Hex(), workbook)
	require.NoError(t, err)

	return &model.Job{
		ID: primitive.NewObjectID(),
		Payload: model.JobPayload{
			TaskID:   taskID.Hex(),
			BlobKey:  key,
			FileName: "people.xlsx",
		},
	}, taskID
}

func TestCoordinatorProcess(t *testing.T) {
	noop := func() {}

	t.Run("Should complete a clean file", func(t *testing.T) {
		store := newFakeStore()
		blobs := newFakeBlobStore()
		b := &fakeBroadcaster{}

		workbook := buildWorkbook(t, []string{"Name", "Gender", "Bio-ID"}, [][]string{
			{"Alice", "F", "BIO-001"},
			{"Bob", "M", "BIO-002"},
			{"Carol", "F", "BIO-003"},
		})
		job, _ := seedJob(t, blobs, workbook)

		c := NewCoordinator(store, blobs, b, testIngestConfig())
		err := c.Process(context.Background(), job, noop)

		require.NoError(t, err)
		assert.Equal(t, []model.TaskStatus{model.TaskProcessing, model.TaskCompleted}, store.statusLog)
		assert.Equal(t, 3, store.totalRows)
		assert.Equal(t, 3, store.validatedRows)
		assert.Equal(t, 0, store.errorRows)
		assert.Equal(t, 3, store.savedRows)
		assert.Empty(t, store.insertedErrors)
	})

	t.Run("Should finish with HAS_ERRORS when some rows are invalid", func(t *testing.T) {
		store := newFakeStore()
		blobs := newFakeBlobStore()
		b := &fakeBroadcaster{}

		workbook := buildWorkbook(t, []string{"Name", "Gender", "Bio-ID"}, [][]string{
			{"Alice", "F", "BIO-001"},
			{"", "M", "BIO-002"},
			{"Carol", "F", ""},
		})
		job, _ := seedJob(t, blobs, workbook)

		c := NewCoordinator(store, blobs, b, testIngestConfig())
		err := c.Process(context.Background(), job, noop)

		require.NoError(t, err)
		assert.Equal(t, model.TaskHasErrors, store.statusLog[len(store.statusLog)-1])
		assert.Equal(t, 3, store.totalRows)
		assert.Equal(t, 1, store.validatedRows)
		assert.Equal(t, 2, store.errorRows)
		assert.Equal(t, 1, store.savedRows)
		require.Len(t, store.insertedErrors, 2)
		assert.Equal(t, 2, store.insertedErrors[0].RowNumber)
		assert.Equal(t, 3, store.insertedErrors[1].RowNumber)
	})

	t.Run("Should keep validated plus error rows equal to total", func(t *testing.T) {
		store := newFakeStore()
		blobs := newFakeBlobStore()
		b := &fakeBroadcaster{}

		workbook := buildWorkbook(t, []string{"Name", "Gender", "Bio-ID"}, [][]string{
			{"Alice", "F", "BIO-001"},
			{"", "", ""},
			{"Carol", "F", "BIO-003"},
			{"Dave", "M", ""},
		})
		job, _ := seedJob(t, blobs, workbook)

		c := NewCoordinator(store, blobs, b, testIngestConfig())
		require.NoError(t, c.Process(context.Background(), job, noop))

		assert.Equal(t, store.totalRows, store.validatedRows+store.errorRows)
		assert.Equal(t, store.validatedRows, store.savedRows)
	})

	t.Run("Should broadcast every phase in order and the completion snapshot", func(t *testing.T) {
		store := newFakeStore()
		blobs := newFakeBlobStore()
		b := &fakeBroadcaster{}

		workbook := buildWorkbook(t, []string{"Name", "Gender", "Bio-ID"}, [][]string{
			{"Alice", "F", "BIO-001"},
			{"Bob", "M", "BIO-002"},
		})
		job, taskID := seedJob(t, blobs, workbook)

		c := NewCoordinator(store, blobs, b, testIngestConfig())
		require.NoError(t, c.Process(context.Background(), job, noop))

		assert.Equal(t, []model.Phase{
			model.PhaseLoadingWorkbook,
			model.PhaseValidatingHeaders,
			model.PhaseValidating,
			model.PhaseSaving,
		}, b.phases())

		require.Len(t, b.completed, 1)
		assert.Equal(t, taskID, b.completed[0].ID)
		assert.Equal(t, model.TaskCompleted, b.completed[0].Status)
		assert.Equal(t, 2, b.completed[0].SavedRows)
		assert.Empty(t, b.failures)
	})

	t.Run("Should delete the blob on success", func(t *testing.T) {
		store := newFakeStore()
		blobs := newFakeBlobStore()
		b := &fakeBroadcaster{}

		workbook := buildWorkbook(t, []string{"Name", "Gender", "Bio-ID"}, [][]string{
			{"Alice", "F", "BIO-001"},
		})
		job, _ := seedJob(t, blobs, workbook)

		c := NewCoordinator(store, blobs, b, testIngestConfig())
		require.NoError(t, c.Process(context.Background(), job, noop))

		assert.Equal(t, []string{job.Payload.BlobKey}, blobs.deleted)
	})

	t.Run("Should fail the task when required columns are missing", func(t *testing.T) {
		store := newFakeStore()
		blobs := newFakeBlobStore()
		b := &fakeBroadcaster{}

		workbook := buildWorkbook(t, []string{"Name", "Age"}, [][]string{
			{"Alice", "30"},
		})
		job, taskID := seedJob(t, blobs, workbook)

		c := NewCoordinator(store, blobs, b, testIngestConfig())
		err := c.Process(context.Background(), job, noop)

		require.Error(t, err)
		var missingErr *MissingColumnError
		assert.ErrorAs(t, err, &missingErr)
		assert.Equal(t, model.TaskFailed, store.statusLog[len(store.statusLog)-1])
		assert.Empty(t, store.insertBatches)
		assert.Equal(t, []string{job.Payload.BlobKey}, blobs.deleted)

		require.Len(t, b.failures, 1)
		assert.Equal(t, taskID.Hex(), b.failures[0].TaskID)
		assert.Contains(t, b.failures[0].Error, "Gender")
	})

	t.Run("Should fail when the blob has expired", func(t *testing.T) {
		store := newFakeStore()
		blobs := newFakeBlobStore()
		b := &fakeBroadcaster{}

		taskID := primitive.NewObjectID()
		job := &model.Job{
			ID: primitive.NewObjectID(),
			Payload: model.JobPayload{
				TaskID:   taskID.Hex(),
				BlobKey:  blob.KeyForTask(taskID.Hex()),
				FileName: "people.xlsx",
			},
		}

		c := NewCoordinator(store, blobs, b, testIngestConfig())
		err := c.Process(context.Background(), job, noop)

		require.ErrorIs(t, err, blob.ErrBlobNotFound)
		assert.Equal(t, model.TaskFailed, store.statusLog[len(store.statusLog)-1])
		require.Len(t, b.failures, 1)
	})

	t.Run("Should fail on bytes that are not a workbook", func(t *testing.T) {
		store := newFakeStore()
		blobs := newFakeBlobStore()
		b := &fakeBroadcaster{}

		job, _ := seedJob(t, blobs, []byte("definitely not an xlsx"))

		c := NewCoordinator(store, blobs, b, testIngestConfig())
		err := c.Process(context.Background(), job, noop)

		require.Error(t, err)
		assert.Equal(t, model.TaskFailed, store.statusLog[len(store.statusLog)-1])
	})

	t.Run("Should complete a header-only file with zero rows", func(t *testing.T) {
		store := newFakeStore()
		blobs := newFakeBlobStore()
		b := &fakeBroadcaster{}

		workbook := buildWorkbook(t, []string{"Name", "Gender", "Bio-ID"}, nil)
		job, _ := seedJob(t, blobs, workbook)

		c := NewCoordinator(store, blobs, b, testIngestConfig())
		require.NoError(t, c.Process(context.Background(), job, noop))

		assert.Equal(t, model.TaskCompleted, store.statusLog[len(store.statusLog)-1])
		assert.Zero(t, store.totalRows)
		assert.Zero(t, store.savedRows)
	})

	t.Run("Should drive job progress to 100", func(t *testing.T) {
		store := newFakeStore()
		blobs := newFakeBlobStore()
		b := &fakeBroadcaster{}

		workbook := buildWorkbook(t, []string{"Name", "Gender", "Bio-ID"}, [][]string{
			{"Alice", "F", "BIO-001"},
			{"Bob", "M", "BIO-002"},
			{"Carol", "F", "BIO-003"},
		})
		job, _ := seedJob(t, blobs, workbook)

		c := NewCoordinator(store, blobs, b, testIngestConfig())
		require.NoError(t, c.Process(context.Background(), job, noop))

		require.NotEmpty(t, store.jobProgress)
		assert.Equal(t, progressHeadersDone, store.jobProgress[0])
		assert.Equal(t, 100, store.jobProgress[len(store.jobProgress)-1])
		assert.IsNonDecreasing(t, store.jobProgress)
	})

	t.Run("Should not demote a settled task when a duplicate delivery fails", func(t *testing.T) {
		store := newFakeStore()
		blobs := newFakeBlobStore()
		b := &fakeBroadcaster{}

		workbook := buildWorkbook(t, []string{"Name", "Gender", "Bio-ID"}, [][]string{
			{"Alice", "F", "BIO-001"},
		})
		job, _ := seedJob(t, blobs, workbook)

		c := NewCoordinator(store, blobs, b, testIngestConfig())
		require.NoError(t, c.Process(context.Background(), job, noop))
		require.Equal(t, model.TaskCompleted, store.statusLog[len(store.statusLog)-1])

		// A stall-reaper duplicate of the same job arrives after completion;
		// the blob is already gone, so this attempt fails
		err := c.Process(context.Background(), job, noop)
		require.Error(t, err)

		// The settled outcome must survive the late failure
		assert.Equal(t, model.TaskCompleted, store.statusLog[len(store.statusLog)-1])
	})

	t.Run("Should reject a malformed task id in the payload", func(t *testing.T) {
		store := newFakeStore()
		blobs := newFakeBlobStore()
		b := &fakeBroadcaster{}

		job := &model.Job{
			ID:      primitive.NewObjectID(),
			Payload: model.JobPayload{TaskID: "not-an-object-id", BlobKey: "k", FileName: "f.xlsx"},
		}

		c := NewCoordinator(store, blobs, b, testIngestConfig())
		err := c.Process(context.Background(), job, noop)

		require.Error(t, err)
		assert.Empty(t, store.statusLog)
	})
}

func TestOverall(t *testing.T) {
	assert.Equal(t, 20, overall(20, 50, 0, 10))
	assert.Equal(t, 35, overall(20, 50, 5, 10))
	assert.Equal(t, 50, overall(20, 50, 10, 10))
	assert.Equal(t, 100, overall(50, 100, 10, 10))
	// A zero-row phase is complete by definition
	assert.Equal(t, 100, overall(50, 100, 0, 0))
}
