package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TaskStatus represents the lifecycle state of an ingestion task
type TaskStatus string

const (
	// Active statuses
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"

	// Terminal statuses
	TaskCompleted TaskStatus = "COMPLETED"
	TaskHasErrors TaskStatus = "HAS_ERRORS"
	TaskFailed    TaskStatus = "FAILED"
)

// IsTerminal reports whether the status admits no further transition
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskHasErrors, TaskFailed:
		return true
	}
	return false
}

// IsValid reports whether the status is a member of the defined enum
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskPending, TaskProcessing, TaskCompleted, TaskHasErrors, TaskFailed:
		return true
	}
	return false
}

// Task tracks one attempt to ingest a single uploaded file
type Task struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Status        TaskStatus         `bson:"status" json:"status"`
	TotalRows     int                `bson:"total_rows" json:"totalRows"`
	ValidatedRows int                `bson:"validated_rows" json:"validatedRows"`
	ErrorRows     int                `bson:"error_rows" json:"errorRows"`
	SavedRows     int                `bson:"saved_rows" json:"savedRows"`
	FileName      string             `bson:"file_name,omitempty" json:"fileName,omitempty"`
	CreatedAt     time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updatedAt"`
}

// TaskCounts carries a partial counter update for a task. Nil fields are
// left untouched so the update stays a single atomic $set.
type TaskCounts struct {
	TotalRows     *int
	ValidatedRows *int
	ErrorRows     *int
	SavedRows     *int
}

// TaskDetail is a task together with its persisted rows and validation errors
type TaskDetail struct {
	Task        Task              `json:"task"`
	Records     []PersonRecord    `json:"records"`
	Errors      []ValidationError `json:"errors"`
	RecordCount int64             `json:"recordCount"`
	ErrorCount  int64             `json:"errorCount"`
}

// PersonRecord is one successfully validated row, owned by its task
type PersonRecord struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TaskID primitive.ObjectID `bson:"task_id" json:"taskId"`
	Name   string             `bson:"name" json:"name" validate:"required"`
	Gender string             `bson:"gender" json:"gender" validate:"required"`
	BioID  string             `bson:"bio_id" json:"bioId" validate:"required"`
}

// ValidationError is one invalid input row, kept for operator review.
// RowNumber is 1-based and excludes the header row.
type ValidationError struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TaskID    primitive.ObjectID `bson:"task_id" json:"taskId"`
	RowNumber int                `bson:"row_number" json:"rowNumber"`
	Errors    []string           `bson:"errors" json:"errors"`
	RowData   map[string]string  `bson:"row_data" json:"rowData"`
}
