package model

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobStatus represents the current state of a queued job
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobRetrying   JobStatus = "retrying"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsFinished reports whether the job record will never run again
func (s JobStatus) IsFinished() bool {
	return s == JobCompleted || s == JobFailed
}

// JobPayload is the unit of queued work handed to the pipeline. It is
// validated against this schema at the worker entry point before any
// processing stage runs.
type JobPayload struct {
	TaskID   string `bson:"task_id" json:"taskId" validate:"required,hexadecimal,len=24"`
	BlobKey  string `bson:"blob_key" json:"blobKey" validate:"required"`
	FileName string `bson:"file_name" json:"fileName" validate:"required"`
}

// Job is the durable record of one enqueued processing attempt. The rabbit
// message carries only the job id; everything else lives here.
type Job struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DedupID     string             `bson:"dedup_id" json:"dedupId"`
	Status      JobStatus          `bson:"status" json:"status"`
	Payload     JobPayload         `bson:"payload" json:"payload"`
	Progress    int                `bson:"progress" json:"progress"`
	Attempts    int                `bson:"attempts" json:"attempts"`
	MaxAttempts int                `bson:"max_attempts" json:"maxAttempts"`
	ErrorList   []string           `bson:"error_list,omitempty" json:"errorList,omitempty"`
	HeartbeatAt time.Time          `bson:"heartbeat_at" json:"heartbeatAt"`
	CreatedAt   time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updatedAt"`
	CompletedAt *time.Time         `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
}

// DedupIDForTask derives the deterministic job identity for a task, so a
// second enqueue of the same task is rejected instead of duplicated.
func DedupIDForTask(taskID primitive.ObjectID) string {
	return fmt.Sprintf("task-%s", taskID.Hex())
}

// QueueStats is a point-in-time snapshot of job counts by state
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
