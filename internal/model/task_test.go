package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestTaskStatusIsTerminal(t *testing.T) {
	assert.False(t, TaskPending.IsTerminal())
	assert.False(t, TaskProcessing.IsTerminal())
	assert.True(t, TaskCompleted.IsTerminal())
	assert.True(t, TaskHasErrors.IsTerminal())
	assert.True(t, TaskFailed.IsTerminal())
}

func TestTaskStatusIsValid(t *testing.T) {
	for _, status := range []TaskStatus{TaskPending, TaskProcessing, TaskCompleted, TaskHasErrors, TaskFailed} {
		assert.True(t, status.IsValid(), string(status))
	}
	assert.False(t, TaskStatus("RUNNING").IsValid())
	assert.False(t, TaskStatus("").IsValid())
}

func TestJobStatusIsFinished(t *testing.T) {
	assert.False(t, JobQueued.IsFinished())
	assert.False(t, JobProcessing.IsFinished())
	assert.False(t, JobRetrying.IsFinished())
	assert.True(t, JobCompleted.IsFinished())
	assert.True(t, JobFailed.IsFinished())
}

func TestDedupIDForTask(t *testing.T) {
	taskID := primitive.NewObjectID()

	dedupID := DedupIDForTask(taskID)

	assert.Equal(t, "task-"+taskID.Hex(), dedupID)
	// Deterministic: re-enqueueing the same task derives the same identity
	assert.Equal(t, dedupID, DedupIDForTask(taskID))
}
