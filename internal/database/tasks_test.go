package database

import (
	"testing"

	"ingest/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestTaskTransitionFilter(t *testing.T) {
	id := primitive.NewObjectID()

	filter := taskTransitionFilter(id)

	assert.Equal(t, id, filter["_id"])

	statusClause, ok := filter["status"].(bson.M)
	require.True(t, ok, "status clause must constrain the current state")

	in, ok := statusClause["$in"].(bson.A)
	require.True(t, ok)
	assert.ElementsMatch(t, bson.A{
		string(model.TaskPending),
		string(model.TaskProcessing),
	}, in)

	// Terminal states are write-once; none may match as a transition source
	for _, status := range []model.TaskStatus{model.TaskCompleted, model.TaskHasErrors, model.TaskFailed} {
		assert.NotContains(t, in, string(status))
	}
}
