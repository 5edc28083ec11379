package pipeline

import (
	"testing"

	"ingest/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func standardColumns() map[string]int {
	return map[string]int{
		ColumnName:   0,
		ColumnGender: 1,
		ColumnBioID:  2,
	}
}

func TestRowValidatorRun(t *testing.T) {
	taskID := primitive.NewObjectID()

	t.Run("Should accept fully populated rows", func(t *testing.T) {
		b := &fakeBroadcaster{}
		v := NewRowValidator(b, 1000)

		result := v.Run(taskID, [][]string{
			{"Alice", "F", "BIO-001"},
			{"Bob", "M", "BIO-002"},
		}, standardColumns(), nil)

		assert.Equal(t, 2, result.TotalRows)
		assert.Len(t, result.Valid, 2)
		assert.Empty(t, result.Errors)
		assert.Equal(t, "Alice", result.Valid[0].Name)
		assert.Equal(t, taskID, result.Valid[0].TaskID)
	})

	t.Run("Should collect all field errors for an invalid row", func(t *testing.T) {
		b := &fakeBroadcaster{}
		v := NewRowValidator(b, 1000)

		result := v.Run(taskID, [][]string{
			{"", "", ""},
		}, standardColumns(), nil)

		require.Len(t, result.Errors, 1)
		assert.Empty(t, result.Valid)
		assert.ElementsMatch(t, []string{
			"name: Name is required",
			"gender: Gender is required",
			"bioId: Bio-ID is required",
		}, result.Errors[0].Errors)
	})

	t.Run("Should number rows from 1 excluding the header", func(t *testing.T) {
		b := &fakeBroadcaster{}
		v := NewRowValidator(b, 1000)

		result := v.Run(taskID, [][]string{
			{"Alice", "F", "BIO-001"},
			{"Bob", "", "BIO-002"},
			{"Carol", "F", ""},
		}, standardColumns(), nil)

		require.Len(t, result.Errors, 2)
		assert.Equal(t, 2, result.Errors[0].RowNumber)
		assert.Equal(t, 3, result.Errors[1].RowNumber)
	})

	t.Run("Should keep valid and invalid rows disjoint", func(t *testing.T) {
		b := &fakeBroadcaster{}
		v := NewRowValidator(b, 1000)

		result := v.Run(taskID, [][]string{
			{"Alice", "F", "BIO-001"},
			{"", "M", "BIO-002"},
			{"Carol", "F", "BIO-003"},
			{"Dave", "", ""},
		}, standardColumns(), nil)

		assert.Equal(t, 4, result.TotalRows)
		assert.Equal(t, result.TotalRows, len(result.Valid)+len(result.Errors))
	})

	t.Run("Should treat whitespace-only cells as missing", func(t *testing.T) {
		b := &fakeBroadcaster{}
		v := NewRowValidator(b, 1000)

		result := v.Run(taskID, [][]string{
			{"   ", "F", "BIO-001"},
		}, standardColumns(), nil)

		require.Len(t, result.Errors, 1)
		assert.Equal(t, []string{"name: Name is required"}, result.Errors[0].Errors)
	})

	t.Run("Should preserve trimmed row data on errors", func(t *testing.T) {
		b := &fakeBroadcaster{}
		v := NewRowValidator(b, 1000)

		result := v.Run(taskID, [][]string{
			{" Alice ", "", "BIO-001"},
		}, standardColumns(), nil)

		require.Len(t, result.Errors, 1)
		assert.Equal(t, map[string]string{
			"name":   "Alice",
			"gender": "",
			"bioId":  "BIO-001",
		}, result.Errors[0].RowData)
	})

	t.Run("Should handle rows shorter than the header", func(t *testing.T) {
		b := &fakeBroadcaster{}
		v := NewRowValidator(b, 1000)

		result := v.Run(taskID, [][]string{
			{"Alice"},
		}, standardColumns(), nil)

		require.Len(t, result.Errors, 1)
		assert.ElementsMatch(t, []string{
			"gender: Gender is required",
			"bioId: Bio-ID is required",
		}, result.Errors[0].Errors)
	})

	t.Run("Should emit progress at the configured cadence and at the final row", func(t *testing.T) {
		b := &fakeBroadcaster{}
		v := NewRowValidator(b, 2)

		rows := [][]string{
			{"A", "F", "1"},
			{"B", "F", "2"},
			{"C", "F", "3"},
			{"D", "F", "4"},
			{"E", "F", "5"},
		}
		batches := [][2]int{}
		v.Run(taskID, rows, standardColumns(), func(processed, total int) {
			batches = append(batches, [2]int{processed, total})
		})

		// Rows 2 and 4 hit the cadence, row 5 is the unconditional final emit
		require.Len(t, b.progress, 3)
		assert.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, batches)

		last := b.progress[2]
		assert.Equal(t, model.PhaseValidating, last.Phase)
		require.NotNil(t, last.Percent)
		assert.InDelta(t, 100.0, *last.Percent, 0.01)
		require.NotNil(t, last.ValidatedRows)
		assert.Equal(t, 5, *last.ValidatedRows)
	})

	t.Run("Should not emit the final row twice when it lands on the cadence", func(t *testing.T) {
		b := &fakeBroadcaster{}
		v := NewRowValidator(b, 2)

		v.Run(taskID, [][]string{
			{"A", "F", "1"},
			{"B", "F", "2"},
		}, standardColumns(), nil)

		assert.Len(t, b.progress, 1)
	})

	t.Run("Should emit nothing for an empty row set", func(t *testing.T) {
		b := &fakeBroadcaster{}
		v := NewRowValidator(b, 2)

		result := v.Run(taskID, [][]string{}, standardColumns(), nil)

		assert.Equal(t, 0, result.TotalRows)
		assert.Empty(t, b.progress)
	})
}
