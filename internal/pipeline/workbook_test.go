package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWorkbook(t *testing.T) {
	t.Run("Should split header and data rows", func(t *testing.T) {
		data := buildWorkbook(t, []string{"Name", "Gender", "Bio-ID"}, [][]string{
			{"Alice", "F", "BIO-001"},
			{"Bob", "M", "BIO-002"},
		})

		header, rows, err := ParseWorkbook(data)

		require.NoError(t, err)
		assert.Equal(t, []string{"Name", "Gender", "Bio-ID"}, header)
		require.Len(t, rows, 2)
		assert.Equal(t, []string{"Alice", "F", "BIO-001"}, rows[0])
	})

	t.Run("Should return the header with no data rows", func(t *testing.T) {
		data := buildWorkbook(t, []string{"Name", "Gender", "Bio-ID"}, nil)

		header, rows, err := ParseWorkbook(data)

		require.NoError(t, err)
		assert.Len(t, header, 3)
		assert.Empty(t, rows)
	})

	t.Run("Should reject bytes that are not a workbook", func(t *testing.T) {
		_, _, err := ParseWorkbook([]byte("plain text"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse workbook")
	})

	t.Run("Should reject an empty payload", func(t *testing.T) {
		_, _, err := ParseWorkbook(nil)
		assert.Error(t, err)
	})
}

func TestCellAt(t *testing.T) {
	row := []string{"a", "b"}

	assert.Equal(t, "a", cellAt(row, 0))
	assert.Equal(t, "b", cellAt(row, 1))
	// excelize drops trailing empty cells, so out-of-range reads are blank
	assert.Equal(t, "", cellAt(row, 2))
	assert.Equal(t, "", cellAt(row, -1))
}
