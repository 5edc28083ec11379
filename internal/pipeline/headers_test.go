package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var requiredColumns = []string{"Name", "Gender", "Bio-ID"}

func TestResolveHeaders(t *testing.T) {
	t.Run("Should resolve columns regardless of order", func(t *testing.T) {
		columns, err := ResolveHeaders([]string{"Bio-ID", "Name", "Gender"}, requiredColumns)

		require.NoError(t, err)
		assert.Equal(t, 1, columns["Name"])
		assert.Equal(t, 2, columns["Gender"])
		assert.Equal(t, 0, columns["Bio-ID"])
	})

	t.Run("Should tolerate extra columns", func(t *testing.T) {
		columns, err := ResolveHeaders([]string{"Age", "Name", "Gender", "Email", "Bio-ID"}, requiredColumns)

		require.NoError(t, err)
		assert.Len(t, columns, 3)
		assert.Equal(t, 1, columns["Name"])
		assert.Equal(t, 4, columns["Bio-ID"])
	})

	t.Run("Should trim whitespace around header cells", func(t *testing.T) {
		columns, err := ResolveHeaders([]string{" Name ", "Gender", "  Bio-ID"}, requiredColumns)

		require.NoError(t, err)
		assert.Equal(t, 0, columns["Name"])
	})

	t.Run("Should report every missing column at once", func(t *testing.T) {
		_, err := ResolveHeaders([]string{"Gender", "Age"}, requiredColumns)

		require.Error(t, err)
		var missingErr *MissingColumnError
		require.ErrorAs(t, err, &missingErr)
		assert.Equal(t, []string{"Name", "Bio-ID"}, missingErr.Columns)
		assert.Contains(t, err.Error(), "Name")
		assert.Contains(t, err.Error(), "Bio-ID")
	})

	t.Run("Should fail on an empty header row", func(t *testing.T) {
		_, err := ResolveHeaders([]string{}, requiredColumns)

		var missingErr *MissingColumnError
		require.ErrorAs(t, err, &missingErr)
		assert.Len(t, missingErr.Columns, 3)
	})

	t.Run("Should keep the first occurrence of a duplicated header", func(t *testing.T) {
		columns, err := ResolveHeaders([]string{"Name", "Gender", "Name", "Bio-ID"}, requiredColumns)

		require.NoError(t, err)
		assert.Equal(t, 0, columns["Name"])
	})

	t.Run("Should skip blank header cells", func(t *testing.T) {
		columns, err := ResolveHeaders([]string{"", "Name", "  ", "Gender", "Bio-ID"}, requiredColumns)

		require.NoError(t, err)
		assert.Equal(t, 1, columns["Name"])
		assert.Equal(t, 3, columns["Gender"])
	})
}
