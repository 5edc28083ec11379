package pipeline

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ParseWorkbook decodes the uploaded bytes as an xlsx workbook and returns
// the first sheet's header row and data rows
func ParseWorkbook(data []byte) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("no worksheet found in workbook")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read worksheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("worksheet %q has no header row", sheets[0])
	}

	return rows[0], rows[1:], nil
}

// cellAt returns the trimmed-length-safe cell value; excelize drops trailing
// empty cells from each row
func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// SplitIntoBatches divides a slice of items into batches of the given size
func SplitIntoBatches[T any](items []T, batchSize int) [][]T {
	if batchSize <= 0 {
		return nil
	}

	if len(items) == 0 {
		return [][]T{}
	}

	numBatches := (len(items) + batchSize - 1) / batchSize
	batches := make([][]T, 0, numBatches)

	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}

	return batches
}
