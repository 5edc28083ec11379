package controller

import (
	"context"
	"fmt"
	"strings"

	"ingest/internal/pipeline"

	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ingest/internal/database"
)

// reportColumns is the header row of the generated error report
var reportColumns = []string{
	"Row Number",
	pipeline.ColumnName,
	pipeline.ColumnGender,
	pipeline.ColumnBioID,
	"Error Messages",
}

// BuildErrorReport renders every validation error of the task into an xlsx
// attachment for operator review
func (c *taskController) BuildErrorReport(ctx context.Context, taskID string) (string, []byte, error) {
	id, err := primitive.ObjectIDFromHex(taskID)
	if err != nil {
		return "", nil, database.ErrTaskNotFound
	}

	if _, err := c.db.GetTask(ctx, id); err != nil {
		return "", nil, err
	}

	verrs, err := c.db.ListValidationErrors(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if len(verrs) == 0 {
		return "", nil, ErrNoValidationErrors
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Validation Errors"
	f.SetSheetName("Sheet1", sheet)

	for col, name := range reportColumns {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, name)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"E0E0E0"}},
	})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(reportColumns), 1)
		f.SetCellStyle(sheet, "A1", last, headerStyle)
	}

	for i, verr := range verrs {
		rowIdx := i + 2
		values := []interface{}{
			verr.RowNumber,
			verr.RowData["name"],
			verr.RowData["gender"],
			verr.RowData["bioId"],
			strings.Join(verr.Errors, "; "),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx)
			f.SetCellValue(sheet, cell, value)
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(reportColumns))
	f.SetColWidth(sheet, "A", lastCol, 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate error report: %w", err)
	}

	fileName := fmt.Sprintf("validation-errors-task-%s.xlsx", taskID)
	return fileName, buf.Bytes(), nil
}
