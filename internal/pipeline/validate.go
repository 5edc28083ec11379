package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"ingest/internal/model"
	"ingest/internal/ws"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Canonical spreadsheet column names for the validated row shape
const (
	ColumnName   = "Name"
	ColumnGender = "Gender"
	ColumnBioID  = "Bio-ID"
)

// fieldLabels maps PersonRecord struct fields to their wire name and the
// column label used in validation messages
var fieldLabels = map[string]struct {
	JSON  string
	Label string
}{
	"Name":   {"name", ColumnName},
	"Gender": {"gender", ColumnGender},
	"BioID":  {"bioId", ColumnBioID},
}

// RowResult accumulates the two disjoint outputs of the validation phase
type RowResult struct {
	Valid     []model.PersonRecord
	Errors    []model.ValidationError
	TotalRows int
}

// RowValidator applies the per-field schema to every data row. Row failures
// are data, not pipeline faults: the validator never aborts on one.
type RowValidator struct {
	broadcaster ws.Broadcaster
	validate    *validator.Validate
	interval    int
}

// NewRowValidator creates a validator emitting progress every interval rows
func NewRowValidator(broadcaster ws.Broadcaster, interval int) *RowValidator {
	if interval <= 0 {
		interval = 1000
	}
	return &RowValidator{
		broadcaster: broadcaster,
		validate:    validator.New(),
		interval:    interval,
	}
}

// Run validates every row, emitting phase-local progress at the configured
// cadence and unconditionally at the final row. onBatch is invoked at the
// same cadence for heartbeat renewal and overall job progress.
func (v *RowValidator) Run(taskID primitive.ObjectID, rows [][]string,
	columns map[string]int, onBatch func(processed, total int)) RowResult {

	result := RowResult{
		Valid:     []model.PersonRecord{},
		Errors:    []model.ValidationError{},
		TotalRows: len(rows),
	}

	for i, row := range rows {
		rowNumber := i + 1 // 1-based, header excluded

		record := model.PersonRecord{
			TaskID: taskID,
			Name:   strings.TrimSpace(cellAt(row, columns[ColumnName])),
			Gender: strings.TrimSpace(cellAt(row, columns[ColumnGender])),
			BioID:  strings.TrimSpace(cellAt(row, columns[ColumnBioID])),
		}

		if err := v.validate.Struct(record); err != nil {
			result.Errors = append(result.Errors, model.ValidationError{
				TaskID:    taskID,
				RowNumber: rowNumber,
				Errors:    validationMessages(err),
				RowData: map[string]string{
					"name":   record.Name,
					"gender": record.Gender,
					"bioId":  record.BioID,
				},
			})
		} else {
			result.Valid = append(result.Valid, record)
		}

		processed := i + 1
		if processed%v.interval == 0 || processed == result.TotalRows {
			v.emitProgress(taskID, processed, len(result.Valid), len(result.Errors), result.TotalRows)
			if onBatch != nil {
				onBatch(processed, result.TotalRows)
			}
		}
	}

	return result
}

// emitProgress publishes a phase-local percentage with running counts
func (v *RowValidator) emitProgress(taskID primitive.ObjectID, processed, valid, errorCount, total int) {
	percent := float64(processed) / float64(total) * 100

	v.broadcaster.PublishProgress(model.Progress{
		TaskID:        taskID.Hex(),
		Phase:         model.PhaseValidating,
		Percent:       &percent,
		TotalRows:     &total,
		ValidatedRows: &valid,
		ErrorRows:     &errorCount,
	})
}

// validationMessages flattens validator output into human-readable strings
func validationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		meta, ok := fieldLabels[fe.StructField()]
		if !ok {
			messages = append(messages, fe.Error())
			continue
		}
		messages = append(messages, fmt.Sprintf("%s: %s is required", meta.JSON, meta.Label))
	}

	return messages
}
