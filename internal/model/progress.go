package model

import "time"

// Phase is one named stage of the processing state machine
type Phase string

const (
	PhaseLoadingWorkbook   Phase = "LOADING_WORKBOOK"
	PhaseValidatingHeaders Phase = "VALIDATING_HEADERS"
	PhaseValidating        Phase = "VALIDATING"
	PhaseSaving            Phase = "SAVING"
)

// Progress is an ephemeral update fanned out to task subscribers. Percent is
// phase-local (0-100 within the reporting phase), not an overall job figure.
// Nil fields are omitted from the wire form.
type Progress struct {
	TaskID        string    `json:"taskId"`
	Phase         Phase     `json:"phase"`
	Percent       *float64  `json:"progress,omitempty"`
	TotalRows     *int      `json:"totalRows,omitempty"`
	ValidatedRows *int      `json:"validatedRows,omitempty"`
	ErrorRows     *int      `json:"errorRows,omitempty"`
	SavedRows     *int      `json:"savedRows,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
