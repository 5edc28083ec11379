package pipeline

import (
	"fmt"
	"strings"
)

// MissingColumnError reports every required column absent from the header
// row. Header validation is fail-fast and all-or-nothing, distinct from
// per-row validation.
type MissingColumnError struct {
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Columns, ", "))
}

// ResolveHeaders maps each required column name to its positional index in
// the header row. Column order does not matter and unexpected extra columns
// are tolerated.
func ResolveHeaders(headerRow []string, required []string) (map[string]int, error) {
	positions := make(map[string]int, len(headerRow))
	for i, cell := range headerRow {
		name := strings.TrimSpace(cell)
		if name == "" {
			continue
		}
		if _, seen := positions[name]; !seen {
			positions[name] = i
		}
	}

	columns := make(map[string]int, len(required))
	missing := []string{}
	for _, name := range required {
		idx, ok := positions[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		columns[name] = idx
	}

	if len(missing) > 0 {
		return nil, &MissingColumnError{Columns: missing}
	}

	return columns, nil
}
