package model

import (
	"fmt"
)

// StructuralError reports a record that could not enter the run: a required
// field is missing or untypeable, or the record violates a table invariant.
// It is fatal for the affected record only; the record is excluded and
// reported, never silently dropped.
type StructuralError struct {
	Key    SectorKey
	Sheet  string
	Row    int
	Reason string
}

func (e *StructuralError) Error() string {
	loc := ""
	if e.Sheet != "" {
		loc = fmt.Sprintf(" (%s row %d)", e.Sheet, e.Row)
	}
	if e.Key.IsZero() {
		return fmt.Sprintf("structural error%s: %s", loc, e.Reason)
	}
	return fmt.Sprintf("structural error%s: %s: %s", loc, e.Key, e.Reason)
}
