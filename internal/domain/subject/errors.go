package subject

import (
	"errors"
	"fmt"
)

// Sentinels wrapped by the typed ledger errors.
var (
	ErrUnknownSubject   = errors.New("unknown subject")
	ErrDuplicateSubject = errors.New("duplicate subject")
	ErrMalformedRow     = errors.New("malformed row")
	ErrPassOrder        = errors.New("ledger pass out of order")
)

// UnknownSubjectError reports a row referencing a subject the demographics
// pass did not create. It aborts the study.
type UnknownSubjectError struct {
	Table     string
	Line      int
	SubjectID string
}

func (e *UnknownSubjectError) Error() string {
	return fmt.Sprintf("%s line %d: unknown subject %q", e.Table, e.Line, e.SubjectID)
}

func (e *UnknownSubjectError) Unwrap() error { return ErrUnknownSubject }

// DuplicateSubjectError reports a subject id seen twice in demographics, or
// in two consent groups of one study.
type DuplicateSubjectError struct {
	Table     string
	Line      int
	SubjectID string
}

func (e *DuplicateSubjectError) Error() string {
	return fmt.Sprintf("%s line %d: duplicate subject %q", e.Table, e.Line, e.SubjectID)
}

func (e *DuplicateSubjectError) Unwrap() error { return ErrDuplicateSubject }

// MalformedRowError reports a blank or invalid required field. Fatal only
// for demographics identity fields; other passes skip the row.
type MalformedRowError struct {
	Table  string
	Line   int
	Field  string
	Value  string
	Reason string
}

func (e *MalformedRowError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s line %d: %s: %s", e.Table, e.Line, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s line %d: %s=%q: %s", e.Table, e.Line, e.Field, e.Value, e.Reason)
}

func (e *MalformedRowError) Unwrap() error { return ErrMalformedRow }

// ConflictingConditionError reports a condition asserted both present and
// absent for one subject. The later assertion is skipped.
type ConflictingConditionError struct {
	SubjectID string
	Label     string
	Present   bool
}

func (e *ConflictingConditionError) Error() string {
	was := "absent"
	if !e.Present {
		was = "present"
	}
	return fmt.Sprintf("subject %s: condition %q already recorded %s", e.SubjectID, e.Label, was)
}
