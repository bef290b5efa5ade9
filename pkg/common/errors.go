package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration marks unrecoverable setup problems such as missing
	// credentials or an embedding dimension that does not match the store.
	ErrConfiguration = errors.New("configuration error")
	// ErrConnectivity marks a failed call to an external store or model.
	ErrConnectivity = errors.New("connectivity error")
	// ErrSchemaViolation marks model output that does not satisfy the
	// response schema or the closed enumerations.
	ErrSchemaViolation = errors.New("schema violation")
	// ErrMissingFields marks a candidate lacking required fields.
	ErrMissingFields = errors.New("missing required fields")
	// ErrNoDocuments is returned when an ingestion run finds nothing to do.
	ErrNoDocuments = errors.New("no documents to ingest")
)

// StageError wraps a failure with the pipeline stage, the store involved and
// the unit of work (document, query or candidate) being processed.
type StageError struct {
	Stage string
	Store string
	Unit  string
	Err   error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(e.Stage)
	if e.Store != "" {
		fmt.Fprintf(&b, " [%s]", e.Store)
	}
	if e.Unit != "" {
		fmt.Fprintf(&b, " %q", e.Unit)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Connectivity wraps err as an ErrConnectivity StageError.
func Connectivity(stage, store, unit string, err error) error {
	return &StageError{
		Stage: stage,
		Store: store,
		Unit:  unit,
		Err:   fmt.Errorf("%w: %w", ErrConnectivity, err),
	}
}

// ExtractionError is returned when structured extraction gives up on a query.
type ExtractionError struct {
	Query    string
	Attempts int
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for query %q after %d attempt(s): %v", e.Query, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// MissingFieldsError names the fields a candidate lacks.
type MissingFieldsError struct {
	CandidateID string
	Fields      []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("candidate %q is missing required fields: %s", e.CandidateID, strings.Join(e.Fields, ", "))
}

func (e *MissingFieldsError) Is(target error) bool {
	return target == ErrMissingFields
}
