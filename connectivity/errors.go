package connectivity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error kinds, as recorded in the journal and run report.
const (
	KindConfiguration  = "configuration"
	KindEmptyCell      = "empty_cell"
	KindEstimation     = "estimation"
	KindSchemaMismatch = "schema_mismatch"
	KindMissingCell    = "missing_cell"
	KindTimeout        = "timeout"
	KindIO             = "io"
)

// ConfigurationError reports a bad factor name, path or setting. Fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// EmptyCellError reports a condition cell that selected zero epochs.
type EmptyCellError struct {
	Subject string
	Cell    string
}

func (e *EmptyCellError) Error() string {
	return fmt.Sprintf("empty cell: subject %s cell %s selected 0 trials", e.Subject, e.Cell)
}

// EstimationError reports a numeric failure inside connectivity estimation.
type EstimationError struct {
	Subject string
	Cell    string
	Metric  string
	Err     error
}

func (e *EstimationError) Error() string {
	var sb strings.Builder
	sb.WriteString("estimation error")
	if e.Subject != "" || e.Cell != "" {
		fmt.Fprintf(&sb, ": subject %s cell %s", e.Subject, e.Cell)
	}
	if e.Metric != "" {
		fmt.Fprintf(&sb, " metric %s", e.Metric)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *EstimationError) Unwrap() error { return e.Err }

// TaskTimeoutError reports a cell task that exceeded its wall-clock budget.
type TaskTimeoutError struct {
	Subject string
	Cell    string
	Budget  time.Duration
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("task timeout: subject %s cell %s exceeded %s", e.Subject, e.Cell, e.Budget)
}

// SchemaMismatchError reports cell bundles of one subject that disagree on
// region labels, edge list, band set or metric set, or a bundle whose shape
// contradicts its own metadata.
type SchemaMismatchError struct {
	Subject string
	Cell    string
	Field   string
	Detail  string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: subject %s cell %s field %s: %s", e.Subject, e.Cell, e.Field, e.Detail)
}

// MissingCellError reports an expected cell bundle absent at assembly time.
type MissingCellError struct {
	Subject string
	Cell    string
	Path    string
}

func (e *MissingCellError) Error() string {
	return fmt.Sprintf("missing cell: subject %s cell %s (expected %s)", e.Subject, e.Cell, e.Path)
}

// ErrorKind classifies err into one of the Kind* constants.
func ErrorKind(err error) string {
	var (
		cfgErr      *ConfigurationError
		emptyErr    *EmptyCellError
		estErr      *EstimationError
		timeoutErr  *TaskTimeoutError
		mismatchErr *SchemaMismatchError
		missingErr  *MissingCellError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &emptyErr):
		return KindEmptyCell
	case errors.As(err, &estErr):
		return KindEstimation
	case errors.As(err, &mismatchErr):
		return KindSchemaMismatch
	case errors.As(err, &missingErr):
		return KindMissingCell
	case errors.As(err, &cfgErr):
		return KindConfiguration
	default:
		return KindIO
	}
}
