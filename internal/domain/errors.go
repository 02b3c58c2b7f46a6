package domain

import "errors"

// ErrorKind is the closed error taxonomy from spec §7.
type ErrorKind string

const (
	ErrorTransient           ErrorKind = "transient"
	ErrorStructuredParse     ErrorKind = "structured_parse"
	ErrorInvariant           ErrorKind = "invariant"
	ErrorBudget              ErrorKind = "budget"
	ErrorCompliance          ErrorKind = "compliance"
	ErrorExternalDependency  ErrorKind = "external_dependency"
)

// RunError wraps an error with the machine-readable kind and retryability
// the pipeline's phase composition relies on. Grounded on the teacher's
// brain.EngagementError shape.
type RunError struct {
	Kind      ErrorKind
	Err       error
	Retryable bool
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *RunError) Unwrap() error { return e.Err }

// NewRetryableError builds a transient RunError.
func NewRetryableError(err error) *RunError {
	return &RunError{Kind: ErrorTransient, Err: err, Retryable: true}
}

// NewFatalError builds a non-retryable RunError of the given kind.
func NewFatalError(kind ErrorKind, err error) *RunError {
	return &RunError{Kind: kind, Err: err, Retryable: false}
}

// Sentinel fatal conditions named directly by spec §4.
var (
	ErrSpecMalformed  = errors.New("spec malformed: no entities extractable")
	ErrDagCyclic      = errors.New("dag cyclic")
	ErrPlanningFailed = errors.New("planning failed")
)

// KindOf extracts the ErrorKind from err if it is (or wraps) a *RunError,
// defaulting to ErrorInvariant for unclassified errors.
func KindOf(err error) ErrorKind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ErrorInvariant
}

// IsRetryable reports whether err is a *RunError marked retryable.
func IsRetryable(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}
