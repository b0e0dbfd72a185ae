package moderation

import (
	"errors"

	"github.com/kdimtricp/modcheck/internal/analyzer"
	"github.com/kdimtricp/modcheck/internal/models"
)

var (
	// ErrInvalidInput is a malformed submission. No record is created.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAnalyzerUnavailable is a transient analyzer fault.
	ErrAnalyzerUnavailable = analyzer.ErrUnavailable
	// ErrInvalidObject means the analyzer or object storage rejected the object.
	ErrInvalidObject = analyzer.ErrInvalidObject
	// ErrAnalyzerJobFailed is the analyzer reporting job-level failure, as
	// opposed to a "failed" moderation verdict.
	ErrAnalyzerJobFailed = errors.New("analyzer job failed")
	// ErrStoreUnavailable is a persistence fault. If it happens after the
	// analyzer answered, the result is lost and the caller must resubmit.
	ErrStoreUnavailable = models.ErrStoreUnavailable
	// ErrDuplicateObject is a submission for an object that already has a record.
	ErrDuplicateObject = models.ErrRecordExists
	ErrShuttingDown    = errors.New("orchestrator is shutting down")
)

// ErrorKind names the taxonomy entry err belongs to, for responses and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrDuplicateObject):
		return "DuplicateObject"
	case errors.Is(err, ErrInvalidObject):
		return "InvalidObject"
	case errors.Is(err, ErrAnalyzerJobFailed):
		return "AnalyzerJobFailed"
	case errors.Is(err, ErrAnalyzerUnavailable):
		return "AnalyzerUnavailable"
	case errors.Is(err, ErrStoreUnavailable):
		return "StoreUnavailable"
	case errors.Is(err, ErrShuttingDown):
		return "ShuttingDown"
	default:
		return "Internal"
	}
}
