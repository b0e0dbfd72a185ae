package analyzer

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is a transient network or service fault.
	ErrUnavailable = errors.New("analyzer unavailable")
	// ErrInvalidObject means the object is missing or cannot be analyzed.
	ErrInvalidObject = errors.New("invalid object")
)

type JobStatus string

const (
	JobInProgress JobStatus = "IN_PROGRESS"
	JobSucceeded  JobStatus = "SUCCEEDED"
	JobFailed     JobStatus = "FAILED"
)

// Finding is one labeled category of sensitive content. OffsetMillis is
// only meaningful for video results.
type Finding struct {
	Label        string  `json:"label"`
	ParentLabel  string  `json:"parent_label,omitempty"`
	Confidence   float64 `json:"confidence"`
	OffsetMillis int64   `json:"offset_ms"`
}

// PollResult is the state of an async job. Findings is populated only when
// Status is JobSucceeded.
type PollResult struct {
	Status   JobStatus
	Findings []Finding
	Message  string
}

type Analyzer interface {
	DetectSync(ctx context.Context, objectKey string) ([]Finding, error)
	StartAsync(ctx context.Context, objectKey string) (string, error)
	PollAsync(ctx context.Context, jobID string) (*PollResult, error)
}

type Config struct {
	Bucket        string
	MinConfidence float64
	// PageSize bounds each GetContentModeration page.
	PageSize int32
}

func NewConfig() *Config {
	return &Config{
		Bucket:        "content-moderation-uploads",
		MinConfidence: 50,
		PageSize:      1000,
	}
}
