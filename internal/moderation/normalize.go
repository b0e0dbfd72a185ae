package moderation

import (
	"github.com/kdimtricp/modcheck/internal/analyzer"
	"github.com/kdimtricp/modcheck/internal/models"
)

// Verdict is failed for any finding and passed otherwise. There is no
// severity threshold.
func Verdict(findings []string) models.Status {
	if len(findings) > 0 {
		return models.StatusFailed
	}
	return models.StatusPassed
}

// NormalizeImage maps a synchronous image result. Images carry no offsets.
func NormalizeImage(findings []analyzer.Finding) models.RecordUpdate {
	labels := make([]string, 0, len(findings))
	for _, f := range findings {
		labels = append(labels, f.Label)
	}
	return models.RecordUpdate{
		Status:   Verdict(labels),
		Findings: labels,
		Offsets:  []int64{},
	}
}

// NormalizeVideo maps an async video result, keeping Offsets index-aligned
// with Findings.
func NormalizeVideo(findings []analyzer.Finding) models.RecordUpdate {
	labels := make([]string, 0, len(findings))
	offsets := make([]int64, 0, len(findings))
	for _, f := range findings {
		labels = append(labels, f.Label)
		offsets = append(offsets, max(f.OffsetMillis, 0))
	}
	return models.RecordUpdate{
		Status:   Verdict(labels),
		Findings: labels,
		Offsets:  offsets,
	}
}
