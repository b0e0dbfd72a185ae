package moderation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kdimtricp/modcheck/internal/analyzer"
	"github.com/kdimtricp/modcheck/internal/models"
)

func TestVerdict(t *testing.T) {
	assert.Equal(t, models.StatusPassed, Verdict(nil))
	assert.Equal(t, models.StatusPassed, Verdict([]string{}))
	assert.Equal(t, models.StatusFailed, Verdict([]string{"Violence"}))
}

func TestNormalizeImage(t *testing.T) {
	t.Run("no findings", func(t *testing.T) {
		u := NormalizeImage(nil)
		assert.Equal(t, models.StatusPassed, u.Status)
		assert.NotNil(t, u.Findings)
		assert.Empty(t, u.Findings)
		assert.NotNil(t, u.Offsets)
		assert.Empty(t, u.Offsets)
	})

	t.Run("labels kept in order and offsets dropped", func(t *testing.T) {
		u := NormalizeImage([]analyzer.Finding{
			{Label: "Explicit Nudity", Confidence: 98.1, OffsetMillis: 400},
			{Label: "Weapons", Confidence: 71},
		})
		assert.Equal(t, models.StatusFailed, u.Status)
		assert.Equal(t, []string{"Explicit Nudity", "Weapons"}, u.Findings)
		assert.Empty(t, u.Offsets)
	})
}

func TestNormalizeVideo(t *testing.T) {
	t.Run("no findings", func(t *testing.T) {
		u := NormalizeVideo([]analyzer.Finding{})
		assert.Equal(t, models.StatusPassed, u.Status)
		assert.Empty(t, u.Findings)
		assert.Empty(t, u.Offsets)
	})

	t.Run("offsets aligned with findings", func(t *testing.T) {
		u := NormalizeVideo([]analyzer.Finding{
			{Label: "Violence", OffsetMillis: 1200},
			{Label: "Violence", OffsetMillis: 3400},
			{Label: "Drugs", OffsetMillis: -5},
		})
		assert.Equal(t, models.StatusFailed, u.Status)
		assert.Equal(t, []string{"Violence", "Violence", "Drugs"}, u.Findings)
		assert.Equal(t, []int64{1200, 3400, 0}, u.Offsets)
	})
}

func TestNormalizeProperties(t *testing.T) {
	for n := 0; n <= 20; n++ {
		findings := make([]analyzer.Finding, n)
		for i := range findings {
			findings[i] = analyzer.Finding{Label: fmt.Sprintf("label-%d", i%3), OffsetMillis: int64(i * 250)}
		}

		video := NormalizeVideo(findings)
		image := NormalizeImage(findings)

		for _, u := range []models.RecordUpdate{video, image} {
			assert.Equal(t, n > 0, u.Status == models.StatusFailed, "n=%d", n)
			assert.Len(t, u.Findings, n)
		}
		assert.Len(t, video.Offsets, len(video.Findings))
		assert.Empty(t, image.Offsets)
		for _, off := range video.Offsets {
			assert.GreaterOrEqual(t, off, int64(0))
		}
	}
}
