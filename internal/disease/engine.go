// Package disease maintains the bounded severity score of disease records and
// applies feedback-driven transitions.
package disease

import (
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/cropcare/internal/models"
)

// Score bounds.
const (
	MinScore = 0
	MaxScore = 10

	// escalateScore is the score at or above which a disease is active again.
	escalateScore = 7
)

// InitialScore maps a severity hint to its starting score.
func InitialScore(hint models.Severity) int {
	switch hint {
	case models.SeverityMild:
		return 3
	case models.SeveritySevere:
		return 7
	default:
		return 5
	}
}

// CurrentScore returns the record's score, deriving it from the severity hint
// when the score was never set on an unresolved record.
func CurrentScore(d *models.DiseaseRecord) int {
	if d.SeverityScore == 0 && d.Status != models.DiseaseResolved {
		return InitialScore(d.Severity)
	}
	return clamp(d.SeverityScore)
}

// NewRecord creates a disease record from a user or diagnosis report.
func NewRecord(name string, symptoms []string, hint models.Severity, at time.Time) (models.DiseaseRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.DiseaseRecord{}, fmt.Errorf("%w: disease name is required", models.ErrValidation)
	}
	switch hint {
	case models.SeverityMild, models.SeverityModerate, models.SeveritySevere:
	case "":
		hint = models.SeverityModerate
	default:
		return models.DiseaseRecord{}, fmt.Errorf("%w: unknown severity %q", models.ErrValidation, hint)
	}
	score := InitialScore(hint)
	return models.DiseaseRecord{
		Name:          name,
		Symptoms:      symptoms,
		Severity:      hint,
		SeverityScore: score,
		Status:        statusForNewScore(score),
		ReportedAt:    at,
	}, nil
}

func statusForNewScore(score int) models.DiseaseStatus {
	if score <= 0 {
		return models.DiseaseResolved
	}
	return models.DiseaseActive
}

// ApplyFeedback applies one feedback report to d and appends it to the
// record's history. It returns true exactly when the disease became resolved
// by this report, signalling that the plan should be regenerated.
func ApplyFeedback(d *models.DiseaseRecord, status models.FeedbackStatus, notes string, at time.Time) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: unknown feedback status %q", models.ErrValidation, status)
	}

	wasResolved := d.Status == models.DiseaseResolved
	score := CurrentScore(d)

	switch status {
	case models.FeedbackResolved:
		resolve(d)

	case models.FeedbackBetter:
		score = max(MinScore, score-1)
		if score <= 0 {
			resolve(d)
			break
		}
		d.SeverityScore = score
		if d.Status == models.DiseaseActive {
			d.Status = models.DiseaseTreating
		}

	case models.FeedbackWorse:
		score = min(MaxScore, score+2)
		d.SeverityScore = score
		if score >= escalateScore || d.Status == models.DiseaseResolved {
			// A resolved disease that gets worse is reopened so that a
			// non-zero score never sits on a resolved record.
			d.Status = models.DiseaseActive
		}

	case models.FeedbackSame:
		d.SeverityScore = score
		if score >= escalateScore && d.Status == models.DiseaseTreating {
			d.Status = models.DiseaseActive
		}
	}

	d.Feedback = append(d.Feedback, models.FeedbackEntry{
		Status: status,
		Notes:  strings.TrimSpace(notes),
		At:     at,
	})

	return !wasResolved && d.Status == models.DiseaseResolved, nil
}

func resolve(d *models.DiseaseRecord) {
	d.SeverityScore = 0
	d.Status = models.DiseaseResolved
	d.SelectedTreatments = nil
}

func clamp(score int) int {
	return min(MaxScore, max(MinScore, score))
}

// Active returns the diseases that are not resolved, in record order.
func Active(records []models.DiseaseRecord) []models.DiseaseRecord {
	var out []models.DiseaseRecord
	for _, d := range records {
		if d.IsActive() {
			out = append(out, d)
		}
	}
	return out
}
