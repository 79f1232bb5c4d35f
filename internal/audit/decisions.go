// Package audit records decision entries for state-mutating operations.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/fentz26/cropcare/internal/models"
)

// Store persists decision records.
type Store interface {
	WriteDecision(ctx context.Context, action, inputsHash, outcome, plantID, details string) (*models.DecisionRecord, error)
}

// DecisionWriter writes decision records for audit trails. Writes are
// fire-and-forget: a failure is logged and never reaches the caller. A nil
// *DecisionWriter discards records.
type DecisionWriter struct {
	store  Store
	logger *slog.Logger
}

// NewDecisionWriter creates a new decision writer.
func NewDecisionWriter(s Store, logger *slog.Logger) *DecisionWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionWriter{store: s, logger: logger}
}

// Record writes a decision entry for a state-mutating action.
func (w *DecisionWriter) Record(ctx context.Context, action string, inputs any, outcome, plantID, details string) {
	if w == nil || w.store == nil {
		return
	}
	if _, err := w.store.WriteDecision(ctx, action, HashInputs(inputs), outcome, plantID, details); err != nil {
		w.logger.Warn("Failed to record decision",
			"action", action,
			"plant_id", plantID,
			"error", err)
	}
}

// HashInputs creates a SHA256 hash of the inputs for reproducibility.
func HashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
