// Package recovery clears stale stage markers left behind by an unclean
// shutdown so interrupted work is retried instead of stuck.
package recovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/pipeline"
)

// SweepResult reports how many interrupted rows each stage reset.
type SweepResult struct {
	Conversions int64
	Extractions int64
}

// Sweep resets rows whose conversion or extraction was started but never
// finished. Run it once at startup, before any work is scheduled.
func Sweep(ctx context.Context, store pipeline.RecordStore, logger *zap.Logger) (SweepResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var result SweepResult

	n, err := store.ResetInterruptedConversions(ctx)
	if err != nil {
		return result, fmt.Errorf("reset interrupted conversions: %w", err)
	}
	result.Conversions = n

	n, err = store.ResetInterruptedExtractions(ctx)
	if err != nil {
		return result, fmt.Errorf("reset interrupted extractions: %w", err)
	}
	result.Extractions = n

	if result.Conversions > 0 || result.Extractions > 0 {
		logger.Info("reset interrupted stages",
			zap.Int64("conversions", result.Conversions),
			zap.Int64("extractions", result.Extractions))
	}
	return result, nil
}
