package pipeline

import "errors"

// Sentinel errors shared across the pipeline packages.
var (
	ErrNotFound         = errors.New("record not found")
	ErrNotSupportedType = errors.New("unsupported media type")
	ErrFetchFailed      = errors.New("fetch failed")
	ErrMissingArtifact  = errors.New("artifact missing on disk")
	ErrNotConverted     = errors.New("document not converted")
	ErrInvalidSelection = errors.New("invalid extraction selection")
)

// Notes written into a stage error column when a restart sweep clears a
// stale started marker. The stage becomes pending again and will retry.
const (
	InterruptedConversionNote = "conversion interrupted by restart - will retry"
	InterruptedExtractionNote = "extraction interrupted by restart - will retry"
)
