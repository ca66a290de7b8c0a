// Package pipeline defines core types shared across subsystems.
package pipeline

import "time"

// DownloadOutcome records the terminal result of a download attempt.
type DownloadOutcome string

// Download outcome values persisted in the record store.
const (
	DownloadSuccess DownloadOutcome = "success"
	DownloadError   DownloadOutcome = "error"
)

// StagePhase is the derived lifecycle position of a pipeline stage.
type StagePhase string

// Stage phases derived from StageState.
const (
	PhasePending   StagePhase = "pending"
	PhaseStarted   StagePhase = "started"
	PhaseCompleted StagePhase = "completed"
	PhaseFailed    StagePhase = "failed"
)

// Stage names a pipeline phase.
type Stage string

// Pipeline stages in execution order.
const (
	StageDownload   Stage = "download"
	StageConversion Stage = "conversion"
	StageExtraction Stage = "extraction"
)

// StageState carries the raw persisted markers for one stage of one document.
// Completed is only true together with a set CompletedAt and an empty Error.
type StageState struct {
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Completed   bool       `json:"completed"`
	Error       string     `json:"error,omitempty"`
}

// Phase derives the lifecycle position from the stored markers.
func (s StageState) Phase() StagePhase {
	switch {
	case s.Completed && s.CompletedAt != nil:
		return PhaseCompleted
	case s.Error != "" && s.StartedAt != nil:
		return PhaseFailed
	case s.StartedAt != nil:
		return PhaseStarted
	default:
		return PhasePending
	}
}

// Interrupted reports whether the stage was started but never finished,
// which after a process restart means the work was cut short.
func (s StageState) Interrupted() bool {
	return s.StartedAt != nil && s.CompletedAt == nil && !s.Completed && s.Error == ""
}

// DocumentRecord is the single row tracked per submitted document.
type DocumentRecord struct {
	ID          int64           `json:"id"`
	Locator     string          `json:"locator"`
	LocatorHash string          `json:"locator_hash"`
	ContentHash string          `json:"content_hash,omitempty"`
	DisplayName string          `json:"display_name"`
	StoragePath string          `json:"storage_path"`
	ByteSize    int64           `json:"byte_size"`
	MediaType   string          `json:"media_type,omitempty"`
	Downloaded  bool            `json:"downloaded"`
	Outcome     DownloadOutcome `json:"download_outcome"`
	DownloadErr string          `json:"download_error,omitempty"`
	ProcessedAt time.Time       `json:"processed_at"`

	Conversion StageState `json:"conversion"`
	TextPath   string     `json:"text_path,omitempty"`
	ImagesPath string     `json:"images_path,omitempty"`

	Extraction StageState `json:"extraction"`
	ReportPath string     `json:"extraction_path,omitempty"`
}

// DownloadReady reports whether the record is eligible for conversion input.
func (r DocumentRecord) DownloadReady() bool {
	return r.Downloaded && r.Outcome == DownloadSuccess
}

// ArtifactPaths lists the stored output locations for a record, used by
// deletion to clean up the filesystem.
type ArtifactPaths struct {
	Document string
	Text     string
	Images   string
	Report   string
}

// Stats aggregates per-stage counts for the whole store.
type Stats struct {
	TotalProcessed      int64 `json:"total_processed"`
	SuccessfulDownloads int64 `json:"successful_downloads"`
	FailedAttempts      int64 `json:"failed_attempts"`
	Converted           int64 `json:"converted"`
	PendingConversion   int64 `json:"pending_conversion"`
	Extracted           int64 `json:"extracted"`
	PendingExtraction   int64 `json:"pending_extraction"`
	TotalBytes          int64 `json:"total_file_size_bytes"`
}

// DuplicateGroup describes one content hash shared by multiple locators.
type DuplicateGroup struct {
	ContentHash string   `json:"content_hash"`
	Count       int      `json:"duplicate_count"`
	Locators    []string `json:"locators"`
	Names       []string `json:"names"`
	ByteSize    int64    `json:"byte_size"`
}

// StageResult is the structured outcome returned by a stage runner. Runners
// never propagate errors out of a drain; failures land here instead.
type StageResult struct {
	Locator  string `json:"locator"`
	Stage    Stage  `json:"stage"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
	TextPath string `json:"text_path,omitempty"`
	Images   int    `json:"image_count,omitempty"`
	Report   string `json:"extraction_path,omitempty"`
}
