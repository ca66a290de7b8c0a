package pipeline

import (
	"context"
	"io"
	"time"
)

// RecordStore persists and queries document pipeline records.
type RecordStore interface {
	// UpsertDownloadResult inserts or replaces the record for rec.Locator.
	// Replacement preserves nothing from any prior row.
	UpsertDownloadResult(ctx context.Context, rec DocumentRecord) (DocumentRecord, error)

	GetByLocator(ctx context.Context, locator string) (DocumentRecord, error)
	GetByID(ctx context.Context, id int64) (DocumentRecord, error)
	ListAll(ctx context.Context) ([]DocumentRecord, error)

	// ListPendingConversion returns successful downloads whose conversion has
	// not completed, oldest first.
	ListPendingConversion(ctx context.Context) ([]DocumentRecord, error)
	// ListPendingExtraction returns converted records whose extraction has not
	// completed, oldest first.
	ListPendingExtraction(ctx context.Context) ([]DocumentRecord, error)

	MarkConversionStarted(ctx context.Context, locator string) error
	MarkConversionCompleted(ctx context.Context, locator, textPath, imagesPath string) error
	MarkConversionFailed(ctx context.Context, locator, cause string) error

	MarkExtractionStarted(ctx context.Context, locator string) error
	MarkExtractionCompleted(ctx context.Context, locator, reportPath string) error
	MarkExtractionFailed(ctx context.Context, locator, cause string) error

	// ResetInterruptedConversions clears stale started markers left by a crash
	// and stamps the stage with a retryable note. Returns rows touched.
	ResetInterruptedConversions(ctx context.Context) (int64, error)
	ResetInterruptedExtractions(ctx context.Context) (int64, error)

	// DeleteByLocator removes the record and reports the artifact paths the
	// caller should clean up.
	DeleteByLocator(ctx context.Context, locator string) (ArtifactPaths, error)

	FindByContentHash(ctx context.Context, hash string) ([]DocumentRecord, error)
	ListDuplicateGroups(ctx context.Context) ([]DuplicateGroup, error)
	ListMissingContentHash(ctx context.Context) ([]DocumentRecord, error)
	UpdateContentHash(ctx context.Context, locator, hash string) error

	ComputeStats(ctx context.Context) (Stats, error)
}

// FetchResponse is a completed remote fetch.
type FetchResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Fetcher retrieves remote documents.
type Fetcher interface {
	// Probe issues a lightweight request to learn the content type without
	// transferring the body. Implementations may return an empty type.
	Probe(ctx context.Context, locator string) (string, error)
	Fetch(ctx context.Context, locator string) (FetchResponse, error)
}

// ConversionOutput is the product of rendering one document.
type ConversionOutput struct {
	Text   string
	Images [][]byte
}

// Converter renders a stored document into plain text and page images.
type Converter interface {
	Convert(ctx context.Context, path string) (ConversionOutput, error)
}

// ChatClient sends one prompt to a language model and returns its reply.
type ChatClient interface {
	Chat(ctx context.Context, model, system, user string) (string, error)
}

// Hasher produces content fingerprints.
type Hasher interface {
	Hash(data []byte) string
	HashText(text string) string
	HashFile(path string) (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// TaskHandle tracks one scheduled background task.
type TaskHandle interface {
	ID() string
	// Done closes when the task finishes, successfully or not.
	Done() <-chan struct{}
	// Err returns the task error once Done is closed.
	Err() error
}

// Scheduler queues background work for serial execution.
type Scheduler interface {
	Submit(name string, fn func(context.Context) error) (TaskHandle, error)
}

// Publisher emits pipeline completion events to an external bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// ArchiveStore mirrors downloaded documents to durable object storage.
type ArchiveStore interface {
	PutObject(ctx context.Context, key string, r io.Reader) error
}
