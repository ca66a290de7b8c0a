package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/internal/pipeline"
)

var recordCols = []string{
	"id", "locator", "locator_hash", "content_hash", "display_name", "storage_path",
	"byte_size", "media_type", "downloaded", "download_outcome", "download_error", "processed_at",
	"conversion_started_at", "conversion_completed_at", "conversion_completed", "conversion_error",
	"text_path", "images_path",
	"extraction_started_at", "extraction_completed_at", "extraction_completed", "extraction_error",
	"extraction_path",
}

func recordRow(mock pgxmock.PgxPoolIface, rec pipeline.DocumentRecord) *pgxmock.Rows {
	return mock.NewRows(recordCols).AddRow(
		rec.ID, rec.Locator, rec.LocatorHash, rec.ContentHash, rec.DisplayName, rec.StoragePath,
		rec.ByteSize, rec.MediaType, rec.Downloaded, string(rec.Outcome), rec.DownloadErr, rec.ProcessedAt,
		rec.Conversion.StartedAt, rec.Conversion.CompletedAt, rec.Conversion.Completed, rec.Conversion.Error,
		rec.TextPath, rec.ImagesPath,
		rec.Extraction.StartedAt, rec.Extraction.CompletedAt, rec.Extraction.Completed, rec.Extraction.Error,
		rec.ReportPath,
	)
}

func TestUpsertDownloadResultInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := pipeline.DocumentRecord{
		Locator:     "https://example.com/report.pdf",
		LocatorHash: "abc123",
		DisplayName: "report.pdf",
		StoragePath: "report.pdf",
		ByteSize:    2048,
		MediaType:   "application/pdf",
		Downloaded:  true,
		Outcome:     pipeline.DownloadSuccess,
		ProcessedAt: now,
	}

	mock.ExpectQuery("INSERT INTO documents").
		WithArgs(
			rec.Locator, rec.LocatorHash, rec.ContentHash, rec.DisplayName, rec.StoragePath,
			rec.ByteSize, rec.MediaType, rec.Downloaded, string(rec.Outcome), rec.DownloadErr, rec.ProcessedAt,
			rec.Conversion.StartedAt, rec.Conversion.CompletedAt, rec.Conversion.Completed, rec.Conversion.Error,
			rec.TextPath, rec.ImagesPath,
			rec.Extraction.StartedAt, rec.Extraction.CompletedAt, rec.Extraction.Completed, rec.Extraction.Error,
			rec.ReportPath,
		).
		WillReturnRows(mock.NewRows([]string{"id", "processed_at"}).AddRow(int64(7), now))

	stored, err := store.UpsertDownloadResult(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, int64(7), stored.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRequiresLocator(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	_, err = store.UpsertDownloadResult(context.Background(), pipeline.DocumentRecord{})
	require.Error(t, err)
}

func TestGetByLocatorNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT").
		WithArgs("https://missing.test/doc.pdf").
		WillReturnRows(mock.NewRows(recordCols))

	_, err = store.GetByLocator(context.Background(), "https://missing.test/doc.pdf")
	require.True(t, errors.Is(err, pipeline.ErrNotFound), "expected ErrNotFound, got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingConversionScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := pipeline.DocumentRecord{
		ID:          1,
		Locator:     "https://example.com/a.pdf",
		LocatorHash: "h",
		DisplayName: "a.pdf",
		StoragePath: "a.pdf",
		ByteSize:    10,
		MediaType:   "application/pdf",
		Downloaded:  true,
		Outcome:     pipeline.DownloadSuccess,
		ProcessedAt: now,
	}

	mock.ExpectQuery("SELECT").
		WithArgs(string(pipeline.DownloadSuccess)).
		WillReturnRows(recordRow(mock, rec))

	got, err := store.ListPendingConversion(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, rec.Locator, got[0].Locator)
	require.Equal(t, pipeline.DownloadSuccess, got[0].Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingExtractionQueryShape(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := pipeline.DocumentRecord{
		ID:          2,
		Locator:     "https://example.com/b.pdf",
		LocatorHash: "h",
		DisplayName: "b.pdf",
		StoragePath: "b.pdf",
		Downloaded:  true,
		Outcome:     pipeline.DownloadSuccess,
		ProcessedAt: now,
		Conversion: pipeline.StageState{
			StartedAt: &now, CompletedAt: &now, Completed: true,
		},
		TextPath: "b/b.txt",
	}

	// Backlog order follows conversion completion, and rows with a started
	// or failed extraction are not re-listed.
	mock.ExpectQuery(`extraction_started_at IS NULL\s+ORDER BY conversion_completed_at ASC`).
		WillReturnRows(recordRow(mock, rec))

	got, err := store.ListPendingExtraction(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, rec.Locator, got[0].Locator)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkConversionCompletedUpdatesPaths(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE documents").
		WithArgs("https://example.com/a.pdf", "a/a.txt", "a/images").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.MarkConversionCompleted(context.Background(), "https://example.com/a.pdf", "a/a.txt", "a/images")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkExtractionFailedUnknownLocator(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE documents").
		WithArgs("https://missing.test/doc.pdf", "boom").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.MarkExtractionFailed(context.Background(), "https://missing.test/doc.pdf", "boom")
	require.True(t, errors.Is(err, pipeline.ErrNotFound), "expected ErrNotFound, got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetInterruptedConversionsCountsRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE documents").
		WithArgs(pipeline.InterruptedConversionNote).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := store.ResetInterruptedConversions(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByLocatorReturnsPaths(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("DELETE FROM documents").
		WithArgs("https://example.com/a.pdf").
		WillReturnRows(mock.NewRows([]string{"storage_path", "text_path", "images_path", "extraction_path"}).
			AddRow("a.pdf", "a/a.txt", "a/images", "a/extraction/extracted_data.json"))

	paths, err := store.DeleteByLocator(context.Background(), "https://example.com/a.pdf")
	require.NoError(t, err)
	require.Equal(t, "a.pdf", paths.Document)
	require.Equal(t, "a/extraction/extracted_data.json", paths.Report)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestComputeStatsScansAggregates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	cols := []string{"total", "ok", "failed", "converted", "pending_conv", "extracted", "pending_ext", "bytes"}
	mock.ExpectQuery("SELECT").
		WithArgs(string(pipeline.DownloadSuccess)).
		WillReturnRows(mock.NewRows(cols).AddRow(
			int64(10), int64(8), int64(2), int64(5), int64(3), int64(4), int64(1), int64(4096),
		))

	stats, err := store.ComputeStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, pipeline.Stats{
		TotalProcessed:      10,
		SuccessfulDownloads: 8,
		FailedAttempts:      2,
		Converted:           5,
		PendingConversion:   3,
		Extracted:           4,
		PendingExtraction:   1,
		TotalBytes:          4096,
	}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}
