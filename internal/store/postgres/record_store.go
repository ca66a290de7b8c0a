// Package postgres provides the Postgres-backed record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docpipe/docpipe/internal/pipeline"
)

// RecordStoreConfig controls the Postgres connection pool.
type RecordStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RecordStore persists document records in the documents table.
type RecordStore struct {
	pool dbPool
}

// NewRecordStore connects a pool and returns a store.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool dbPool) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RecordStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the documents table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	locator TEXT NOT NULL UNIQUE,
	locator_hash TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL,
	storage_path TEXT NOT NULL DEFAULT '',
	byte_size BIGINT NOT NULL DEFAULT 0,
	media_type TEXT NOT NULL DEFAULT '',
	downloaded BOOLEAN NOT NULL DEFAULT FALSE,
	download_outcome TEXT NOT NULL DEFAULT '',
	download_error TEXT NOT NULL DEFAULT '',
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	conversion_started_at TIMESTAMPTZ,
	conversion_completed_at TIMESTAMPTZ,
	conversion_completed BOOLEAN NOT NULL DEFAULT FALSE,
	conversion_error TEXT NOT NULL DEFAULT '',
	text_path TEXT NOT NULL DEFAULT '',
	images_path TEXT NOT NULL DEFAULT '',
	extraction_started_at TIMESTAMPTZ,
	extraction_completed_at TIMESTAMPTZ,
	extraction_completed BOOLEAN NOT NULL DEFAULT FALSE,
	extraction_error TEXT NOT NULL DEFAULT '',
	extraction_path TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS documents_content_hash_idx ON documents (content_hash) WHERE content_hash <> '';
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const recordColumns = `
	id, locator, locator_hash, content_hash, display_name, storage_path,
	byte_size, media_type, downloaded, download_outcome, download_error, processed_at,
	conversion_started_at, conversion_completed_at, conversion_completed, conversion_error,
	text_path, images_path,
	extraction_started_at, extraction_completed_at, extraction_completed, extraction_error,
	extraction_path`

func scanRecord(row pgx.Row) (pipeline.DocumentRecord, error) {
	var rec pipeline.DocumentRecord
	var outcome string
	err := row.Scan(
		&rec.ID, &rec.Locator, &rec.LocatorHash, &rec.ContentHash, &rec.DisplayName, &rec.StoragePath,
		&rec.ByteSize, &rec.MediaType, &rec.Downloaded, &outcome, &rec.DownloadErr, &rec.ProcessedAt,
		&rec.Conversion.StartedAt, &rec.Conversion.CompletedAt, &rec.Conversion.Completed, &rec.Conversion.Error,
		&rec.TextPath, &rec.ImagesPath,
		&rec.Extraction.StartedAt, &rec.Extraction.CompletedAt, &rec.Extraction.Completed, &rec.Extraction.Error,
		&rec.ReportPath,
	)
	if err != nil {
		return pipeline.DocumentRecord{}, err
	}
	rec.Outcome = pipeline.DownloadOutcome(outcome)
	return rec, nil
}

func (s *RecordStore) queryRecords(ctx context.Context, query string, args ...any) ([]pipeline.DocumentRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []pipeline.DocumentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// UpsertDownloadResult inserts or fully replaces the row for rec.Locator.
// Every column is overwritten so a re-download resets downstream stage state.
func (s *RecordStore) UpsertDownloadResult(ctx context.Context, rec pipeline.DocumentRecord) (pipeline.DocumentRecord, error) {
	if rec.Locator == "" {
		return pipeline.DocumentRecord{}, fmt.Errorf("locator is required")
	}
	query := `
INSERT INTO documents (
	locator, locator_hash, content_hash, display_name, storage_path,
	byte_size, media_type, downloaded, download_outcome, download_error, processed_at,
	conversion_started_at, conversion_completed_at, conversion_completed, conversion_error,
	text_path, images_path,
	extraction_started_at, extraction_completed_at, extraction_completed, extraction_error,
	extraction_path
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
ON CONFLICT (locator) DO UPDATE SET
	locator_hash = EXCLUDED.locator_hash,
	content_hash = EXCLUDED.content_hash,
	display_name = EXCLUDED.display_name,
	storage_path = EXCLUDED.storage_path,
	byte_size = EXCLUDED.byte_size,
	media_type = EXCLUDED.media_type,
	downloaded = EXCLUDED.downloaded,
	download_outcome = EXCLUDED.download_outcome,
	download_error = EXCLUDED.download_error,
	processed_at = EXCLUDED.processed_at,
	conversion_started_at = EXCLUDED.conversion_started_at,
	conversion_completed_at = EXCLUDED.conversion_completed_at,
	conversion_completed = EXCLUDED.conversion_completed,
	conversion_error = EXCLUDED.conversion_error,
	text_path = EXCLUDED.text_path,
	images_path = EXCLUDED.images_path,
	extraction_started_at = EXCLUDED.extraction_started_at,
	extraction_completed_at = EXCLUDED.extraction_completed_at,
	extraction_completed = EXCLUDED.extraction_completed,
	extraction_error = EXCLUDED.extraction_error,
	extraction_path = EXCLUDED.extraction_path
RETURNING id, processed_at`

	args := []any{
		rec.Locator, rec.LocatorHash, rec.ContentHash, rec.DisplayName, rec.StoragePath,
		rec.ByteSize, rec.MediaType, rec.Downloaded, string(rec.Outcome), rec.DownloadErr, rec.ProcessedAt,
		rec.Conversion.StartedAt, rec.Conversion.CompletedAt, rec.Conversion.Completed, rec.Conversion.Error,
		rec.TextPath, rec.ImagesPath,
		rec.Extraction.StartedAt, rec.Extraction.CompletedAt, rec.Extraction.Completed, rec.Extraction.Error,
		rec.ReportPath,
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&rec.ID, &rec.ProcessedAt); err != nil {
		return pipeline.DocumentRecord{}, fmt.Errorf("upsert document: %w", err)
	}
	return rec, nil
}

// GetByLocator fetches one record or returns pipeline.ErrNotFound.
func (s *RecordStore) GetByLocator(ctx context.Context, locator string) (pipeline.DocumentRecord, error) {
	query := `SELECT` + recordColumns + ` FROM documents WHERE locator = $1`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, locator))
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.DocumentRecord{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.DocumentRecord{}, fmt.Errorf("get document by locator: %w", err)
	}
	return rec, nil
}

// GetByID fetches one record or returns pipeline.ErrNotFound.
func (s *RecordStore) GetByID(ctx context.Context, id int64) (pipeline.DocumentRecord, error) {
	query := `SELECT` + recordColumns + ` FROM documents WHERE id = $1`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.DocumentRecord{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.DocumentRecord{}, fmt.Errorf("get document by id: %w", err)
	}
	return rec, nil
}

// ListAll returns every record, newest first.
func (s *RecordStore) ListAll(ctx context.Context) ([]pipeline.DocumentRecord, error) {
	query := `SELECT` + recordColumns + ` FROM documents ORDER BY processed_at DESC, id DESC`
	return s.queryRecords(ctx, query)
}

// ListPendingConversion returns successful downloads whose conversion has not
// been attempted, oldest download first. Failed and in-flight rows are
// excluded; the restart sweep resets interrupted rows back to pending.
func (s *RecordStore) ListPendingConversion(ctx context.Context) ([]pipeline.DocumentRecord, error) {
	query := `SELECT` + recordColumns + ` FROM documents
WHERE downloaded AND download_outcome = $1 AND NOT conversion_completed
AND conversion_started_at IS NULL
ORDER BY processed_at ASC, id ASC`
	return s.queryRecords(ctx, query, string(pipeline.DownloadSuccess))
}

// ListPendingExtraction returns converted records whose extraction has not
// been attempted, oldest conversion first.
func (s *RecordStore) ListPendingExtraction(ctx context.Context) ([]pipeline.DocumentRecord, error) {
	query := `SELECT` + recordColumns + ` FROM documents
WHERE conversion_completed AND NOT extraction_completed
AND extraction_started_at IS NULL
ORDER BY conversion_completed_at ASC, id ASC`
	return s.queryRecords(ctx, query)
}

// MarkConversionStarted stamps the conversion start and clears prior markers.
func (s *RecordStore) MarkConversionStarted(ctx context.Context, locator string) error {
	query := `UPDATE documents SET
	conversion_started_at = now(),
	conversion_completed_at = NULL,
	conversion_completed = FALSE,
	conversion_error = ''
WHERE locator = $1`
	return s.execOne(ctx, query, locator)
}

// MarkConversionCompleted records success and the artifact paths.
func (s *RecordStore) MarkConversionCompleted(ctx context.Context, locator, textPath, imagesPath string) error {
	query := `UPDATE documents SET
	conversion_completed_at = now(),
	conversion_completed = TRUE,
	conversion_error = '',
	text_path = $2,
	images_path = $3
WHERE locator = $1`
	return s.execOne(ctx, query, locator, textPath, imagesPath)
}

// MarkConversionFailed records the failure cause.
func (s *RecordStore) MarkConversionFailed(ctx context.Context, locator, cause string) error {
	query := `UPDATE documents SET
	conversion_completed_at = NULL,
	conversion_completed = FALSE,
	conversion_error = $2
WHERE locator = $1`
	return s.execOne(ctx, query, locator, cause)
}

// MarkExtractionStarted stamps the extraction start and clears prior markers.
func (s *RecordStore) MarkExtractionStarted(ctx context.Context, locator string) error {
	query := `UPDATE documents SET
	extraction_started_at = now(),
	extraction_completed_at = NULL,
	extraction_completed = FALSE,
	extraction_error = ''
WHERE locator = $1`
	return s.execOne(ctx, query, locator)
}

// MarkExtractionCompleted records success and the report path.
func (s *RecordStore) MarkExtractionCompleted(ctx context.Context, locator, reportPath string) error {
	query := `UPDATE documents SET
	extraction_completed_at = now(),
	extraction_completed = TRUE,
	extraction_error = '',
	extraction_path = $2
WHERE locator = $1`
	return s.execOne(ctx, query, locator, reportPath)
}

// MarkExtractionFailed records the failure cause.
func (s *RecordStore) MarkExtractionFailed(ctx context.Context, locator, cause string) error {
	query := `UPDATE documents SET
	extraction_completed_at = NULL,
	extraction_completed = FALSE,
	extraction_error = $2
WHERE locator = $1`
	return s.execOne(ctx, query, locator, cause)
}

// ResetInterruptedConversions clears conversion start markers left by a crash
// and stamps a retryable note.
func (s *RecordStore) ResetInterruptedConversions(ctx context.Context) (int64, error) {
	query := `UPDATE documents SET
	conversion_started_at = NULL,
	conversion_error = $1
WHERE conversion_started_at IS NOT NULL
  AND conversion_completed_at IS NULL
  AND NOT conversion_completed
  AND conversion_error = ''`
	tag, err := s.pool.Exec(ctx, query, pipeline.InterruptedConversionNote)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted conversions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetInterruptedExtractions clears extraction start markers left by a crash
// and stamps a retryable note.
func (s *RecordStore) ResetInterruptedExtractions(ctx context.Context) (int64, error) {
	query := `UPDATE documents SET
	extraction_started_at = NULL,
	extraction_error = $1
WHERE extraction_started_at IS NOT NULL
  AND extraction_completed_at IS NULL
  AND NOT extraction_completed
  AND extraction_error = ''`
	tag, err := s.pool.Exec(ctx, query, pipeline.InterruptedExtractionNote)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted extractions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByLocator removes the row and returns its artifact paths for cleanup.
func (s *RecordStore) DeleteByLocator(ctx context.Context, locator string) (pipeline.ArtifactPaths, error) {
	query := `DELETE FROM documents WHERE locator = $1
RETURNING storage_path, text_path, images_path, extraction_path`
	var paths pipeline.ArtifactPaths
	err := s.pool.QueryRow(ctx, query, locator).
		Scan(&paths.Document, &paths.Text, &paths.Images, &paths.Report)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.ArtifactPaths{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.ArtifactPaths{}, fmt.Errorf("delete document: %w", err)
	}
	return paths, nil
}

// FindByContentHash returns all records sharing the content hash, oldest first.
func (s *RecordStore) FindByContentHash(ctx context.Context, hash string) ([]pipeline.DocumentRecord, error) {
	query := `SELECT` + recordColumns + ` FROM documents
WHERE content_hash <> '' AND content_hash = $1
ORDER BY processed_at ASC, id ASC`
	return s.queryRecords(ctx, query, hash)
}

// ListDuplicateGroups returns content hashes shared by multiple locators.
func (s *RecordStore) ListDuplicateGroups(ctx context.Context) ([]pipeline.DuplicateGroup, error) {
	query := `
SELECT content_hash,
       COUNT(*) AS dup_count,
       ARRAY_AGG(locator ORDER BY processed_at ASC, id ASC) AS locators,
       ARRAY_AGG(display_name ORDER BY processed_at ASC, id ASC) AS names,
       MIN(byte_size) AS byte_size
FROM documents
WHERE content_hash <> ''
GROUP BY content_hash
HAVING COUNT(*) > 1
ORDER BY content_hash`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query duplicate groups: %w", err)
	}
	defer rows.Close()

	var out []pipeline.DuplicateGroup
	for rows.Next() {
		var g pipeline.DuplicateGroup
		if err := rows.Scan(&g.ContentHash, &g.Count, &g.Locators, &g.Names, &g.ByteSize); err != nil {
			return nil, fmt.Errorf("scan duplicate group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate duplicate groups: %w", err)
	}
	return out, nil
}

// ListMissingContentHash returns successful downloads with no content hash.
func (s *RecordStore) ListMissingContentHash(ctx context.Context) ([]pipeline.DocumentRecord, error) {
	query := `SELECT` + recordColumns + ` FROM documents
WHERE downloaded AND download_outcome = $1 AND content_hash = ''
ORDER BY processed_at ASC, id ASC`
	return s.queryRecords(ctx, query, string(pipeline.DownloadSuccess))
}

// UpdateContentHash sets the content hash for one locator.
func (s *RecordStore) UpdateContentHash(ctx context.Context, locator, hash string) error {
	return s.execOne(ctx, `UPDATE documents SET content_hash = $2 WHERE locator = $1`, locator, hash)
}

// ComputeStats aggregates per-stage counts in one query.
func (s *RecordStore) ComputeStats(ctx context.Context) (pipeline.Stats, error) {
	query := `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE downloaded AND download_outcome = $1),
	COUNT(*) FILTER (WHERE NOT (downloaded AND download_outcome = $1)),
	COUNT(*) FILTER (WHERE downloaded AND download_outcome = $1 AND conversion_completed),
	COUNT(*) FILTER (WHERE downloaded AND download_outcome = $1 AND NOT conversion_completed),
	COUNT(*) FILTER (WHERE downloaded AND download_outcome = $1 AND extraction_completed),
	COUNT(*) FILTER (WHERE downloaded AND download_outcome = $1 AND conversion_completed AND NOT extraction_completed),
	COALESCE(SUM(byte_size) FILTER (WHERE downloaded AND download_outcome = $1), 0)
FROM documents`
	var stats pipeline.Stats
	err := s.pool.QueryRow(ctx, query, string(pipeline.DownloadSuccess)).Scan(
		&stats.TotalProcessed,
		&stats.SuccessfulDownloads,
		&stats.FailedAttempts,
		&stats.Converted,
		&stats.PendingConversion,
		&stats.Extracted,
		&stats.PendingExtraction,
		&stats.TotalBytes,
	)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("compute stats: %w", err)
	}
	return stats, nil
}

func (s *RecordStore) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

var _ pipeline.RecordStore = (*RecordStore)(nil)
