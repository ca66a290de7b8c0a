// Package memory provides an in-memory record store for development/testing.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/docpipe/docpipe/internal/pipeline"
)

// RecordStore keeps document records in a map keyed by locator.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]pipeline.DocumentRecord
	nextID  int64
	clock   pipeline.Clock
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore(clock pipeline.Clock) *RecordStore {
	return &RecordStore{
		records: make(map[string]pipeline.DocumentRecord),
		nextID:  1,
		clock:   clock,
	}
}

// UpsertDownloadResult inserts or fully replaces the record for rec.Locator.
// The row ID is preserved across replacement.
func (s *RecordStore) UpsertDownloadResult(_ context.Context, rec pipeline.DocumentRecord) (pipeline.DocumentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.records[rec.Locator]; ok {
		rec.ID = prev.ID
	} else {
		rec.ID = s.nextID
		s.nextID++
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = s.clock.Now()
	}
	s.records[rec.Locator] = rec
	return rec, nil
}

// GetByLocator fetches a record by its locator.
func (s *RecordStore) GetByLocator(_ context.Context, locator string) (pipeline.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[locator]
	if !ok {
		return pipeline.DocumentRecord{}, pipeline.ErrNotFound
	}
	return rec, nil
}

// GetByID fetches a record by its row ID.
func (s *RecordStore) GetByID(_ context.Context, id int64) (pipeline.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return pipeline.DocumentRecord{}, pipeline.ErrNotFound
}

// ListAll returns every record, newest first.
func (s *RecordStore) ListAll(_ context.Context) ([]pipeline.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.DocumentRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ProcessedAt.Equal(out[j].ProcessedAt) {
			return out[i].ProcessedAt.After(out[j].ProcessedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ListPendingConversion returns successful downloads whose conversion has not
// been attempted, oldest download first. Failed and in-flight rows are
// excluded; the restart sweep resets interrupted rows back to pending.
func (s *RecordStore) ListPendingConversion(_ context.Context) ([]pipeline.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.DocumentRecord
	for _, rec := range s.records {
		if rec.DownloadReady() && rec.Conversion.Phase() == pipeline.PhasePending {
			out = append(out, rec)
		}
	}
	sortOldest(out)
	return out, nil
}

// ListPendingExtraction returns converted records whose extraction has not
// been attempted, oldest conversion first.
func (s *RecordStore) ListPendingExtraction(_ context.Context) ([]pipeline.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.DocumentRecord
	for _, rec := range s.records {
		if rec.Conversion.Completed && rec.Extraction.Phase() == pipeline.PhasePending {
			out = append(out, rec)
		}
	}
	sortOldestConverted(out)
	return out, nil
}

// MarkConversionStarted stamps the conversion start time and clears any prior
// completion markers.
func (s *RecordStore) MarkConversionStarted(_ context.Context, locator string) error {
	return s.update(locator, func(rec *pipeline.DocumentRecord) {
		now := s.clock.Now()
		rec.Conversion = pipeline.StageState{StartedAt: &now}
	})
}

// MarkConversionCompleted records success together with the artifact paths.
func (s *RecordStore) MarkConversionCompleted(_ context.Context, locator, textPath, imagesPath string) error {
	return s.update(locator, func(rec *pipeline.DocumentRecord) {
		now := s.clock.Now()
		rec.Conversion.CompletedAt = &now
		rec.Conversion.Completed = true
		rec.Conversion.Error = ""
		rec.TextPath = textPath
		rec.ImagesPath = imagesPath
	})
}

// MarkConversionFailed records the failure cause; the stage stays incomplete.
func (s *RecordStore) MarkConversionFailed(_ context.Context, locator, cause string) error {
	return s.update(locator, func(rec *pipeline.DocumentRecord) {
		rec.Conversion.Completed = false
		rec.Conversion.CompletedAt = nil
		rec.Conversion.Error = cause
	})
}

// MarkExtractionStarted stamps the extraction start time.
func (s *RecordStore) MarkExtractionStarted(_ context.Context, locator string) error {
	return s.update(locator, func(rec *pipeline.DocumentRecord) {
		now := s.clock.Now()
		rec.Extraction = pipeline.StageState{StartedAt: &now}
	})
}

// MarkExtractionCompleted records success together with the report path.
func (s *RecordStore) MarkExtractionCompleted(_ context.Context, locator, reportPath string) error {
	return s.update(locator, func(rec *pipeline.DocumentRecord) {
		now := s.clock.Now()
		rec.Extraction.CompletedAt = &now
		rec.Extraction.Completed = true
		rec.Extraction.Error = ""
		rec.ReportPath = reportPath
	})
}

// MarkExtractionFailed records the failure cause; the stage stays incomplete.
func (s *RecordStore) MarkExtractionFailed(_ context.Context, locator, cause string) error {
	return s.update(locator, func(rec *pipeline.DocumentRecord) {
		rec.Extraction.Completed = false
		rec.Extraction.CompletedAt = nil
		rec.Extraction.Error = cause
	})
}

// ResetInterruptedConversions clears stale started markers left by a crash.
func (s *RecordStore) ResetInterruptedConversions(_ context.Context) (int64, error) {
	return s.resetInterrupted(func(rec *pipeline.DocumentRecord) *pipeline.StageState {
		return &rec.Conversion
	}, pipeline.InterruptedConversionNote), nil
}

// ResetInterruptedExtractions clears stale started markers left by a crash.
func (s *RecordStore) ResetInterruptedExtractions(_ context.Context) (int64, error) {
	return s.resetInterrupted(func(rec *pipeline.DocumentRecord) *pipeline.StageState {
		return &rec.Extraction
	}, pipeline.InterruptedExtractionNote), nil
}

// DeleteByLocator removes the record and returns its artifact paths.
func (s *RecordStore) DeleteByLocator(_ context.Context, locator string) (pipeline.ArtifactPaths, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[locator]
	if !ok {
		return pipeline.ArtifactPaths{}, pipeline.ErrNotFound
	}
	delete(s.records, locator)
	return pipeline.ArtifactPaths{
		Document: rec.StoragePath,
		Text:     rec.TextPath,
		Images:   rec.ImagesPath,
		Report:   rec.ReportPath,
	}, nil
}

// FindByContentHash returns all records sharing the content hash.
func (s *RecordStore) FindByContentHash(_ context.Context, hash string) ([]pipeline.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.DocumentRecord
	for _, rec := range s.records {
		if rec.ContentHash != "" && rec.ContentHash == hash {
			out = append(out, rec)
		}
	}
	sortOldest(out)
	return out, nil
}

// ListDuplicateGroups groups records by content hash and returns the groups
// with more than one member.
func (s *RecordStore) ListDuplicateGroups(_ context.Context) ([]pipeline.DuplicateGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byHash := make(map[string][]pipeline.DocumentRecord)
	for _, rec := range s.records {
		if rec.ContentHash != "" {
			byHash[rec.ContentHash] = append(byHash[rec.ContentHash], rec)
		}
	}
	var out []pipeline.DuplicateGroup
	for hash, recs := range byHash {
		if len(recs) < 2 {
			continue
		}
		sortOldest(recs)
		group := pipeline.DuplicateGroup{
			ContentHash: hash,
			Count:       len(recs),
			ByteSize:    recs[0].ByteSize,
		}
		for _, rec := range recs {
			group.Locators = append(group.Locators, rec.Locator)
			group.Names = append(group.Names, rec.DisplayName)
		}
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentHash < out[j].ContentHash })
	return out, nil
}

// ListMissingContentHash returns successful downloads with no content hash.
func (s *RecordStore) ListMissingContentHash(_ context.Context) ([]pipeline.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.DocumentRecord
	for _, rec := range s.records {
		if rec.DownloadReady() && rec.ContentHash == "" {
			out = append(out, rec)
		}
	}
	sortOldest(out)
	return out, nil
}

// UpdateContentHash sets the content hash for one locator.
func (s *RecordStore) UpdateContentHash(_ context.Context, locator, hash string) error {
	return s.update(locator, func(rec *pipeline.DocumentRecord) {
		rec.ContentHash = hash
	})
}

// ComputeStats aggregates counts across all records.
func (s *RecordStore) ComputeStats(_ context.Context) (pipeline.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats pipeline.Stats
	for _, rec := range s.records {
		stats.TotalProcessed++
		if rec.DownloadReady() {
			stats.SuccessfulDownloads++
			stats.TotalBytes += rec.ByteSize
			if rec.Conversion.Completed {
				stats.Converted++
			} else {
				stats.PendingConversion++
			}
			if rec.Extraction.Completed {
				stats.Extracted++
			} else if rec.Conversion.Completed {
				stats.PendingExtraction++
			}
		} else {
			stats.FailedAttempts++
		}
	}
	return stats, nil
}

func (s *RecordStore) update(locator string, fn func(*pipeline.DocumentRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[locator]
	if !ok {
		return pipeline.ErrNotFound
	}
	fn(&rec)
	s.records[locator] = rec
	return nil
}

func (s *RecordStore) resetInterrupted(stage func(*pipeline.DocumentRecord) *pipeline.StageState, note string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for locator, rec := range s.records {
		st := stage(&rec)
		if !st.Interrupted() {
			continue
		}
		st.StartedAt = nil
		st.Error = note
		s.records[locator] = rec
		n++
	}
	return n
}

func sortOldest(recs []pipeline.DocumentRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].ProcessedAt.Equal(recs[j].ProcessedAt) {
			return recs[i].ProcessedAt.Before(recs[j].ProcessedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

// sortOldestConverted orders by conversion completion time, so the extraction
// backlog is worked in the order documents became ready.
func sortOldestConverted(recs []pipeline.DocumentRecord) {
	sort.Slice(recs, func(i, j int) bool {
		ti, tj := recs[i].Conversion.CompletedAt, recs[j].Conversion.CompletedAt
		switch {
		case ti == nil:
			return tj != nil || recs[i].ID < recs[j].ID
		case tj == nil:
			return false
		case !ti.Equal(*tj):
			return ti.Before(*tj)
		default:
			return recs[i].ID < recs[j].ID
		}
	})
}

var _ pipeline.RecordStore = (*RecordStore)(nil)
