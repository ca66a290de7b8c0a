package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/extract"
	"github.com/docpipe/docpipe/internal/pipeline"
)

type submitRequest struct {
	URL string `json:"url"`
}

type documentResponse struct {
	Document         pipeline.DocumentRecord `json:"document"`
	ContentDuplicate bool                    `json:"content_duplicate,omitempty"`
}

type taskResponse struct {
	TaskID  string `json:"task_id"`
	Locator string `json:"locator,omitempty"`
}

func (s *Server) submitDocument(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	rec, err := s.downloader.Process(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := documentResponse{Document: s.resolved(rec)}
	if rec.ContentHash != "" {
		if dups, err := s.store.FindByContentHash(r.Context(), rec.ContentHash); err == nil && len(dups) > 1 {
			resp.ContentDuplicate = true
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListAll(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	out := make([]pipeline.DocumentRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.resolved(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"documents": out, "count": len(out)})
}

func (s *Server) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	rec, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, documentResponse{Document: s.resolved(rec)})
}

func (s *Server) getDocumentByLocator(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		s.writeError(w, http.StatusBadRequest, "uri query parameter is required")
		return
	}
	rec, err := s.store.GetByLocator(r.Context(), uri)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, documentResponse{Document: s.resolved(rec)})
}

func (s *Server) deleteDocumentByLocator(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		s.writeError(w, http.StatusBadRequest, "uri query parameter is required")
		return
	}
	paths, err := s.store.DeleteByLocator(r.Context(), uri)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	removed := s.removeArtifacts(paths)
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": uri, "artifacts_removed": removed})
}

func (s *Server) triggerConversion(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromID(w, r)
	if !ok {
		return
	}
	s.submitTask(w, fmt.Sprintf("convert %s", rec.DisplayName), rec.Locator, func(ctx context.Context) error {
		return stageErr(s.conversions.Run(ctx, rec.Locator))
	})
}

func (s *Server) drainConversions(w http.ResponseWriter, _ *http.Request) {
	s.submitTask(w, "drain conversions", "", func(ctx context.Context) error {
		_, err := s.conversions.DrainPending(ctx)
		return err
	})
}

func (s *Server) triggerExtraction(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromID(w, r)
	if !ok {
		return
	}
	if !rec.Conversion.Completed {
		s.writeError(w, http.StatusConflict, pipeline.ErrNotConverted.Error())
		return
	}
	s.submitTask(w, fmt.Sprintf("extract %s", rec.DisplayName), rec.Locator, func(ctx context.Context) error {
		return stageErr(s.extractions.Run(ctx, rec.Locator))
	})
}

func (s *Server) triggerSelectiveExtraction(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromID(w, r)
	if !ok {
		return
	}
	var sel extract.Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := sel.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !rec.Conversion.Completed {
		s.writeError(w, http.StatusConflict, pipeline.ErrNotConverted.Error())
		return
	}
	s.submitTask(w, fmt.Sprintf("extract %s selective", rec.DisplayName), rec.Locator, func(ctx context.Context) error {
		return stageErr(s.extractions.RunSelective(ctx, rec.Locator, sel))
	})
}

func (s *Server) drainExtractions(w http.ResponseWriter, _ *http.Request) {
	s.submitTask(w, "drain extractions", "", func(ctx context.Context) error {
		_, err := s.extractions.DrainPending(ctx)
		return err
	})
}

func (s *Server) extractionTemplate(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, extract.NewTemplate())
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.ComputeStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listDuplicates(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListDuplicateGroups(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list duplicates")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"duplicate_groups": groups, "count": len(groups)})
}

// backfillContentHashes fills in content hashes for rows recorded before
// duplicate tracking existed, reading each stored file once.
func (s *Server) backfillContentHashes(w http.ResponseWriter, r *http.Request) {
	missing, err := s.store.ListMissingContentHash(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	var updated, failed int
	for _, rec := range missing {
		hash, err := s.hasher.HashFile(s.layout.Resolve(rec.StoragePath))
		if err != nil {
			s.logger.Warn("hash backfill failed",
				zap.String("locator", rec.Locator), zap.Error(err))
			failed++
			continue
		}
		if err := s.store.UpdateContentHash(r.Context(), rec.Locator, hash); err != nil {
			s.logger.Warn("hash backfill update failed",
				zap.String("locator", rec.Locator), zap.Error(err))
			failed++
			continue
		}
		updated++
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"updated": updated, "failed": failed})
}

// recordFromID loads the document named by the {id} route parameter, writing
// the error response itself when that fails.
func (s *Server) recordFromID(w http.ResponseWriter, r *http.Request) (pipeline.DocumentRecord, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid document id")
		return pipeline.DocumentRecord{}, false
	}
	rec, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return pipeline.DocumentRecord{}, false
	}
	return rec, true
}

// submitTask queues fn on the scheduler and answers 202 with the task id.
func (s *Server) submitTask(w http.ResponseWriter, name, locator string, fn func(context.Context) error) {
	handle, err := s.scheduler.Submit(name, fn)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, taskResponse{TaskID: handle.ID(), Locator: locator})
}

// stageErr converts a failed stage result into a task error so the handle
// surfaces it.
func stageErr(result pipeline.StageResult) error {
	if result.Success {
		return nil
	}
	return errors.New(result.Error)
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

// resolved returns a copy of rec with stored paths made absolute at the API
// boundary; stored rows always hold relative paths.
func (s *Server) resolved(rec pipeline.DocumentRecord) pipeline.DocumentRecord {
	if rec.StoragePath != "" {
		rec.StoragePath = s.layout.Resolve(rec.StoragePath)
	}
	if rec.TextPath != "" {
		rec.TextPath = s.layout.Resolve(rec.TextPath)
	}
	if rec.ImagesPath != "" {
		rec.ImagesPath = s.layout.Resolve(rec.ImagesPath)
	}
	if rec.ReportPath != "" {
		rec.ReportPath = s.layout.Resolve(rec.ReportPath)
	}
	return rec
}

// removeArtifacts deletes the on-disk outputs for a removed record. Missing
// files are fine; the row is already gone.
func (s *Server) removeArtifacts(paths pipeline.ArtifactPaths) int {
	removed := 0
	if paths.Document != "" {
		if err := os.Remove(s.layout.Resolve(paths.Document)); err == nil {
			removed++
		}
	}
	// Text, images, and the report all live under the conversion directory.
	if paths.Text != "" {
		dir := filepath.Dir(s.layout.Resolve(paths.Text))
		if err := os.RemoveAll(dir); err == nil {
			removed++
		}
	}
	return removed
}
