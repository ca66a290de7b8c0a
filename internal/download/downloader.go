// Package download retrieves remote documents and records the attempt.
package download

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/pipeline"
	"github.com/docpipe/docpipe/internal/progress"
)

var pdfMagic = []byte("%PDF")

// Config wires the Downloader's collaborators.
type Config struct {
	Store        pipeline.RecordStore
	Fetcher      pipeline.Fetcher
	Hasher       pipeline.Hasher
	Clock        pipeline.Clock
	Layout       pipeline.Layout
	Emitter      progress.Emitter
	Archive      pipeline.ArchiveStore
	Logger       *zap.Logger
	OnDownloaded func(locator string)
}

// Downloader fetches documents, fingerprints them, and upserts the record
// row. Failed attempts are recorded too so the history of a locator survives.
type Downloader struct {
	store        pipeline.RecordStore
	fetcher      pipeline.Fetcher
	hasher       pipeline.Hasher
	clock        pipeline.Clock
	layout       pipeline.Layout
	emitter      progress.Emitter
	archive      pipeline.ArchiveStore
	logger       *zap.Logger
	onDownloaded func(locator string)
}

// New builds a Downloader.
func New(cfg Config) *Downloader {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		store:        cfg.Store,
		fetcher:      cfg.Fetcher,
		hasher:       cfg.Hasher,
		clock:        cfg.Clock,
		layout:       cfg.Layout,
		emitter:      cfg.Emitter,
		archive:      cfg.Archive,
		logger:       logger,
		onDownloaded: cfg.OnDownloaded,
	}
}

// Process downloads the document at locator. A locator whose prior download
// succeeded and whose file is still on disk is returned without refetching.
// Fetch failures are persisted on the row and reported in the record's
// outcome; the returned error covers infrastructure problems only.
func (d *Downloader) Process(ctx context.Context, locator string) (pipeline.DocumentRecord, error) {
	if existing, err := d.store.GetByLocator(ctx, locator); err == nil && existing.DownloadReady() {
		if _, statErr := os.Stat(d.layout.Resolve(existing.StoragePath)); statErr == nil {
			d.logger.Debug("download cache hit", zap.String("locator", locator))
			d.scheduleNext(existing)
			return existing, nil
		}
		d.logger.Info("cached document missing on disk, refetching", zap.String("locator", locator))
	}

	start := d.clock.Now()
	d.emit(progress.Event{Locator: locator, TS: start, Milestone: progress.DownloadStart})

	contentType, _ := d.fetcher.Probe(ctx, locator)
	resp, err := d.fetcher.Fetch(ctx, locator)
	if err != nil {
		return d.recordFailure(ctx, locator, start, fmt.Sprintf("fetch failed: %v", err))
	}
	if resp.ContentType != "" {
		contentType = resp.ContentType
	}
	if !looksLikePDF(contentType, resp.Body) {
		return d.recordFailure(ctx, locator, start,
			fmt.Sprintf("%v: %s", pipeline.ErrNotSupportedType, contentType))
	}

	name := fileName(locator, d.hasher.HashText(locator))
	docPath := d.layout.DocumentPath(name)
	if err := os.WriteFile(docPath, resp.Body, 0o644); err != nil {
		return pipeline.DocumentRecord{}, fmt.Errorf("save document: %w", err)
	}

	contentHash := d.hasher.Hash(resp.Body)
	duplicate := false
	if dups, err := d.store.FindByContentHash(ctx, contentHash); err == nil {
		for _, dup := range dups {
			if dup.Locator != locator {
				duplicate = true
				d.logger.Info("duplicate content detected",
					zap.String("locator", locator),
					zap.String("existing", dup.Locator),
					zap.String("content_hash", contentHash))
				break
			}
		}
	}

	rec := pipeline.DocumentRecord{
		Locator:     locator,
		LocatorHash: d.hasher.HashText(locator),
		ContentHash: contentHash,
		DisplayName: name,
		StoragePath: d.layout.MakeRelative(docPath),
		ByteSize:    int64(len(resp.Body)),
		MediaType:   contentType,
		Downloaded:  true,
		Outcome:     pipeline.DownloadSuccess,
		ProcessedAt: d.clock.Now(),
	}
	stored, err := d.store.UpsertDownloadResult(ctx, rec)
	if err != nil {
		return pipeline.DocumentRecord{}, fmt.Errorf("record download: %w", err)
	}

	d.mirror(ctx, name, resp.Body)
	d.emit(progress.Event{
		Locator: locator, TS: d.clock.Now(), Milestone: progress.DownloadDone,
		Bytes: stored.ByteSize, Dur: d.clock.Now().Sub(start),
	})
	d.logger.Info("document downloaded",
		zap.String("locator", locator),
		zap.String("name", name),
		zap.Int64("bytes", stored.ByteSize))

	// Duplicate content is stored for the record but not auto-converted; the
	// manual trigger stays available when the copy is wanted anyway.
	if !duplicate {
		d.scheduleNext(stored)
	}
	return stored, nil
}

// recordFailure persists a failed attempt so the locator's history survives
// and later retries replace the row.
func (d *Downloader) recordFailure(ctx context.Context, locator string, start time.Time, cause string) (pipeline.DocumentRecord, error) {
	rec := pipeline.DocumentRecord{
		Locator:     locator,
		LocatorHash: d.hasher.HashText(locator),
		DisplayName: fileName(locator, d.hasher.HashText(locator)),
		Downloaded:  false,
		Outcome:     pipeline.DownloadError,
		DownloadErr: cause,
		ProcessedAt: d.clock.Now(),
	}
	stored, err := d.store.UpsertDownloadResult(ctx, rec)
	if err != nil {
		return pipeline.DocumentRecord{}, fmt.Errorf("record failed download: %w", err)
	}
	d.emit(progress.Event{
		Locator: locator, TS: d.clock.Now(), Milestone: progress.DownloadError,
		Dur: d.clock.Now().Sub(start), Note: cause,
	})
	d.logger.Warn("document download failed", zap.String("locator", locator), zap.String("cause", cause))
	return stored, nil
}

func looksLikePDF(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "pdf") {
		return true
	}
	return bytes.HasPrefix(body, pdfMagic)
}

// fileName derives a storage name from the locator path with a locator-hash
// suffix, so distinct locators sharing a base name (…/a/doc.pdf and
// …/b/doc.pdf) never collide on the same file or conversion stem. Locators
// whose path carries no usable name fall back to the hash alone.
func fileName(locator, locatorHash string) string {
	base := ""
	if u, err := url.Parse(locator); err == nil {
		base = path.Base(u.Path)
	}
	if base == "." || base == "/" {
		base = ""
	}
	if base == "" {
		return "document_" + shortHash(locatorHash) + ".pdf"
	}
	if strings.EqualFold(path.Ext(base), ".pdf") {
		base = base[:len(base)-len(path.Ext(base))]
	}
	return base + "_" + shortHash(locatorHash) + ".pdf"
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func (d *Downloader) mirror(ctx context.Context, name string, body []byte) {
	if d.archive == nil {
		return
	}
	if err := d.archive.PutObject(ctx, name, bytes.NewReader(body)); err != nil {
		d.logger.Warn("archive mirror failed", zap.String("name", name), zap.Error(err))
	}
}

func (d *Downloader) scheduleNext(rec pipeline.DocumentRecord) {
	if d.onDownloaded != nil && !rec.Conversion.Completed {
		d.onDownloaded(rec.Locator)
	}
}

func (d *Downloader) emit(evt progress.Event) {
	if d.emitter != nil {
		d.emitter.Emit(evt)
	}
}
