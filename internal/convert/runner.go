package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/pipeline"
	"github.com/docpipe/docpipe/internal/progress"
)

// Manifest describes the rendered page images for one document.
type Manifest struct {
	Document    string    `json:"document"`
	PageCount   int       `json:"page_count"`
	Images      []string  `json:"images"`
	GeneratedAt time.Time `json:"generated_at"`
}

const manifestName = "manifest.json"

// Runner executes the conversion stage: text extraction, page rendering, and
// record bookkeeping. A per-locator lock keeps a manual trigger and a queue
// drain from converting the same document twice.
type Runner struct {
	store     pipeline.RecordStore
	converter pipeline.Converter
	layout    pipeline.Layout
	clock     pipeline.Clock
	emitter   progress.Emitter
	logger    *zap.Logger
	locks     *pipeline.KeyedMutex
	delay     time.Duration

	// onConverted is invoked after a successful conversion so the caller can
	// queue extraction without this package depending on it.
	onConverted func(locator string)
}

// RunnerConfig wires the Runner's collaborators.
type RunnerConfig struct {
	Store       pipeline.RecordStore
	Converter   pipeline.Converter
	Layout      pipeline.Layout
	Clock       pipeline.Clock
	Emitter     progress.Emitter
	Logger      *zap.Logger
	DrainDelay  time.Duration
	OnConverted func(locator string)
}

// NewRunner builds a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:       cfg.Store,
		converter:   cfg.Converter,
		layout:      cfg.Layout,
		clock:       cfg.Clock,
		emitter:     cfg.Emitter,
		logger:      logger,
		locks:       pipeline.NewKeyedMutex(),
		delay:       cfg.DrainDelay,
		onConverted: cfg.OnConverted,
	}
}

// Run converts one document. Failures are recorded on the document row and
// reported in the result rather than returned, so a drain continues past bad
// documents.
func (r *Runner) Run(ctx context.Context, locator string) pipeline.StageResult {
	r.locks.Lock(locator)
	defer r.locks.Unlock(locator)

	result := pipeline.StageResult{Locator: locator, Stage: pipeline.StageConversion}

	rec, err := r.store.GetByLocator(ctx, locator)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if !rec.DownloadReady() {
		result.Error = "document was not downloaded successfully"
		return result
	}
	if rec.Conversion.Completed {
		result.Success = true
		result.Message = "already converted"
		result.TextPath = rec.TextPath
		return result
	}

	if err := r.store.MarkConversionStarted(ctx, locator); err != nil {
		result.Error = err.Error()
		return result
	}
	start := r.clock.Now()
	r.emit(progress.Event{Locator: locator, TS: start, Milestone: progress.ConvertStart})

	docPath := r.layout.Resolve(rec.StoragePath)
	if _, err := os.Stat(docPath); err != nil {
		cause := pipeline.ErrMissingArtifact.Error()
		r.fail(ctx, locator, cause)
		result.Error = cause
		r.emit(progress.Event{
			Locator: locator, TS: r.clock.Now(), Milestone: progress.ConvertError,
			Dur: r.clock.Now().Sub(start), Note: cause,
		})
		return result
	}

	output, err := r.converter.Convert(ctx, docPath)
	if err != nil {
		r.fail(ctx, locator, err.Error())
		result.Error = err.Error()
		r.emit(progress.Event{
			Locator: locator, TS: r.clock.Now(), Milestone: progress.ConvertError,
			Dur: r.clock.Now().Sub(start), Note: err.Error(),
		})
		return result
	}

	textPath, imagesDir, err := r.writeArtifacts(rec.DisplayName, output)
	if err != nil {
		r.fail(ctx, locator, err.Error())
		result.Error = err.Error()
		return result
	}

	relText := r.layout.MakeRelative(textPath)
	relImages := r.layout.MakeRelative(imagesDir)
	if err := r.store.MarkConversionCompleted(ctx, locator, relText, relImages); err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.TextPath = relText
	result.Images = len(output.Images)
	r.emit(progress.Event{
		Locator: locator, TS: r.clock.Now(), Milestone: progress.ConvertDone,
		Images: len(output.Images), Dur: r.clock.Now().Sub(start),
	})
	r.logger.Info("document converted",
		zap.String("locator", locator),
		zap.String("text", relText),
		zap.Int("images", len(output.Images)))

	if r.onConverted != nil {
		r.onConverted(locator)
	}
	return result
}

// DrainPending converts every pending document serially, pausing between
// items so a long backlog does not monopolize the host.
func (r *Runner) DrainPending(ctx context.Context) ([]pipeline.StageResult, error) {
	pending, err := r.store.ListPendingConversion(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending conversions: %w", err)
	}
	results := make([]pipeline.StageResult, 0, len(pending))
	for i, rec := range pending {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, r.Run(ctx, rec.Locator))
		if r.delay > 0 && i < len(pending)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(r.delay):
			}
		}
	}
	return results, nil
}

// writeArtifacts lays the conversion outputs onto disk:
// <stem>/<stem>.txt, <stem>/images/page_NNN.png, and the image manifest.
func (r *Runner) writeArtifacts(name string, output pipeline.ConversionOutput) (textPath, imagesDir string, err error) {
	dir := r.layout.ConversionDir(name)
	imagesDir = r.layout.ImagesDir(name)
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create artifact directories: %w", err)
	}

	textPath = r.layout.TextPath(name)
	if err := os.WriteFile(textPath, []byte(output.Text), 0o644); err != nil {
		return "", "", fmt.Errorf("write text artifact: %w", err)
	}

	manifest := Manifest{
		Document:    name,
		PageCount:   len(output.Images),
		GeneratedAt: r.clock.Now(),
	}
	for i, img := range output.Images {
		imgName := fmt.Sprintf("page_%03d.png", i+1)
		if err := os.WriteFile(filepath.Join(imagesDir, imgName), img, 0o644); err != nil {
			return "", "", fmt.Errorf("write page image %d: %w", i+1, err)
		}
		manifest.Images = append(manifest.Images, filepath.Join("images", imgName))
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0o644); err != nil {
		return "", "", fmt.Errorf("write manifest: %w", err)
	}
	return textPath, imagesDir, nil
}

func (r *Runner) fail(ctx context.Context, locator, cause string) {
	if err := r.store.MarkConversionFailed(ctx, locator, cause); err != nil {
		r.logger.Warn("record conversion failure", zap.String("locator", locator), zap.Error(err))
	}
}

func (r *Runner) emit(evt progress.Event) {
	if r.emitter != nil {
		r.emitter.Emit(evt)
	}
}
