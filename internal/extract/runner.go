package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/pipeline"
	"github.com/docpipe/docpipe/internal/progress"
)

// Runner executes the extraction stage: it reads the converted text, drives
// the Engine, and keeps the document row's extraction state current. A
// per-locator lock keeps a manual trigger and a queue drain from extracting
// the same document twice.
type Runner struct {
	store     pipeline.RecordStore
	engine    *Engine
	layout    pipeline.Layout
	clock     pipeline.Clock
	emitter   progress.Emitter
	logger    *zap.Logger
	locks     *pipeline.KeyedMutex
	delay     time.Duration
	publisher pipeline.Publisher
	topic     string
}

// RunnerConfig wires the Runner's collaborators. Publisher is optional; when
// set, a completion event goes to Topic after each successful extraction.
type RunnerConfig struct {
	Store      pipeline.RecordStore
	Engine     *Engine
	Layout     pipeline.Layout
	Clock      pipeline.Clock
	Emitter    progress.Emitter
	Logger     *zap.Logger
	DrainDelay time.Duration
	Publisher  pipeline.Publisher
	Topic      string
}

// NewRunner builds a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:     cfg.Store,
		engine:    cfg.Engine,
		layout:    cfg.Layout,
		clock:     cfg.Clock,
		emitter:   cfg.Emitter,
		logger:    logger,
		locks:     pipeline.NewKeyedMutex(),
		delay:     cfg.DrainDelay,
		publisher: cfg.Publisher,
		topic:     cfg.Topic,
	}
}

// Run extracts one document with the full selection.
func (r *Runner) Run(ctx context.Context, locator string) pipeline.StageResult {
	return r.RunSelective(ctx, locator, Selection{})
}

// RunSelective extracts one document, narrowed to sel. Failures are recorded
// on the document row and reported in the result rather than returned, so a
// drain continues past bad documents.
func (r *Runner) RunSelective(ctx context.Context, locator string, sel Selection) pipeline.StageResult {
	r.locks.Lock(locator)
	defer r.locks.Unlock(locator)

	result := pipeline.StageResult{Locator: locator, Stage: pipeline.StageExtraction}

	if err := sel.Validate(); err != nil {
		result.Error = err.Error()
		return result
	}

	rec, err := r.store.GetByLocator(ctx, locator)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if !rec.Conversion.Completed {
		result.Error = pipeline.ErrNotConverted.Error()
		return result
	}

	if err := r.store.MarkExtractionStarted(ctx, locator); err != nil {
		result.Error = err.Error()
		return result
	}
	start := r.clock.Now()
	r.emit(progress.Event{Locator: locator, TS: start, Milestone: progress.ExtractStart})

	textPath := r.layout.Resolve(rec.TextPath)
	text, err := os.ReadFile(textPath)
	if err != nil {
		cause := pipeline.ErrMissingArtifact.Error()
		r.fail(ctx, locator, cause)
		result.Error = cause
		r.emit(progress.Event{
			Locator: locator, TS: r.clock.Now(), Milestone: progress.ExtractError,
			Dur: r.clock.Now().Sub(start), Note: cause,
		})
		return result
	}

	reportPath := r.layout.ReportPath(rec.DisplayName)
	report, err := r.engine.BuildReport(ctx, rec.DisplayName, string(text), reportPath, sel)
	if err != nil {
		r.fail(ctx, locator, err.Error())
		result.Error = err.Error()
		r.emit(progress.Event{
			Locator: locator, TS: r.clock.Now(), Milestone: progress.ExtractError,
			Dur: r.clock.Now().Sub(start), Note: err.Error(),
		})
		return result
	}

	relReport := r.layout.MakeRelative(reportPath)
	if err := r.store.MarkExtractionCompleted(ctx, locator, relReport); err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.Report = relReport
	r.emit(progress.Event{
		Locator: locator, TS: r.clock.Now(), Milestone: progress.ExtractDone,
		Dur: r.clock.Now().Sub(start),
	})
	r.logger.Info("document extracted",
		zap.String("locator", locator),
		zap.String("report", relReport),
		zap.Int("summaries", len(report.Summaries)),
		zap.Int("answers", len(report.Answers)))
	r.announce(ctx, locator, relReport)
	return result
}

// announce publishes an extraction-completed event. Publish failures are
// logged, not surfaced: the extraction itself succeeded.
func (r *Runner) announce(ctx context.Context, locator, reportPath string) {
	if r.publisher == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"locator":      locator,
		"report_path":  reportPath,
		"completed_at": r.clock.Now().Format(time.RFC3339),
	})
	if err != nil {
		r.logger.Warn("encode completion event", zap.Error(err))
		return
	}
	if err := r.publisher.Publish(ctx, r.topic, payload); err != nil {
		r.logger.Warn("publish completion event", zap.String("locator", locator), zap.Error(err))
	}
}

// DrainPending extracts every pending document serially, pausing between
// items so a long backlog does not monopolize the model endpoint.
func (r *Runner) DrainPending(ctx context.Context) ([]pipeline.StageResult, error) {
	pending, err := r.store.ListPendingExtraction(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending extractions: %w", err)
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

func (r *Runner) fail(ctx context.Context, locator, cause string) {
	if err := r.store.MarkExtractionFailed(ctx, locator, cause); err != nil {
		r.logger.Warn("record extraction failure", zap.String("locator", locator), zap.Error(err))
	}
}

func (r *Runner) emit(evt progress.Event) {
	if r.emitter != nil {
		r.emitter.Emit(evt)
	}
}
