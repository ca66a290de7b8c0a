package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/pipeline"
)

// Summary is one generated summary kept in the report.
type Summary struct {
	Model     string      `json:"model"`
	Type      SummaryType `json:"type"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// Answer is one answered question kept in the report.
type Answer struct {
	Model     string    `json:"model"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// Report is the consolidated extraction output for one document. Reruns with
// new models or new selections append; existing entries are never redone.
type Report struct {
	Document    string    `json:"document"`
	GeneratedAt time.Time `json:"generated_at"`
	Summaries   []Summary `json:"summaries"`
	Answers     []Answer  `json:"answers"`
}

// HasSummary reports whether the report already holds a summary for the
// (model, type) pair.
func (r Report) HasSummary(model string, t SummaryType) bool {
	for _, s := range r.Summaries {
		if s.Model == model && s.Type == t {
			return true
		}
	}
	return false
}

// HasAnswer reports whether the report already holds an answer for the
// (model, question) pair.
func (r Report) HasAnswer(model, question string) bool {
	for _, a := range r.Answers {
		if a.Model == model && a.Question == question {
			return true
		}
	}
	return false
}

// Selection narrows an extraction run to chosen summary types and question
// indices, optionally overriding the engine's model and size. Empty slices
// mean everything; empty Model and Size keep the configured defaults.
type Selection struct {
	SummaryTypes []SummaryType `json:"summary_types,omitempty"`
	// QuestionIndices are 1-based positions into the standard question list.
	QuestionIndices []int  `json:"question_indices,omitempty"`
	Model           string `json:"model,omitempty"`
	Size            Size   `json:"size,omitempty"`
}

// Validate checks that every named type, index, model, and size exists.
func (s Selection) Validate() error {
	for _, t := range s.SummaryTypes {
		if !ValidSummaryType(t) {
			return fmt.Errorf("%w: unknown summary type %q", pipeline.ErrInvalidSelection, t)
		}
	}
	if s.Model != "" && !KnownModel(s.Model) {
		return fmt.Errorf("%w: unknown model %q", pipeline.ErrInvalidSelection, s.Model)
	}
	if s.Size != "" && !ValidSize(s.Size) {
		return fmt.Errorf("%w: unknown size %q", pipeline.ErrInvalidSelection, s.Size)
	}
	for _, idx := range s.QuestionIndices {
		if idx < 1 || idx > len(StandardQuestions) {
			return fmt.Errorf("%w: question index %d out of range 1..%d",
				pipeline.ErrInvalidSelection, idx, len(StandardQuestions))
		}
	}
	return nil
}

func (s Selection) summaryTypes() []SummaryType {
	if len(s.SummaryTypes) == 0 {
		return AllSummaryTypes()
	}
	return s.SummaryTypes
}

func (s Selection) questions() []string {
	if len(s.QuestionIndices) == 0 {
		return StandardQuestions
	}
	out := make([]string, 0, len(s.QuestionIndices))
	for _, idx := range s.QuestionIndices {
		out = append(out, StandardQuestions[idx-1])
	}
	return out
}

// EngineConfig wires the Engine's collaborators and model settings.
type EngineConfig struct {
	Chat     pipeline.ChatClient
	Clock    pipeline.Clock
	Logger   *zap.Logger
	Model    string
	Size     Size
	Strategy Strategy
}

// Engine generates summaries and answers for converted documents and keeps
// the on-disk report current.
type Engine struct {
	chat     pipeline.ChatClient
	clock    pipeline.Clock
	logger   *zap.Logger
	model    string
	size     Size
	strategy Strategy
}

// NewEngine builds an Engine, applying defaults for unset model settings.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = "granite3.3:8b"
	}
	if !ValidSize(cfg.Size) {
		cfg.Size = SizeMedium
	}
	if !ValidStrategy(cfg.Strategy) {
		cfg.Strategy = StrategyIntelligent
	}
	return &Engine{
		chat:     cfg.Chat,
		clock:    cfg.Clock,
		logger:   logger,
		model:    cfg.Model,
		size:     cfg.Size,
		strategy: cfg.Strategy,
	}
}

// BuildReport runs the selected extractions over text and merges the results
// into the report at reportPath. Pairs already present for this model are
// skipped, so repeated runs are cheap and crash recovery never loses prior
// work.
func (e *Engine) BuildReport(ctx context.Context, docName, text, reportPath string, sel Selection) (Report, error) {
	if err := sel.Validate(); err != nil {
		return Report{}, err
	}

	report, err := LoadReport(reportPath)
	if err != nil {
		return Report{}, err
	}
	report.Document = docName

	model, size := e.model, e.size
	if sel.Model != "" {
		model = sel.Model
	}
	if sel.Size != "" {
		size = sel.Size
	}

	segments := FitSegments(text, model, size, e.strategy)
	if len(segments) == 0 || (len(segments) == 1 && segments[0] == "") {
		return Report{}, fmt.Errorf("document text is empty")
	}

	for _, t := range sel.summaryTypes() {
		if report.HasSummary(model, t) {
			continue
		}
		content, err := e.summarize(ctx, model, t, segments)
		if err != nil {
			return report, fmt.Errorf("summarize %s: %w", t, err)
		}
		report.Summaries = append(report.Summaries, Summary{
			Model:     model,
			Type:      t,
			Content:   content,
			CreatedAt: e.clock.Now(),
		})
		e.logger.Debug("summary generated", zap.String("document", docName), zap.String("type", string(t)))
	}

	// Questions are answered against the first segment, which carries the
	// highest-value text under every strategy.
	for _, q := range sel.questions() {
		if report.HasAnswer(model, q) {
			continue
		}
		reply, err := e.chat.Chat(ctx, model, systemPrompt, QuestionPrompt(q, segments[0]))
		if err != nil {
			return report, fmt.Errorf("answer question: %w", err)
		}
		report.Answers = append(report.Answers, Answer{
			Model:     model,
			Question:  q,
			Answer:    CleanResponse(reply),
			CreatedAt: e.clock.Now(),
		})
	}

	report.GeneratedAt = e.clock.Now()
	if err := SaveReport(reportPath, report); err != nil {
		return report, err
	}
	return report, nil
}

// summarize prompts each segment and synthesizes multi-segment results.
func (e *Engine) summarize(ctx context.Context, model string, t SummaryType, segments []string) (string, error) {
	if len(segments) == 1 {
		reply, err := e.chat.Chat(ctx, model, systemPrompt, SummaryPrompt(t, segments[0]))
		if err != nil {
			return "", err
		}
		return CleanResponse(reply), nil
	}

	partials := make([]string, 0, len(segments))
	for i, seg := range segments {
		reply, err := e.chat.Chat(ctx, model, systemPrompt, PartialSummaryPrompt(t, i+1, len(segments), seg))
		if err != nil {
			return "", err
		}
		partials = append(partials, CleanResponse(reply))
	}
	merged, err := e.chat.Chat(ctx, model, systemPrompt, SynthesisPrompt(t, partials))
	if err != nil {
		return "", err
	}
	return CleanResponse(merged), nil
}

// LoadReport reads a report file, returning an empty report when none exists.
func LoadReport(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Report{}, nil
	}
	if err != nil {
		return Report{}, fmt.Errorf("read report: %w", err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

// SaveReport writes the report atomically via a temp file rename.
func SaveReport(path string, report Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace report: %w", err)
	}
	return nil
}

// Template describes the extraction surface for API clients.
type Template struct {
	SummaryTypes []SummaryType `json:"summary_types"`
	Questions    []string      `json:"questions"`
	Sizes        []Size        `json:"sizes"`
	Strategies   []Strategy    `json:"strategies"`
	Models       []string      `json:"models"`
}

// NewTemplate returns the current extraction template.
func NewTemplate() Template {
	return Template{
		SummaryTypes: AllSummaryTypes(),
		Questions:    StandardQuestions,
		Sizes:        []Size{SizeSmall, SizeMedium, SizeLarge},
		Strategies:   []Strategy{StrategyTruncate, StrategyChunk, StrategyExtractKey, StrategyIntelligent},
		Models:       KnownModels(),
	}
}
