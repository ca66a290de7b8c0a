package convert

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/pipeline"
	"github.com/docpipe/docpipe/internal/store/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type stubConverter struct {
	output pipeline.ConversionOutput
	err    error
	calls  int
}

func (s *stubConverter) Convert(context.Context, string) (pipeline.ConversionOutput, error) {
	s.calls++
	return s.output, s.err
}

func newFixture(t *testing.T, conv pipeline.Converter, onConverted func(string)) (*Runner, *memory.RecordStore, pipeline.Layout) {
	t.Helper()
	layout, err := pipeline.NewLayout(t.TempDir())
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	store := memory.NewRecordStore(&fakeClock{now: time.Unix(1700000000, 0).UTC()})
	runner := NewRunner(RunnerConfig{
		Store:       store,
		Converter:   conv,
		Layout:      layout,
		Clock:       &fakeClock{now: time.Unix(1700000000, 0).UTC()},
		Logger:      zap.NewNop(),
		OnConverted: onConverted,
	})
	return runner, store, layout
}

func seedDownloaded(t *testing.T, store *memory.RecordStore, layout pipeline.Layout, locator, name string) pipeline.DocumentRecord {
	t.Helper()
	docPath := layout.DocumentPath(name)
	if err := os.WriteFile(docPath, []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	rec, err := store.UpsertDownloadResult(context.Background(), pipeline.DocumentRecord{
		Locator:     locator,
		LocatorHash: "h",
		DisplayName: name,
		StoragePath: layout.MakeRelative(docPath),
		ByteSize:    8,
		MediaType:   "application/pdf",
		Downloaded:  true,
		Outcome:     pipeline.DownloadSuccess,
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return rec
}

func TestRunWritesArtifactsAndMarksCompleted(t *testing.T) {
	t.Parallel()

	conv := &stubConverter{output: pipeline.ConversionOutput{
		Text:   "page one\npage two\n",
		Images: [][]byte{[]byte("img1"), []byte("img2")},
	}}
	var scheduled []string
	runner, store, layout := newFixture(t, conv, func(loc string) { scheduled = append(scheduled, loc) })
	rec := seedDownloaded(t, store, layout, "https://a.test/doc.pdf", "doc.pdf")

	result := runner.Run(context.Background(), rec.Locator)
	if !result.Success {
		t.Fatalf("Run() failed: %s", result.Error)
	}
	if result.Images != 2 {
		t.Fatalf("expected 2 images, got %d", result.Images)
	}

	text, err := os.ReadFile(layout.TextPath("doc.pdf"))
	if err != nil {
		t.Fatalf("read text artifact: %v", err)
	}
	if string(text) != "page one\npage two\n" {
		t.Fatalf("unexpected text %q", text)
	}
	for _, img := range []string{"page_001.png", "page_002.png"} {
		if _, err := os.Stat(filepath.Join(layout.ImagesDir("doc.pdf"), img)); err != nil {
			t.Fatalf("expected image %s: %v", img, err)
		}
	}

	raw, err := os.ReadFile(filepath.Join(layout.ConversionDir("doc.pdf"), manifestName))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.PageCount != 2 || len(manifest.Images) != 2 {
		t.Fatalf("unexpected manifest %+v", manifest)
	}

	stored, _ := store.GetByLocator(context.Background(), rec.Locator)
	if !stored.Conversion.Completed {
		t.Fatal("expected conversion marked completed")
	}
	if filepath.IsAbs(stored.TextPath) || filepath.IsAbs(stored.ImagesPath) {
		t.Fatalf("expected relative artifact paths, got %q %q", stored.TextPath, stored.ImagesPath)
	}
	if len(scheduled) != 1 || scheduled[0] != rec.Locator {
		t.Fatalf("expected extraction scheduled once, got %v", scheduled)
	}
}

func TestRunAlreadyConvertedIsIdempotent(t *testing.T) {
	t.Parallel()

	conv := &stubConverter{output: pipeline.ConversionOutput{Text: "x", Images: [][]byte{[]byte("i")}}}
	runner, store, layout := newFixture(t, conv, nil)
	rec := seedDownloaded(t, store, layout, "https://a.test/doc.pdf", "doc.pdf")

	first := runner.Run(context.Background(), rec.Locator)
	if !first.Success {
		t.Fatalf("first Run() failed: %s", first.Error)
	}
	second := runner.Run(context.Background(), rec.Locator)
	if !second.Success || second.Message != "already converted" {
		t.Fatalf("expected idempotent success, got %+v", second)
	}
	if conv.calls != 1 {
		t.Fatalf("expected converter called once, got %d", conv.calls)
	}
}

func TestRunRejectsFailedDownload(t *testing.T) {
	t.Parallel()

	runner, store, _ := newFixture(t, &stubConverter{}, nil)
	_, err := store.UpsertDownloadResult(context.Background(), pipeline.DocumentRecord{
		Locator:     "https://a.test/bad.pdf",
		LocatorHash: "h",
		DisplayName: "bad.pdf",
		Downloaded:  false,
		Outcome:     pipeline.DownloadError,
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}

	result := runner.Run(context.Background(), "https://a.test/bad.pdf")
	if result.Success || result.Error == "" {
		t.Fatalf("expected failure for undownloaded record, got %+v", result)
	}
}

func TestRunUnknownLocator(t *testing.T) {
	t.Parallel()

	runner, _, _ := newFixture(t, &stubConverter{}, nil)
	result := runner.Run(context.Background(), "https://nope.test/doc.pdf")
	if result.Success {
		t.Fatal("expected failure for unknown locator")
	}
}

func TestRunMissingFileMarksFailed(t *testing.T) {
	t.Parallel()

	runner, store, layout := newFixture(t, &stubConverter{}, nil)
	rec := seedDownloaded(t, store, layout, "https://a.test/gone.pdf", "gone.pdf")
	if err := os.Remove(layout.DocumentPath("gone.pdf")); err != nil {
		t.Fatalf("remove document: %v", err)
	}

	result := runner.Run(context.Background(), rec.Locator)
	if result.Success {
		t.Fatal("expected failure for missing file")
	}
	stored, _ := store.GetByLocator(context.Background(), rec.Locator)
	if stored.Conversion.Phase() != pipeline.PhaseFailed {
		t.Fatalf("expected failed phase, got %q", stored.Conversion.Phase())
	}
	if stored.Conversion.Error == "" {
		t.Fatal("expected failure recorded on the row")
	}

	// A failed row must leave the pending queue, or drains retry it forever.
	pending, err := store.ListPendingConversion(context.Background())
	if err != nil {
		t.Fatalf("ListPendingConversion: %v", err)
	}
	for _, p := range pending {
		if p.Locator == rec.Locator {
			t.Fatal("failed record still listed as pending")
		}
	}
}

func TestRunConverterErrorMarksFailed(t *testing.T) {
	t.Parallel()

	conv := &stubConverter{err: errors.New("render exploded")}
	runner, store, layout := newFixture(t, conv, nil)
	rec := seedDownloaded(t, store, layout, "https://a.test/doc.pdf", "doc.pdf")

	result := runner.Run(context.Background(), rec.Locator)
	if result.Success {
		t.Fatal("expected failure")
	}
	stored, _ := store.GetByLocator(context.Background(), rec.Locator)
	if stored.Conversion.Phase() != pipeline.PhaseFailed {
		t.Fatalf("expected failed phase, got %q", stored.Conversion.Phase())
	}
	if stored.Conversion.Error != "render exploded" {
		t.Fatalf("expected cause persisted, got %q", stored.Conversion.Error)
	}
}

func TestDrainPendingContinuesPastFailures(t *testing.T) {
	t.Parallel()

	conv := &stubConverter{output: pipeline.ConversionOutput{Text: "t", Images: [][]byte{[]byte("i")}}}
	runner, store, layout := newFixture(t, conv, nil)

	seedDownloaded(t, store, layout, "https://a.test/1.pdf", "1.pdf")
	broken := seedDownloaded(t, store, layout, "https://a.test/2.pdf", "2.pdf")
	if err := os.Remove(layout.DocumentPath("2.pdf")); err != nil {
		t.Fatalf("remove document: %v", err)
	}
	seedDownloaded(t, store, layout, "https://a.test/3.pdf", "3.pdf")

	results, err := runner.DrainPending(context.Background())
	if err != nil {
		t.Fatalf("DrainPending() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	var failures int
	for _, res := range results {
		if !res.Success {
			failures++
			if res.Locator != broken.Locator {
				t.Fatalf("unexpected failing locator %q", res.Locator)
			}
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly 1 failure, got %d", failures)
	}
}
