package pipeline

import (
	"path/filepath"
	"testing"
)

func TestLayoutArtifactTree(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	l, err := NewLayout(base)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}

	doc := l.DocumentPath("report.pdf")
	if want := filepath.Join(base, "report.pdf"); doc != want {
		t.Fatalf("DocumentPath = %q, want %q", doc, want)
	}
	if want := filepath.Join(base, "report", "report.txt"); l.TextPath("report.pdf") != want {
		t.Fatalf("TextPath = %q, want %q", l.TextPath("report.pdf"), want)
	}
	if want := filepath.Join(base, "report", "images"); l.ImagesDir("report.pdf") != want {
		t.Fatalf("ImagesDir = %q, want %q", l.ImagesDir("report.pdf"), want)
	}
	if want := filepath.Join(base, "report", "extraction", "extracted_data.json"); l.ReportPath("report.pdf") != want {
		t.Fatalf("ReportPath = %q, want %q", l.ReportPath("report.pdf"), want)
	}
}

func TestLayoutRelativeRoundTrip(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	l, err := NewLayout(base)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}

	abs := l.TextPath("a.pdf")
	rel := l.MakeRelative(abs)
	if filepath.IsAbs(rel) {
		t.Fatalf("MakeRelative(%q) = %q, expected relative", abs, rel)
	}
	if got := l.Resolve(rel); got != abs {
		t.Fatalf("Resolve(%q) = %q, want %q", rel, got, abs)
	}
}

func TestLayoutRelativeOutsideBase(t *testing.T) {
	t.Parallel()

	l, err := NewLayout(t.TempDir())
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}

	outside := filepath.Join(string(filepath.Separator), "elsewhere", "x.pdf")
	if got := l.MakeRelative(outside); got != outside {
		t.Fatalf("MakeRelative(%q) = %q, want unchanged", outside, got)
	}
}

func TestLayoutRequiresBaseDir(t *testing.T) {
	t.Parallel()

	if _, err := NewLayout(""); err == nil {
		t.Fatal("NewLayout(\"\") succeeded, want error")
	}
}
