package extract

import (
	"strings"
	"testing"
)

func TestTokenBudgetCapsByModelAndSize(t *testing.T) {
	t.Parallel()

	// Small model: context minus reserve wins over the size budget.
	if got := TokenBudget("llama3-chatqa:8b", SizeLarge); got != 8192-1500 {
		t.Fatalf("TokenBudget(llama3) = %d, want %d", got, 8192-1500)
	}
	// Large model: the size budget wins.
	if got := TokenBudget("granite3.3:8b", SizeSmall); got != 8000/4 {
		t.Fatalf("TokenBudget(granite, small) = %d, want %d", got, 8000/4)
	}
	// Unknown model falls back to the default context.
	if got := TokenBudget("mystery:1b", SizeLarge); got != 8000-1500 {
		t.Fatalf("TokenBudget(unknown) = %d, want %d", got, 8000-1500)
	}
}

func TestTruncateShortTextUnchanged(t *testing.T) {
	t.Parallel()

	text := "short document"
	if got := Truncate(text, 100); got != text {
		t.Fatalf("Truncate returned %q, want input unchanged", got)
	}
}

func TestTruncateRespectsBudget(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("word ", 1000)
	budget := 50
	got := Truncate(text, budget)
	if EstimateTokens(got) > budget {
		t.Fatalf("truncated text estimates %d tokens, budget %d", EstimateTokens(got), budget)
	}
	if got == "" {
		t.Fatal("truncated text is empty")
	}
	if strings.HasSuffix(got, " ") {
		t.Fatalf("truncated text has trailing whitespace: %q", got)
	}
}

func TestChunkCoversTextWithOverlap(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("Sentence number one in the paragraph. Another sentence follows it here.\n\n")
	}
	text := b.String()

	chunks := Chunk(text, 100, 10)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if EstimateTokens(c) > 100 {
			t.Fatalf("chunk %d estimates %d tokens, budget 100", i, EstimateTokens(c))
		}
	}
	// The tail of the text must survive into the final chunk.
	if !strings.Contains(chunks[len(chunks)-1], "follows it here.") {
		t.Fatal("final chunk lost the end of the document")
	}
}

func TestChunkSmallTextSingle(t *testing.T) {
	t.Parallel()

	chunks := Chunk("tiny", 100, 10)
	if len(chunks) != 1 || chunks[0] != "tiny" {
		t.Fatalf("Chunk(tiny) = %v, want single passthrough chunk", chunks)
	}
}

func TestExtractKeySectionsPrefersAbstract(t *testing.T) {
	t.Parallel()

	text := "Preamble text nobody needs.\n\n" +
		"Methodology\nWe surveyed twelve sites over two years.\n\n" +
		"Abstract\nThis study measures coastal erosion rates.\n\n" +
		"Appendix\nRaw tables.\n"

	got := ExtractKeySections(text, 20)
	if !strings.Contains(got, "coastal erosion") {
		t.Fatalf("key sections missing abstract: %q", got)
	}
	if strings.Contains(got, "surveyed twelve sites") {
		t.Fatalf("lower-priority section included despite tight budget: %q", got)
	}
}

func TestExtractKeySectionsNoHeadingsReturnsAll(t *testing.T) {
	t.Parallel()

	text := "just a wall of prose with no structure at all. it keeps going."
	if got := ExtractKeySections(text, 10); got != text {
		t.Fatalf("ExtractKeySections = %q, want full text when nothing matches", got)
	}
}

func TestFitSegmentsStrategies(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("Filler sentence for sizing purposes. ", 2000)

	truncated := FitSegments(text, "llama3-chatqa:8b", SizeSmall, StrategyTruncate)
	if len(truncated) != 1 {
		t.Fatalf("truncate produced %d segments, want 1", len(truncated))
	}
	if EstimateTokens(truncated[0]) > TokenBudget("llama3-chatqa:8b", SizeSmall) {
		t.Fatal("truncate segment exceeds budget")
	}

	chunked := FitSegments(text, "llama3-chatqa:8b", SizeSmall, StrategyChunk)
	if len(chunked) < 2 {
		t.Fatalf("chunk produced %d segments, want several", len(chunked))
	}

	intelligent := FitSegments(text, "granite3.3:8b", SizeLarge, StrategyIntelligent)
	if len(intelligent) != 1 {
		t.Fatalf("intelligent on fitting text produced %d segments, want 1", len(intelligent))
	}
}
