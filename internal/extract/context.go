package extract

import (
	"sort"
	"strings"
)

// EstimateTokens approximates the token count of text. Four characters per
// token is the usual planning ratio for English prose and errs on the safe
// side together with the reserve headroom.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// chunkSeparators are tried in order when looking for a clean split point.
var chunkSeparators = []string{"\n\n", "\n", ". ", " "}

// keySectionHeadings mark high-value regions of a document, in priority
// order. Matching is case-insensitive against line prefixes.
var keySectionHeadings = []string{
	"abstract",
	"summary",
	"executive summary",
	"introduction",
	"conclusion",
	"conclusions",
	"results",
	"findings",
	"discussion",
	"methodology",
	"methods",
	"recommendations",
}

// TokenBudget computes the usable token allowance for a model and size,
// accounting for the prompt/response reserve.
func TokenBudget(model string, size Size) int {
	budget := ContextTokens(model) - reserveTokens
	if budget < 500 {
		budget = 500
	}
	if byChars := CharBudget(size) / 4; byChars < budget {
		budget = byChars
	}
	return budget
}

// Truncate returns the longest prefix of text within tokenBudget, found by
// binary search over candidate cut points and snapped back to a whitespace
// boundary.
func Truncate(text string, tokenBudget int) string {
	if EstimateTokens(text) <= tokenBudget {
		return text
	}
	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if EstimateTokens(text[:mid]) <= tokenBudget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	cut := lo
	if idx := strings.LastIndexAny(text[:cut], " \n\t"); idx > cut/2 {
		cut = idx
	}
	return strings.TrimRight(text[:cut], " \n\t")
}

// Chunk splits text into pieces of at most chunkTokens, overlapping by
// overlapTokens so context is not lost at boundaries. Splits prefer paragraph
// breaks, then sentence ends, then spaces.
func Chunk(text string, chunkTokens, overlapTokens int) []string {
	if chunkTokens <= 0 {
		return nil
	}
	if EstimateTokens(text) <= chunkTokens {
		return []string{text}
	}
	chunkChars := chunkTokens * 4
	overlapChars := overlapTokens * 4
	if overlapChars >= chunkChars {
		overlapChars = chunkChars / 4
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + chunkChars
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		cut := splitPoint(text[start:end])
		if cut <= 0 {
			cut = chunkChars
		}
		chunks = append(chunks, text[start:start+cut])
		next := start + cut - overlapChars
		if next <= start {
			next = start + cut
		}
		start = next
	}
	return chunks
}

// splitPoint finds the last clean separator in the window.
func splitPoint(window string) int {
	for _, sep := range chunkSeparators {
		if idx := strings.LastIndex(window, sep); idx > len(window)/2 {
			return idx + len(sep)
		}
	}
	return -1
}

// ExtractKeySections pulls high-value sections out of text in heading
// priority order until the budget fills. When no headings match, the whole
// text is returned for the caller to truncate.
func ExtractKeySections(text string, tokenBudget int) string {
	sections := splitSections(text)
	if len(sections) == 0 {
		return text
	}

	type ranked struct {
		priority int
		order    int
		body     string
	}
	var picked []ranked
	for order, sec := range sections {
		p := headingPriority(sec.heading)
		if p < 0 {
			continue
		}
		picked = append(picked, ranked{priority: p, order: order, body: sec.body})
	}
	if len(picked) == 0 {
		return text
	}
	sort.Slice(picked, func(i, j int) bool {
		if picked[i].priority != picked[j].priority {
			return picked[i].priority < picked[j].priority
		}
		return picked[i].order < picked[j].order
	})

	var b strings.Builder
	for _, sec := range picked {
		if EstimateTokens(b.String())+EstimateTokens(sec.body) > tokenBudget {
			continue
		}
		b.WriteString(sec.body)
		b.WriteString("\n\n")
	}
	if b.Len() == 0 {
		return text
	}
	return strings.TrimRight(b.String(), "\n")
}

type section struct {
	heading string
	body    string
}

// splitSections walks the text line by line, starting a new section whenever
// a line looks like a heading (short, no trailing period).
func splitSections(text string) []section {
	lines := strings.Split(text, "\n")
	var sections []section
	current := section{}
	var body strings.Builder
	flush := func() {
		current.body = strings.TrimSpace(body.String())
		if current.body != "" {
			sections = append(sections, current)
		}
		body.Reset()
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if looksLikeHeading(trimmed) {
			flush()
			current = section{heading: strings.ToLower(trimmed)}
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return sections
}

func looksLikeHeading(line string) bool {
	if line == "" || len(line) > 60 || strings.HasSuffix(line, ".") {
		return false
	}
	lower := strings.ToLower(strings.TrimRight(line, ":"))
	lower = strings.TrimLeft(lower, "0123456789. ")
	for _, h := range keySectionHeadings {
		if lower == h || strings.HasPrefix(lower, h+" ") {
			return true
		}
	}
	return false
}

func headingPriority(heading string) int {
	if heading == "" {
		return -1
	}
	h := strings.ToLower(strings.TrimRight(heading, ":"))
	h = strings.TrimLeft(h, "0123456789. ")
	for i, known := range keySectionHeadings {
		if h == known || strings.HasPrefix(h, known+" ") {
			return i
		}
	}
	return -1
}

// FitSegments applies a strategy to text and returns the segments to prompt
// with. All strategies except chunking yield a single segment.
func FitSegments(text string, model string, size Size, strategy Strategy) []string {
	budget := TokenBudget(model, size)
	switch strategy {
	case StrategyChunk:
		return Chunk(text, budget, budget/10)
	case StrategyExtractKey:
		return []string{Truncate(ExtractKeySections(text, budget), budget)}
	case StrategyIntelligent:
		key := ExtractKeySections(text, budget)
		if EstimateTokens(key) <= budget {
			return []string{key}
		}
		return Chunk(key, budget, budget/10)
	default:
		return []string{Truncate(text, budget)}
	}
}
