// Package extract runs language-model analysis over converted document text
// and maintains the per-document extraction report.
package extract

// Known model context windows in tokens. Models absent from the catalog fall
// back to a conservative default.
var modelContextTokens = map[string]int{
	"granite3.3:8b":    131072,
	"phi4:14b":         16384,
	"llama3-chatqa:8b": 8192,
	"qwen3:14b":        40960,
	"deepseek-r1:14b":  131072,
}

const defaultContextTokens = 8000

// reserveTokens keeps headroom for the prompt scaffold and the response.
const reserveTokens = 1500

// ContextTokens returns the context window for a model.
func ContextTokens(model string) int {
	if n, ok := modelContextTokens[model]; ok {
		return n
	}
	return defaultContextTokens
}

// KnownModel reports whether name is in the catalog.
func KnownModel(name string) bool {
	_, ok := modelContextTokens[name]
	return ok
}

// KnownModels lists the catalog entries, for the template endpoint.
func KnownModels() []string {
	return []string{
		"granite3.3:8b",
		"phi4:14b",
		"llama3-chatqa:8b",
		"qwen3:14b",
		"deepseek-r1:14b",
	}
}

// Size selects how much document text is offered to the model.
type Size string

// Supported extraction sizes.
const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

var sizeChars = map[Size]int{
	SizeSmall:  8000,
	SizeMedium: 32000,
	SizeLarge:  128000,
}

// CharBudget returns the character allowance for a size. Unknown sizes get
// the small budget.
func CharBudget(size Size) int {
	if n, ok := sizeChars[size]; ok {
		return n
	}
	return sizeChars[SizeSmall]
}

// ValidSize reports whether size names a supported budget.
func ValidSize(size Size) bool {
	_, ok := sizeChars[size]
	return ok
}

// Strategy names a method of fitting document text into a model context.
type Strategy string

// Supported fitting strategies.
const (
	// StrategyTruncate keeps the longest prefix that fits.
	StrategyTruncate Strategy = "truncate"
	// StrategyChunk splits into overlapping pieces processed separately.
	StrategyChunk Strategy = "chunk"
	// StrategyExtractKey keeps high-value sections before truncating.
	StrategyExtractKey Strategy = "extract_key"
	// StrategyIntelligent extracts key sections, chunking them if they still
	// do not fit.
	StrategyIntelligent Strategy = "intelligent"
)

// ValidStrategy reports whether strategy is supported.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyTruncate, StrategyChunk, StrategyExtractKey, StrategyIntelligent:
		return true
	default:
		return false
	}
}

// SummaryType names one flavor of generated summary.
type SummaryType string

// Supported summary types.
const (
	SummaryAbstract      SummaryType = "abstract"
	SummaryKeyPoints     SummaryType = "key_points"
	SummaryMethodology   SummaryType = "methodology"
	SummaryFindings      SummaryType = "findings"
	SummaryComprehensive SummaryType = "comprehensive"
)

// AllSummaryTypes lists every summary flavor in generation order.
func AllSummaryTypes() []SummaryType {
	return []SummaryType{
		SummaryAbstract,
		SummaryKeyPoints,
		SummaryMethodology,
		SummaryFindings,
		SummaryComprehensive,
	}
}

// ValidSummaryType reports whether t names a supported summary.
func ValidSummaryType(t SummaryType) bool {
	switch t {
	case SummaryAbstract, SummaryKeyPoints, SummaryMethodology, SummaryFindings, SummaryComprehensive:
		return true
	default:
		return false
	}
}

// StandardQuestions are asked of every document during a full extraction.
var StandardQuestions = []string{
	"What is the main topic or subject of this document?",
	"What are the key findings or results presented?",
	"What methodology or approach does the document describe?",
	"Who are the intended audience or stakeholders?",
	"What conclusions does the document reach?",
	"What limitations or caveats are acknowledged?",
	"What recommendations or next steps are proposed?",
	"What data sources or references does the document rely on?",
	"What time period or geographic scope does the document cover?",
	"What open questions or areas for future work are identified?",
}
