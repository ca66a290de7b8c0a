package extract

import (
	"fmt"
	"regexp"
	"strings"
)

const systemPrompt = "You are a careful document analyst. Answer using only " +
	"the provided document text. If the document does not contain the " +
	"information, say so plainly."

var summaryInstructions = map[SummaryType]string{
	SummaryAbstract:      "Write a concise abstract of the document in one paragraph.",
	SummaryKeyPoints:     "List the key points of the document as a bulleted list.",
	SummaryMethodology:   "Describe the methodology or approach used in the document.",
	SummaryFindings:      "Summarize the main findings and results of the document.",
	SummaryComprehensive: "Write a comprehensive summary of the document covering its purpose, approach, findings, and conclusions.",
}

// SummaryPrompt builds the user prompt for one summary type over one segment.
func SummaryPrompt(t SummaryType, text string) string {
	instruction, ok := summaryInstructions[t]
	if !ok {
		instruction = summaryInstructions[SummaryComprehensive]
	}
	return fmt.Sprintf("%s\n\nDocument text:\n%s", instruction, text)
}

// PartialSummaryPrompt marks a chunked segment so the synthesis step knows
// it saw a fragment.
func PartialSummaryPrompt(t SummaryType, part, total int, text string) string {
	instruction, ok := summaryInstructions[t]
	if !ok {
		instruction = summaryInstructions[SummaryComprehensive]
	}
	return fmt.Sprintf("%s\nThis is part %d of %d of the document; summarize only this part.\n\nDocument text:\n%s",
		instruction, part, total, text)
}

// SynthesisPrompt merges partial summaries into one.
func SynthesisPrompt(t SummaryType, partials []string) string {
	instruction, ok := summaryInstructions[t]
	if !ok {
		instruction = summaryInstructions[SummaryComprehensive]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The following are summaries of consecutive parts of one document. Combine them into a single coherent response. %s\n\n", instruction)
	for i, p := range partials {
		fmt.Fprintf(&b, "Part %d summary:\n%s\n\n", i+1, p)
	}
	return strings.TrimRight(b.String(), "\n")
}

// QuestionPrompt builds the user prompt for one question over one segment.
func QuestionPrompt(question, text string) string {
	return fmt.Sprintf("Answer the following question about the document.\n\nQuestion: %s\n\nDocument text:\n%s", question, text)
}

var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// CleanResponse strips reasoning traces some models wrap in <think> tags and
// trims the remainder.
func CleanResponse(s string) string {
	cleaned := thinkTagRe.ReplaceAllString(s, "")
	// An unterminated tag means the whole visible output is reasoning.
	if idx := strings.Index(cleaned, "<think>"); idx >= 0 {
		cleaned = cleaned[:idx]
	}
	return strings.TrimSpace(cleaned)
}
