package estimate

import (
	"regexp"
	"strconv"
	"strings"
)

// tokensPerChar is the rough input-token density of English prose.
const tokensPerChar = 0.75

// thinkingOverhead is the acknowledgment-token cost by complexity. Medium and
// complex prompts are steered to open with an acknowledgment so stall
// detection sees output early; those tokens have to be paid for in the
// deadline.
var thinkingOverhead = map[string]int{
	ComplexitySimple:  0,
	ComplexityMedium:  100,
	ComplexityComplex: 300,
}

// tokenRates is generation throughput by model in tokens/second.
var tokenRates = map[string]float64{
	"claude-3-5-sonnet-20241022": 50,
	"claude-3-5-haiku-20241022":  100,
	"claude-3-opus-20250620":     30,
	"default":                    40,
}

var (
	kiloWordRe  = regexp.MustCompile(`(\d+)k[-\s]*word`)
	wordCountRe = regexp.MustCompile(`(\d+)[-\s]*word`)
)

// countPatterns map explicit item counts in a prompt to output tokens per item.
var countPatterns = []struct {
	re      *regexp.Regexp
	perItem int
}{
	{regexp.MustCompile(`(\d+)\s*haiku`), 40},
	{regexp.MustCompile(`(\d+)\s*function`), 150},
	{regexp.MustCompile(`(\d+)\s*question`), 20},
	{regexp.MustCompile(`(\d+)\s*script`), 100},
	{regexp.MustCompile(`list of (\d+)`), 30},
}

// questionTypeOutputs is the fallback output-token estimate per question type.
var questionTypeOutputs = map[string]int{
	"yes_no":           50,
	"calculation":      100,
	"explanation":      500,
	"code_snippet":     300,
	"code_generation":  1000,
	"creative_writing": 1500,
	"architecture":     1500,
	"comprehensive":    3000,
	"list":             300,
	"refactor":         800,
	"qa":               200,
	"general":          500,
}

var modelPatterns = []struct {
	re    *regexp.Regexp
	model string
}{
	{regexp.MustCompile(`(?i)--model\s+claude-3-5-sonnet`), "claude-3-5-sonnet-20241022"},
	{regexp.MustCompile(`(?i)--model\s+claude-3-5-haiku`), "claude-3-5-haiku-20241022"},
	{regexp.MustCompile(`(?i)--model\s+claude-3-opus`), "claude-3-opus-20250620"},
}

// TokenEstimate breaks down the token budget for one command.
type TokenEstimate struct {
	Input    int `json:"input_tokens"`
	Thinking int `json:"thinking_tokens"`
	Output   int `json:"output_tokens"`
	Total    int `json:"total_tokens"`
}

// estimateTokens budgets input, acknowledgment, and output tokens for a
// command given its classification.
func estimateTokens(command string, cls Classification) TokenEstimate {
	input := int(float64(len(command)) * tokensPerChar)

	thinking, ok := thinkingOverhead[cls.Complexity]
	if !ok {
		thinking = thinkingOverhead[ComplexityMedium]
	}

	output := estimateOutputTokens(command, cls)

	return TokenEstimate{
		Input:    input,
		Thinking: thinking,
		Output:   output,
		Total:    input + thinking + output,
	}
}

func estimateOutputTokens(command string, cls Classification) int {
	lower := strings.ToLower(command)

	// Explicit word counts beat everything. "5k-word" means 5000 words, and
	// words cost about 1.5 tokens each.
	if m := kiloWordRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n * 1500
	}
	if m := wordCountRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		return int(float64(n) * 1.5)
	}

	for _, p := range countPatterns {
		if m := p.re.FindStringSubmatch(lower); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n * p.perItem
		}
	}

	if est, ok := questionTypeOutputs[cls.QuestionType]; ok {
		return est
	}
	return questionTypeOutputs["general"]
}

// detectModel picks the generation-rate bucket from an explicit --model flag.
func detectModel(command string) string {
	for _, p := range modelPatterns {
		if p.re.MatchString(command) {
			return p.model
		}
	}
	return "default"
}
