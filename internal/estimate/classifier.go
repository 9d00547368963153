package estimate

import (
	"regexp"
	"strconv"
	"strings"
)

// Complexity levels. These drive the acknowledgment overhead and the buffer
// applied to token-based timeouts.
const (
	ComplexitySimple  = "simple"
	ComplexityMedium  = "medium"
	ComplexityComplex = "complex"
)

// Classification describes a command's prompt content. Category buckets the
// history rows, complexity and question type drive the token model.
type Classification struct {
	Category     string `json:"category"`
	Complexity   string `json:"complexity"`
	QuestionType string `json:"question_type"`
}

var codeKeywords = []string{
	"function", "code", "implement", "write", "create", "program",
	"script", "class", "method", "algorithm", "def", "return",
	"python", "javascript", "java", "c++", "golang", "rust",
}

var trivialCodePatterns = []*regexp.Regexp{
	regexp.MustCompile(`add\s+(two|2)\s+numbers?`),
	regexp.MustCompile(`hello\s+world`),
	regexp.MustCompile(`sum\s+of\s+(two|2)`),
	regexp.MustCompile(`print\s+(a\s+)?message`),
	regexp.MustCompile(`reverse\s+a?\s*string`),
	regexp.MustCompile(`check\s+if.*even\s+or\s+odd`),
	regexp.MustCompile(`convert.*celsius.*fahrenheit`),
	regexp.MustCompile(`area\s+of\s+(a\s+)?circle`),
}

var lowCodePatterns = []*regexp.Regexp{
	regexp.MustCompile(`factorial`),
	regexp.MustCompile(`fibonacci`),
	regexp.MustCompile(`prime\s+number`),
	regexp.MustCompile(`palindrome`),
	regexp.MustCompile(`bubble\s+sort`),
	regexp.MustCompile(`linear\s+search`),
	regexp.MustCompile(`count\s+occurrences`),
	regexp.MustCompile(`remove\s+duplicates`),
}

var highCodePatterns = []*regexp.Regexp{
	regexp.MustCompile(`implement.*algorithm`),
	regexp.MustCompile(`design.*system`),
	regexp.MustCompile(`optimize.*performance`),
	regexp.MustCompile(`refactor.*complex`),
	regexp.MustCompile(`multi.*thread`),
	regexp.MustCompile(`concurrent`),
	regexp.MustCompile(`distributed`),
	regexp.MustCompile(`machine\s+learning`),
	regexp.MustCompile(`neural\s+network`),
}

var (
	countHintRe = regexp.MustCompile(`(\d+)[-\s]*(word|item|element|function|method|haiku|question)`)
	// arithmeticRe requires digits on both sides of the operator so that bare
	// flag dashes (-p, --verbose) do not read as subtraction.
	arithmeticRe = regexp.MustCompile(`\d\s*[-+*/]\s*\d`)
	operatorRe   = regexp.MustCompile(`[-+*/]`)
	numberRe     = regexp.MustCompile(`\b\d+\b`)
	listOfRe     = regexp.MustCompile(`list of \d+`)
	yesNoRe      = regexp.MustCompile(`^(is|are|does|do|can|could|should|will|would|has|have)\b`)
)

// Classify buckets a command by category, complexity, and question type.
// Matching is case-insensitive over the whole command line, including any
// quoted prompt text.
func Classify(command string) Classification {
	prompt := strings.ToLower(command)

	category := classifyCategory(prompt)
	complexity := classifyComplexity(prompt, category)
	return Classification{
		Category:     category,
		Complexity:   complexity,
		QuestionType: classifyQuestionType(prompt, category, complexity),
	}
}

func classifyCategory(prompt string) string {
	if containsAny(prompt, codeKeywords) {
		if containsAny(prompt, []string{"analyze", "review", "debug", "fix", "improve", "refactor"}) {
			return "analysis"
		}
		if containsAny(prompt, []string{"architecture", "design", "system", "database schema"}) {
			return "architecture"
		}
		return "code"
	}

	if containsAny(prompt, []string{"calculate", "compute", "solve", "equation", "math", "sum", "product", "result of"}) ||
		arithmeticRe.MatchString(prompt) {
		return "calculation"
	}

	if containsAny(prompt, []string{"what is", "explain", "how does", "why", "concept of", "difference between", "when to use"}) {
		return "explanation"
	}

	if containsAny(prompt, []string{"story", "haiku", "poem", "narrative", "creative", "fiction", "plot", "character", "scene"}) {
		return "creative"
	}

	if containsAny(prompt, []string{"parse", "extract", "transform", "convert", "process", "csv", "json", "xml", "data"}) {
		return "data"
	}

	return "general"
}

func classifyComplexity(prompt, category string) string {
	// Requested counts give the quickest complexity signal.
	if m := countHintRe.FindStringSubmatch(prompt); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch {
		case n <= 3:
			return ComplexitySimple
		case n <= 10:
			return ComplexityMedium
		default:
			return ComplexityComplex
		}
	}

	switch category {
	case "code":
		if matchesAny(prompt, trivialCodePatterns) || matchesAny(prompt, lowCodePatterns) {
			return ComplexitySimple
		}
		if matchesAny(prompt, highCodePatterns) {
			return ComplexityComplex
		}
		requirements := 0
		for _, word := range []string{"and", "also", "with", "including", "plus"} {
			if strings.Contains(prompt, word) {
				requirements++
			}
		}
		switch {
		case requirements >= 3:
			return ComplexityComplex
		case requirements >= 1:
			return ComplexityMedium
		default:
			return ComplexitySimple
		}

	case "calculation":
		operators := len(operatorRe.FindAllString(prompt, -1))
		numbers := len(numberRe.FindAllString(prompt, -1))
		if operators <= 5 || numbers <= 2 {
			return ComplexitySimple
		}
		return ComplexityMedium

	case "creative":
		switch {
		case strings.Contains(prompt, "5000") || strings.Contains(prompt, "10000"):
			return ComplexityComplex
		case strings.Contains(prompt, "1000") || strings.Contains(prompt, "2000"):
			return ComplexityComplex
		case strings.Contains(prompt, "500"):
			return ComplexityMedium
		default:
			return ComplexitySimple
		}

	case "architecture":
		if containsAny(prompt, []string{"microservice", "distributed", "scalable", "database", "api", "frontend"}) {
			return ComplexityComplex
		}
		return ComplexityMedium

	case "analysis":
		return ComplexityComplex
	}

	return ComplexityMedium
}

func classifyQuestionType(prompt, category, complexity string) string {
	if listOfRe.MatchString(prompt) {
		return "list"
	}
	if strings.Contains(prompt, "comprehensive") {
		return "comprehensive"
	}

	switch category {
	case "calculation":
		return "calculation"
	case "explanation":
		return "explanation"
	case "creative":
		return "creative_writing"
	case "architecture":
		return "architecture"
	case "analysis":
		if strings.Contains(prompt, "refactor") {
			return "refactor"
		}
		return "qa"
	case "code":
		if complexity == ComplexitySimple {
			return "code_snippet"
		}
		return "code_generation"
	}

	if yesNoRe.MatchString(prompt) {
		return "yes_no"
	}
	return "general"
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
