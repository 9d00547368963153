package history

import (
	"regexp"
	"sort"
	"strings"
)

var stopWords = map[string]struct{}{
	"what": {}, "is": {}, "the": {}, "a": {}, "an": {}, "and": {}, "or": {},
	"but": {}, "in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "from": {}, "as": {}, "it": {}, "that": {},
	"this": {}, "these": {}, "those": {}, "be": {}, "been": {}, "being": {},
	"have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {},
	"will": {}, "would": {}, "should": {}, "could": {}, "may": {},
	"might": {}, "must": {}, "can": {}, "please": {}, "brief": {},
	"briefly": {},
}

var (
	wordRe   = regexp.MustCompile(`\b\w+\b`)
	numberRe = regexp.MustCompile(`\b\d+\b`)
)

// Tag patterns add a synthetic keyword when the command matches a known
// shape, which lets "write 5 haikus" and "compose 3 haikus" overlap.
var tagPatterns = []struct {
	re  *regexp.Regexp
	tag string
}{
	{regexp.MustCompile(`(\d+)[-\s]*word`), "word_count"},
	{regexp.MustCompile(`(\d+)\s*haiku`), "haiku_count"},
	{regexp.MustCompile(`(\d+)\s*function`), "function_count"},
	{regexp.MustCompile(`python|javascript|java|code`), "programming"},
	{regexp.MustCompile(`recipe|cooking|food`), "culinary"},
	{regexp.MustCompile(`story|narrative|plot`), "creative_writing"},
	{regexp.MustCompile(`architecture|design|system`), "technical_design"},
}

// Keywords extracts the significant terms of a command for similarity
// matching: lowercased words minus stop words, literal numbers, and
// synthetic tags for recognized command shapes.
func Keywords(command string) []string {
	lower := strings.ToLower(command)
	seen := map[string]struct{}{}

	for _, w := range wordRe.FindAllString(lower, -1) {
		if len(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		seen[w] = struct{}{}
	}
	for _, n := range numberRe.FindAllString(command, -1) {
		seen[n] = struct{}{}
	}
	for _, p := range tagPatterns {
		if p.re.MatchString(lower) {
			seen[p.tag] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// overlapScore is the fraction of query keywords present in the
// candidate set.
func overlapScore(query, candidate []string) float64 {
	if len(query) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(candidate))
	for _, w := range candidate {
		set[w] = struct{}{}
	}
	shared := 0
	for _, w := range query {
		if _, ok := set[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(query))
}
