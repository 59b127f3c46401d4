package memory

import (
	"regexp"
	"strings"
)

// Value bounds after sanitation.
const (
	minValueLength = 15
	maxValueLength = 200
)

// Values that are conversational noise, not facts.
var noiseValueRe = regexp.MustCompile(`(?i)^(there|here|that|this|it|they|we|built|done|ready|fine|good|bad|actually|really|just|also|now|then|still|already|not|very|much|more|less|what|how|why|where|when|who)[\s:,.]|[:*#\n?()]|^\w+ing\b`)

// Only match "the X is Y" when X looks like a config/technical term.
var technicalNounRe = regexp.MustCompile(`(?i)^(primary|default|main|current|preferred|configured|target|active|selected|base|core|max|min|api|db|model|port|host|url|path|dir|file|key|token|version|timeout|limit|rate|mode|level|format|encoding|provider|backend|frontend|server|client|endpoint|schema|table|queue|cache|buffer|pool|worker|thread|process|service|plugin|module|package|library|framework|runtime|environment|config|setting|option|param)`)

var (
	markdownValueRe = regexp.MustCompile("[*#`\\[\\]{}]")
	fragmentTailRe  = regexp.MustCompile(`[:—?()]$`)
	quotedLeadRe    = regexp.MustCompile(`^["'<]`)
)

var (
	preferenceRe = regexp.MustCompile(`(?m)(\b[A-Z][a-z]+(?:\s[A-Z][a-z]+)?)\s+(?:prefers?|likes?|loves?|hates?|wants?)\s+(.+?)(?:\.|$)`)
	assignmentRe = regexp.MustCompile(`(?m)(\b[A-Za-z_]+(?:\s[A-Za-z_]+)?)\s+is\s+(?:set to|configured as|configured to|equal to)\s+(.+?)(?:\.|$)`)
	definitionRe = regexp.MustCompile(`(?im)the\s+((?:[\w-]+\s+){0,2}[\w-]+)\s+is\s+([A-Za-z0-9][\w./:@_-]+(?:\s[\w./:@_-]+){0,3})(?:\.|,|$)`)
	annotationRe = regexp.MustCompile(`(?im)(?:remember|note|important):\s*(.+?)(?:\.|$)`)
	possessiveRe = regexp.MustCompile(`(?m)(\b[A-Z][a-z]+)'s\s+([\w\s]+?)\s+is\s+([A-Z][\w./:@_-]+(?:\s[\w./:@_-]+){0,3})(?:\.|,|$)`)
)

// A matcher scans text and yields raw candidates. Matchers run in order and
// are independently testable; candidate validation happens afterward.
type matcher func(text string) []CandidateFact

var factMatchers = []matcher{
	matchPreference,
	matchAssignment,
	matchDefinition,
	matchAnnotation,
	matchPossessive,
}

// "Alice prefers X" / "Alice likes X".
func matchPreference(text string) []CandidateFact {
	var out []CandidateFact
	for _, m := range preferenceRe.FindAllStringSubmatch(text, -1) {
		out = append(out, CandidateFact{
			Entity: m[1],
			Key:    "preference",
			Value:  strings.TrimSpace(m[2]),
		})
	}
	return out
}

// "X is set to Y" / "X is configured as Y".
func matchAssignment(text string) []CandidateFact {
	var out []CandidateFact
	for _, m := range assignmentRe.FindAllStringSubmatch(text, -1) {
		out = append(out, CandidateFact{
			Entity: "config",
			Key:    normalizeKey(m[1]),
			Value:  strings.TrimSpace(m[2]),
		})
	}
	return out
}

// "The primary model is gemini-2.5-pro", only when the noun is technical.
func matchDefinition(text string) []CandidateFact {
	var out []CandidateFact
	for _, m := range definitionRe.FindAllStringSubmatch(text, -1) {
		key := normalizeKey(m[1])
		value := strings.TrimSpace(m[2])
		if len(key) < 4 || len(key) > 40 {
			continue
		}
		if !technicalNounRe.MatchString(key) {
			continue
		}
		if noiseValueRe.MatchString(value) {
			continue
		}
		out = append(out, CandidateFact{Entity: "config", Key: key, Value: value})
	}
	return out
}

// "Remember: X" / "Note: X" / "Important: X".
func matchAnnotation(text string) []CandidateFact {
	var out []CandidateFact
	for _, m := range annotationRe.FindAllStringSubmatch(text, -1) {
		out = append(out, CandidateFact{
			Entity: "note",
			Key:    "user_note",
			Value:  strings.TrimSpace(m[1]),
		})
	}
	return out
}

// "Alice's favorite language is TypeScript". The value must start uppercase.
func matchPossessive(text string) []CandidateFact {
	var out []CandidateFact
	for _, m := range possessiveRe.FindAllStringSubmatch(text, -1) {
		value := strings.TrimSpace(m[3])
		if noiseValueRe.MatchString(value) {
			continue
		}
		out = append(out, CandidateFact{
			Entity: m[1],
			Key:    normalizeKey(m[2]),
			Value:  value,
		})
	}
	return out
}

// ExtractFacts applies every matcher to text and validates the candidates.
// Pure: the registry is only consulted, never mutated. The pipeline is
// deliberately conservative; a false positive pollutes long-term memory.
func ExtractFacts(text string, entities *EntityRegistry) []CandidateFact {
	var facts []CandidateFact
	seen := make(map[string]struct{})

	for _, match := range factMatchers {
		for _, fact := range match(text) {
			if !entities.IsValidEntity(fact.Entity) {
				continue
			}
			if len(fact.Value) < minValueLength || len(fact.Value) > maxValueLength {
				continue
			}
			if noiseValueRe.MatchString(fact.Value) {
				continue
			}
			if markdownValueRe.MatchString(fact.Value) {
				continue
			}
			if fragmentTailRe.MatchString(fact.Value) {
				continue
			}
			if quotedLeadRe.MatchString(fact.Value) {
				continue
			}

			dedupe := strings.ToLower(fact.Entity + ":" + fact.Key + ":" + fact.Value)
			if _, dup := seen[dedupe]; dup {
				continue
			}
			seen[dedupe] = struct{}{}
			facts = append(facts, fact)
		}
	}
	return facts
}

var whitespaceRunRe = regexp.MustCompile(`\s+`)

func normalizeKey(key string) string {
	return strings.ToLower(whitespaceRunRe.ReplaceAllString(strings.TrimSpace(key), "_"))
}
