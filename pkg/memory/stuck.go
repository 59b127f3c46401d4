package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dotsetgreg/factmem/pkg/logger"
)

const (
	maxTopicHistory  = 10
	stuckThreshold   = 3
	stuckJaccardMin  = 0.6
	minSignatureText = 30

	nudgeOpenTag  = `<factmem-nudge type="reflexion">`
	nudgeCloseTag = `</factmem-nudge>`
)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "will": {}, "would": {}, "could": {},
	"should": {}, "may": {}, "might": {}, "shall": {}, "can": {}, "need": {},
	"dare": {}, "ought": {}, "used": {}, "to": {}, "of": {}, "in": {},
	"for": {}, "on": {}, "with": {}, "at": {}, "by": {}, "from": {},
	"as": {}, "into": {}, "through": {}, "during": {}, "before": {},
	"after": {}, "above": {}, "below": {}, "between": {}, "out": {},
	"off": {}, "over": {}, "under": {}, "again": {}, "further": {},
	"then": {}, "once": {}, "here": {}, "there": {}, "when": {},
	"where": {}, "why": {}, "how": {}, "all": {}, "both": {}, "each": {},
	"few": {}, "more": {}, "most": {}, "other": {}, "some": {}, "such": {},
	"no": {}, "nor": {}, "not": {}, "only": {}, "own": {}, "same": {},
	"so": {}, "than": {}, "too": {}, "very": {}, "just": {}, "don": {},
	"now": {}, "and": {}, "but": {}, "or": {}, "if": {}, "while": {},
	"that": {}, "this": {}, "it": {}, "i": {}, "you": {}, "we": {},
	"they": {}, "he": {}, "she": {}, "my": {}, "your": {}, "his": {},
	"her": {}, "its": {}, "our": {}, "their": {}, "what": {}, "which": {},
	"who": {}, "whom": {},
}

// ExtractTopicSignature fingerprints text as its five most frequent
// significant tokens, alphabetically sorted and comma-joined. Order
// independent by construction. Returns "" for inputs under 30 characters or
// with fewer than 2 significant tokens.
func ExtractTopicSignature(text string) string {
	if len(text) < minSignatureText {
		return ""
	}

	cleaned := nonWordRe.ReplaceAllString(strings.ToLower(text), " ")
	freq := make(map[string]int)
	var order []string
	for _, word := range strings.Fields(cleaned) {
		if len(word) <= 3 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if freq[word] == 0 {
			order = append(order, word)
		}
		freq[word]++
	}
	if len(order) < 2 {
		return ""
	}

	// Stable sort keeps first-appearance order among equal frequencies; the
	// final alphabetical sort makes the tie-break immaterial.
	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })
	top := order
	if len(top) > 5 {
		top = top[:5]
	}
	selected := append([]string(nil), top...)
	sort.Strings(selected)
	return strings.Join(selected, ",")
}

// TopicTracker owns the persisted, bounded topic-signature history.
type TopicTracker struct {
	mu   sync.Mutex
	path string
}

func NewTopicTracker(path string) *TopicTracker {
	return &TopicTracker{path: path}
}

// load treats a missing or corrupt history file as empty, never an error.
func (t *TopicTracker) load() []string {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return nil
	}
	var history []string
	if json.Unmarshal(data, &history) != nil {
		return nil
	}
	return history
}

func (t *TopicTracker) save(history []string) {
	if len(history) > maxTopicHistory {
		history = history[len(history)-maxTopicHistory:]
	}
	data, err := json.Marshal(history)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		logger.WarnCF("memory", "topic history write failed", map[string]interface{}{"error": err.Error()})
	}
}

// Reset clears the history, e.g. after context compaction.
func (t *TopicTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.save([]string{})
}

// CheckStuck records the signature and judges whether the recent history is
// dominated by the same topic. Returns a nudge block when stuck, "" otherwise.
func (t *TopicTracker) CheckStuck(ctx context.Context, store FactStore, signature, userName string) string {
	if signature == "" {
		return ""
	}

	t.mu.Lock()
	history := append(t.load(), signature)
	t.save(history)
	t.mu.Unlock()

	if len(history) < stuckThreshold {
		return ""
	}

	recent := history[len(history)-stuckThreshold:]
	current := tokenSet(signature)

	similar := 0
	for _, sig := range recent {
		if jaccard(current, tokenSet(sig)) > stuckJaccardMin {
			similar++
		}
	}
	if similar < stuckThreshold {
		return ""
	}
	return buildReflexionNudge(ctx, store, signature, userName)
}

func tokenSet(signature string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Split(signature, ",") {
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

// jaccard returns |intersection| / |union|; an empty union scores 0.
func jaccard(a, b map[string]struct{}) float64 {
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// buildReflexionNudge renders the break-the-loop directive, suggesting up to
// three stored topics with no token overlap with the repeating signature.
func buildReflexionNudge(ctx context.Context, store FactStore, signature, userName string) string {
	repeating := tokenSet(signature)

	candidates, err := store.NudgeCandidates(ctx, 20)
	if err != nil {
		logger.WarnCF("memory", "nudge candidates failed", map[string]interface{}{"error": err.Error()})
	}
	var suggestions []string
	for _, f := range candidates {
		if len(suggestions) == 3 {
			break
		}
		overlap := false
		words := nonWordRe.ReplaceAllString(strings.ToLower(f.Entity+" "+f.Key+" "+f.Category), " ")
		for _, word := range strings.Fields(words) {
			if _, ok := repeating[word]; ok {
				overlap = true
				break
			}
		}
		if !overlap {
			suggestions = append(suggestions, f.Entity+"."+f.Key)
		}
	}

	tokens := make([]string, 0, len(repeating))
	for tok := range repeating {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)

	lines := []string{
		nudgeOpenTag,
		"SELF-REFLECTION: Stuck-detection triggered. Analysis:",
		"- Repeating topic words: " + strings.Join(tokens, ", "),
		"- Pattern: You are giving unsolicited status updates or repeating the same information",
		"- Root cause: Likely defaulting to project summaries when no specific task is given",
		"",
		"BREAK THE LOOP:",
		fmt.Sprintf("1. Ask %s a direct question about what they want to work on", userName),
		fmt.Sprintf("2. Wait for %s's input instead of volunteering information", userName),
	}
	if len(suggestions) > 0 {
		lines = append(lines, "3. If you must speak, try a DIFFERENT topic: "+strings.Join(suggestions, ", "))
	} else {
		lines = append(lines, "3. If you must speak, try an entirely different subject")
	}
	lines = append(lines,
		fmt.Sprintf("4. Do NOT give a project status update unless %s explicitly asks for one", userName),
		nudgeCloseTag,
	)
	return strings.Join(lines, "\n")
}
