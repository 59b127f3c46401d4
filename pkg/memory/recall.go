package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dotsetgreg/factmem/pkg/logger"
)

// Context block markers and caps for the assembled recall context.
const (
	contextOpenTag  = "<factmem-context>"
	contextCloseTag = "</factmem-context>"
	contextNote     = "_Persistent memory context (auto-injected). Use memory search/entity/store/semantic operations for details._"

	permanentCap      = 15
	recentImportCap   = 5
	keywordTokenCap   = 8
	keywordMinPrompt  = 5
	semanticMinPrompt = 10
)

var nonWordRe = regexp.MustCompile(`[^\w\s]`)

func containsContextMarker(text string) bool {
	return strings.Contains(text, contextOpenTag) || strings.Contains(text, "<relevant-memories>")
}

// buildKeywordQuery turns a prompt into an OR-joined FTS match expression
// over quoted tokens of 3+ characters, capped at 8. Empty when nothing
// usable remains.
func buildKeywordQuery(prompt string) string {
	cleaned := nonWordRe.ReplaceAllString(prompt, " ")
	var quoted []string
	for _, word := range strings.Fields(cleaned) {
		if len(word) < 3 {
			continue
		}
		quoted = append(quoted, `"`+word+`"`)
		if len(quoted) == keywordTokenCap {
			break
		}
	}
	return strings.Join(quoted, " OR ")
}

// buildFactContext assembles the keyword-driven context sections: permanent
// knowledge, prompt keyword matches, and recent important facts. Returns the
// rendered lines and the set of fact ids already shown, used to deduplicate
// the semantic section. Storage failures degrade to empty sections.
func buildFactContext(ctx context.Context, store FactStore, prompt string, maxResults int) ([]string, map[string]struct{}) {
	var lines []string
	seen := make(map[string]struct{})

	permanent, err := store.PermanentFacts(ctx, permanentCap)
	if err != nil {
		logger.WarnCF("memory", "permanent recall failed", map[string]interface{}{"error": err.Error()})
	}
	if len(permanent) > 0 {
		lines = append(lines, "## Permanent Knowledge")
		for _, f := range permanent {
			lines = append(lines, fmt.Sprintf("- **%s**.%s = %s", f.Entity, f.Key, f.Value))
		}
		lines = append(lines, "")
	}

	if len(prompt) >= keywordMinPrompt {
		if match := buildKeywordQuery(prompt); match != "" {
			matches, err := store.KeywordFacts(ctx, match, maxResults)
			if err != nil {
				logger.WarnCF("memory", "keyword recall failed", map[string]interface{}{"error": err.Error()})
			}
			if len(matches) > 0 {
				lines = append(lines, "## Relevant Memories (keyword)")
				for _, f := range matches {
					seen[f.ID] = struct{}{}
					lines = append(lines, renderFactLine(f, 0))
				}
				lines = append(lines, "")
			}
		}
	}

	recent, err := store.RecentImportant(ctx, recentImportCap)
	if err != nil {
		logger.WarnCF("memory", "recent recall failed", map[string]interface{}{"error": err.Error()})
	}
	if len(recent) > 0 {
		lines = append(lines, "## Recent Important Context")
		for _, f := range recent {
			lines = append(lines, fmt.Sprintf("- [%s] %s", categoryOrGeneral(f.Category), f.Description))
		}
		lines = append(lines, "")
	}

	return lines, seen
}

// buildRecallContext combines the keyword sections with semantic matches into
// a single delimited block. Semantic hits already present in seen are
// dropped. Returns "" when every section is empty.
func buildRecallContext(lines []string, seen map[string]struct{}, semantic []SemanticMatch) string {
	var fresh []SemanticMatch
	for _, m := range semantic {
		if _, dup := seen[m.FactID]; !dup {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) > 0 {
		lines = append(lines, "## Semantically Related Memories")
		for _, m := range fresh {
			lines = append(lines, renderSemanticLine(m))
		}
		lines = append(lines, "")
	}

	if len(lines) == 0 {
		return ""
	}

	out := []string{contextOpenTag, contextNote, ""}
	out = append(out, lines...)
	out = append(out, contextCloseTag)
	return strings.Join(out, "\n")
}

// renderFactLine renders an entity fact as entity.key = value, or a
// free-form fact as [category] description. A positive similarity adds a
// match percentage.
func renderFactLine(f Fact, similarity float64) string {
	suffix := ""
	if similarity > 0 {
		suffix = fmt.Sprintf(" _(%.0f%% match)_", similarity*100)
	}
	if f.Entity != "" && f.Key != "" {
		return fmt.Sprintf("- **%s**.%s = %s%s", f.Entity, f.Key, f.Value, suffix)
	}
	return fmt.Sprintf("- [%s] %s%s", categoryOrGeneral(f.Category), f.Description, suffix)
}

func renderSemanticLine(m SemanticMatch) string {
	return renderFactLine(Fact{
		Entity:      m.Entity,
		Key:         m.Key,
		Value:       m.Value,
		Description: m.Description,
		Category:    m.Category,
	}, m.Similarity)
}

func categoryOrGeneral(category string) string {
	if category == "" {
		return "general"
	}
	return category
}
