package memory

import (
	"context"
	"strings"
	"testing"
)

func TestBuildKeywordQuery(t *testing.T) {
	got := buildKeywordQuery("what's the preferred editor, Kevin?")
	want := `"what" OR "the" OR "preferred" OR "editor" OR "Kevin"`
	if got != want {
		t.Errorf("buildKeywordQuery = %q, want %q", got, want)
	}
}

func TestBuildKeywordQuery_TokenCap(t *testing.T) {
	got := buildKeywordQuery("one two alpha beta gamma delta epsilon zeta eta theta iota")
	if n := strings.Count(got, `"`) / 2; n != keywordTokenCap {
		t.Errorf("got %d tokens, want cap of %d", n, keywordTokenCap)
	}
}

func TestBuildFactContext_Sections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestFact(t, store, Fact{Entity: "Kevin", Key: "editor", Value: "neovim", TTLClass: TTLPermanent, Importance: 0.9})
	insertTestFact(t, store, Fact{
		Entity: "config", Key: "model", Value: "local inference model",
		Description: "config.model = local inference model",
		Category:    "auto-capture", Importance: 0.75,
	})

	lines, seen := buildFactContext(ctx, store, "which inference model is configured", 10)
	joined := strings.Join(lines, "\n")

	if !strings.Contains(joined, "## Permanent Knowledge") {
		t.Errorf("missing permanent section:\n%s", joined)
	}
	if !strings.Contains(joined, "**Kevin**.editor = neovim") {
		t.Errorf("missing permanent fact line:\n%s", joined)
	}
	if !strings.Contains(joined, "## Relevant Memories (keyword)") {
		t.Errorf("missing keyword section:\n%s", joined)
	}
	if !strings.Contains(joined, "## Recent Important Context") {
		t.Errorf("missing recent section:\n%s", joined)
	}
	if len(seen) == 0 {
		t.Error("keyword matches should populate the seen set")
	}
}

func TestBuildFactContext_ShortPromptSkipsKeywordPass(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestFact(t, store, Fact{
		Entity: "config", Key: "mode", Value: "verbose output mode",
		Description: "config.mode = verbose output mode",
	})

	lines, seen := buildFactContext(ctx, store, "mode", 10)
	if strings.Contains(strings.Join(lines, "\n"), "## Relevant Memories (keyword)") {
		t.Error("prompt under 5 chars should skip the keyword pass")
	}
	if len(seen) != 0 {
		t.Errorf("seen should be empty, got %v", seen)
	}
}

func TestBuildRecallContext_EmptyYieldsNothing(t *testing.T) {
	if block := buildRecallContext(nil, map[string]struct{}{}, nil); block != "" {
		t.Errorf("empty sections should yield no block, got %q", block)
	}
}

func TestBuildRecallContext_MarkersAndSemanticDedup(t *testing.T) {
	lines := []string{"## Permanent Knowledge", "- **Kevin**.editor = neovim", ""}
	seen := map[string]struct{}{"dup-id": {}}
	semantic := []SemanticMatch{
		{FactID: "dup-id", Entity: "Kevin", Key: "editor", Value: "neovim", Similarity: 0.9},
		{FactID: "new-id", Entity: "Kevin", Key: "shell", Value: "fish with custom prompt", Similarity: 0.72},
	}

	block := buildRecallContext(lines, seen, semantic)
	if !strings.HasPrefix(block, contextOpenTag) || !strings.HasSuffix(block, contextCloseTag) {
		t.Errorf("block missing marker tags:\n%s", block)
	}
	if !strings.Contains(block, "## Semantically Related Memories") {
		t.Errorf("missing semantic section:\n%s", block)
	}
	if !strings.Contains(block, "**Kevin**.shell = fish with custom prompt _(72% match)_") {
		t.Errorf("missing semantic line with similarity:\n%s", block)
	}
	if strings.Count(block, "**Kevin**.editor") != 1 {
		t.Errorf("semantic duplicate of a keyword hit should be dropped:\n%s", block)
	}
}

func TestRenderFactLine_FallbackToDescription(t *testing.T) {
	line := renderFactLine(Fact{Description: "a free-form fact", Category: ""}, 0)
	if line != "- [general] a free-form fact" {
		t.Errorf("renderFactLine = %q", line)
	}
}
