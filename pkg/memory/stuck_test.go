package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractTopicSignature_OrderIndependent(t *testing.T) {
	a := ExtractTopicSignature("trading system signals momentum breakout")
	b := ExtractTopicSignature("breakout momentum signals system trading")
	if a == "" || a != b {
		t.Errorf("anagram inputs should yield identical signatures: %q vs %q", a, b)
	}
}

func TestExtractTopicSignature_TooShort(t *testing.T) {
	if sig := ExtractTopicSignature("short text"); sig != "" {
		t.Errorf("short input should yield no signature, got %q", sig)
	}
}

func TestExtractTopicSignature_TooFewSignificantTokens(t *testing.T) {
	// Long enough, but stopwords and short words only leave one token.
	if sig := ExtractTopicSignature("the the the the the the breakout and a to of in for on"); sig != "" {
		t.Errorf("input with one significant token should yield none, got %q", sig)
	}
}

func TestExtractTopicSignature_TopFiveSortedAlphabetically(t *testing.T) {
	sig := ExtractTopicSignature("zebra zebra yurts yurts xylophone xylophone wolf wolf vole vole unseen")
	tokens := strings.Split(sig, ",")
	if len(tokens) != 5 {
		t.Fatalf("got %d tokens, want 5: %q", len(tokens), sig)
	}
	for i := 1; i < len(tokens); i++ {
		if tokens[i] < tokens[i-1] {
			t.Errorf("signature not alphabetically sorted: %q", sig)
		}
	}
	for _, tok := range tokens {
		if tok == "unseen" {
			t.Errorf("lowest-frequency token should be dropped: %q", sig)
		}
	}
}

func TestCheckStuck_NotBeforeThreshold(t *testing.T) {
	store := newTestStore(t)
	tracker := NewTopicTracker(filepath.Join(t.TempDir(), "topic-history.json"))
	ctx := context.Background()

	sig := "alpha,beta,gamma"
	if nudge := tracker.CheckStuck(ctx, store, sig, "the user"); nudge != "" {
		t.Error("first signature should not trigger")
	}
	if nudge := tracker.CheckStuck(ctx, store, sig, "the user"); nudge != "" {
		t.Error("second signature should not trigger")
	}
}

func TestCheckStuck_TriggersOnRepetition(t *testing.T) {
	store := newTestStore(t)
	tracker := NewTopicTracker(filepath.Join(t.TempDir(), "topic-history.json"))
	ctx := context.Background()

	sig := "alpha,beta,gamma"
	var nudge string
	for i := 0; i < stuckThreshold; i++ {
		nudge = tracker.CheckStuck(ctx, store, sig, "Kevin")
	}
	if nudge == "" {
		t.Fatal("identical signature submitted threshold times should trigger")
	}
	if !strings.Contains(nudge, nudgeOpenTag) || !strings.Contains(nudge, nudgeCloseTag) {
		t.Errorf("nudge missing marker tags: %q", nudge)
	}
	if !strings.Contains(nudge, "Ask Kevin a direct question") {
		t.Errorf("nudge should address the configured user: %q", nudge)
	}
}

func TestCheckStuck_DistinctTopicsDoNotTrigger(t *testing.T) {
	store := newTestStore(t)
	tracker := NewTopicTracker(filepath.Join(t.TempDir(), "topic-history.json"))
	ctx := context.Background()

	sigs := []string{"alpha,beta,gamma", "delta,epsilon,zeta", "eta,iota,theta", "kappa,lambda,mu"}
	for _, sig := range sigs {
		if nudge := tracker.CheckStuck(ctx, store, sig, "the user"); nudge != "" {
			t.Errorf("distinct topics should not trigger, got nudge for %q", sig)
		}
	}
}

func TestTopicTracker_HistoryBounded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topic-history.json")
	tracker := NewTopicTracker(path)
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < maxTopicHistory+5; i++ {
		_ = tracker.CheckStuck(ctx, store, "alpha,beta,gamma", "the user")
	}
	history := tracker.load()
	if len(history) != maxTopicHistory {
		t.Errorf("history length = %d, want %d", len(history), maxTopicHistory)
	}
}

func TestTopicTracker_CorruptFileTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topic-history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	tracker := NewTopicTracker(path)
	if history := tracker.load(); len(history) != 0 {
		t.Errorf("corrupt history should read as empty, got %v", history)
	}
}

func TestTopicTracker_Reset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topic-history.json")
	tracker := NewTopicTracker(path)
	store := newTestStore(t)

	_ = tracker.CheckStuck(context.Background(), store, "alpha,beta,gamma", "the user")
	tracker.Reset()
	if history := tracker.load(); len(history) != 0 {
		t.Errorf("history should be empty after reset, got %v", history)
	}
}

func TestJaccard(t *testing.T) {
	a := tokenSet("alpha,beta,gamma")
	b := tokenSet("alpha,beta,delta")
	got := jaccard(a, b)
	if got < 0.4999 || got > 0.5001 {
		t.Errorf("jaccard = %v, want 0.5", got)
	}
	if jaccard(tokenSet(""), tokenSet("")) != 0 {
		t.Error("empty union should score 0")
	}
}

func TestBuildReflexionNudge_SuggestsNonOverlappingTopics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestFact(t, store, Fact{Entity: "Kevin", Key: "editor", Value: "neovim nightly builds", TTLClass: TTLPermanent, Importance: 0.9})
	insertTestFact(t, store, Fact{Entity: "alpha", Key: "beta", Value: "overlapping topic fact", TTLClass: TTLStable, Importance: 0.8})

	nudge := buildReflexionNudge(ctx, store, "alpha,beta,gamma", "the user")
	if !strings.Contains(nudge, "Kevin.editor") {
		t.Errorf("nudge should suggest the non-overlapping topic: %q", nudge)
	}
	if strings.Contains(nudge, "alpha.beta") {
		t.Errorf("nudge should not suggest overlapping topics: %q", nudge)
	}
}
