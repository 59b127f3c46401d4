package memory

import (
	"context"
	"testing"
	"time"
)

func TestConsolidate_MergesDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	baseMS := time.Now().UnixMilli() - 10_000

	// Three duplicates; the last-touched one must survive.
	insertTestFact(t, store, Fact{Entity: "DupBot", Key: "dup", Value: "first", TimestampMS: baseMS, Importance: 0.5})
	insertTestFact(t, store, Fact{Entity: "DupBot", Key: "dup", Value: "second", TimestampMS: baseMS + 1000, Importance: 0.8})
	insertTestFact(t, store, Fact{Entity: "DupBot", Key: "dup", Value: "third", TimestampMS: baseMS + 500, LastAccessedMS: baseMS + 5000, Importance: 0.6})

	merged, err := store.Consolidate(ctx)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if merged != 2 {
		t.Errorf("merged = %d, want 2", merged)
	}

	facts, err := store.EntityFacts(ctx, "DupBot")
	if err != nil {
		t.Fatalf("EntityFacts: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("got %d facts after consolidation, want 1", len(facts))
	}
	if facts[0].Value != "third" {
		t.Errorf("survivor = %q, want the most recently accessed", facts[0].Value)
	}
	// Boost: min(0.95, max(0.5, 0.8, 0.6) + 0.05).
	if facts[0].Importance < 0.8499 || facts[0].Importance > 0.8501 {
		t.Errorf("survivor importance = %v, want 0.85", facts[0].Importance)
	}
}

func TestConsolidate_BoostCapped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestFact(t, store, Fact{Entity: "a", Key: "k", Value: "x", Importance: 0.94})
	insertTestFact(t, store, Fact{Entity: "a", Key: "k", Value: "y", Importance: 0.3})

	if _, err := store.Consolidate(ctx); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	facts, err := store.EntityFacts(ctx, "a")
	if err != nil {
		t.Fatalf("EntityFacts: %v", err)
	}
	if len(facts) != 1 || facts[0].Importance != 0.95 {
		t.Errorf("importance should cap at 0.95, got %+v", facts)
	}
}

func TestConsolidate_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestFact(t, store, Fact{Entity: "DupBot", Key: "dup", Value: "same"})
	insertTestFact(t, store, Fact{Entity: "DupBot", Key: "dup", Value: "same"})
	insertTestFact(t, store, Fact{Entity: "DupBot", Key: "dup", Value: "same"})

	first, err := store.Consolidate(ctx)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if first != 2 {
		t.Errorf("first pass merged %d, want 2", first)
	}

	second, err := store.Consolidate(ctx)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if second != 0 {
		t.Errorf("second pass merged %d, want 0", second)
	}
}

func TestConsolidate_DeletesLoserVectors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	baseMS := time.Now().UnixMilli() - 10_000

	loser := insertTestFact(t, store, Fact{Entity: "a", Key: "k", Value: "old", TimestampMS: baseMS})
	winner := insertTestFact(t, store, Fact{Entity: "a", Key: "k", Value: "new", TimestampMS: baseMS + 1000})
	if err := store.UpsertVector(ctx, loser, "old", []float64{1}, "m"); err != nil {
		t.Fatalf("UpsertVector: %v", err)
	}
	if err := store.UpsertVector(ctx, winner, "new", []float64{1}, "m"); err != nil {
		t.Fatalf("UpsertVector: %v", err)
	}

	if _, err := store.Consolidate(ctx); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	rows, err := store.LiveVectors(ctx)
	if err != nil {
		t.Fatalf("LiveVectors: %v", err)
	}
	if len(rows) != 1 || rows[0].FactID != winner {
		t.Errorf("expected only the survivor's vector, got %+v", rows)
	}
}

func TestConsolidate_SweepsOrphanVectors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertVector(ctx, "gone-fact", "text", []float64{1}, "m"); err != nil {
		t.Fatalf("UpsertVector: %v", err)
	}
	if _, err := store.Consolidate(ctx); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Vectors != 0 {
		t.Errorf("orphan vector should be swept, have %d", st.Vectors)
	}
}
