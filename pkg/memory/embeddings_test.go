package memory

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	v := []float64{0.3, 0.7, 0.1}
	if sim := cosineSimilarity(v, v); math.Abs(sim-1.0) > 1e-9 {
		t.Errorf("self similarity = %v, want 1.0", sim)
	}

	if sim := cosineSimilarity([]float64{1, 0}, []float64{0, 1}); sim != 0 {
		t.Errorf("orthogonal similarity = %v, want 0", sim)
	}

	if sim := cosineSimilarity(nil, v); sim != 0 {
		t.Errorf("empty vector similarity = %v, want 0", sim)
	}
	if sim := cosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}); sim != 0 {
		t.Errorf("mismatched length similarity = %v, want 0", sim)
	}
	if sim := cosineSimilarity([]float64{0, 0}, []float64{0, 0}); sim != 0 {
		t.Errorf("zero vector similarity = %v, want 0", sim)
	}
}

func newEmbedServer(t *testing.T, vec []float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(embeddingResponse{Embedding: vec})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaClient_GenerateAndHealth(t *testing.T) {
	srv := newEmbedServer(t, []float64{0.1, 0.2, 0.3})
	client := NewOllamaClient(srv.URL, "nomic-embed-text")
	ctx := context.Background()

	vec, err := client.Generate(ctx, "some text")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("vector length = %d, want 3", len(vec))
	}

	dims, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if dims != 3 {
		t.Errorf("dimensions = %d, want 3", dims)
	}
}

func TestOllamaClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := NewOllamaClient(srv.URL, "nomic-embed-text")
	if _, err := client.Generate(context.Background(), "text"); err == nil {
		t.Error("expected error from 500 response")
	}
	if _, err := client.Health(context.Background()); err == nil {
		t.Error("expected health failure from 500 response")
	}
}

func TestVectorSearch_EmptyStoreAndDownService(t *testing.T) {
	store := newTestStore(t)
	// Nothing listening on this address; Generate fails, search degrades to
	// an empty result instead of an error.
	client := NewOllamaClient("http://127.0.0.1:1", "nomic-embed-text")

	matches := vectorSearch(context.Background(), store, client, "any query at all", 5, 0.5)
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %v", matches)
	}
}

func TestVectorSearch_ThresholdAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	close1 := insertTestFact(t, store, Fact{Entity: "a", Key: "k1", Value: "v1"})
	close2 := insertTestFact(t, store, Fact{Entity: "a", Key: "k2", Value: "v2"})
	far := insertTestFact(t, store, Fact{Entity: "a", Key: "k3", Value: "v3"})
	if err := store.UpsertVector(ctx, close1, "t1", []float64{1, 0}, "m"); err != nil {
		t.Fatalf("UpsertVector: %v", err)
	}
	if err := store.UpsertVector(ctx, close2, "t2", []float64{0.9, 0.1}, "m"); err != nil {
		t.Fatalf("UpsertVector: %v", err)
	}
	if err := store.UpsertVector(ctx, far, "t3", []float64{0, 1}, "m"); err != nil {
		t.Fatalf("UpsertVector: %v", err)
	}

	srv := newEmbedServer(t, []float64{1, 0})
	client := NewOllamaClient(srv.URL, "m")

	matches := vectorSearch(ctx, store, client, "query text here", 5, 0.5)
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2 above threshold", len(matches))
	}
	if matches[0].FactID != close1 || matches[1].FactID != close2 {
		t.Errorf("matches not ordered by similarity: %+v", matches)
	}
}

func TestBackfillEmbeddings_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestFact(t, store, Fact{Entity: "a", Key: "k1", Value: "long enough value one"})
	insertTestFact(t, store, Fact{Entity: "a", Key: "k2", Value: "long enough value two"})

	srv := newEmbedServer(t, []float64{0.5, 0.5})
	client := NewOllamaClient(srv.URL, "m")

	if n := backfillEmbeddings(ctx, store, client); n != 2 {
		t.Errorf("first backfill embedded %d, want 2", n)
	}
	if n := backfillEmbeddings(ctx, store, client); n != 0 {
		t.Errorf("second backfill embedded %d, want 0", n)
	}
}
