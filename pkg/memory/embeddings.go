package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/dotsetgreg/factmem/pkg/logger"
)

// Embedding requests fail closed: a slow or broken service disables the
// semantic path rather than blocking a turn.
const (
	embedTimeout      = 10 * time.Second
	backfillBatchSize = 200
	backfillPacing    = 50 * time.Millisecond
)

// OllamaClient generates embeddings via the Ollama /api/embeddings endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: embedTimeout},
	}
}

// Model returns the embedding model name.
func (c *OllamaClient) Model() string { return c.model }

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Generate returns the embedding vector for text.
func (c *OllamaClient) Generate(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("encode embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding request: HTTP %d", resp.StatusCode)
	}
	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return out.Embedding, nil
}

// Health probes the service with a tiny prompt and reports the embedding
// dimensionality.
func (c *OllamaClient) Health(ctx context.Context) (int, error) {
	vec, err := c.Generate(ctx, "health check")
	if err != nil {
		return 0, err
	}
	return len(vec), nil
}

// cosineSimilarity returns dot(a,b)/(|a||b|), or 0 for empty, mismatched or
// zero-length vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// vectorSearch embeds the query and scores it against every live vector.
// Matches below threshold are dropped; survivors are sorted by similarity
// descending and truncated to limit. Embedding failure yields an empty
// result, not an error.
func vectorSearch(ctx context.Context, store FactStore, embedder Embedder, query string, limit int, threshold float64) []SemanticMatch {
	queryVec, err := embedder.Generate(ctx, query)
	if err != nil {
		logger.DebugCF("memory", "query embedding failed", map[string]interface{}{"error": err.Error()})
		return nil
	}

	rows, err := store.LiveVectors(ctx)
	if err != nil {
		logger.WarnCF("memory", "vector listing failed", map[string]interface{}{"error": err.Error()})
		return nil
	}

	var scored []SemanticMatch
	for _, row := range rows {
		sim := cosineSimilarity(queryVec, row.Embedding)
		if sim < threshold {
			continue
		}
		scored = append(scored, SemanticMatch{
			FactID:      row.FactID,
			Entity:      row.Entity,
			Key:         row.Key,
			Value:       row.Value,
			Description: row.Description,
			Category:    row.Category,
			Similarity:  sim,
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// embedText is the canonical text embedded for a fact.
func embedText(f Fact) string {
	if f.Entity != "" && f.Key != "" {
		return fmt.Sprintf("%s.%s = %s", f.Entity, f.Key, f.Value)
	}
	return f.Description
}

// backfillEmbeddings embeds live facts that lack a vector record, strongest
// first, paced to avoid overwhelming the service. Idempotent: already
// embedded facts are never revisited, so an interrupted run resumes cleanly.
func backfillEmbeddings(ctx context.Context, store FactStore, embedder Embedder) int {
	facts, err := store.UnembeddedFacts(ctx, backfillBatchSize)
	if err != nil {
		logger.WarnCF("memory", "backfill listing failed", map[string]interface{}{"error": err.Error()})
		return 0
	}
	if len(facts) == 0 {
		return 0
	}

	logger.InfoCF("memory", "backfilling embeddings", map[string]interface{}{"count": len(facts)})
	embedded := 0
	for _, f := range facts {
		if ctx.Err() != nil {
			break
		}
		text := embedText(f)
		if len(text) < 5 {
			continue
		}
		vec, err := embedder.Generate(ctx, text)
		if err != nil {
			continue
		}
		if err := store.UpsertVector(ctx, f.ID, text, vec, embedder.Model()); err != nil {
			logger.WarnCF("memory", "backfill store failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		embedded++

		select {
		case <-ctx.Done():
			return embedded
		case <-time.After(backfillPacing):
		}
	}
	logger.InfoCF("memory", "backfill complete", map[string]interface{}{"embedded": embedded, "candidates": len(facts)})
	return embedded
}
