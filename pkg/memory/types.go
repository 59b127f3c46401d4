package memory

import "time"

// TTL classes control fact expiry. Unrecognized values fall back to stable.
const (
	TTLPermanent = "permanent"
	TTLStable    = "stable"
	TTLActive    = "active"
	TTLSession   = "session"
)

const (
	ttlStableDuration  = 90 * 24 * time.Hour
	ttlActiveDuration  = 14 * 24 * time.Hour
	ttlSessionDuration = 24 * time.Hour
)

// Fact is the atomic unit of memory: an entity-attribute-value record with
// TTL metadata. Entity and Key are empty for non-entity facts (free-form
// notes carry only Category/Description).
type Fact struct {
	ID             string
	Session        string
	TimestampMS    int64
	Category       string
	Description    string
	Rationale      string
	Classification string
	Importance     float64
	TTLClass       string
	ExpiresAtMS    int64 // 0 means never
	LastAccessedMS int64 // 0 means never accessed
	Entity         string
	Key            string
	Value          string
	Tags           string // JSON array of provenance labels
}

// CandidateFact is an extraction result before storage.
type CandidateFact struct {
	Entity string
	Key    string
	Value  string
}

// Message is one conversation turn entry handed to capture.
type Message struct {
	Role    string
	Content string
}

// SemanticMatch is one vector search hit.
type SemanticMatch struct {
	FactID      string
	Entity      string
	Key         string
	Value       string
	Description string
	Category    string
	Similarity  float64
}

// EmbedTarget queues a fact for fire-and-forget embedding.
type EmbedTarget struct {
	FactID string
	Text   string
}

// CaptureResult reports one auto-capture pass.
type CaptureResult struct {
	Stored int
	Embeds []EmbedTarget
}

// Stats summarizes store contents for diagnostics.
type Stats struct {
	LiveFacts int
	Vectors   int
	Entities  int
}

// normalizeTTL maps unknown TTL strings to stable.
func normalizeTTL(class string) string {
	switch class {
	case TTLPermanent, TTLStable, TTLActive, TTLSession:
		return class
	default:
		return TTLStable
	}
}

// ttlExpiry computes the absolute expiry for a TTL class, 0 for permanent.
func ttlExpiry(class string, nowMS int64) int64 {
	switch normalizeTTL(class) {
	case TTLPermanent:
		return 0
	case TTLActive:
		return nowMS + ttlActiveDuration.Milliseconds()
	case TTLSession:
		return nowMS + ttlSessionDuration.Milliseconds()
	default:
		return nowMS + ttlStableDuration.Milliseconds()
	}
}
