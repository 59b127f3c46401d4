package memory

import "context"

// FactStore provides durable persistence for facts, vectors and entities.
type FactStore interface {
	Close() error

	StoreFact(ctx context.Context, entity, key, value, ttlClass string) (id string, updated bool, err error)
	LiveFactID(ctx context.Context, entity, key string) (string, error)
	UpdateFactValue(ctx context.Context, id, value, description string) error
	InsertFact(ctx context.Context, f Fact) error
	ExpireSweep(ctx context.Context) (int64, error)
	TouchPermanent(ctx context.Context) error
	Consolidate(ctx context.Context) (int, error)

	Search(ctx context.Context, query string, limit int) ([]Fact, error)
	EntityFacts(ctx context.Context, entity string) ([]Fact, error)
	PermanentFacts(ctx context.Context, limit int) ([]Fact, error)
	KeywordFacts(ctx context.Context, match string, limit int) ([]Fact, error)
	RecentImportant(ctx context.Context, limit int) ([]Fact, error)
	NudgeCandidates(ctx context.Context, limit int) ([]Fact, error)

	UpsertVector(ctx context.Context, factID, text string, embedding []float64, model string) error
	LiveVectors(ctx context.Context) ([]vectorRow, error)
	UnembeddedFacts(ctx context.Context, limit int) ([]Fact, error)

	ListEntities(ctx context.Context) ([]string, error)
	AddEntity(ctx context.Context, name, addedBy string) error

	Stats(ctx context.Context) (Stats, error)
}

// Embedder produces fixed-dimension vectors from text.
type Embedder interface {
	Model() string
	Generate(ctx context.Context, text string) ([]float64, error)
	Health(ctx context.Context) (dimensions int, err error)
}
