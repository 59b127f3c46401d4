package memory

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dotsetgreg/factmem/pkg/config"
	"github.com/dotsetgreg/factmem/pkg/logger"
)

// Service is the orchestrator for fact capture, recall, consolidation and
// stuck detection. It is the only layer the host talks to: storage and
// embedding failures are recovered here and surfaced as empty results, never
// as errors. The single fatal condition is schema initialization, reported
// by the constructor.
type Service struct {
	cfg      *config.Config
	store    FactStore
	embedder Embedder
	entities *EntityRegistry
	topics   *TopicTracker

	vectorsAvailable atomic.Bool

	nudgeMu      sync.Mutex
	pendingNudge string

	stopCh chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewService opens the store, loads entities, sweeps expired facts, runs a
// consolidation pass, then kicks off the detached embedding health check and
// backfill. Only schema initialization failure is returned.
func NewService(cfg *config.Config) (*Service, error) {
	store, err := NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	return newServiceWith(cfg, store, NewOllamaClient(cfg.Embedding.OllamaURL, cfg.Embedding.Model))
}

func newServiceWith(cfg *config.Config, store FactStore, embedder Embedder) (*Service, error) {
	ctx := context.Background()

	persisted, err := store.ListEntities(ctx)
	if err != nil {
		logger.WarnCF("memory", "entity load failed", map[string]interface{}{"error": err.Error()})
	}
	registry := NewEntityRegistry(cfg.Memory.Entities, persisted)
	logger.InfoCF("memory", "entities loaded", map[string]interface{}{"total": registry.Size()})

	if n, err := store.ExpireSweep(ctx); err != nil {
		logger.WarnCF("memory", "expiry sweep failed", map[string]interface{}{"error": err.Error()})
	} else if n > 0 {
		logger.InfoCF("memory", "expired facts removed", map[string]interface{}{"count": n})
	}

	if cfg.Memory.Consolidation {
		if merged, err := store.Consolidate(ctx); err != nil {
			logger.WarnCF("memory", "consolidation failed", map[string]interface{}{"error": err.Error()})
		} else if merged > 0 {
			logger.InfoCF("memory", "consolidated duplicates", map[string]interface{}{"merged": merged})
		}
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		cfg:      cfg,
		store:    store,
		embedder: embedder,
		entities: registry,
		topics:   NewTopicTracker(cfg.TopicHistoryPath()),
		stopCh:   make(chan struct{}),
		cancel:   cancel,
	}

	if cfg.Embedding.Enabled {
		svc.wg.Add(1)
		go svc.initVectors(bgCtx)
	}
	if cron := strings.TrimSpace(cfg.Memory.MaintenanceCron); cron != "" {
		svc.wg.Add(1)
		go svc.runMaintenance(cron)
	}
	return svc, nil
}

// initVectors health-checks the embedding service, flags availability, and
// backfills missing vectors. Detached from the turn path.
func (s *Service) initVectors(ctx context.Context) {
	defer s.wg.Done()

	dims, err := s.embedder.Health(ctx)
	if err != nil {
		logger.InfoCF("memory", "vectors unavailable", map[string]interface{}{"reason": err.Error()})
		return
	}
	s.vectorsAvailable.Store(true)
	logger.InfoCF("memory", "vectors available", map[string]interface{}{"dimensions": dims})
	backfillEmbeddings(ctx, s.store, s.embedder)
}

func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.cancel()
		s.wg.Wait()
		s.closeErr = s.store.Close()
	})
	return s.closeErr
}

// VectorsAvailable reports whether the semantic path is usable.
func (s *Service) VectorsAvailable() bool {
	return s.vectorsAvailable.Load()
}

// TurnStart assembles the memory context for a prompt, appending any pending
// stuck nudge. The nudge is consumed exactly once. Returns "" when there is
// nothing to inject.
func (s *Service) TurnStart(ctx context.Context, prompt string) string {
	var parts []string

	if s.cfg.Memory.AutoRecall {
		lines, seen := buildFactContext(ctx, s.store, prompt, s.cfg.Memory.MaxRecallResults)
		var semantic []SemanticMatch
		if s.vectorsAvailable.Load() && len(prompt) >= semanticMinPrompt {
			semantic = vectorSearch(ctx, s.store, s.embedder, prompt, 5, s.cfg.Embedding.SimilarityThreshold)
		}
		if block := buildRecallContext(lines, seen, semantic); block != "" {
			parts = append(parts, block)
		}
	}

	if s.cfg.Stuck.Enabled {
		s.nudgeMu.Lock()
		if s.pendingNudge != "" {
			parts = append(parts, s.pendingNudge)
			s.pendingNudge = ""
		}
		s.nudgeMu.Unlock()
	}

	if len(parts) == 0 {
		return ""
	}
	full := strings.Join(parts, "\n")
	logger.InfoCF("memory", "injecting context", map[string]interface{}{"chars": len(full)})
	return full
}

// TurnEnd runs auto-capture over a completed turn, fires embedding of new or
// updated facts, and feeds the last assistant message to stuck detection.
// No-op for failed turns.
func (s *Service) TurnEnd(ctx context.Context, messages []Message, ok bool) {
	if !ok || len(messages) == 0 {
		return
	}

	if s.cfg.Memory.AutoCapture {
		result := captureFromMessages(ctx, s.store, messages, s.cfg.Memory.MaxCapturePerTurn, s.entities)
		if result.Stored > 0 {
			logger.InfoCF("memory", "auto-captured facts", map[string]interface{}{"stored": result.Stored})
		}
		if s.vectorsAvailable.Load() && len(result.Embeds) > 0 {
			s.embedDetached(result.Embeds)
		}
	}

	if s.cfg.Stuck.Enabled {
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role != "assistant" {
				continue
			}
			if sig := ExtractTopicSignature(messages[i].Content); sig != "" {
				logger.DebugCF("memory", "topic signature", map[string]interface{}{"signature": sig})
				// Unconditional: a non-stuck turn clears any undelivered nudge,
				// so a stale one never surfaces later.
				nudge := s.topics.CheckStuck(ctx, s.store, sig, s.cfg.Stuck.UserName)
				s.nudgeMu.Lock()
				s.pendingNudge = nudge
				s.nudgeMu.Unlock()
			}
			break
		}
	}
}

// embedDetached embeds captured facts off the turn path.
func (s *Service) embedDetached(targets []EmbedTarget) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := context.Background()
		for _, t := range targets {
			select {
			case <-s.stopCh:
				return
			default:
			}
			vec, err := s.embedder.Generate(ctx, t.Text)
			if err != nil {
				continue
			}
			if err := s.store.UpsertVector(ctx, t.FactID, t.Text, vec, s.embedder.Model()); err != nil {
				logger.WarnCF("memory", "embedding store failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}()
}

// BeforeCompaction refreshes last-accessed on permanent facts so they
// survive recency-based pruning by the host.
func (s *Service) BeforeCompaction(ctx context.Context) {
	if err := s.store.TouchPermanent(ctx); err != nil {
		logger.WarnCF("memory", "permanent touch failed", map[string]interface{}{"error": err.Error()})
		return
	}
	logger.InfoCF("memory", "permanent facts touched", nil)
}

// AfterCompaction resets topic history; the conversation context changed.
func (s *Service) AfterCompaction() {
	s.topics.Reset()
	logger.InfoCF("memory", "topic history reset", nil)
}

// StoreFact upserts an explicit fact. Returns whether an existing fact was
// updated. Failed embedding is logged, never surfaced.
func (s *Service) StoreFact(ctx context.Context, entity, key, value, ttlClass string) (bool, error) {
	id, updated, err := s.store.StoreFact(ctx, entity, key, value, ttlClass)
	if err != nil {
		return false, err
	}
	if s.vectorsAvailable.Load() {
		s.embedDetached([]EmbedTarget{{FactID: id, Text: entity + "." + key + " = " + value}})
	}
	return updated, nil
}

// Search runs keyword search with the LIKE fallback. Storage failures yield
// an empty result.
func (s *Service) Search(ctx context.Context, query string, limit int) []Fact {
	facts, err := s.store.Search(ctx, query, limit)
	if err != nil {
		logger.WarnCF("memory", "search failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return facts
}

// EntityFacts lists live facts about one entity.
func (s *Service) EntityFacts(ctx context.Context, entity string) []Fact {
	facts, err := s.store.EntityFacts(ctx, entity)
	if err != nil {
		logger.WarnCF("memory", "entity lookup failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return facts
}

// SemanticSearch runs vector similarity search. Returns
// ErrEmbeddingsUnavailable when the semantic path is down.
func (s *Service) SemanticSearch(ctx context.Context, query string, limit int, threshold float64) ([]SemanticMatch, error) {
	if !s.vectorsAvailable.Load() {
		return nil, ErrEmbeddingsUnavailable
	}
	if threshold <= 0 {
		threshold = s.cfg.Embedding.SimilarityThreshold
	}
	if limit <= 0 {
		limit = 5
	}
	return vectorSearch(ctx, s.store, s.embedder, query, limit, threshold), nil
}

// RegisterEntity validates, persists and activates a new entity name.
func (s *Service) RegisterEntity(ctx context.Context, name string) error {
	if err := ValidateEntityName(name); err != nil {
		return err
	}
	if err := s.store.AddEntity(ctx, name, "runtime"); err != nil {
		return err
	}
	s.entities.Add(name)
	logger.InfoCF("memory", "entity registered", map[string]interface{}{"name": name, "total": s.entities.Size()})
	return nil
}

// Consolidate runs a single consolidation pass, returning merged count.
func (s *Service) Consolidate(ctx context.Context) int {
	merged, err := s.store.Consolidate(ctx)
	if err != nil {
		logger.WarnCF("memory", "consolidation failed", map[string]interface{}{"error": err.Error()})
	}
	return merged
}

// Sweep removes expired facts, returning the count deleted.
func (s *Service) Sweep(ctx context.Context) int64 {
	n, err := s.store.ExpireSweep(ctx)
	if err != nil {
		logger.WarnCF("memory", "sweep failed", map[string]interface{}{"error": err.Error()})
	}
	return n
}

// Stats reports store contents.
func (s *Service) Stats(ctx context.Context) Stats {
	st, err := s.store.Stats(ctx)
	if err != nil {
		logger.WarnCF("memory", "stats failed", map[string]interface{}{"error": err.Error()})
	}
	return st
}
