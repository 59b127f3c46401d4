package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the canonical persistent fact storage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the fact database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create fact db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process memory service. Use one shared connection to avoid
	// writer lock contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			session TEXT NOT NULL DEFAULT '',
			timestamp_ms INTEGER NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			rationale TEXT NOT NULL DEFAULT '',
			classification TEXT NOT NULL DEFAULT 'ARCHIVE',
			importance REAL NOT NULL DEFAULT 0,
			ttl_class TEXT NOT NULL DEFAULT 'active',
			expires_at_ms INTEGER NOT NULL DEFAULT 0,
			last_accessed_at_ms INTEGER NOT NULL DEFAULT 0,
			entity TEXT NOT NULL DEFAULT '' COLLATE NOCASE,
			fact_key TEXT NOT NULL DEFAULT '' COLLATE NOCASE,
			fact_value TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]'
		);`,
		`CREATE INDEX IF NOT EXISTS facts_ttl_idx ON facts(ttl_class);`,
		`CREATE INDEX IF NOT EXISTS facts_expires_idx ON facts(expires_at_ms);`,
		`CREATE INDEX IF NOT EXISTS facts_entity_idx ON facts(entity);`,
		`CREATE INDEX IF NOT EXISTS facts_entity_key_idx ON facts(entity, fact_key);`,
		`CREATE INDEX IF NOT EXISTS facts_importance_idx ON facts(importance DESC);`,
		`CREATE INDEX IF NOT EXISTS facts_timestamp_idx ON facts(timestamp_ms);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS facts_fts USING fts5(
			description, rationale, entity, fact_key, fact_value, tags,
			content='facts', content_rowid='rowid'
		);`,
		`CREATE TRIGGER IF NOT EXISTS facts_ai AFTER INSERT ON facts BEGIN
			INSERT INTO facts_fts(rowid, description, rationale, entity, fact_key, fact_value, tags)
			VALUES (new.rowid, new.description, new.rationale, new.entity, new.fact_key, new.fact_value, new.tags);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS facts_ad AFTER DELETE ON facts BEGIN
			INSERT INTO facts_fts(facts_fts, rowid, description, rationale, entity, fact_key, fact_value, tags)
			VALUES ('delete', old.rowid, old.description, old.rationale, old.entity, old.fact_key, old.fact_value, old.tags);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS facts_au AFTER UPDATE ON facts BEGIN
			INSERT INTO facts_fts(facts_fts, rowid, description, rationale, entity, fact_key, fact_value, tags)
			VALUES ('delete', old.rowid, old.description, old.rationale, old.entity, old.fact_key, old.fact_value, old.tags);
			INSERT INTO facts_fts(rowid, description, rationale, entity, fact_key, fact_value, tags)
			VALUES (new.rowid, new.description, new.rationale, new.entity, new.fact_key, new.fact_value, new.tags);
		END;`,
		`CREATE TABLE IF NOT EXISTS vectors (
			id TEXT PRIMARY KEY,
			fact_id TEXT NOT NULL,
			text_content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			model TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS vectors_fact_idx ON vectors(fact_id);`,
		`CREATE TABLE IF NOT EXISTS entities (
			name TEXT PRIMARY KEY COLLATE NOCASE,
			display_name TEXT NOT NULL,
			added_by TEXT NOT NULL DEFAULT 'runtime',
			added_at_ms INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init fact schema: %w", err)
		}
	}
	return nil
}

// liveCond filters out expired facts; expires_at_ms = 0 means no expiry.
const liveCond = `(expires_at_ms = 0 OR expires_at_ms > ?)`

// StoreFact upserts an explicitly stored fact. An existing live fact for
// (entity, key) is updated in place, including its TTL; otherwise a new fact
// is inserted with importance 0.9.
func (s *SQLiteStore) StoreFact(ctx context.Context, entity, key, value, ttlClass string) (string, bool, error) {
	nowMS := time.Now().UnixMilli()
	ttlClass = normalizeTTL(ttlClass)
	expires := ttlExpiry(ttlClass, nowMS)

	id, err := s.LiveFactID(ctx, entity, key)
	if err != nil {
		return "", false, err
	}
	if id != "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE facts SET fact_value = ?, timestamp_ms = ?, last_accessed_at_ms = ?, ttl_class = ?, expires_at_ms = ? WHERE id = ?`,
			value, nowMS, nowMS, ttlClass, expires, id)
		if err != nil {
			return "", false, fmt.Errorf("update stored fact: %w", err)
		}
		return id, true, nil
	}

	id = uuid.NewString()
	err = s.InsertFact(ctx, Fact{
		ID:             id,
		Session:        "tool",
		TimestampMS:    nowMS,
		Category:       "manual",
		Description:    fmt.Sprintf("%s.%s = %s", entity, key, value),
		Rationale:      "Stored explicitly by the caller",
		Classification: "ARCHIVE",
		Importance:     0.9,
		TTLClass:       ttlClass,
		ExpiresAtMS:    expires,
		LastAccessedMS: nowMS,
		Entity:         entity,
		Key:            key,
		Value:          value,
		Tags:           `["tool"]`,
	})
	if err != nil {
		return "", false, err
	}
	return id, false, nil
}

// LiveFactID returns the id of the live fact for (entity, key), or "".
func (s *SQLiteStore) LiveFactID(ctx context.Context, entity, key string) (string, error) {
	nowMS := time.Now().UnixMilli()
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM facts WHERE entity = ? AND fact_key = ? AND `+liveCond+` LIMIT 1`,
		entity, key, nowMS).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup live fact: %w", err)
	}
	return id, nil
}

// UpdateFactValue rewrites a fact's value and description, refreshing both
// timestamp and last-accessed. TTL is left untouched (capture path).
func (s *SQLiteStore) UpdateFactValue(ctx context.Context, id, value, description string) error {
	nowMS := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`UPDATE facts SET fact_value = ?, description = ?, timestamp_ms = ?, last_accessed_at_ms = ? WHERE id = ?`,
		value, description, nowMS, nowMS, id)
	if err != nil {
		return fmt.Errorf("update fact value: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertFact(ctx context.Context, f Fact) error {
	if f.Tags == "" {
		f.Tags = "[]"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (id, session, timestamp_ms, category, description, rationale, classification,
			importance, ttl_class, expires_at_ms, last_accessed_at_ms, entity, fact_key, fact_value, tags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Session, f.TimestampMS, f.Category, f.Description, f.Rationale, f.Classification,
		f.Importance, f.TTLClass, f.ExpiresAtMS, f.LastAccessedMS, f.Entity, f.Key, f.Value, f.Tags)
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

// ExpireSweep deletes every fact whose expiry has passed.
func (s *SQLiteStore) ExpireSweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM facts WHERE expires_at_ms > 0 AND expires_at_ms <= ?`,
		time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("expire sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire sweep rows: %w", err)
	}
	return n, nil
}

// TouchPermanent refreshes last-accessed on all permanent facts.
func (s *SQLiteStore) TouchPermanent(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE facts SET last_accessed_at_ms = ? WHERE ttl_class = 'permanent'`,
		time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("touch permanent facts: %w", err)
	}
	return nil
}

// Search runs a ranked FTS phrase match, falling back to a LIKE pattern scan
// over description/value/rationale ordered by importance when FTS finds
// nothing.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = 10
	}
	nowMS := time.Now().UnixMilli()

	phrase := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.entity, d.fact_key, d.fact_value, d.description, d.category, d.importance, d.ttl_class
		 FROM facts d JOIN facts_fts fts ON d.rowid = fts.rowid
		 WHERE facts_fts MATCH ? AND (d.expires_at_ms = 0 OR d.expires_at_ms > ?)
		 ORDER BY rank LIMIT ?`,
		phrase, nowMS, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	facts, err := scanFacts(rows)
	if err != nil {
		return nil, err
	}
	if len(facts) > 0 {
		return facts, nil
	}

	like := "%" + escapeLike(query) + "%"
	rows, err = s.db.QueryContext(ctx,
		`SELECT id, entity, fact_key, fact_value, description, category, importance, ttl_class
		 FROM facts
		 WHERE (description LIKE ? ESCAPE '\' OR fact_value LIKE ? ESCAPE '\' OR rationale LIKE ? ESCAPE '\')
		   AND `+liveCond+`
		 ORDER BY importance DESC LIMIT ?`,
		like, like, like, nowMS, limit)
	if err != nil {
		return nil, fmt.Errorf("like search: %w", err)
	}
	return scanFacts(rows)
}

// KeywordFacts runs a prebuilt FTS match expression, ordered by rank.
func (s *SQLiteStore) KeywordFacts(ctx context.Context, match string, limit int) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.entity, d.fact_key, d.fact_value, d.description, d.category, d.importance, d.ttl_class
		 FROM facts d JOIN facts_fts fts ON d.rowid = fts.rowid
		 WHERE facts_fts MATCH ? AND (d.expires_at_ms = 0 OR d.expires_at_ms > ?)
		 ORDER BY rank LIMIT ?`,
		match, time.Now().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return scanFacts(rows)
}

// EntityFacts lists live facts about one entity, strongest first.
func (s *SQLiteStore) EntityFacts(ctx context.Context, entity string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity, fact_key, fact_value, description, category, importance, ttl_class
		 FROM facts WHERE entity = ? AND `+liveCond+`
		 ORDER BY importance DESC, timestamp_ms DESC LIMIT 20`,
		entity, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("entity facts: %w", err)
	}
	return scanFacts(rows)
}

// PermanentFacts lists permanent entity facts by importance.
func (s *SQLiteStore) PermanentFacts(ctx context.Context, limit int) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity, fact_key, fact_value, description, category, importance, ttl_class
		 FROM facts WHERE ttl_class = 'permanent' AND entity != '' AND fact_key != ''
		 ORDER BY importance DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("permanent facts: %w", err)
	}
	return scanFacts(rows)
}

// RecentImportant lists recent live stable/active facts with importance >= 0.7.
func (s *SQLiteStore) RecentImportant(ctx context.Context, limit int) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity, fact_key, fact_value, description, category, importance, ttl_class
		 FROM facts
		 WHERE importance >= 0.7 AND ttl_class IN ('stable', 'active') AND `+liveCond+`
		 ORDER BY timestamp_ms DESC LIMIT ?`,
		time.Now().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("recent important facts: %w", err)
	}
	return scanFacts(rows)
}

// NudgeCandidates lists distinct durable entity facts for alternative-topic
// suggestions.
func (s *SQLiteStore) NudgeCandidates(ctx context.Context, limit int) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT entity, fact_key, category
		 FROM facts
		 WHERE ttl_class IN ('permanent', 'stable') AND entity != '' AND fact_key != ''
		 ORDER BY importance DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("nudge candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var facts []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.Entity, &f.Key, &f.Category); err != nil {
			return nil, fmt.Errorf("scan nudge candidate: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

type vectorRow struct {
	FactID      string
	Embedding   []float64
	Entity      string
	Key         string
	Value       string
	Description string
	Category    string
}

// UpsertVector replaces the vector record for a fact. Delete-before-insert in
// one transaction keeps at most one vector row per fact, so re-embedding on
// value change is idempotent.
func (s *SQLiteStore) UpsertVector(ctx context.Context, factID, text string, embedding []float64, model string) error {
	raw, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vector upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE fact_id = ?`, factID); err != nil {
		return fmt.Errorf("delete stale vector: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO vectors (id, fact_id, text_content, embedding, model, created_at_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), factID, text, string(raw), model, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert vector: %w", err)
	}
	return tx.Commit()
}

// LiveVectors returns every vector whose fact is still live, with the fact
// fields needed to render a match. Rows with undecodable embeddings are
// skipped.
func (s *SQLiteStore) LiveVectors(ctx context.Context) ([]vectorRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.fact_id, v.embedding, d.entity, d.fact_key, d.fact_value, d.description, d.category
		 FROM vectors v JOIN facts d ON v.fact_id = d.id
		 WHERE d.expires_at_ms = 0 OR d.expires_at_ms > ?`,
		time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list live vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []vectorRow
	for rows.Next() {
		var vr vectorRow
		var raw string
		if err := rows.Scan(&vr.FactID, &raw, &vr.Entity, &vr.Key, &vr.Value, &vr.Description, &vr.Category); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		if json.Unmarshal([]byte(raw), &vr.Embedding) != nil {
			continue
		}
		out = append(out, vr)
	}
	return out, rows.Err()
}

// UnembeddedFacts lists live facts without a vector record, strongest first.
func (s *SQLiteStore) UnembeddedFacts(ctx context.Context, limit int) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.entity, d.fact_key, d.fact_value, d.description, d.category, d.importance, d.ttl_class
		 FROM facts d LEFT JOIN vectors v ON d.id = v.fact_id
		 WHERE v.id IS NULL AND (d.expires_at_ms = 0 OR d.expires_at_ms > ?)
		 ORDER BY d.importance DESC LIMIT ?`,
		time.Now().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("list unembedded facts: %w", err)
	}
	return scanFacts(rows)
}

// ListEntities returns all persisted entity names.
func (s *SQLiteStore) ListEntities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// AddEntity persists an entity name; duplicates are ignored.
func (s *SQLiteStore) AddEntity(ctx context.Context, name, addedBy string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entities (name, display_name, added_by, added_at_ms) VALUES (?, ?, ?, ?)`,
		name, name, addedBy, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add entity: %w", err)
	}
	return nil
}

// Stats reports live row counts for diagnostics.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	nowMS := time.Now().UnixMilli()
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM facts WHERE `+liveCond, nowMS).Scan(&st.LiveFacts); err != nil {
		return Stats{}, fmt.Errorf("count facts: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&st.Vectors); err != nil {
		return Stats{}, fmt.Errorf("count vectors: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&st.Entities); err != nil {
		return Stats{}, fmt.Errorf("count entities: %w", err)
	}
	return st, nil
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	defer func() { _ = rows.Close() }()

	var facts []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.Entity, &f.Key, &f.Value, &f.Description, &f.Category, &f.Importance, &f.TTLClass); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
