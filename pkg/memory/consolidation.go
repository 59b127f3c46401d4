package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Consolidate merges duplicate (entity, key) fact groups down to a single
// survivor and garbage-collects orphaned vectors. The survivor is the most
// recently touched member; its importance is boosted to
// min(0.95, max(group)+0.05). Returns the number of deleted duplicates.
//
// Intended to run from a single maintenance path at a time. Safe alongside
// ordinary reads: losers are only deleted after the survivor is committed.
func (s *SQLiteStore) Consolidate(ctx context.Context) (int, error) {
	nowMS := time.Now().UnixMilli()

	rows, err := s.db.QueryContext(ctx,
		`SELECT GROUP_CONCAT(id) FROM facts
		 WHERE entity != '' AND fact_key != '' AND `+liveCond+`
		 GROUP BY entity, fact_key HAVING COUNT(*) > 1`,
		nowMS)
	if err != nil {
		return 0, fmt.Errorf("find duplicate facts: %w", err)
	}
	var groups [][]string
	for rows.Next() {
		var joined string
		if err := rows.Scan(&joined); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan duplicate group: %w", err)
		}
		groups = append(groups, strings.Split(joined, ","))
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("iterate duplicate groups: %w", err)
	}
	_ = rows.Close()

	merged := 0
	for _, ids := range groups {
		n, err := s.consolidateGroup(ctx, ids, nowMS)
		if err != nil {
			return merged, err
		}
		merged += n
	}

	// Orphan sweep runs regardless of whether duplicates were found.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM vectors WHERE fact_id NOT IN (SELECT id FROM facts)`); err != nil {
		return merged, fmt.Errorf("sweep orphan vectors: %w", err)
	}
	return merged, nil
}

func (s *SQLiteStore) consolidateGroup(ctx context.Context, ids []string, nowMS int64) (int, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	// Most recently touched first: last-accessed when set, else timestamp.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, importance FROM facts WHERE id IN (`+placeholders+`)
		 ORDER BY (CASE WHEN last_accessed_at_ms > 0 THEN last_accessed_at_ms ELSE timestamp_ms END) DESC`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("rank duplicate group: %w", err)
	}
	var (
		survivor      string
		maxImportance float64
		losers        []string
	)
	for rows.Next() {
		var id string
		var importance float64
		if err := rows.Scan(&id, &importance); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan group member: %w", err)
		}
		if survivor == "" {
			survivor = id
		} else {
			losers = append(losers, id)
		}
		if importance > maxImportance {
			maxImportance = importance
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("iterate group members: %w", err)
	}
	_ = rows.Close()

	if survivor == "" || len(losers) == 0 {
		return 0, nil
	}

	boosted := maxImportance + 0.05
	if boosted > 0.95 {
		boosted = 0.95
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin consolidation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE facts SET importance = ?, last_accessed_at_ms = ? WHERE id = ?`,
		boosted, nowMS, survivor); err != nil {
		return 0, fmt.Errorf("boost survivor: %w", err)
	}
	for _, id := range losers {
		if _, err := tx.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("delete duplicate fact: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE fact_id = ?`, id); err != nil {
			return 0, fmt.Errorf("delete duplicate vector: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit consolidation: %w", err)
	}
	return len(losers), nil
}
