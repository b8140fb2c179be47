package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"threatlens/core"
	"threatlens/metrics"

	"go.uber.org/zap"
)

// =============================================================================
// SQLite Indicator Store
// =============================================================================

// SQLiteStore implements Store using SQLite. The schema mirrors the
// append-only indicator ledger: indicators never get deleted, enrichments
// are replaced wholesale, and sighting attribution is unique per
// (indicator, article) pair.
type SQLiteStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteStore creates the indicator store, ensuring tables exist
func NewSQLiteStore(sqlite *SQLite, logger *zap.SugaredLogger) (*SQLiteStore, error) {
	store := &SQLiteStore{sqlite: sqlite, logger: logger}
	if err := store.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure indicator tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS indicators (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL CHECK(type IN ('ip','domain','url','hash')),
		value TEXT NOT NULL,
		source TEXT DEFAULT '',
		sightings INTEGER NOT NULL DEFAULT 0,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_indicators_type_value ON indicators(type, value);
	CREATE INDEX IF NOT EXISTS idx_indicators_last_seen ON indicators(last_seen);

	CREATE TABLE IF NOT EXISTS enrichments (
		indicator_key TEXT PRIMARY KEY,
		risk_score REAL NOT NULL CHECK(risk_score >= 0 AND risk_score <= 100),
		risk_level TEXT NOT NULL CHECK(risk_level IN ('critical','high','medium','low')),
		confidence REAL NOT NULL,
		sightings INTEGER NOT NULL,
		last_seen DATETIME NOT NULL,
		tags TEXT DEFAULT '[]',
		providers TEXT DEFAULT '[]',
		degraded INTEGER NOT NULL DEFAULT 0,
		unavailable INTEGER NOT NULL DEFAULT 0,
		generated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_enrichments_risk_score ON enrichments(risk_score);

	CREATE TABLE IF NOT EXISTS article_sightings (
		indicator_key TEXT NOT NULL,
		article_id TEXT NOT NULL,
		discovered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (indicator_key, article_id)
	);
	CREATE INDEX IF NOT EXISTS idx_article_sightings_article ON article_sightings(article_id);
	`

	_, err := s.sqlite.DB.Exec(schema)
	return err
}

// UpsertIndicator creates the indicator if new and returns the current record
func (s *SQLiteStore) UpsertIndicator(ctx context.Context, indicator *core.Indicator) (*core.Indicator, error) {
	_, err := s.sqlite.DB.ExecContext(ctx, `
		INSERT INTO indicators (id, type, value, source, sightings, first_seen, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, value) DO NOTHING`,
		indicator.ID, string(indicator.Type), indicator.Value, indicator.Source,
		indicator.Sightings, indicator.FirstSeen, indicator.LastSeen,
		indicator.CreatedAt, indicator.UpdatedAt)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("upsert_indicator").Inc()
		return nil, fmt.Errorf("failed to upsert indicator: %w", err)
	}

	return s.getIndicatorByIdentity(ctx, indicator.Type, indicator.Value)
}

// GetIndicator returns the indicator for a key, or ErrNotFound
func (s *SQLiteStore) GetIndicator(ctx context.Context, key string) (*core.Indicator, error) {
	typ, value, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	return s.getIndicatorByIdentity(ctx, typ, value)
}

func (s *SQLiteStore) getIndicatorByIdentity(ctx context.Context, typ core.IndicatorType, value string) (*core.Indicator, error) {
	row := s.sqlite.DB.QueryRowContext(ctx, `
		SELECT id, type, value, source, sightings, first_seen, last_seen, created_at, updated_at
		FROM indicators WHERE type = ? AND value = ?`, string(typ), value)

	var ind core.Indicator
	var indType string
	err := row.Scan(&ind.ID, &indType, &ind.Value, &ind.Source, &ind.Sightings,
		&ind.FirstSeen, &ind.LastSeen, &ind.CreatedAt, &ind.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get_indicator").Inc()
		return nil, fmt.Errorf("failed to get indicator: %w", err)
	}
	ind.Type = core.IndicatorType(indType)
	return &ind, nil
}

// GetEnrichment returns the current enrichment for a key, or ErrNotFound
func (s *SQLiteStore) GetEnrichment(ctx context.Context, key string) (*core.Enrichment, error) {
	row := s.sqlite.DB.QueryRowContext(ctx, `
		SELECT indicator_key, risk_score, risk_level, confidence, sightings, last_seen,
		       tags, providers, degraded, unavailable, generated_at
		FROM enrichments WHERE indicator_key = ?`, key)

	var enr core.Enrichment
	var level, tagsJSON, providersJSON string
	var degraded, unavailable int
	err := row.Scan(&enr.IndicatorKey, &enr.RiskScore, &level, &enr.Confidence,
		&enr.Sightings, &enr.LastSeen, &tagsJSON, &providersJSON,
		&degraded, &unavailable, &enr.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get_enrichment").Inc()
		return nil, fmt.Errorf("failed to get enrichment: %w", err)
	}

	enr.RiskLevel = core.RiskLevel(level)
	enr.Degraded = degraded != 0
	enr.Unavailable = unavailable != 0
	if err := json.Unmarshal([]byte(tagsJSON), &enr.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode enrichment tags: %w", err)
	}
	if err := json.Unmarshal([]byte(providersJSON), &enr.Providers); err != nil {
		return nil, fmt.Errorf("failed to decode provider results: %w", err)
	}
	return &enr, nil
}

// PutEnrichment replaces the current enrichment for a key
func (s *SQLiteStore) PutEnrichment(ctx context.Context, key string, enrichment *core.Enrichment) error {
	tagsJSON, err := json.Marshal(orEmpty(enrichment.Tags))
	if err != nil {
		return fmt.Errorf("failed to encode enrichment tags: %w", err)
	}
	providersJSON, err := json.Marshal(orEmptyResults(enrichment.Providers))
	if err != nil {
		return fmt.Errorf("failed to encode provider results: %w", err)
	}

	_, err = s.sqlite.DB.ExecContext(ctx, `
		INSERT INTO enrichments (indicator_key, risk_score, risk_level, confidence, sightings,
		                         last_seen, tags, providers, degraded, unavailable, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(indicator_key) DO UPDATE SET
			risk_score = excluded.risk_score,
			risk_level = excluded.risk_level,
			confidence = excluded.confidence,
			sightings = excluded.sightings,
			last_seen = excluded.last_seen,
			tags = excluded.tags,
			providers = excluded.providers,
			degraded = excluded.degraded,
			unavailable = excluded.unavailable,
			generated_at = excluded.generated_at`,
		key, enrichment.RiskScore, string(enrichment.RiskLevel), enrichment.Confidence,
		enrichment.Sightings, enrichment.LastSeen, string(tagsJSON), string(providersJSON),
		boolToInt(enrichment.Degraded), boolToInt(enrichment.Unavailable), enrichment.GeneratedAt)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("put_enrichment").Inc()
		return fmt.Errorf("failed to put enrichment: %w", err)
	}
	return nil
}

// RecordSighting attributes articleID to the indicator, at most once per pair.
// A repeated (indicator, article) pair is a no-op so re-processing an article
// never double-counts sightings.
func (s *SQLiteStore) RecordSighting(ctx context.Context, key, articleID string) (bool, error) {
	res, err := s.sqlite.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO article_sightings (indicator_key, article_id, discovered_at)
		VALUES (?, ?, ?)`, key, articleID, time.Now().UTC())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("record_sighting").Inc()
		return false, fmt.Errorf("failed to record sighting: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read sighting insert result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	typ, value, err := splitKey(key)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	_, err = s.sqlite.DB.ExecContext(ctx, `
		UPDATE indicators SET sightings = sightings + 1, last_seen = ?, updated_at = ?
		WHERE type = ? AND value = ?`, now, now, string(typ), value)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("record_sighting").Inc()
		return false, fmt.Errorf("failed to increment sighting count: %w", err)
	}
	return true, nil
}

// splitKey parses a "type:value" indicator key. URLs contain colons, so only
// the first separator is significant.
func splitKey(key string) (core.IndicatorType, string, error) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			typ := core.IndicatorType(key[:i])
			if !typ.IsValid() {
				return "", "", fmt.Errorf("%w: %s", core.ErrUnsupportedType, key[:i])
			}
			return typ, key[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed indicator key: %q", key)
}

func orEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func orEmptyResults(results []core.ProviderResult) []core.ProviderResult {
	if results == nil {
		return []core.ProviderResult{}
	}
	return results
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
