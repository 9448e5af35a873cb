package store

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/slot-ingest/internal/db"
	"github.com/sells-group/slot-ingest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS slots (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	provider            TEXT NOT NULL,
	rtp                 DOUBLE PRECISION,
	volatility          TEXT NOT NULL DEFAULT 'unknown',
	max_win_multiplier  DOUBLE PRECISION,
	theme               TEXT NOT NULL DEFAULT '',
	features            JSONB NOT NULL DEFAULT '[]',
	release_year        INTEGER,
	twitch_safe         BOOLEAN NOT NULL DEFAULT false,
	confidence_score    INTEGER NOT NULL DEFAULT 0,
	source_citations    JSONB NOT NULL DEFAULT '[]',
	moderation_status   TEXT NOT NULL DEFAULT 'manual_review',
	image               TEXT NOT NULL DEFAULT '',
	image_safety_status TEXT NOT NULL DEFAULT 'pending',
	ingestion_version   TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_slots_name_provider ON slots (lower(name), lower(provider));
CREATE INDEX IF NOT EXISTS idx_slots_moderation ON slots (moderation_status);

CREATE TABLE IF NOT EXISTS ingestion_cache (
	cache_key  TEXT PRIMARY KEY,
	response   JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	hit_count  INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ingestion_cache_expires_at ON ingestion_cache (expires_at);

CREATE TABLE IF NOT EXISTS rate_limits (
	identifier    TEXT NOT NULL,
	endpoint      TEXT NOT NULL,
	window_start  TIMESTAMPTZ NOT NULL,
	request_count INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (identifier, endpoint, window_start)
);

CREATE TABLE IF NOT EXISTS ingestion_audit_log (
	id          TEXT PRIMARY KEY,
	slot_name   TEXT NOT NULL,
	provider    TEXT NOT NULL DEFAULT '',
	success     BOOLEAN NOT NULL,
	action      TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	stage       TEXT NOT NULL,
	error_type  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	confidence  INTEGER,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	warnings    JSONB NOT NULL DEFAULT '[]',
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_created_at ON ingestion_audit_log (created_at);

CREATE TABLE IF NOT EXISTS moderation_log (
	id              TEXT PRIMARY KEY,
	slot_id         TEXT NOT NULL DEFAULT '',
	slot_name       TEXT NOT NULL,
	provider        TEXT NOT NULL,
	flagged_reasons JSONB NOT NULL DEFAULT '[]',
	confidence      INTEGER NOT NULL DEFAULT 0,
	image           TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS source_references (
	slot_id    TEXT NOT NULL,
	url        TEXT NOT NULL,
	domain     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (slot_id, url)
);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate applies the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetCacheEntry(ctx context.Context, key string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var resp []byte
	err := s.pool.QueryRow(ctx,
		`SELECT cache_key, response, expires_at, hit_count, created_at FROM ingestion_cache WHERE cache_key = $1`,
		key,
	).Scan(&e.Key, &resp, &e.ExpiresAt, &e.HitCount, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cache entry %s", key)
	}
	e.Response = resp
	return &e, nil
}

func (s *PostgresStore) SetCacheEntry(ctx context.Context, entry model.CacheEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingestion_cache (cache_key, response, expires_at, hit_count, created_at)
		 VALUES ($1, $2, $3, 0, $4)
		 ON CONFLICT (cache_key) DO UPDATE SET response = EXCLUDED.response,
		   expires_at = EXCLUDED.expires_at, hit_count = 0, created_at = EXCLUDED.created_at`,
		entry.Key, []byte(entry.Response), entry.ExpiresAt, entry.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: set cache entry %s", entry.Key)
}

func (s *PostgresStore) IncrementCacheHit(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ingestion_cache SET hit_count = hit_count + 1 WHERE cache_key = $1`, key)
	return eris.Wrapf(err, "postgres: increment cache hit %s", key)
}

func (s *PostgresStore) GetRateWindow(ctx context.Context, identifier, endpoint string, windowStart time.Time) (*model.RateLimitWindow, error) {
	w := model.RateLimitWindow{Identifier: identifier, Endpoint: endpoint}
	err := s.pool.QueryRow(ctx,
		`SELECT window_start, request_count FROM rate_limits
		 WHERE identifier = $1 AND endpoint = $2 AND window_start = $3`,
		identifier, endpoint, windowStart,
	).Scan(&w.WindowStart, &w.RequestCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get rate window")
	}
	return &w, nil
}

func (s *PostgresStore) InsertRateWindow(ctx context.Context, w model.RateLimitWindow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rate_limits (identifier, endpoint, window_start, request_count) VALUES ($1, $2, $3, $4)`,
		w.Identifier, w.Endpoint, w.WindowStart, w.RequestCount,
	)
	if db.IsUniqueViolation(err) {
		return ErrConflict
	}
	return eris.Wrap(err, "postgres: insert rate window")
}

func (s *PostgresStore) IncrementRateWindow(ctx context.Context, identifier, endpoint string, windowStart time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE rate_limits SET request_count = request_count + 1
		 WHERE identifier = $1 AND endpoint = $2 AND window_start = $3`,
		identifier, endpoint, windowStart,
	)
	return eris.Wrap(err, "postgres: increment rate window")
}

func (s *PostgresStore) FindSlot(ctx context.Context, name, provider string) (*model.ValidatedRecord, error) {
	rec, err := scanPGSlot(s.pool.QueryRow(ctx,
		`SELECT `+slotColumns+` FROM slots
		 WHERE lower(name) = lower($1) AND ($2::text = '' OR lower(provider) = lower($2::text))
		 ORDER BY updated_at DESC LIMIT 1`,
		name, provider,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, eris.Wrap(err, "postgres: find slot")
}

func (s *PostgresStore) SearchSlots(ctx context.Context, likePattern string, nameLen, limit int) ([]model.ValidatedRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE lower(name) LIKE $1
		 ORDER BY abs(length(name) - $2), updated_at DESC LIMIT $3`,
		likePattern, nameLen, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search slots")
	}
	defer rows.Close()

	var out []model.ValidatedRecord
	for rows.Next() {
		rec, err := scanPGSlot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan slot")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate slots")
}

func (s *PostgresStore) InsertSlot(ctx context.Context, rec *model.ValidatedRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO slots (`+slotColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		rec.ID, rec.Name, rec.Provider, rec.RTP, string(rec.Volatility), rec.MaxWinMultiplier,
		rec.Theme, jsonText(rec.Features), rec.ReleaseYear, boolValue(rec.TwitchSafe), rec.ConfidenceScore,
		jsonText(rec.SourceCitations), string(rec.ModerationStatus), rec.Image,
		string(rec.ImageSafetyStatus), rec.IngestionVersion, rec.CreatedAt, rec.UpdatedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrConflict
	}
	return eris.Wrapf(err, "postgres: insert slot %s", rec.Name)
}

func (s *PostgresStore) UpdateSlot(ctx context.Context, id string, patch SlotPatch) error {
	q, args, err := patch.updateQuery(id, sq.Dollar, func(t time.Time) any { return t })
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update slot %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("slot not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) InsertAudit(ctx context.Context, e model.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingestion_audit_log
		 (id, slot_name, provider, success, action, source, stage, error_type, error, confidence, duration_ms, warnings, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.SlotName, e.Provider, e.Success, string(e.Action), string(e.Source), string(e.Stage),
		e.ErrorType, e.Error, e.Confidence, e.DurationMs, jsonText(e.Warnings), nullableJSON(e.Metadata), e.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert audit entry")
}

func (s *PostgresStore) InsertModeration(ctx context.Context, e model.ModerationEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO moderation_log
		 (id, slot_id, slot_name, provider, flagged_reasons, confidence, image, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.SlotID, e.SlotName, e.Provider, jsonText(e.FlaggedReasons), e.Confidence, e.Image, e.Status, e.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert moderation entry")
}

// InsertSourceRefs bulk-loads citations; rows already present are kept.
func (s *PostgresStore) InsertSourceRefs(ctx context.Context, refs []model.SourceReference) error {
	rows := make([][]any, len(refs))
	for i, r := range refs {
		rows[i] = []any{r.SlotID, r.URL, r.Domain, r.CreatedAt}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "source_references",
		Columns:      []string{"slot_id", "url", "domain", "created_at"},
		ConflictKeys: []string{"slot_id", "url"},
	}, rows)
	return eris.Wrap(err, "postgres: insert source references")
}

func (s *PostgresStore) AuditStats(ctx context.Context, since time.Time) (*model.AuditStats, error) {
	var st model.AuditStats
	err := s.pool.QueryRow(ctx,
		`SELECT `+auditStatsColumns+`,
		 coalesce(avg(confidence), 0)::float8, coalesce(avg(duration_ms), 0)::float8
		 FROM ingestion_audit_log WHERE created_at >= $1`, since,
	).Scan(&st.Total, &st.Failed, &st.AIFailures, &st.AvgConfidence, &st.AvgDurationMs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: audit stats")
	}
	return &st, nil
}

func (s *PostgresStore) CountPendingModeration(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM moderation_log WHERE status = 'pending'`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count pending moderation")
}

func (s *PostgresStore) PruneCache(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ingestion_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) PruneRateWindows(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, before)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune rate windows")
	}
	return int(tag.RowsAffected()), nil
}

func scanPGSlot(row pgx.Row) (*model.ValidatedRecord, error) {
	var r model.ValidatedRecord
	var vol, mod, imgStatus string
	var features, sources []byte
	var twitch bool

	err := row.Scan(&r.ID, &r.Name, &r.Provider, &r.RTP, &vol, &r.MaxWinMultiplier, &r.Theme,
		&features, &r.ReleaseYear, &twitch, &r.ConfidenceScore, &sources, &mod,
		&r.Image, &imgStatus, &r.IngestionVersion, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.TwitchSafe = &twitch
	r.Volatility = model.Volatility(vol)
	r.ModerationStatus = model.ModerationStatus(mod)
	r.ImageSafetyStatus = model.ImageStatus(imgStatus)
	r.Features = decodeList(features)
	r.SourceCitations = decodeList(sources)
	return &r, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
