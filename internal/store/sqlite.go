package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/slot-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withTimeFormat(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// withTimeFormat makes the driver write timestamps in a sortable layout so
// range comparisons work on the stored text.
func withTimeFormat(dsn string) string {
	if strings.Contains(dsn, "_time_format=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_time_format=sqlite"
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS slots (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	provider            TEXT NOT NULL,
	rtp                 REAL,
	volatility          TEXT NOT NULL DEFAULT 'unknown',
	max_win_multiplier  REAL,
	theme               TEXT NOT NULL DEFAULT '',
	features            TEXT NOT NULL DEFAULT '[]',
	release_year        INTEGER,
	twitch_safe         INTEGER NOT NULL DEFAULT 0,
	confidence_score    INTEGER NOT NULL DEFAULT 0,
	source_citations    TEXT NOT NULL DEFAULT '[]',
	moderation_status   TEXT NOT NULL DEFAULT 'manual_review',
	image               TEXT NOT NULL DEFAULT '',
	image_safety_status TEXT NOT NULL DEFAULT 'pending',
	ingestion_version   TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_slots_name_provider ON slots (lower(name), lower(provider));

CREATE TABLE IF NOT EXISTS ingestion_cache (
	cache_key  TEXT PRIMARY KEY,
	response   TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	hit_count  INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ingestion_cache_expires_at ON ingestion_cache (expires_at);

CREATE TABLE IF NOT EXISTS rate_limits (
	identifier    TEXT NOT NULL,
	endpoint      TEXT NOT NULL,
	window_start  DATETIME NOT NULL,
	request_count INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (identifier, endpoint, window_start)
);

CREATE TABLE IF NOT EXISTS ingestion_audit_log (
	id          TEXT PRIMARY KEY,
	slot_name   TEXT NOT NULL,
	provider    TEXT NOT NULL DEFAULT '',
	success     INTEGER NOT NULL,
	action      TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	stage       TEXT NOT NULL,
	error_type  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	confidence  INTEGER,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	warnings    TEXT NOT NULL DEFAULT '[]',
	metadata    TEXT,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS moderation_log (
	id              TEXT PRIMARY KEY,
	slot_id         TEXT NOT NULL DEFAULT '',
	slot_name       TEXT NOT NULL,
	provider        TEXT NOT NULL,
	flagged_reasons TEXT NOT NULL DEFAULT '[]',
	confidence      INTEGER NOT NULL DEFAULT 0,
	image           TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS source_references (
	slot_id    TEXT NOT NULL,
	url        TEXT NOT NULL,
	domain     TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (slot_id, url)
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, key string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var resp string
	err := s.db.QueryRowContext(ctx,
		`SELECT cache_key, response, expires_at, hit_count, created_at FROM ingestion_cache WHERE cache_key = ?`,
		key,
	).Scan(&e.Key, &resp, &e.ExpiresAt, &e.HitCount, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cache entry %s", key)
	}
	e.Response = []byte(resp)
	return &e, nil
}

func (s *SQLiteStore) SetCacheEntry(ctx context.Context, entry model.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_cache (cache_key, response, expires_at, hit_count, created_at)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET response = excluded.response,
		   expires_at = excluded.expires_at, hit_count = 0, created_at = excluded.created_at`,
		entry.Key, string(entry.Response), ts(entry.ExpiresAt), ts(entry.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: set cache entry %s", entry.Key)
}

func (s *SQLiteStore) IncrementCacheHit(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_cache SET hit_count = hit_count + 1 WHERE cache_key = ?`, key)
	return eris.Wrapf(err, "sqlite: increment cache hit %s", key)
}

func (s *SQLiteStore) GetRateWindow(ctx context.Context, identifier, endpoint string, windowStart time.Time) (*model.RateLimitWindow, error) {
	w := model.RateLimitWindow{Identifier: identifier, Endpoint: endpoint}
	err := s.db.QueryRowContext(ctx,
		`SELECT window_start, request_count FROM rate_limits
		 WHERE identifier = ? AND endpoint = ? AND window_start = ?`,
		identifier, endpoint, ts(windowStart),
	).Scan(&w.WindowStart, &w.RequestCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get rate window")
	}
	return &w, nil
}

func (s *SQLiteStore) InsertRateWindow(ctx context.Context, w model.RateLimitWindow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_limits (identifier, endpoint, window_start, request_count) VALUES (?, ?, ?, ?)`,
		w.Identifier, w.Endpoint, ts(w.WindowStart), w.RequestCount,
	)
	if isSQLiteConflict(err) {
		return ErrConflict
	}
	return eris.Wrap(err, "sqlite: insert rate window")
}

func (s *SQLiteStore) IncrementRateWindow(ctx context.Context, identifier, endpoint string, windowStart time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rate_limits SET request_count = request_count + 1
		 WHERE identifier = ? AND endpoint = ? AND window_start = ?`,
		identifier, endpoint, ts(windowStart),
	)
	return eris.Wrap(err, "sqlite: increment rate window")
}

func (s *SQLiteStore) FindSlot(ctx context.Context, name, provider string) (*model.ValidatedRecord, error) {
	rec, err := scanSQLiteSlot(s.db.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots
		 WHERE lower(name) = lower(?) AND (? = '' OR lower(provider) = lower(?))
		 ORDER BY updated_at DESC LIMIT 1`,
		name, provider, provider,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, eris.Wrap(err, "sqlite: find slot")
}

func (s *SQLiteStore) SearchSlots(ctx context.Context, likePattern string, nameLen, limit int) ([]model.ValidatedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE lower(name) LIKE ?
		 ORDER BY abs(length(name) - ?), updated_at DESC LIMIT ?`,
		likePattern, nameLen, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search slots")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ValidatedRecord
	for rows.Next() {
		rec, err := scanSQLiteSlot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan slot")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate slots")
}

func (s *SQLiteStore) InsertSlot(ctx context.Context, rec *model.ValidatedRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO slots (`+slotColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Provider, nullFloat(rec.RTP), string(rec.Volatility), nullFloat(rec.MaxWinMultiplier),
		rec.Theme, jsonText(rec.Features), nullInt(rec.ReleaseYear), boolValue(rec.TwitchSafe), rec.ConfidenceScore,
		jsonText(rec.SourceCitations), string(rec.ModerationStatus), rec.Image,
		string(rec.ImageSafetyStatus), rec.IngestionVersion, ts(rec.CreatedAt), ts(rec.UpdatedAt),
	)
	if isSQLiteConflict(err) {
		return ErrConflict
	}
	return eris.Wrapf(err, "sqlite: insert slot %s", rec.Name)
}

func (s *SQLiteStore) UpdateSlot(ctx context.Context, id string, patch SlotPatch) error {
	q, args, err := patch.updateQuery(id, sq.Question, func(t time.Time) any { return ts(t) })
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update slot %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("slot not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) InsertAudit(ctx context.Context, e model.AuditEntry) error {
	var conf sql.NullInt64
	if e.Confidence != nil {
		conf = sql.NullInt64{Int64: int64(*e.Confidence), Valid: true}
	}
	var meta sql.NullString
	if len(e.Metadata) > 0 {
		meta = sql.NullString{String: string(e.Metadata), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_audit_log
		 (id, slot_name, provider, success, action, source, stage, error_type, error, confidence, duration_ms, warnings, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SlotName, e.Provider, e.Success, string(e.Action), string(e.Source), string(e.Stage),
		e.ErrorType, e.Error, conf, e.DurationMs, jsonText(e.Warnings), meta, ts(e.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert audit entry")
}

func (s *SQLiteStore) InsertModeration(ctx context.Context, e model.ModerationEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO moderation_log
		 (id, slot_id, slot_name, provider, flagged_reasons, confidence, image, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SlotID, e.SlotName, e.Provider, jsonText(e.FlaggedReasons), e.Confidence, e.Image, e.Status, ts(e.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert moderation entry")
}

func (s *SQLiteStore) InsertSourceRefs(ctx context.Context, refs []model.SourceReference) error {
	if len(refs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range refs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO source_references (slot_id, url, domain, created_at) VALUES (?, ?, ?, ?)`,
			r.SlotID, r.URL, r.Domain, ts(r.CreatedAt),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert source reference %s", r.URL)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit source references")
}

func (s *SQLiteStore) AuditStats(ctx context.Context, since time.Time) (*model.AuditStats, error) {
	var st model.AuditStats
	err := s.db.QueryRowContext(ctx,
		`SELECT `+auditStatsColumns+`,
		 coalesce(avg(confidence), 0), coalesce(avg(duration_ms), 0)
		 FROM ingestion_audit_log WHERE created_at >= ?`, ts(since),
	).Scan(&st.Total, &st.Failed, &st.AIFailures, &st.AvgConfidence, &st.AvgDurationMs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: audit stats")
	}
	return &st, nil
}

func (s *SQLiteStore) CountPendingModeration(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM moderation_log WHERE status = 'pending'`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count pending moderation")
}

func (s *SQLiteStore) PruneCache(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ingestion_cache WHERE expires_at <= ?`, ts(now))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) PruneRateWindows(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE window_start < ?`, ts(before))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune rate windows")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteSlot(row scannable) (*model.ValidatedRecord, error) {
	var r model.ValidatedRecord
	var vol, mod, imgStatus, features, sources string
	var rtp, maxWin sql.NullFloat64
	var year sql.NullInt64
	var twitch bool

	err := row.Scan(&r.ID, &r.Name, &r.Provider, &rtp, &vol, &maxWin, &r.Theme,
		&features, &year, &twitch, &r.ConfidenceScore, &sources, &mod,
		&r.Image, &imgStatus, &r.IngestionVersion, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if rtp.Valid {
		r.RTP = &rtp.Float64
	}
	if maxWin.Valid {
		r.MaxWinMultiplier = &maxWin.Float64
	}
	if year.Valid {
		y := int(year.Int64)
		r.ReleaseYear = &y
	}
	r.TwitchSafe = &twitch
	r.Volatility = model.Volatility(vol)
	r.ModerationStatus = model.ModerationStatus(mod)
	r.ImageSafetyStatus = model.ImageStatus(imgStatus)
	r.Features = decodeList([]byte(features))
	r.SourceCitations = decodeList([]byte(sources))
	return &r, nil
}

// ts normalizes timestamps so equal instants always render the same text.
func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func isSQLiteConflict(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
