package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/slot-ingest/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func ptr[T any](v T) *T { return &v }

func sampleRecord(id, name, provider string) *model.ValidatedRecord {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.ValidatedRecord{
		ID:                id,
		Name:              name,
		Provider:          provider,
		RTP:               ptr(96.21),
		Volatility:        model.VolatilityHigh,
		MaxWinMultiplier:  ptr(5000.0),
		Theme:             "Ancient Egypt",
		Features:          []string{"Free Spins", "Expanding Symbols"},
		ReleaseYear:       ptr(2016),
		TwitchSafe:        ptr(true),
		ConfidenceScore:   85,
		SourceCitations:   []string{"https://www.slotcatalog.com/en/slots/book-of-dead"},
		ModerationStatus:  model.ModerationApproved,
		ImageSafetyStatus: model.ImagePending,
		IngestionVersion:  "2.1.0",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestWithTimeFormat(t *testing.T) {
	assert.Equal(t, "a.db?_time_format=sqlite", withTimeFormat("a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&_time_format=sqlite", withTimeFormat("file:a.db?mode=rwc"))
	assert.Equal(t, "a.db?_time_format=sqlite", withTimeFormat("a.db?_time_format=sqlite"))
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}

// --- Slots ---

func TestSQLite_InsertAndFindSlot(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertSlot(ctx, sampleRecord("s1", "Book of Dead", "Play'n GO")))

	got, err := st.FindSlot(ctx, "BOOK OF DEAD", "play'n go")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, "Book of Dead", got.Name)
	require.NotNil(t, got.RTP)
	assert.InDelta(t, 96.21, *got.RTP, 0.0001)
	assert.Equal(t, model.VolatilityHigh, got.Volatility)
	require.NotNil(t, got.ReleaseYear)
	assert.Equal(t, 2016, *got.ReleaseYear)
	require.NotNil(t, got.TwitchSafe)
	assert.True(t, *got.TwitchSafe)
	assert.Equal(t, []string{"Free Spins", "Expanding Symbols"}, got.Features)
	assert.Equal(t, model.ImagePending, got.ImageSafetyStatus)
	assert.WithinDuration(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), got.CreatedAt, time.Second)
}

func TestSQLite_FindSlot_ProviderOptional(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.InsertSlot(ctx, sampleRecord("s1", "Book of Dead", "Play'n GO")))

	got, err := st.FindSlot(ctx, "book of dead", "")
	require.NoError(t, err)
	require.NotNil(t, got)

	got, err = st.FindSlot(ctx, "book of dead", "NetEnt")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_FindSlot_NullColumns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := sampleRecord("s1", "Mystery", "Hacksaw Gaming")
	rec.RTP, rec.MaxWinMultiplier, rec.ReleaseYear = nil, nil, nil
	rec.Features, rec.SourceCitations = nil, nil
	require.NoError(t, st.InsertSlot(ctx, rec))

	got, err := st.FindSlot(ctx, "mystery", "hacksaw gaming")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.RTP)
	assert.Nil(t, got.MaxWinMultiplier)
	assert.Nil(t, got.ReleaseYear)
	assert.Empty(t, got.Features)
}

func TestSQLite_InsertSlot_Conflict(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.InsertSlot(ctx, sampleRecord("s1", "Book of Dead", "Play'n GO")))

	err := st.InsertSlot(ctx, sampleRecord("s2", "book of dead", "PLAY'N GO"))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSQLite_UpdateSlot(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.InsertSlot(ctx, sampleRecord("s1", "Book of Dead", "Play'n GO")))

	later := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	err := st.UpdateSlot(ctx, "s1", SlotPatch{
		RTP:             ptr(94.25),
		ConfidenceScore: ptr(90),
		Features:        []string{"Gamble"},
		UpdatedAt:       later,
	})
	require.NoError(t, err)

	got, err := st.FindSlot(ctx, "Book of Dead", "Play'n GO")
	require.NoError(t, err)
	assert.InDelta(t, 94.25, *got.RTP, 0.0001)
	assert.Equal(t, 90, got.ConfidenceScore)
	assert.Equal(t, []string{"Gamble"}, got.Features)
	assert.Equal(t, "Ancient Egypt", got.Theme)
	assert.WithinDuration(t, later, got.UpdatedAt, time.Second)
}

func TestSQLite_UpdateSlot_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.UpdateSlot(context.Background(), "missing", SlotPatch{UpdatedAt: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slot not found")
}

func TestSQLite_SearchSlots(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.InsertSlot(ctx, sampleRecord("s1", "Book of Dead", "Play'n GO")))
	require.NoError(t, st.InsertSlot(ctx, sampleRecord("s2", "Book of Ra Deluxe", "Novomatic")))
	require.NoError(t, st.InsertSlot(ctx, sampleRecord("s3", "Starburst", "NetEnt")))

	got, err := st.SearchSlots(ctx, "%book%dead%", 12, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)

	got, err = st.SearchSlots(ctx, "%book%", 12, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ID, "closest length first")

	got, err = st.SearchSlots(ctx, "%book%", 17, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s2", got[0].ID)
}

// --- Cache ---

func TestSQLite_Cache_SetGetIncrement(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.SetCacheEntry(ctx, model.CacheEntry{
		Key: "slot:netent:starburst", Response: []byte(`{"name":"Starburst"}`),
		ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))
	require.NoError(t, st.IncrementCacheHit(ctx, "slot:netent:starburst"))
	require.NoError(t, st.IncrementCacheHit(ctx, "slot:netent:starburst"))

	got, err := st.GetCacheEntry(ctx, "slot:netent:starburst")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"name":"Starburst"}`, string(got.Response))
	assert.Equal(t, 2, got.HitCount)
	assert.WithinDuration(t, now.Add(time.Hour), got.ExpiresAt, time.Second)

	// Overwrite resets the hit count.
	require.NoError(t, st.SetCacheEntry(ctx, model.CacheEntry{
		Key: "slot:netent:starburst", Response: []byte(`{"name":"Starburst XXXtreme"}`),
		ExpiresAt: now.Add(2 * time.Hour), CreatedAt: now,
	}))
	got, err = st.GetCacheEntry(ctx, "slot:netent:starburst")
	require.NoError(t, err)
	assert.Zero(t, got.HitCount)
	assert.Contains(t, string(got.Response), "XXXtreme")
}

func TestSQLite_Cache_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	got, err := st.GetCacheEntry(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_PruneCache(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.SetCacheEntry(ctx, model.CacheEntry{Key: "old", Response: []byte(`{}`), ExpiresAt: now.Add(-time.Minute), CreatedAt: now}))
	require.NoError(t, st.SetCacheEntry(ctx, model.CacheEntry{Key: "new", Response: []byte(`{}`), ExpiresAt: now.Add(time.Hour), CreatedAt: now}))

	n, err := st.PruneCache(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetCacheEntry(ctx, "new")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

// --- Rate windows ---

func TestSQLite_RateWindows(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)

	got, err := st.GetRateWindow(ctx, "client-a", "ingest", start)
	require.NoError(t, err)
	assert.Nil(t, got)

	w := model.RateLimitWindow{Identifier: "client-a", Endpoint: "ingest", WindowStart: start, RequestCount: 1}
	require.NoError(t, st.InsertRateWindow(ctx, w))
	assert.ErrorIs(t, st.InsertRateWindow(ctx, w), ErrConflict)

	require.NoError(t, st.IncrementRateWindow(ctx, "client-a", "ingest", start))
	got, err = st.GetRateWindow(ctx, "client-a", "ingest", start)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.RequestCount)

	n, err := st.PruneRateWindows(ctx, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// --- Logs ---

func TestSQLite_AuditAndModeration(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.InsertAudit(ctx, model.AuditEntry{
		ID: "a1", SlotName: "Starburst", Success: true, Action: model.ActionInserted,
		Stage: model.StageComplete, Confidence: ptr(80), Warnings: []string{"w"},
		Metadata: []byte(`{"k":1}`), CreatedAt: now,
	}))
	require.NoError(t, st.InsertAudit(ctx, model.AuditEntry{
		ID: "a2", SlotName: "Starburst", Stage: model.StageExtracting, ErrorType: "ai_error", CreatedAt: now,
	}))
	require.NoError(t, st.InsertModeration(ctx, model.ModerationEntry{
		ID: "m1", SlotID: "s1", SlotName: "Starburst", Provider: "NetEnt",
		FlaggedReasons: []string{"low_confidence"}, Confidence: 40, Status: "pending", CreatedAt: now,
	}))

	var audits, mods int
	require.NoError(t, st.db.QueryRow(`SELECT count(*) FROM ingestion_audit_log`).Scan(&audits))
	require.NoError(t, st.db.QueryRow(`SELECT count(*) FROM moderation_log`).Scan(&mods))
	assert.Equal(t, 2, audits)
	assert.Equal(t, 1, mods)

	stats, err := st.AuditStats(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.AIFailures)
	assert.InDelta(t, 80.0, stats.AvgConfidence, 0.001, "NULL confidence is not averaged")

	later, err := st.AuditStats(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, later.Total)

	pending, err := st.CountPendingModeration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestSQLite_InsertSourceRefs_IgnoresDuplicates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	refs := []model.SourceReference{
		{SlotID: "s1", URL: "https://www.slotcatalog.com/a", Domain: "www.slotcatalog.com", CreatedAt: now},
		{SlotID: "s1", URL: "https://www.bigwinboard.com/b", Domain: "www.bigwinboard.com", CreatedAt: now},
	}
	require.NoError(t, st.InsertSourceRefs(ctx, refs))
	require.NoError(t, st.InsertSourceRefs(ctx, refs[:1]))
	require.NoError(t, st.InsertSourceRefs(ctx, nil))

	var n int
	require.NoError(t, st.db.QueryRow(`SELECT count(*) FROM source_references`).Scan(&n))
	assert.Equal(t, 2, n)
}
