package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/slot-ingest/internal/config"
	"github.com/sells-group/slot-ingest/internal/extract"
	"github.com/sells-group/slot-ingest/internal/model"
	"github.com/sells-group/slot-ingest/internal/store"
	"github.com/sells-group/slot-ingest/internal/validate"
)

// --- Extractor Mock ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) ExtractMetadata(ctx context.Context, name, provider string) (*extract.Extraction, error) {
	args := m.Called(ctx, name, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*extract.Extraction), args.Error(1)
}

func (m *mockExtractor) FindSafeImage(ctx context.Context, name, provider string) (*extract.ImageResult, error) {
	args := m.Called(ctx, name, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*extract.ImageResult), args.Error(1)
}

func (m *mockExtractor) ParametricCap() int { return 70 }

// --- Recording store ---

// recordingStore is a real SQLite store that also keeps the append-only
// log rows it was asked to write.
type recordingStore struct {
	*store.SQLiteStore

	mu         sync.Mutex
	audits     []model.AuditEntry
	moderation []model.ModerationEntry
}

func (s *recordingStore) InsertAudit(ctx context.Context, e model.AuditEntry) error {
	s.mu.Lock()
	s.audits = append(s.audits, e)
	s.mu.Unlock()
	return s.SQLiteStore.InsertAudit(ctx, e)
}

func (s *recordingStore) InsertModeration(ctx context.Context, e model.ModerationEntry) error {
	s.mu.Lock()
	s.moderation = append(s.moderation, e)
	s.mu.Unlock()
	return s.SQLiteStore.InsertModeration(ctx, e)
}

func (s *recordingStore) Audits() []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditEntry(nil), s.audits...)
}

func (s *recordingStore) Moderation() []model.ModerationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ModerationEntry(nil), s.moderation...)
}

type testEnv struct {
	pipeline  *Pipeline
	extractor *mockExtractor
	store     *recordingStore
	repo      *store.Repository
	slept     []time.Duration
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "slots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cfg := config.Default()
	cfg.Batch.PauseMs = 5
	rs := &recordingStore{SQLiteStore: st}
	repo := store.NewRepository(rs, cfg, nil)
	ex := &mockExtractor{}

	env := &testEnv{extractor: ex, store: rs, repo: repo}
	env.pipeline = New(cfg, validate.New(cfg.Validation), ex, repo)
	env.pipeline.sleep = func(ctx context.Context, d time.Duration) error {
		env.slept = append(env.slept, d)
		return ctx.Err()
	}
	return env
}

func grounded(draft *model.ExtractedDraft) *extract.Extraction {
	return &extract.Extraction{Draft: draft, Source: model.SourceGrounded}
}

func mentalDraft(confidence any) *model.ExtractedDraft {
	return &model.ExtractedDraft{
		Name:        "Mental",
		Provider:    "Nolimit City",
		RTP:         "96.08%",
		Volatility:  "very high",
		MaxWin:      "66,666x",
		Theme:       "Psychiatric hospital horror",
		Features:    []any{"xWays", "Fire Frames"},
		ReleaseYear: 2021,
		Confidence:  confidence,
		Sources:     []string{"https://www.slotcatalog.com/en/slots/mental", "https://casino-affiliate.example/mental-review"},
		TwitchSafe:  false,
	}
}

func safeImage() *extract.ImageResult {
	return &extract.ImageResult{URL: "https://img.example/mental.png", Status: model.ImageSafe, Checked: 1}
}
