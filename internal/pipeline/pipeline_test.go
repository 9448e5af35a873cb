package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/slot-ingest/internal/apperr"
	"github.com/sells-group/slot-ingest/internal/extract"
	"github.com/sells-group/slot-ingest/internal/model"
)

func TestIngest_ScenarioA_Inserted(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.On("ExtractMetadata", mock.Anything, "Mental", "Nolimit City").
		Return(grounded(mentalDraft(85)), nil).Once()
	env.extractor.On("FindSafeImage", mock.Anything, "Mental", "Nolimit City").
		Return(safeImage(), nil).Once()

	res, err := env.pipeline.Ingest(context.Background(), model.SlotRequest{Name: "Mental", Provider: "Nolimit City"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, model.ActionInserted, res.Action)
	assert.Equal(t, model.SourceGrounded, res.Source)
	assert.False(t, res.NeedsReview)
	require.NotNil(t, res.Data)
	assert.NotEmpty(t, res.Data.ID)
	assert.Equal(t, 85, res.Data.ConfidenceScore)
	assert.Equal(t, model.ModerationApproved, res.Data.ModerationStatus)
	assert.Equal(t, model.VolatilityVeryHigh, res.Data.Volatility)
	assert.Equal(t, model.ImageSafe, res.Data.ImageSafetyStatus)
	assert.Equal(t, "2.1.0", res.Data.IngestionVersion)
	assert.Equal(t, []string{"https://www.slotcatalog.com/en/slots/mental"}, res.Data.SourceCitations)
	require.Len(t, res.Context.RejectedSources, 1)
	assert.Contains(t, res.Warnings[0], "casino-affiliate.example")

	stored, err := env.store.FindSlot(context.Background(), "Mental", "Nolimit City")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, res.Data.ID, stored.ID)

	audits := env.store.Audits()
	require.Len(t, audits, 1)
	assert.True(t, audits[0].Success)
	assert.Equal(t, model.ActionInserted, audits[0].Action)
	assert.Equal(t, model.StageComplete, audits[0].Stage)
	assert.Empty(t, env.store.Moderation())
	env.extractor.AssertExpectations(t)
}

func TestIngest_ScenarioB_CachedWithoutAICall(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.On("ExtractMetadata", mock.Anything, "Mental", "Nolimit City").
		Return(grounded(mentalDraft(85)), nil).Once()
	env.extractor.On("FindSafeImage", mock.Anything, mock.Anything, mock.Anything).
		Return(safeImage(), nil).Once()

	req := model.SlotRequest{Name: "Mental", Provider: "Nolimit City"}
	first, err := env.pipeline.Ingest(context.Background(), req)
	require.NoError(t, err)

	second, err := env.pipeline.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.ActionCached, second.Action)
	assert.Equal(t, model.SourceCache, second.Source)
	assert.Equal(t, first.Data.ID, second.Data.ID)
	assert.False(t, second.NeedsReview)

	env.extractor.AssertNumberOfCalls(t, "ExtractMetadata", 1)
	env.extractor.AssertNumberOfCalls(t, "FindSafeImage", 1)
	assert.Len(t, env.store.Audits(), 2)
}

func TestIngest_AliasSharesCacheEntry(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.On("ExtractMetadata", mock.Anything, "Mental", "Nolimit City").
		Return(grounded(mentalDraft(85)), nil).Once()
	env.extractor.On("FindSafeImage", mock.Anything, mock.Anything, mock.Anything).
		Return(safeImage(), nil).Once()

	_, err := env.pipeline.Ingest(context.Background(), model.SlotRequest{Name: "Mental", Provider: "Nolimit City"})
	require.NoError(t, err)

	res, err := env.pipeline.Ingest(context.Background(), model.SlotRequest{Name: "mental", Provider: "NLC"})
	require.NoError(t, err)
	assert.Equal(t, model.ActionCached, res.Action)
	env.extractor.AssertNumberOfCalls(t, "ExtractMetadata", 1)
}

func TestIngest_ScenarioC_LowConfidence(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.On("ExtractMetadata", mock.Anything, "Mental", "Nolimit City").
		Return(grounded(mentalDraft(40)), nil)
	env.extractor.On("FindSafeImage", mock.Anything, mock.Anything, mock.Anything).
		Return(safeImage(), nil)

	res, err := env.pipeline.Ingest(context.Background(), model.SlotRequest{Name: "Mental", Provider: "Nolimit City"})
	require.NoError(t, err)

	assert.True(t, res.NeedsReview)
	assert.Equal(t, model.ModerationManualReview, res.Data.ModerationStatus)
	var found bool
	for _, w := range res.Warnings {
		if strings.Contains(w, "40") && strings.Contains(w, "60") {
			found = true
		}
	}
	assert.True(t, found, "warning names the threshold: %v", res.Warnings)

	mods := env.store.Moderation()
	require.Len(t, mods, 1)
	assert.Equal(t, []string{FlagLowConfidence}, mods[0].FlaggedReasons)
	assert.Equal(t, res.Data.ID, mods[0].SlotID)
	assert.Equal(t, 40, mods[0].Confidence)
}

func TestIngest_ScenarioD_QuarantinedImage(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.On("ExtractMetadata", mock.Anything, mock.Anything, mock.Anything).
		Return(grounded(mentalDraft(85)), nil)
	env.extractor.On("FindSafeImage", mock.Anything, "Mental", "Nolimit City").
		Return(&extract.ImageResult{
			URL:     "https://img.example/candidate-1.png",
			Status:  model.ImageQuarantined,
			Checked: 3,
			Reasons: []string{"gore", "gore", "nudity"},
		}, nil)

	res, err := env.pipeline.Ingest(context.Background(), model.SlotRequest{Name: "Mental", Provider: "Nolimit City"})
	require.NoError(t, err)

	assert.Equal(t, model.ImageQuarantined, res.Data.ImageSafetyStatus)
	assert.Equal(t, "https://img.example/candidate-1.png", res.Data.Image)
	assert.True(t, res.NeedsReview)
	assert.Equal(t, model.ModerationApproved, res.Data.ModerationStatus)

	mods := env.store.Moderation()
	require.Len(t, mods, 1)
	assert.Equal(t, []string{FlagImageSafety}, mods[0].FlaggedReasons)
	assert.Equal(t, "https://img.example/candidate-1.png", mods[0].Image)
}

func TestIngest_ConfidenceGateBoundary(t *testing.T) {
	tests := []struct {
		confidence int
		want       model.ModerationStatus
	}{
		{59, model.ModerationManualReview},
		{60, model.ModerationApproved},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			env := newTestEnv(t)
			env.extractor.On("ExtractMetadata", mock.Anything, mock.Anything, mock.Anything).
				Return(grounded(mentalDraft(tt.confidence)), nil)

			res, err := env.pipeline.Ingest(context.Background(), model.SlotRequest{Name: "Mental", SkipImage: true})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Data.ModerationStatus)
			assert.Equal(t, tt.confidence, res.Data.ConfidenceScore)
		})
	}
}

func TestIngest_BlockedContentNeverReachesAI(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.pipeline.Ingest(context.Background(), model.SlotRequest{Name: "xXx Slot"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindModeration, apperr.KindOf(err))

	env.extractor.AssertNotCalled(t, "ExtractMetadata", mock.Anything, mock.Anything, mock.Anything)
	env.extractor.AssertNotCalled(t, "FindSafeImage", mock.Anything, mock.Anything, mock.Anything)

	audits := env.store.Audits()
	require.Len(t, audits, 1)
	assert.False(t, audits[0].Success)
	assert.Equal(t, model.StageSafety, audits[0].Stage)
	assert.Equal(t, string(apperr.KindModeration), audits[0].ErrorType)
}

func TestIngest_InvalidInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.pipeline.Ingest(context.Background(), model.SlotRequest{Name: " "})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	env.extractor.AssertNotCalled(t, "ExtractMetadata", mock.Anything, mock.Anything, mock.Anything)

	audits := env.store.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, model.StageValidating, audits[0].Stage)
}

func TestIngest_DuplicateFuzzyMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.repo.UpsertRecord(ctx, &model.ValidatedRecord{
		Name:              "Gates of Olympus",
		Provider:          "Pragmatic Play",
		Volatility:        model.VolatilityHigh,
		ConfidenceScore:   90,
		ModerationStatus:  model.ModerationApproved,
		ImageSafetyStatus: model.ImageSafe,
	})
	require.NoError(t, err)

	res, err := env.pipeline.Ingest(ctx, model.SlotRequest{Name: "gates   of, olympus!!", Provider: "pragmatic"})
	require.NoError(t, err)
	assert.Equal(t, model.ActionDuplicate, res.Action)
	assert.Equal(t, model.SourceExistingRecord, res.Source)
	assert.Equal(t, "Gates of Olympus", res.Data.Name)
	env.extractor.AssertNotCalled(t, "ExtractMetadata", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_DuplicateDoesNotMatchSequel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.repo.UpsertRecord(ctx, &model.ValidatedRecord{
		Name: "Gates of Olympus", Provider: "Pragmatic Play", Volatility: model.VolatilityHigh,
		ConfidenceScore: 90, ModerationStatus: model.ModerationApproved, ImageSafetyStatus: model.ImageSafe,
	})
	require.NoError(t, err)

	draft := &model.ExtractedDraft{Name: "Gates of Olympus 2", Provider: "Pragmatic Play", Confidence: 80}
	env.extractor.On("ExtractMetadata", mock.Anything, "Gates of Olympus 2", "Pragmatic Play").
		Return(grounded(draft), nil)

	res, err := env.pipeline.Ingest(ctx, model.SlotRequest{Name: "Gates of Olympus 2", Provider: "Pragmatic Play", SkipImage: true})
	require.NoError(t, err)
	assert.Equal(t, model.ActionInserted, res.Action)
}

func TestIngest_ForceRefreshUpdates(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.On("ExtractMetadata", mock.Anything, "Mental", "Nolimit City").
		Return(grounded(mentalDraft(85)), nil).Once()
	env.extractor.On("ExtractMetadata", mock.Anything, "Mental", "Nolimit City").
		Return(grounded(mentalDraft(92)), nil).Once()

	req := model.SlotRequest{Name: "Mental", Provider: "Nolimit City", SkipImage: true}
	first, err := env.pipeline.Ingest(context.Background(), req)
	require.NoError(t, err)

	req.ForceRefresh = true
	second, err := env.pipeline.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.ActionUpdated, second.Action)
	assert.Equal(t, first.Data.ID, second.Data.ID)
	assert.Equal(t, 92, second.Data.ConfidenceScore)
	env.extractor.AssertNumberOfCalls(t, "ExtractMetadata", 2)
}

func TestIngest_SkipImageLeavesPending(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.On("ExtractMetadata", mock.Anything, mock.Anything, mock.Anything).
		Return(grounded(mentalDraft(85)), nil)

	res, err := env.pipeline.Ingest(context.Background(), model.SlotRequest{Name: "Mental", SkipImage: true})
	require.NoError(t, err)
	assert.Equal(t, model.ImagePending, res.Data.ImageSafetyStatus)
	env.extractor.AssertNotCalled(t, "FindSafeImage", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_ImageSearchErrorIsWarning(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.On("ExtractMetadata", mock.Anything, mock.Anything, mock.Anything).
		Return(grounded(mentalDraft(85)), nil)
	env.extractor.On("FindSafeImage", mock.Anything, mock.Anything, mock.Anything).
		Return(&extract.ImageResult{Status: model.ImageNotFound}, assert.AnError)

	res, err := env.pipeline.Ingest(context.Background(), model.SlotRequest{Name: "Mental", Provider: "Nolimit City"})
	require.NoError(t, err)
	assert.Equal(t, model.ImageNotFound, res.Data.ImageSafetyStatus)
	assert.Contains(t, res.Warnings, "image search failed")
}

func TestIngest_ParametricConfidenceCapped(t *testing.T) {
	env := newTestEnv(t)
	draft := mentalDraft(nil)
	env.extractor.On("ExtractMetadata", mock.Anything, mock.Anything, mock.Anything).
		Return(&extract.Extraction{Draft: draft, Source: model.SourceParametric}, nil)

	res, err := env.pipeline.Ingest(context.Background(), model.SlotRequest{Name: "Mental", SkipImage: true})
	require.NoError(t, err)
	assert.Equal(t, model.SourceParametric, res.Source)
	assert.Equal(t, 70, res.Data.ConfidenceScore)
	assert.Equal(t, model.ModerationApproved, res.Data.ModerationStatus)
}

func TestIngest_AIFailure(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.On("ExtractMetadata", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apperr.AI(assert.AnError, "AI extraction failed", map[string]any{"stage": "parametric"}))

	_, err := env.pipeline.Ingest(context.Background(), model.SlotRequest{Name: "Mental"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAI, apperr.KindOf(err))

	got, findErr := env.store.FindSlot(context.Background(), "Mental", "")
	require.NoError(t, findErr)
	assert.Nil(t, got)

	audits := env.store.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, model.StageExtracting, audits[0].Stage)
	assert.Equal(t, string(apperr.KindAI), audits[0].ErrorType)
}

func TestIngest_PersistFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.On("ExtractMetadata", mock.Anything, mock.Anything, mock.Anything).
		Return(grounded(mentalDraft(85)), nil)
	require.NoError(t, env.store.Close())

	_, err := env.pipeline.Ingest(context.Background(), model.SlotRequest{Name: "Mental", SkipImage: true})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 500, ae.StatusCode())

	audits := env.store.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, model.StagePersisting, audits[0].Stage)
}
