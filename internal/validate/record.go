package validate

import (
	"strings"

	"github.com/sells-group/slot-ingest/internal/apperr"
	"github.com/sells-group/slot-ingest/internal/model"
)

// Completeness weights used when the model reports no confidence.
const (
	weightName        = 10
	weightProvider    = 10
	weightRTP         = 20
	weightVolatility  = 15
	weightMaxWin      = 15
	weightTheme       = 10
	weightFeatures    = 10
	weightReleaseYear = 10
)

// ValidateSlotData normalizes a draft into a record. Fields that fail to
// parse become nil or unknown; only an undeterminable name or provider is
// an error. fallbackName and fallbackProvider come from the request.
func (v *Validator) ValidateSlotData(draft *model.ExtractedDraft, fallbackName, fallbackProvider string) (*model.ValidatedRecord, []model.SourceRejection, error) {
	if draft == nil {
		draft = &model.ExtractedDraft{}
	}

	name := v.Sanitize(draft.Name)
	if name == "" {
		name = v.Sanitize(fallbackName)
	}
	name = titleCase(truncateRunes(name, v.cfg.NameMaxLen))
	if name == "" {
		return nil, nil, apperr.Validation("could not determine slot name", map[string]any{"field": "name"})
	}

	provider := v.CanonicalProvider(v.Sanitize(draft.Provider))
	if provider == "" {
		provider = v.CanonicalProvider(v.Sanitize(fallbackProvider))
	}
	provider = truncateRunes(provider, v.cfg.ProviderMaxLen)
	if provider == "" {
		return nil, nil, apperr.Validation("could not determine slot provider", map[string]any{"field": "provider"})
	}

	if err := v.CheckRequestSafety(name, provider); err != nil {
		return nil, nil, err
	}

	rec := &model.ValidatedRecord{
		Name:              name,
		Provider:          provider,
		RTP:               v.NormalizeRTP(draft.RTP),
		Volatility:        v.normalizeVolatility(draft.Volatility),
		MaxWinMultiplier:  v.NormalizeMaxWin(draft.MaxWin),
		Theme:             v.normalizeTheme(draft.Theme),
		Features:          v.normalizeFeatures(draft.Features),
		ReleaseYear:       v.NormalizeReleaseYear(draft.ReleaseYear),
		TwitchSafe:        normalizeBool(draft.TwitchSafe),
		ImageSafetyStatus: model.ImagePending,
	}

	if c, ok := NormalizeConfidence(draft.Confidence); ok {
		rec.ConfidenceScore = c
	} else {
		rec.ConfidenceScore = completeness(rec)
	}

	sources, rejected := v.FilterCompliantSources(draft.Sources)
	rec.SourceCitations = sources

	return rec, rejected, nil
}

func completeness(rec *model.ValidatedRecord) int {
	score := weightName + weightProvider
	if rec.RTP != nil {
		score += weightRTP
	}
	if rec.Volatility != model.VolatilityUnknown && rec.Volatility != "" {
		score += weightVolatility
	}
	if rec.MaxWinMultiplier != nil {
		score += weightMaxWin
	}
	if strings.TrimSpace(rec.Theme) != "" {
		score += weightTheme
	}
	if len(rec.Features) > 0 {
		score += weightFeatures
	}
	if rec.ReleaseYear != nil {
		score += weightReleaseYear
	}
	return clampScore(score)
}
