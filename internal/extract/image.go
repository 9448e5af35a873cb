package extract

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/slot-ingest/internal/model"
	"github.com/sells-group/slot-ingest/internal/resilience"
	"github.com/sells-group/slot-ingest/pkg/imagesearch"
)

// ImageResult is the outcome of FindSafeImage.
type ImageResult struct {
	URL     string
	Status  model.ImageStatus
	Checked int
	// Reasons holds the classifier's explanations for rejected candidates.
	Reasons []string
}

// FindSafeImage searches for artwork and returns the first candidate the
// vision classifier accepts. When every evaluated candidate is rejected
// the first candidate is returned quarantined. Classifier failures count
// as safe.
func (e *Extractor) FindSafeImage(ctx context.Context, name, provider string) (*ImageResult, error) {
	query := strings.Join(strings.Fields(name+" "+provider+" slot"), " ")

	urls, err := e.images.Search(ctx, query)
	if err != nil {
		return &ImageResult{Status: model.ImageNotFound}, eris.Wrap(err, "extract: image search")
	}

	candidates := imagesearch.FilterBlocked(urls, e.blockedKeywords)
	if len(candidates) == 0 {
		return &ImageResult{Status: model.ImageNotFound}, nil
	}
	if len(candidates) > e.maxCandidates {
		candidates = candidates[:e.maxCandidates]
	}

	res := &ImageResult{}
	for _, u := range candidates {
		if err := ctx.Err(); err != nil {
			return &ImageResult{Status: model.ImageNotFound}, eris.Wrap(err, "extract: image search")
		}
		res.Checked++
		v := e.checkCandidate(ctx, u)
		if v.Safe {
			res.URL = u
			res.Status = model.ImageSafe
			return res, nil
		}
		res.Reasons = append(res.Reasons, v.Reason)
	}

	res.URL = candidates[0]
	res.Status = model.ImageQuarantined
	return res, nil
}

func (e *Extractor) checkCandidate(ctx context.Context, imageURL string) Verdict {
	log := zap.L().With(zap.String("image_url", imageURL))

	if e.vision == nil {
		return Verdict{Safe: true, Reason: "no classifier configured"}
	}

	img, err := e.images.FetchImage(ctx, imageURL)
	if err != nil {
		log.Warn("extract: image fetch failed, treating candidate as safe", zap.Error(err))
		return Verdict{Safe: true, Reason: "image fetch failed"}
	}

	b64 := base64.StdEncoding.EncodeToString(img.Data)
	v, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*Verdict, error) {
		return e.vision.Classify(ctx, img.MimeType, b64)
	})
	if err != nil {
		log.Warn("extract: vision check failed, treating candidate as safe", zap.Error(err))
		return Verdict{Safe: true, Reason: "vision check failed"}
	}

	log.Debug("extract: vision verdict", zap.Bool("safe", v.Safe), zap.String("reason", v.Reason))
	return *v
}
