package store

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/slot-ingest/internal/model"
)

// fuzzySearchLimit bounds the candidate scan. Candidates come back closest
// in length first, so a long tail of spin-offs sharing the same two words
// ("Gates of Olympus 1000", "... Xmas") sorts behind the real match.
const fuzzySearchLimit = 50

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeName lowercases s and reduces punctuation runs to single spaces.
func normalizeName(s string) string {
	return strings.Join(strings.Fields(nonWord.ReplaceAllString(strings.ToLower(s), " ")), " ")
}

// significantWords returns up to n normalized words longer than two characters.
func significantWords(s string, n int) []string {
	var out []string
	for _, w := range strings.Fields(normalizeName(s)) {
		if len(w) > 2 {
			out = append(out, w)
			if len(out) == n {
				break
			}
		}
	}
	return out
}

// CheckDuplicate looks for an existing record matching name and provider,
// first exactly and then by significant words.
func (r *Repository) CheckDuplicate(ctx context.Context, name, provider string) (model.DuplicateMatch, error) {
	existing, err := r.store.FindSlot(ctx, name, provider)
	if err != nil {
		return model.DuplicateMatch{}, eris.Wrap(err, "duplicate: exact lookup")
	}
	if existing != nil {
		return model.DuplicateMatch{IsDuplicate: true, Existing: existing, MatchType: model.MatchExact}, nil
	}

	words := significantWords(name, 2)
	if len(words) == 0 {
		return model.DuplicateMatch{}, nil
	}
	pattern := "%" + strings.Join(words, "%") + "%"

	want := normalizeName(name)
	candidates, err := r.store.SearchSlots(ctx, pattern, len(want), fuzzySearchLimit)
	if err != nil {
		return model.DuplicateMatch{}, eris.Wrap(err, "duplicate: fuzzy search")
	}

	wantProvider := normalizeName(provider)
	for i := range candidates {
		c := &candidates[i]
		if normalizeName(c.Name) != want {
			continue
		}
		if wantProvider != "" && c.Provider != "" && normalizeName(c.Provider) != wantProvider {
			continue
		}
		return model.DuplicateMatch{IsDuplicate: true, Existing: c, MatchType: model.MatchFuzzy}, nil
	}
	return model.DuplicateMatch{}, nil
}
