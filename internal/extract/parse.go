package extract

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/slot-ingest/internal/model"
)

// rawDraft loosens every field so a single odd value cannot fail the decode.
type rawDraft struct {
	Name        any `json:"name"`
	Provider    any `json:"provider"`
	RTP         any `json:"rtp"`
	Volatility  any `json:"volatility"`
	MaxWin      any `json:"max_win"`
	Theme       any `json:"theme"`
	Features    any `json:"features"`
	ReleaseYear any `json:"release_year"`
	Confidence  any `json:"confidence"`
	Sources     any `json:"sources"`
	TwitchSafe  any `json:"twitch_safe"`
}

// ParseDraft extracts an ExtractedDraft from model text that may be wrapped
// in markdown fences or surrounded by prose.
func ParseDraft(text string) (*model.ExtractedDraft, error) {
	var raw rawDraft
	if err := decodeObject(text, &raw); err != nil {
		return nil, err
	}
	return &model.ExtractedDraft{
		Name:        stringOf(raw.Name),
		Provider:    stringOf(raw.Provider),
		RTP:         raw.RTP,
		Volatility:  raw.Volatility,
		MaxWin:      raw.MaxWin,
		Theme:       raw.Theme,
		Features:    raw.Features,
		ReleaseYear: raw.ReleaseYear,
		Confidence:  raw.Confidence,
		Sources:     stringsOf(raw.Sources),
		TwitchSafe:  raw.TwitchSafe,
	}, nil
}

// decodeObject strips code fences, tries a direct decode, then falls back
// to the first complete {...} object in the text. Prose after the object,
// braces included, is ignored.
func decodeObject(text string, v any) error {
	text = stripFences(text)
	if text == "" {
		return eris.New("extract: empty model response")
	}
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	var lastErr error
	for i := strings.IndexByte(text, '{'); i >= 0; {
		var obj json.RawMessage
		err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&obj)
		if err == nil {
			return eris.Wrap(json.Unmarshal(obj, v), "extract: decode model JSON")
		}
		lastErr = err
		next := strings.IndexByte(text[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	if lastErr == nil {
		return eris.New("extract: no JSON object in model response")
	}
	return eris.Wrap(lastErr, "extract: decode model JSON")
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// Drop the language tag line.
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[idx+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

func stringOf(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func stringsOf(v any) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case map[string]any:
				// Some answers cite {"url": ..., "title": ...}.
				if u, ok := it["url"].(string); ok {
					out = append(out, u)
				}
			}
		}
		return out
	}
	return nil
}
