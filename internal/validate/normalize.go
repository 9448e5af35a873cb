package validate

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/slot-ingest/internal/model"
)

var (
	numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	yearRe   = regexp.MustCompile(`\b(\d{4})\b`)
	maxWinRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([km])?(?:[^a-z]|x|$)`)
)

// NormalizeVolatility maps free-form volatility text onto the enum.
// Anything it cannot place is VolatilityUnknown.
func NormalizeVolatility(raw any) model.Volatility {
	s, ok := raw.(string)
	if !ok {
		return model.VolatilityUnknown
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return model.VolatilityUnknown
	}

	hasLow := strings.Contains(s, "low")
	hasMed := strings.Contains(s, "med") || strings.Contains(s, "moderate")
	hasHigh := strings.Contains(s, "high")

	switch {
	case strings.Contains(s, "extreme"), strings.Contains(s, "insane"),
		strings.Contains(s, "very") && hasHigh, strings.Contains(s, "very_high"):
		return model.VolatilityVeryHigh
	case hasMed && hasHigh:
		return model.VolatilityHigh
	case hasLow && hasMed:
		return model.VolatilityMedium
	case hasHigh:
		return model.VolatilityHigh
	case hasMed:
		return model.VolatilityMedium
	case hasLow:
		return model.VolatilityLow
	}
	return model.VolatilityUnknown
}

// normalizeVolatility applies NormalizeVolatility and then the configured
// enum; levels the deployment does not accept become unknown.
func (v *Validator) normalizeVolatility(raw any) model.Volatility {
	vol := NormalizeVolatility(raw)
	if v.volatile != nil && !v.volatile[string(vol)] {
		return model.VolatilityUnknown
	}
	return vol
}

// NormalizeRTP parses an RTP percentage. Ratios such as 0.965 are scaled
// to percent. Values outside [min, max] return nil.
func (v *Validator) NormalizeRTP(raw any) *float64 {
	f, ok := firstNumber(raw)
	if !ok {
		return nil
	}
	if f > 0 && f <= 1 {
		f *= 100
	}
	f = math.Round(f*100) / 100
	if f < v.cfg.RTPMin || f > v.cfg.RTPMax {
		return nil
	}
	return &f
}

// NormalizeMaxWin parses a max-win multiplier such as "5,000x", "x5000"
// or "10k". The result must satisfy 0 < x < ceiling.
func (v *Validator) NormalizeMaxWin(raw any) *float64 {
	var f float64
	switch t := raw.(type) {
	case string:
		s := strings.ToLower(strings.ReplaceAll(t, ",", ""))
		m := maxWinRe.FindStringSubmatch(s)
		if m == nil {
			return nil
		}
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil
		}
		switch m[2] {
		case "k":
			n *= 1_000
		case "m":
			n *= 1_000_000
		}
		f = n
	default:
		n, ok := toFloat(raw)
		if !ok {
			return nil
		}
		f = n
	}
	if f <= 0 || f >= v.cfg.MaxWinCeiling || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	f = math.Round(f*100) / 100
	return &f
}

// NormalizeReleaseYear accepts a year between the configured minimum
// and next year.
func (v *Validator) NormalizeReleaseYear(raw any) *int {
	var y int
	switch t := raw.(type) {
	case string:
		m := yearRe.FindStringSubmatch(t)
		if m == nil {
			return nil
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		y = n
	default:
		f, ok := toFloat(raw)
		if !ok || f != math.Trunc(f) {
			return nil
		}
		y = int(f)
	}
	if y < v.cfg.MinReleaseYear || y > v.now().Year()+1 {
		return nil
	}
	return &y
}

// NormalizeConfidence returns a 0-100 score, or false if raw holds none.
// Fractions in (0,1) are read as ratios.
func NormalizeConfidence(raw any) (int, bool) {
	f, ok := firstNumber(raw)
	if !ok {
		return 0, false
	}
	if f > 0 && f < 1 {
		f *= 100
	}
	return clampScore(int(math.Round(f))), true
}

func clampScore(n int) int {
	return max(0, min(100, n))
}

func (v *Validator) normalizeTheme(raw any) string {
	var s string
	switch t := raw.(type) {
	case string:
		s = t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if ps, ok := p.(string); ok {
				parts = append(parts, ps)
			}
		}
		s = strings.Join(parts, ", ")
	default:
		return ""
	}
	return truncateRunes(v.Sanitize(s), v.cfg.ThemeMaxLen)
}

func (v *Validator) normalizeFeatures(raw any) []string {
	var items []string
	switch t := raw.(type) {
	case string:
		items = strings.Split(t, ",")
	case []string:
		items = t
	case []any:
		for _, p := range t {
			if ps, ok := p.(string); ok {
				items = append(items, ps)
			}
		}
	default:
		return nil
	}

	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		f := truncateRunes(v.Sanitize(it), v.cfg.FeatureMaxLen)
		if f == "" {
			continue
		}
		key := strings.ToLower(f)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
		if v.cfg.MaxFeatures > 0 && len(out) >= v.cfg.MaxFeatures {
			break
		}
	}
	return out
}

// normalizeBool reads a loosely typed flag. Absent or unreadable input is
// nil so callers can tell "not reported" from false.
func normalizeBool(raw any) *bool {
	var b bool
	switch t := raw.(type) {
	case bool:
		b = t
	case float64:
		if t != 0 && t != 1 {
			return nil
		}
		b = t == 1
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			b = true
		case "false", "no", "n", "0":
			b = false
		default:
			return nil
		}
	default:
		return nil
	}
	return &b
}

// firstNumber extracts the first number from a number or a string.
func firstNumber(raw any) (float64, bool) {
	if s, ok := raw.(string); ok {
		m := numberRe.FindString(strings.ReplaceAll(s, ",", "."))
		if m == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(m, 64)
		return f, err == nil
	}
	return toFloat(raw)
}

func toFloat(raw any) (float64, bool) {
	switch t := raw.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}
