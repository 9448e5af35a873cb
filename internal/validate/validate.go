// Package validate turns loosely typed AI output into domain-valid slot
// records and gates requests on content safety and source compliance.
package validate

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/slot-ingest/internal/apperr"
	"github.com/sells-group/slot-ingest/internal/config"
)

// Validator normalizes and checks slot data. It is safe for concurrent use.
type Validator struct {
	cfg       config.ValidationConfig
	aliases   map[string]string
	aliasKeys []string
	blocked   []string
	volatile  map[string]bool
	policy    *bluemonday.Policy
	now       func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the clock used for release-year bounds.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New creates a Validator from cfg.
func New(cfg config.ValidationConfig, opts ...Option) *Validator {
	v := &Validator{
		cfg:     cfg,
		aliases: make(map[string]string, len(cfg.ProviderAliases)),
		policy:  bluemonday.StrictPolicy(),
		now:     time.Now,
	}
	for k, name := range cfg.ProviderAliases {
		key := aliasKey(k)
		if key == "" || name == "" {
			continue
		}
		v.aliases[key] = name
		v.aliasKeys = append(v.aliasKeys, key)
	}
	// Longest keys first so "red tiger gaming" wins over "red tiger".
	sort.Slice(v.aliasKeys, func(i, j int) bool {
		if len(v.aliasKeys[i]) != len(v.aliasKeys[j]) {
			return len(v.aliasKeys[i]) > len(v.aliasKeys[j])
		}
		return v.aliasKeys[i] < v.aliasKeys[j]
	})
	if len(cfg.Volatilities) > 0 {
		v.volatile = make(map[string]bool, len(cfg.Volatilities))
		for _, name := range cfg.Volatilities {
			v.volatile[strings.ToLower(strings.TrimSpace(name))] = true
		}
	}
	for _, t := range cfg.BlockedTerms {
		if n := alnum(t); n != "" {
			v.blocked = append(v.blocked, n)
		}
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// ValidateInput checks the shape of a request before any other work.
func (v *Validator) ValidateInput(name, provider string) error {
	name = strings.TrimSpace(name)
	provider = strings.TrimSpace(provider)

	n := utf8.RuneCountInString(name)
	if n < v.cfg.NameMinLen || n > v.cfg.NameMaxLen {
		msg := fmt.Sprintf("name must be between %d and %d characters", v.cfg.NameMinLen, v.cfg.NameMaxLen)
		return apperr.Validation(msg, map[string]any{
			"field":  "name",
			"length": n,
			"min":    v.cfg.NameMinLen,
			"max":    v.cfg.NameMaxLen,
		})
	}
	if !strings.ContainsFunc(name, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
		return apperr.Validation("name must contain letters or digits", map[string]any{"field": "name"})
	}
	if strings.ContainsFunc(name, unicode.IsControl) {
		return apperr.Validation("name contains control characters", map[string]any{"field": "name"})
	}
	if utf8.RuneCountInString(provider) > v.cfg.ProviderMaxLen {
		return apperr.Validation("provider is too long", map[string]any{
			"field": "provider",
			"max":   v.cfg.ProviderMaxLen,
		})
	}
	return nil
}

// SafetyResult reports whether text hit a blocked term.
type SafetyResult struct {
	Blocked bool   `json:"blocked"`
	Term    string `json:"term,omitempty"`
}

// CheckContentSafety matches text against the blocked-term list after
// lower-casing and stripping everything but letters and digits, so
// spaced or punctuated spellings still match.
func (v *Validator) CheckContentSafety(text string) SafetyResult {
	n := alnum(text)
	if n == "" {
		return SafetyResult{}
	}
	for _, term := range v.blocked {
		if strings.Contains(n, term) {
			return SafetyResult{Blocked: true, Term: term}
		}
	}
	return SafetyResult{}
}

// CheckRequestSafety runs CheckContentSafety over name and provider and
// returns a moderation error on the first hit.
func (v *Validator) CheckRequestSafety(name, provider string) error {
	for _, f := range [...]struct{ field, text string }{{"name", name}, {"provider", provider}} {
		if res := v.CheckContentSafety(f.text); res.Blocked {
			return apperr.Moderation("content blocked by safety filter", map[string]any{
				"field": f.field,
				"term":  res.Term,
			})
		}
	}
	return nil
}

// CanonicalProvider maps a raw provider spelling to its display name.
// It never returns "" for input with at least one non-space character.
func (v *Validator) CanonicalProvider(raw string) string {
	key := aliasKey(raw)
	if key == "" {
		return ""
	}
	if name, ok := v.aliases[key]; ok {
		return name
	}
	for _, k := range v.aliasKeys {
		if len(k) < 3 {
			continue
		}
		if strings.Contains(key, k) || (len(key) >= 3 && strings.Contains(k, key)) {
			return v.aliases[k]
		}
	}
	return titleCase(strings.Join(strings.Fields(raw), " "))
}

// Sanitize strips markup and collapses whitespace.
func (v *Validator) Sanitize(s string) string {
	s = v.policy.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func alnum(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(s), "")
}

func aliasKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// titleCase upper-cases the first letter of each word and leaves the rest.
func titleCase(s string) string {
	return cases.Title(language.English, cases.NoLower).String(s)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:limit]))
}
