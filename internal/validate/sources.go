package validate

import (
	"net/url"
	"strings"

	"github.com/sells-group/slot-ingest/internal/model"
)

// Rejection reasons for citation URLs.
const (
	ReasonInvalidURL     = "invalid_url"
	ReasonBlockedDomain  = "blocked_domain"
	ReasonNotAllowlisted = "not_allowlisted"
)

// SourceCheck is the compliance verdict for one citation URL.
type SourceCheck struct {
	URL     string
	Domain  string
	Allowed bool
	Reason  string
}

// CheckSourceCompliance classifies a citation URL against the block and
// allow lists. A host matches a listed domain when it equals it or is a
// subdomain of it. Blocked wins over allowed.
func (v *Validator) CheckSourceCompliance(raw string) SourceCheck {
	raw = strings.TrimSpace(raw)
	check := SourceCheck{URL: raw}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		check.Reason = ReasonInvalidURL
		return check
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	check.Domain = host

	for _, d := range v.cfg.BlockedDomains {
		if domainMatch(host, d) {
			check.Reason = ReasonBlockedDomain
			return check
		}
	}
	for _, d := range v.cfg.AllowedDomains {
		if domainMatch(host, d) {
			check.Allowed = true
			return check
		}
	}
	check.Reason = ReasonNotAllowlisted
	return check
}

// FilterCompliantSources keeps allowed URLs in order, de-duplicated and
// capped, and reports every rejection.
func (v *Validator) FilterCompliantSources(urls []string) ([]string, []model.SourceRejection) {
	var (
		accepted []string
		rejected []model.SourceRejection
		seen     = make(map[string]bool, len(urls))
	)
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" || seen[raw] {
			continue
		}
		seen[raw] = true

		check := v.CheckSourceCompliance(raw)
		if !check.Allowed {
			rejected = append(rejected, model.SourceRejection{URL: raw, Reason: check.Reason})
			continue
		}
		if v.cfg.MaxSources > 0 && len(accepted) >= v.cfg.MaxSources {
			continue
		}
		accepted = append(accepted, raw)
	}
	return accepted, rejected
}

// HostOf returns the normalized host of a citation URL, or "".
func HostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func domainMatch(host, domain string) bool {
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
