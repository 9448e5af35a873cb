package imagesearch

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	xhtml "golang.org/x/net/html"
)

// murl entries are JSON embedded in an HTML attribute, so quotes arrive
// entity-encoded.
var murlRe = regexp.MustCompile(`(?:&quot;|")murl(?:&quot;|"):(?:&quot;|")(.*?)(?:&quot;|")`)

// ExtractCandidates returns absolute http(s) image URLs found in page, in
// document order, without duplicates. Full-size murl links come first,
// followed by <img> sources.
func ExtractCandidates(page string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(raw string) {
		u := cleanURL(raw)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}

	for _, m := range murlRe.FindAllStringSubmatch(page, -1) {
		add(m[1])
	}

	z := xhtml.NewTokenizer(strings.NewReader(page))
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			break
		}
		if tt != xhtml.StartTagToken && tt != xhtml.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		if tok.Data != "img" {
			continue
		}
		for _, a := range tok.Attr {
			if a.Key == "src" || a.Key == "data-src" {
				add(a.Val)
			}
		}
	}
	return out
}

// FilterBlocked drops URLs containing any blocked keyword, case-insensitively.
func FilterBlocked(urls, keywords []string) []string {
	var out []string
outer:
	for _, u := range urls {
		lu := strings.ToLower(u)
		for _, k := range keywords {
			if k != "" && strings.Contains(lu, strings.ToLower(k)) {
				continue outer
			}
		}
		out = append(out, u)
	}
	return out
}

func cleanURL(raw string) string {
	raw = strings.TrimSpace(html.UnescapeString(raw))
	raw = strings.ReplaceAll(raw, `\/`, "/")
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
