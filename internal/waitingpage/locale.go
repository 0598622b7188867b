package waitingpage

import (
	"sort"
	"strconv"
	"strings"
)

// weightedLocale is one entry of a parsed Accept-Language header.
type weightedLocale struct {
	tag     string
	quality float64
}

// parseAcceptLanguage parses an RFC 7231-style preference list
// ("fr-CH, fr;q=0.9, en;q=0.8, *;q=0.5") into descending-quality order.
func parseAcceptLanguage(header string) []weightedLocale {
	var out []weightedLocale
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tag := part
		quality := 1.0
		if idx := strings.Index(part, ";"); idx >= 0 {
			tag = strings.TrimSpace(part[:idx])
			params := part[idx+1:]
			for _, p := range strings.Split(params, ";") {
				p = strings.TrimSpace(p)
				if q, ok := strings.CutPrefix(p, "q="); ok {
					if v, err := strconv.ParseFloat(strings.TrimSpace(q), 64); err == nil {
						quality = v
					}
				}
			}
		}
		if tag == "" {
			continue
		}
		out = append(out, weightedLocale{tag: tag, quality: quality})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].quality > out[j].quality })
	return out
}

// SelectLocale picks the highest-quality locale from acceptLanguage that is
// also present in permitted, falling back to defaultLocale. This is the
// lookup-key function SPEC_FULL.md §4.2 keeps in scope ("out of core scope
// except as a lookup key into the cache") — it never renders translated
// content, only decides which cached/stored variant to serve.
func SelectLocale(acceptLanguage string, permitted []string, defaultLocale string) string {
	if len(permitted) == 0 {
		return defaultLocale
	}
	permittedSet := make(map[string]struct{}, len(permitted))
	for _, p := range permitted {
		permittedSet[strings.ToLower(p)] = struct{}{}
	}
	for _, wl := range parseAcceptLanguage(acceptLanguage) {
		if wl.tag == "*" {
			return defaultLocale
		}
		candidate := strings.ToLower(wl.tag)
		if _, ok := permittedSet[candidate]; ok {
			return candidate
		}
		// Fall back to the primary subtag ("en-US" -> "en").
		if i := strings.IndexByte(candidate, '-'); i > 0 {
			if _, ok := permittedSet[candidate[:i]]; ok {
				return candidate[:i]
			}
		}
	}
	return defaultLocale
}
