package catalog

import "strings"

const (
	slugMinLen = 3
	slugMaxLen = 50
)

// Slugify derives a URL-safe public-map id from a display name: lowercase,
// non [a-z0-9-] replaced with '-', runs collapsed, ends trimmed. Short results
// get a "map-" prefix; empty input yields "public-map". The result is
// idempotent: Slugify(Slugify(s)) == Slugify(s).
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastDash := false
	for _, r := range strings.ToLower(s) {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if ok {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash && b.Len() > 0 {
			b.WriteByte('-')
			lastDash = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "public-map"
	}
	if len(slug) < slugMinLen {
		slug = "map-" + slug
	}
	if len(slug) > slugMaxLen {
		slug = strings.TrimRight(slug[:slugMaxLen], "-")
	}
	return slug
}
