// Package secret implements the URL query-parameter masking rule of
// spec.md §6: any query parameter whose name looks like a credential has
// its value replaced with "***" before being attached to tags/annotations.
package secret

import (
	"net/url"
	"regexp"
)

// nameRe matches the case-insensitive parameter-name patterns spec.md §6
// names verbatim.
var nameRe = regexp.MustCompile(`(?i)(pas+wo?r?d|pass(phrase)?|pwd|token|secrete?)`)

const masked = "***"

// MaskURL returns rawURL with every matching query parameter's value
// replaced by "***". Invalid URLs are returned unchanged. Masking is
// idempotent: MaskURL(MaskURL(u)) == MaskURL(u) (spec.md §8), since "***"
// never itself matches nameRe as a *value* — only parameter *names* are
// matched, so re-masking an already-masked URL is a no-op.
func MaskURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if len(q) == 0 {
		return rawURL
	}
	changed := false
	for name, values := range q {
		if !nameRe.MatchString(name) {
			continue
		}
		for i := range values {
			values[i] = masked
		}
		q[name] = values
		changed = true
	}
	if !changed {
		return rawURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}
