package harvest

import (
	"regexp"
	"strings"
)

var slashRun = regexp.MustCompile(`/+`)

// NormalizeURLSlashes turns backslashes into slashes and collapses repeated
// slashes after the scheme separator. Without a scheme the whole string is
// collapsed.
func NormalizeURLSlashes(raw string) string {
	if raw == "" {
		return raw
	}
	raw = strings.ReplaceAll(raw, `\`, "/")

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return slashRun.ReplaceAllString(raw, "/")
	}
	return scheme + "://" + slashRun.ReplaceAllString(rest, "/")
}
