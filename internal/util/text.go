package util

import (
	"regexp"
	"strings"
)

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeWhitespace trims and collapses whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Basename returns the last element of a slash-separated location, which
// may be a local path or a URL path.
func Basename(loc string) string {
	loc = strings.TrimRight(loc, "/")
	if i := strings.LastIndexAny(loc, `/\`); i >= 0 {
		return loc[i+1:]
	}
	return loc
}
