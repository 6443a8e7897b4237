package bundle

import (
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Slug derives the filesystem identifier for a test display name: lowercase,
// whitespace runs become one hyphen, everything outside [a-z0-9-] is dropped.
// Pure and idempotent, so a slug fed back in comes out unchanged.
func Slug(name string) string {
	s := strings.ToLower(name)
	s = whitespaceRe.ReplaceAllString(s, "-")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-':
			return r
		default:
			return -1
		}
	}, s)
}
