package common

import (
	"regexp"
	"strings"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and collapses every run of non-alphanumerics into a single hyphen,
// so "Good First Issue", "good_first_issue" and "good-first-issue" share one slug.
func Slug(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	slug := nonSlugChars.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}

// SameSlug reports whether a and b normalise to the same non-empty slug.
func SameSlug(a, b string) bool {
	sa := Slug(a)
	return sa != "" && sa == Slug(b)
}
