package obfuscation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\[(CUSTOM|EMAIL|PHONE|SSN|CARD|ADDRESS|DATE|NAME|ID)_([1-9][0-9]*)\]`)

var tokenCategories = func() map[string]Category {
	m := make(map[string]Category, len(categoryTokens))
	for c, tok := range categoryTokens {
		m[tok] = c
	}
	return m
}()

// FormatPlaceholder renders the n-th placeholder of a category, e.g. [EMAIL_2]
func FormatPlaceholder(c Category, n int) string {
	return fmt.Sprintf("[%s_%d]", c.Token(), n)
}

// ParsePlaceholder splits a placeholder token into its category and sequence number.
// It reports false for anything that is not exactly one well-formed placeholder.
func ParsePlaceholder(s string) (Category, int, bool) {
	m := placeholderPattern.FindStringSubmatch(s)
	if m == nil || m[0] != s {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return tokenCategories[m[1]], n, true
}

// MissingPlaceholders lists the placeholders of mappings that no longer occur in text,
// in mapping order. A downstream tool that dropped or rewrote a placeholder shows up here.
func MissingPlaceholders(text string, mappings []MappingEntry) []string {
	missing := make([]string, 0)
	for _, m := range mappings {
		if !strings.Contains(text, m.Placeholder) {
			missing = append(missing, m.Placeholder)
		}
	}
	return missing
}

// UnknownPlaceholders lists distinct placeholder-shaped tokens in text that have no
// mapping entry. Deobfuscate leaves these verbatim.
func UnknownPlaceholders(text string, mappings []MappingEntry) []string {
	known := make(map[string]struct{}, len(mappings))
	for _, m := range mappings {
		known[m.Placeholder] = struct{}{}
	}

	unknown := make([]string, 0)
	seen := make(map[string]struct{})
	for _, tok := range placeholderPattern.FindAllString(text, -1) {
		if _, ok := known[tok]; ok {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		unknown = append(unknown, tok)
	}
	return unknown
}
