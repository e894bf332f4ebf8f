package obfuscation

import (
	"regexp"
	"strings"
)

// DetectionRule pairs a category with the pattern that finds its spans in the source text
type DetectionRule struct {
	Category Category
	Pattern  *regexp.Regexp
	// FoldCase makes the working-buffer replacement case-insensitive.
	FoldCase bool
}

var (
	emailPattern   = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
	phonePattern   = regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	ssnPattern     = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardPattern    = regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)
	addressPattern = regexp.MustCompile(`\b\d+\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\s+(?i:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way)\b`)
	datePattern    = regexp.MustCompile(`\b(?:\d{1,2}[-/]\d{1,2}[-/]\d{2,4}|\d{4}[-/]\d{1,2}[-/]\d{1,2})\b`)
	namePattern    = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)+\b`)
	idPattern      = regexp.MustCompile(`\b[A-Z]{2}\d{6,}\b`)
)

// GetDefaultRules returns the pattern catalog for the exact-match categories, in
// processing order. Custom words and names have their own acceptance rules and are
// not part of the catalog.
func GetDefaultRules() []DetectionRule {
	return []DetectionRule{
		{Category: CategoryEmail, Pattern: emailPattern},
		{Category: CategoryPhone, Pattern: phonePattern},
		{Category: CategorySSN, Pattern: ssnPattern},
		{Category: CategoryCreditCard, Pattern: cardPattern},
		{Category: CategoryAddress, Pattern: addressPattern, FoldCase: true},
		{Category: CategoryDate, Pattern: datePattern},
	}
}

// defaultLeadWords are capitalized words that open a sentence or a salutation and
// get swept into a name match ("Contact John Smith", "Dear Jane Doe").
var defaultLeadWords = []string{
	"Contact", "Dear", "Hi", "Hello", "Hey", "Call", "Email", "Ask", "Meet",
	"Thanks", "Thank", "Regards", "Sincerely", "Please", "From", "To", "Cc", "Attn", "Note",
}

// DefaultLeadWords returns the built-in name lead-in words
func DefaultLeadWords() []string {
	out := make([]string, len(defaultLeadWords))
	copy(out, defaultLeadWords)
	return out
}

func newWordSet(words ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, list := range words {
		for _, w := range list {
			w = strings.TrimSpace(w)
			if w != "" {
				set[w] = struct{}{}
			}
		}
	}
	return set
}

// trimLeadWords drops lead-in words from the front of a name candidate. It returns ""
// when fewer than two words remain.
func trimLeadWords(candidate string, lead map[string]struct{}) string {
	words := strings.Split(candidate, " ")
	for len(words) > 0 {
		if _, ok := lead[words[0]]; !ok {
			break
		}
		words = words[1:]
	}
	if len(words) < 2 {
		return ""
	}
	return strings.Join(words, " ")
}
