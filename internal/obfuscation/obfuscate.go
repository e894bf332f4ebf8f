package obfuscation

import (
	"regexp"
	"strings"
)

// Obfuscate masks sensitive spans of text with every category enabled and the
// default name lead-in words. It is a pure function of its arguments.
func Obfuscate(text string, customWords []string) Result {
	return obfuscate(text, customWords, passOptions{leadWords: newWordSet(defaultLeadWords)})
}

// Deobfuscate replaces every placeholder of mappings in text with its original value,
// walking mappings in order. Placeholders without an entry are left verbatim.
func Deobfuscate(text string, mappings []MappingEntry) string {
	restored := text
	for _, m := range mappings {
		if m.Placeholder == "" {
			continue
		}
		restored = strings.ReplaceAll(restored, m.Placeholder, m.Original)
	}
	return restored
}

// Mask applies mappings forward: every original in text is replaced with its
// placeholder, in mapping order, with the same case rules the forward transform uses.
func Mask(text string, mappings []MappingEntry) string {
	masked := text
	for _, m := range mappings {
		if m.Original == "" || m.Placeholder == "" {
			continue
		}
		if foldsCase(m.Category) {
			masked = replaceFold(masked, m.Original, m.Placeholder)
		} else {
			masked = strings.ReplaceAll(masked, m.Original, m.Placeholder)
		}
	}
	return masked
}

func foldsCase(c Category) bool {
	for _, rule := range GetDefaultRules() {
		if rule.Category == c {
			return rule.FoldCase
		}
	}
	return false
}

type passOptions struct {
	// disabled categories are skipped; nil means all enabled
	disabled  map[Category]bool
	leadWords map[string]struct{}
}

func (o passOptions) enabled(c Category) bool {
	return !o.disabled[c]
}

// pass holds the per-call state of one forward transform. Counters live here and
// nowhere else.
type pass struct {
	source   string
	working  string
	mappings []MappingEntry
	counters map[Category]int
	claimed  map[string]struct{}
}

func obfuscate(text string, customWords []string, opts passOptions) Result {
	p := &pass{
		source:   text,
		working:  text,
		mappings: make([]MappingEntry, 0),
		counters: make(map[Category]int, len(processingOrder)),
		claimed:  make(map[string]struct{}),
	}

	if opts.enabled(CategoryCustom) {
		p.maskCustomWords(customWords)
	}

	for _, rule := range GetDefaultRules() {
		if opts.enabled(rule.Category) {
			p.maskRule(rule)
		}
	}

	if opts.enabled(CategoryName) {
		p.maskNames(opts.leadWords)
	}

	if opts.enabled(CategoryNumber) {
		p.maskRule(DetectionRule{Category: CategoryNumber, Pattern: idPattern})
	}

	return Result{Obfuscated: p.working, Mappings: p.mappings}
}

// claim records a new mapping entry and returns its placeholder
func (p *pass) claim(c Category, original string) string {
	p.counters[c]++
	placeholder := FormatPlaceholder(c, p.counters[c])
	p.mappings = append(p.mappings, MappingEntry{
		Placeholder: placeholder,
		Original:    original,
		Category:    c,
	})
	p.claimed[original] = struct{}{}
	return placeholder
}

func (p *pass) isClaimed(original string) bool {
	_, ok := p.claimed[original]
	return ok
}

func (p *pass) maskCustomWords(words []string) {
	for _, word := range words {
		if strings.TrimSpace(word) == "" || !strings.Contains(p.source, word) {
			continue
		}
		// A repeated word keeps its first placeholder.
		if p.isClaimed(word) {
			continue
		}
		placeholder := p.claim(CategoryCustom, word)
		p.working = strings.ReplaceAll(p.working, word, placeholder)
	}
}

func (p *pass) maskRule(rule DetectionRule) {
	for _, match := range rule.Pattern.FindAllString(p.source, -1) {
		if p.isClaimed(match) {
			continue
		}
		placeholder := p.claim(rule.Category, match)
		if rule.FoldCase {
			p.working = replaceFold(p.working, match, placeholder)
		} else {
			p.working = strings.ReplaceAll(p.working, match, placeholder)
		}
	}
}

func (p *pass) maskNames(leadWords map[string]struct{}) {
	for _, match := range namePattern.FindAllString(p.source, -1) {
		name := trimLeadWords(match, leadWords)
		if name == "" {
			continue
		}
		// Skip names inside an already-claimed span, or already consumed by one.
		if p.coveredByOriginal(name) || !strings.Contains(p.working, name) {
			continue
		}
		placeholder := p.claim(CategoryName, name)
		p.working = strings.ReplaceAll(p.working, name, placeholder)
	}
}

func (p *pass) coveredByOriginal(s string) bool {
	for _, m := range p.mappings {
		if strings.Contains(m.Original, s) {
			return true
		}
	}
	return false
}

// replaceFold replaces every case-insensitive literal occurrence of old in s
func replaceFold(s, old, replacement string) string {
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(old))
	if err != nil {
		// invalid UTF-8 in old; fall back to exact matching
		return strings.ReplaceAll(s, old, replacement)
	}
	return re.ReplaceAllLiteralString(s, replacement)
}
