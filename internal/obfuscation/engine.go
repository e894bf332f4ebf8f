package obfuscation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrNoCategories is returned when a configuration would leave every category disabled
var ErrNoCategories = errors.New("no categories enabled")

// Options configures an Engine
type Options struct {
	// Categories lists enabled categories by name; "all" enables every category.
	Categories []string
	// LeadWords are extra words stripped from the front of name candidates.
	LeadWords []string
}

// Engine runs the transforms with a configurable set of categories. It is safe for
// concurrent use and can be reconfigured while serving.
type Engine struct {
	mu       sync.RWMutex
	disabled map[Category]bool
	lead     map[string]struct{}
	logger   *zap.Logger
}

// NewEngine creates an engine from options
func NewEngine(opts Options, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{logger: logger}
	if err := e.Configure(opts); err != nil {
		return nil, fmt.Errorf("failed to configure engine: %w", err)
	}

	logger.Info("Obfuscation engine initialized",
		zap.Int("total_categories", len(processingOrder)),
		zap.Int("enabled_categories", len(e.EnabledCategories())),
	)

	return e, nil
}

// Configure replaces the enabled categories and lead-in words
func (e *Engine) Configure(opts Options) error {
	if len(opts.Categories) == 0 {
		return ErrNoCategories
	}

	disabled := make(map[Category]bool, len(processingOrder))
	for _, c := range processingOrder {
		disabled[c] = true
	}

	for _, name := range opts.Categories {
		if name == "all" {
			for _, c := range processingOrder {
				disabled[c] = false
			}
			continue
		}

		c, err := ParseCategory(name)
		if err != nil {
			return err
		}
		disabled[c] = false
	}

	e.mu.Lock()
	e.disabled = disabled
	e.lead = newWordSet(defaultLeadWords, opts.LeadWords)
	e.mu.Unlock()

	return nil
}

// Obfuscate masks text using the enabled categories
func (e *Engine) Obfuscate(text string, customWords []string) Result {
	e.mu.RLock()
	opts := passOptions{disabled: e.disabled, leadWords: e.lead}
	e.mu.RUnlock()

	result := obfuscate(text, customWords, opts)

	if len(result.Mappings) > 0 {
		e.logger.Debug("Sensitive data masked",
			zap.Int("text_length", len(text)),
			zap.Int("mappings", len(result.Mappings)),
			zap.Any("findings", Summarize(result.Mappings)),
		)
	}

	return result
}

// segmentSeparator joins the texts of one ObfuscateAll pass. No pattern can match
// across the NUL byte.
const segmentSeparator = "\n\x00\n"

// ObfuscateAll masks several texts as one pass. The texts share a mapping and its
// counters, so a value repeated across texts gets one placeholder, and no match
// spans two texts.
func (e *Engine) ObfuscateAll(texts []string, customWords []string) ([]string, []MappingEntry) {
	result := e.Obfuscate(strings.Join(texts, segmentSeparator), customWords)

	masked := make([]string, len(texts))
	for i, text := range texts {
		masked[i] = Mask(text, result.Mappings)
	}
	return masked, result.Mappings
}

// Deobfuscate restores placeholders in text. Category settings do not apply.
func (e *Engine) Deobfuscate(text string, mappings []MappingEntry) string {
	restored := Deobfuscate(text, mappings)

	if unknown := UnknownPlaceholders(text, mappings); len(unknown) > 0 {
		e.logger.Debug("Unmapped placeholders left verbatim", zap.Strings("placeholders", unknown))
	}

	return restored
}

// EnableCategory enables a single category
func (e *Engine) EnableCategory(c Category) error {
	return e.setCategory(c, true)
}

// DisableCategory disables a single category
func (e *Engine) DisableCategory(c Category) error {
	return e.setCategory(c, false)
}

func (e *Engine) setCategory(c Category, enabled bool) error {
	if !c.Valid() {
		return fmt.Errorf("unknown category: %s", c)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// copy on write; in-flight passes keep the old map
	next := make(map[Category]bool, len(e.disabled))
	for k, v := range e.disabled {
		next[k] = v
	}
	next[c] = !enabled
	e.disabled = next

	e.logger.Info("Category toggled", zap.String("category", string(c)), zap.Bool("enabled", enabled))
	return nil
}

// EnabledCategories returns the enabled categories in processing order
func (e *Engine) EnabledCategories() []Category {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var enabled []Category
	for _, c := range processingOrder {
		if !e.disabled[c] {
			enabled = append(enabled, c)
		}
	}
	return enabled
}

// Summarize counts mapping entries per category, in processing order. Categories
// with no entries are omitted.
func Summarize(mappings []MappingEntry) []Finding {
	counts := make(map[Category]int)
	for _, m := range mappings {
		counts[m.Category]++
	}

	findings := make([]Finding, 0, len(counts))
	for _, c := range processingOrder {
		if n := counts[c]; n > 0 {
			findings = append(findings, Finding{Category: c, Count: n})
		}
	}
	return findings
}
