// Package patterns provides a centralized, high-performance pattern registry
// for message threat detection. All regex patterns are compiled once at package
// init and shared across the rule engine and the feature extractor.
//
// Design principles:
// - COMPILE ONCE: All patterns compiled at init, not per-message
// - DRY: Single source of truth for all detection patterns
// - CATEGORIZED: Patterns organized by attack category for targeted scans
// - EXTENSIBLE: Built-ins can be extended from a rules file without code changes
package patterns

import (
	"regexp"
	"sync"
)

// Category represents a detection pattern category
type Category string

const (
	// Attack categories scored by the rule engine
	CategorySpoofing  Category = "spoofing"
	CategoryInjection Category = "injection"
	CategoryFlooding  Category = "flooding"
	CategoryExploit   Category = "exploit"

	// Signal categories consumed by the feature extractor (presence only,
	// weights are not scored directly)
	CategoryCommand    Category = "command"
	CategoryCredential Category = "credential"
	CategoryURL        Category = "url"

	// Safe phrases: anchored full-match patterns that short-circuit scoring
	CategorySafe Category = "safe"
)

// AttackCategories returns the categories the rule engine scores, in a
// stable order.
func AttackCategories() []Category {
	return []Category{CategorySpoofing, CategoryInjection, CategoryFlooding, CategoryExploit}
}

// Pattern holds a compiled regex with metadata
type Pattern struct {
	Name        string         // Human-readable name for logging
	Regex       *regexp.Regexp // Compiled regex (never nil after init)
	Category    Category       // Attack or signal category
	Weight      float64        // Score contribution in [0,1]
	Description string         // What this pattern detects
}

// Registry holds all compiled patterns, organized by category
type Registry struct {
	mu          sync.RWMutex
	byCategory  map[Category][]*Pattern
	all         []*Pattern
	loadedFiles map[string]bool
}

// global singleton - initialized once at package load
var (
	globalRegistry *Registry
	initOnce       sync.Once
)

// Get returns the global pattern registry (singleton)
// Thread-safe and guaranteed to be initialized
func Get() *Registry {
	initOnce.Do(func() {
		globalRegistry = newRegistry()
	})
	return globalRegistry
}

// newRegistry creates and populates the pattern registry
func newRegistry() *Registry {
	r := &Registry{
		byCategory:  make(map[Category][]*Pattern),
		all:         make([]*Pattern, 0, 96), // Pre-allocate for ~96 patterns
		loadedFiles: make(map[string]bool),
	}

	// Register all pattern categories
	r.registerSpoofingPatterns()
	r.registerInjectionPatterns()
	r.registerFloodingPatterns()
	r.registerExploitPatterns()
	r.registerCommandSignals()
	r.registerCredentialSignals()
	r.registerURLSignals()
	r.registerSafePhrases()

	return r
}

// register adds a pattern to the registry (internal use only)
func (r *Registry) register(name string, pattern string, category Category, weight float64, description string) {
	compiled := regexp.MustCompile(pattern)
	p := &Pattern{
		Name:        name,
		Regex:       compiled,
		Category:    category,
		Weight:      weight,
		Description: description,
	}

	r.byCategory[category] = append(r.byCategory[category], p)
	r.all = append(r.all, p)
}

// registerFullMatch wraps the pattern in ^(?:...)$ anchors so it only
// matches the entire message. Used for safe phrases.
func (r *Registry) registerFullMatch(name string, pattern string, category Category, weight float64, description string) {
	r.register(name, `^(?:`+pattern+`)$`, category, weight, description)
}

// GetByCategory returns all patterns for a specific category
// Returns empty slice if category not found (never nil)
func (r *Registry) GetByCategory(cat Category) []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if patterns, ok := r.byCategory[cat]; ok {
		return patterns
	}
	return []*Pattern{}
}

// GetMultipleCategories returns patterns from multiple categories
func (r *Registry) GetMultipleCategories(cats ...Category) []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Pattern
	for _, cat := range cats {
		if patterns, ok := r.byCategory[cat]; ok {
			result = append(result, patterns...)
		}
	}
	return result
}

// MatchAny checks if text matches any pattern in the given categories
// Returns the first matching pattern or nil
// This is optimized for early exit on first match
func (r *Registry) MatchAny(text string, cats ...Category) *Pattern {
	patterns := r.GetMultipleCategories(cats...)
	for _, p := range patterns {
		if p.Regex.MatchString(text) {
			return p
		}
	}
	return nil
}

// MatchAll returns all patterns that match the text in given categories
// Use when you need to know ALL matches (for comprehensive scoring)
func (r *Registry) MatchAll(text string, cats ...Category) []*Pattern {
	patterns := r.GetMultipleCategories(cats...)
	var matches []*Pattern
	for _, p := range patterns {
		if p.Regex.MatchString(text) {
			matches = append(matches, p)
		}
	}
	return matches
}

// IsSafePhrase reports whether the entire text matches a known benign
// phrase. Safe patterns are anchored, so partial matches never qualify.
func (r *Registry) IsSafePhrase(text string) bool {
	return r.MatchAny(text, CategorySafe) != nil
}

// TotalPatterns returns the total count of registered patterns
func (r *Registry) TotalPatterns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// CategoryCount returns the number of patterns in a category
func (r *Registry) CategoryCount(cat Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCategory[cat])
}
