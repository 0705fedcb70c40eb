package patterns

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// rulesFile mirrors the on-disk rules.yaml schema:
//
//	version: 1
//	categories:
//	  spoofing:
//	    - name: campus_phish
//	      pattern: "(?i)student\\s+portal\\s+expired"
//	      weight: 0.4
//	      description: Campus phishing campaign
type rulesFile struct {
	Version    int                     `yaml:"version"`
	Categories map[string][]customRule `yaml:"categories"`
}

type customRule struct {
	Name        string  `yaml:"name"`
	Pattern     string  `yaml:"pattern"`
	Weight      float64 `yaml:"weight"`
	Description string  `yaml:"description"`
}

// validCategories maps rules file keys to registry categories.
var validCategories = map[string]Category{
	"spoofing":   CategorySpoofing,
	"injection":  CategoryInjection,
	"flooding":   CategoryFlooding,
	"exploit":    CategoryExploit,
	"command":    CategoryCommand,
	"credential": CategoryCredential,
	"url":        CategoryURL,
	"safe":       CategorySafe,
}

// LoadFromFile merges custom rules from a YAML file into the registry on top
// of the built-ins. The load is all-or-nothing: any invalid category, missing
// field, or bad regex rejects the whole file and leaves the registry
// unchanged, so callers can log the error and continue with built-ins only.
// Returns the number of rules added. A file the registry has already applied
// is a no-op returning (0, nil), so multiple components can point at the
// same rules path without stacking duplicate patterns.
func (r *Registry) LoadFromFile(path string) (int, error) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	r.mu.RLock()
	loaded := r.loadedFiles[path]
	r.mu.RUnlock()
	if loaded {
		return 0, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read rules file: %w", err)
	}

	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return 0, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if rf.Version != 1 {
		return 0, fmt.Errorf("unsupported rules file version %d (want 1)", rf.Version)
	}

	var staged []*Pattern
	for key, rules := range rf.Categories {
		cat, ok := validCategories[key]
		if !ok {
			return 0, fmt.Errorf("unknown rule category %q", key)
		}
		for _, rule := range rules {
			if rule.Name == "" || rule.Pattern == "" {
				return 0, fmt.Errorf("rule in category %q missing name or pattern", key)
			}
			expr := rule.Pattern
			if cat == CategorySafe {
				// Safe phrases must match the whole message
				expr = `^(?:` + expr + `)$`
			}
			compiled, err := regexp.Compile(expr)
			if err != nil {
				return 0, fmt.Errorf("compile rule %q: %w", rule.Name, err)
			}
			weight := rule.Weight
			if weight <= 0 {
				weight = 0.25
			}
			if weight > 1 {
				weight = 1.0
			}
			staged = append(staged, &Pattern{
				Name:        rule.Name,
				Regex:       compiled,
				Category:    cat,
				Weight:      weight,
				Description: rule.Description,
			})
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadedFiles == nil {
		r.loadedFiles = make(map[string]bool)
	}
	if r.loadedFiles[path] {
		return 0, nil
	}
	for _, p := range staged {
		r.byCategory[p.Category] = append(r.byCategory[p.Category], p)
		r.all = append(r.all, p)
	}
	r.loadedFiles[path] = true

	return len(staged), nil
}

// FindRulesFile searches the working directory and up to three parents for
// rules.yaml or config/rules.yaml. Returns the first hit.
func FindRulesFile() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 4; i++ {
		for _, cand := range []string{"rules.yaml", filepath.Join("config", "rules.yaml")} {
			p := filepath.Join(dir, cand)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
