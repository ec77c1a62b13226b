package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Parse decodes and validates one scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

// LoadGlob expands each argument (a literal path or a doublestar
// pattern such as scenarios/**/*.yaml) and loads every match. Scenario
// ids must be unique across the whole set.
func LoadGlob(patterns ...string) ([]*Scenario, error) {
	paths, err := expand(patterns)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files match %s", strings.Join(patterns, " "))
	}

	byID := make(map[string]string, len(paths))
	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := Load(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate scenario id %q in %s and %s", s.ID, prev, path)
		}
		byID[s.ID] = path
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// LoadDir loads every yaml scenario under dir, recursively.
func LoadDir(dir string) ([]*Scenario, error) {
	return LoadGlob(
		filepath.Join(dir, "**", "*.yaml"),
		filepath.Join(dir, "**", "*.yml"),
	)
}

func expand(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[{") {
			add(pattern)
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if isYAML(m) {
				add(m)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
