package notes

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules controls which note rows survive cleaning and how short fragments
// are merged.
type Rules struct {
	// KeepCategories is the CATEGORY allow-list. Matching ignores case and
	// surrounding whitespace.
	KeepCategories []string `yaml:"keepCategories"`
	// DropPatterns removes any note whose text contains one of these
	// substrings, compared case-insensitively.
	DropPatterns []string `yaml:"dropPatterns"`
	// MinNoteChars is the length below which a note counts as a fragment
	// and is merged into its neighbor.
	MinNoteChars int `yaml:"minNoteChars"`
}

// DefaultRules returns the cleaning rules used when no rules file is given.
func DefaultRules() Rules {
	return Rules{
		KeepCategories: []string{"Discharge summary", "Nursing", "Physician"},
		DropPatterns:   []string{"dictated by", "signed electronically"},
		MinNoteChars:   40,
	}
}

// LoadRules reads a YAML rules file. Unknown keys are rejected so typos in a
// rules file fail loudly instead of silently changing the output corpus.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}

	rules := DefaultRules()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if err := rules.validate(); err != nil {
		return Rules{}, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return rules, nil
}

func (r Rules) validate() error {
	if len(r.KeepCategories) == 0 {
		return fmt.Errorf("keepCategories must list at least one category")
	}
	for _, c := range r.KeepCategories {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("keepCategories contains an empty entry")
		}
	}
	for _, p := range r.DropPatterns {
		if p == "" {
			return fmt.Errorf("dropPatterns contains an empty entry")
		}
	}
	if r.MinNoteChars <= 0 {
		return fmt.Errorf("minNoteChars must be positive, got %d", r.MinNoteChars)
	}
	return nil
}

// keepsCategory reports whether a raw CATEGORY value is on the allow-list.
func (r Rules) keepsCategory(category string) bool {
	norm := strings.ToLower(strings.TrimSpace(category))
	for _, c := range r.KeepCategories {
		if norm == strings.ToLower(strings.TrimSpace(c)) {
			return true
		}
	}
	return false
}

// dropsText reports whether a note's raw text matches a drop pattern.
func (r Rules) dropsText(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range r.DropPatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
