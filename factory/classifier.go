/*
Package factory provides JSON to Go classifier conversion.

PURPOSE:
  Builds the controlled-substance classifier from a JSON definition, so
  the pharmacy department can change which requests need manufacturer
  and country per line without a code change.

JSON SCHEMA:
  {"type": "always"}
  {"type": "never"}
  {"type": "category", "categories": ["A", "B"]}

  An empty definition means "always": every request is controlled until
  the department agrees on a narrower rule.

USAGE:
  classifier, err := factory.ParseClassifier(os.Getenv("MEDVENTORY_CLASSIFIER"))
  if err != nil {
      log.Fatal(err)
  }
  session := issue.NewSession(source, identity, issue.WithClassifier(classifier))

SEE ALSO:
  - issue/classify.go: Classifier and the built-in predicates
  - config/config.go: Where the definition is read from
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hmu/medventory/issue"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

const (
	TypeAlways   = "always"
	TypeNever    = "never"
	TypeCategory = "category"
)

// ClassifierJSON is the JSON representation of a classifier.
type ClassifierJSON struct {
	Type       string   `json:"type"`
	Categories []string `json:"categories,omitempty"` // for type "category"
}

// =============================================================================
// CLASSIFIER FACTORY
// =============================================================================

// ParseClassifier parses a JSON string into a Classifier.
func ParseClassifier(jsonStr string) (issue.Classifier, error) {
	if strings.TrimSpace(jsonStr) == "" {
		return issue.AlwaysControlled, nil
	}

	var cj ClassifierJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse classifier JSON: %w", err)
	}
	return FromJSON(cj)
}

// FromJSON converts ClassifierJSON to a Classifier.
func FromJSON(cj ClassifierJSON) (issue.Classifier, error) {
	switch strings.ToLower(cj.Type) {
	case "", TypeAlways:
		return issue.AlwaysControlled, nil
	case TypeNever:
		return issue.NeverControlled, nil
	case TypeCategory:
		var categories []string
		for _, c := range cj.Categories {
			if c = strings.TrimSpace(c); c != "" {
				categories = append(categories, c)
			}
		}
		if len(categories) == 0 {
			return nil, fmt.Errorf("category classifier requires at least one category")
		}
		return issue.NewCategoryClassifier(categories...), nil
	default:
		return nil, fmt.Errorf("unknown classifier type %q", cj.Type)
	}
}

// ToJSON converts a classifier built by this package back to its definition.
// Classifiers from elsewhere report ok == false.
func ToJSON(c issue.Classifier) (cj ClassifierJSON, ok bool) {
	switch c := c.(type) {
	case issue.CategoryClassifier:
		cj.Type = TypeCategory
		for cat, on := range c.Categories {
			if on {
				cj.Categories = append(cj.Categories, cat)
			}
		}
		sort.Strings(cj.Categories)
		return cj, true
	}

	switch c {
	case issue.AlwaysControlled:
		return ClassifierJSON{Type: TypeAlways}, true
	case issue.NeverControlled:
		return ClassifierJSON{Type: TypeNever}, true
	}
	return ClassifierJSON{}, false
}
