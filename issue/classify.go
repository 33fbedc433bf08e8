package issue

import "github.com/hmu/medventory/inventory"

// Classifier decides whether a request is a controlled-substance request.
// Controlled requests must carry manufacturer and country on every line.
type Classifier interface {
	IsControlled(req inventory.WithdrawalRequest) bool
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(req inventory.WithdrawalRequest) bool

func (f ClassifierFunc) IsControlled(req inventory.WithdrawalRequest) bool { return f(req) }

type constant bool

func (c constant) IsControlled(inventory.WithdrawalRequest) bool { return bool(c) }

// AlwaysControlled treats every request as controlled. This is the default
// until the real criterion is agreed with the pharmacy department.
var AlwaysControlled Classifier = constant(true)

// NeverControlled treats no request as controlled.
var NeverControlled Classifier = constant(false)

// CategoryClassifier marks a request controlled when any line's material
// category is in the set.
type CategoryClassifier struct {
	Categories map[string]bool
}

func NewCategoryClassifier(categories ...string) CategoryClassifier {
	set := make(map[string]bool, len(categories))
	for _, c := range categories {
		set[c] = true
	}
	return CategoryClassifier{Categories: set}
}

func (c CategoryClassifier) IsControlled(req inventory.WithdrawalRequest) bool {
	for _, l := range req.Lines {
		if c.Categories[l.Category] {
			return true
		}
	}
	return false
}
