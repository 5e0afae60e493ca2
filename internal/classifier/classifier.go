// Package classifier turns free-text place preferences into tags from a
// fixed vocabulary. The remote classifier is slow and may be unavailable;
// Keyword is the always-available substring fallback over the same
// vocabulary.
package classifier

import "context"

// DefaultVocabulary is the fixed tag set known to both the remote classifier
// and the keyword fallback. Tags also key the reverse index.
var DefaultVocabulary = []string{
	"bakery",
	"bar",
	"bookstore",
	"brewery",
	"cafe",
	"coffee_shop",
	"deli",
	"diner",
	"gym",
	"juice_bar",
	"library",
	"museum",
	"nightclub",
	"park",
	"pizzeria",
	"restaurant",
	"tea_house",
	"wine_bar",
}

// Classifier maps free text to the subset of vocabulary tags it matches.
type Classifier interface {
	Classify(ctx context.Context, text string) ([]string, error)
}
