package classifier

import (
	"context"
	"strings"
)

// Keyword matches preference text against the vocabulary by case-insensitive
// substring containment. Underscored tags also match their spaced form, so
// "coffee shop" hits coffee_shop.
type Keyword struct {
	vocabulary []string
}

// NewKeyword creates a Keyword classifier over the given vocabulary, falling
// back to DefaultVocabulary when empty.
func NewKeyword(vocabulary []string) *Keyword {
	if len(vocabulary) == 0 {
		vocabulary = DefaultVocabulary
	}
	return &Keyword{vocabulary: vocabulary}
}

// Classify never fails; an empty result means no vocabulary tag appears in
// the text.
func (k *Keyword) Classify(_ context.Context, text string) ([]string, error) {
	lower := strings.ToLower(text)
	var tags []string
	for _, tag := range k.vocabulary {
		if strings.Contains(lower, tag) || strings.Contains(lower, strings.ReplaceAll(tag, "_", " ")) {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}
