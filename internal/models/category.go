package models

import "strings"

// CategoryOther is the fallback tag for anything outside the vocabulary.
const CategoryOther = "other"

// DefaultCategories is the built-in tag vocabulary.
var DefaultCategories = []string{
	"politics",
	"economics",
	"crypto",
	"stock_market",
	"technology",
	"ai",
	"science",
	"sports",
	"entertainment",
	"international",
	"weather",
	"health",
	CategoryOther,
}

// Vocabulary is a closed set of category tags.
type Vocabulary map[string]bool

// NewVocabulary builds a vocabulary from tags; "other" is always included.
func NewVocabulary(tags []string) Vocabulary {
	v := make(Vocabulary, len(tags)+1)
	for _, t := range tags {
		v[NormalizeTag(t)] = true
	}
	v[CategoryOther] = true
	return v
}

// Contains reports whether tag, after normalization, belongs to the vocabulary.
func (v Vocabulary) Contains(tag string) bool {
	return v[NormalizeTag(tag)]
}

// NormalizeTag lower-cases a tag and joins words with underscores.
func NormalizeTag(tag string) string {
	return strings.Join(strings.Fields(strings.ToLower(tag)), "_")
}
