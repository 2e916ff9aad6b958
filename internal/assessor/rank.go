package assessor

import (
	"sort"
	"strings"
	"unicode"

	"github.com/rewired-gh/eventoracle/internal/dedup"
	"github.com/rewired-gh/eventoracle/internal/models"
)

// fallbackEvidence is how many top-ranked items are attributed when the oracle names none.
const fallbackEvidence = 3

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "will": true, "with": true, "that": true,
	"this": true, "from": true, "into": true, "are": true, "was": true, "has": true,
	"have": true, "been": true, "before": true, "after": true, "about": true,
}

func tokens(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.FieldsFunc(dedup.Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) > 2 && !stopwords[w] {
			out[w] = true
		}
	}
	return out
}

// Rank orders evidence by token overlap with the event, then by recency.
// The input slice is not modified.
func Rank(e models.Event, evidence []models.RawItem) []models.RawItem {
	want := tokens(e.Title + " " + e.Description)
	overlap := make(map[string]int, len(evidence))
	for _, it := range evidence {
		n := 0
		for w := range tokens(it.Title + " " + it.Snippet) {
			if want[w] {
				n++
			}
		}
		overlap[it.ID] = n
	}

	ranked := append([]models.RawItem(nil), evidence...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if overlap[a.ID] != overlap[b.ID] {
			return overlap[a.ID] > overlap[b.ID]
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.ID < b.ID
	})
	return ranked
}

// Window ranks evidence and keeps the first size items. Size zero or less keeps everything.
func Window(e models.Event, evidence []models.RawItem, size int) []models.RawItem {
	ranked := Rank(e, evidence)
	if size > 0 && len(ranked) > size {
		ranked = ranked[:size]
	}
	return ranked
}

// resolveUsed keeps the ids the oracle cited that belong to the window, in the
// order given and without repeats. When none survive, the top of the window is used.
func resolveUsed(used []string, window []models.RawItem) []string {
	inWindow := make(map[string]bool, len(window))
	for _, it := range window {
		inWindow[it.ID] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, id := range used {
		id = strings.TrimSpace(id)
		if !inWindow[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) > 0 {
		return out
	}
	for i, it := range window {
		if i == fallbackEvidence {
			break
		}
		out = append(out, it.ID)
	}
	return out
}

func attributions(predictionID string, ids []string) []models.Attribution {
	attrs := make([]models.Attribution, len(ids))
	for i, id := range ids {
		attrs[i] = models.Attribution{PredictionID: predictionID, RawItemID: id, Rank: i + 1}
	}
	return attrs
}
