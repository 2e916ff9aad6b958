package judge

import (
	"math"

	"github.com/rewired-gh/eventoracle/internal/logger"
	"github.com/rewired-gh/eventoracle/internal/models"
)

// Weights sets the relative importance of each criterion. They need not sum to one.
type Weights struct {
	Answerability float64
	Significance  float64
	Frequency     float64
	Temporal      float64
}

// DefaultWeights favours answerability and significance.
func DefaultWeights() Weights {
	return Weights{Answerability: 0.3, Significance: 0.3, Frequency: 0.2, Temporal: 0.2}
}

// Score is the weighted mean of the criteria with frequency inverted, rounded
// to four decimals so that threshold comparisons are stable.
func Score(s models.Scores, w Weights) float64 {
	total := w.Answerability + w.Significance + w.Frequency + w.Temporal
	if total <= 0 {
		return 0
	}
	sum := s.Answerability*w.Answerability +
		s.Significance*w.Significance +
		(1-s.Frequency)*w.Frequency +
		s.Temporal*w.Temporal
	return math.Round(sum/total*1e4) / 1e4
}

// Decide accepts when aggregate reaches the threshold. The threshold itself is accepted.
func Decide(aggregate, threshold float64) models.ProposalStatus {
	if aggregate >= threshold {
		return models.StatusAccepted
	}
	return models.StatusRejected
}

// normalizeTags maps the primary tag into the vocabulary, falling back to "other",
// and keeps only known, distinct secondary tags.
func normalizeTags(primary string, secondary []string, vocab models.Vocabulary) (string, []string) {
	p := models.NormalizeTag(primary)
	if !vocab.Contains(p) {
		logger.Warn("Unknown category %q mapped to %s", primary, models.CategoryOther)
		p = models.CategoryOther
	}
	seen := map[string]bool{p: true}
	var out []string
	for _, tag := range secondary {
		t := models.NormalizeTag(tag)
		if seen[t] || !vocab.Contains(t) {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return p, out
}
