package resolver

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/rewired-gh/eventoracle/internal/models"
	"github.com/rewired-gh/eventoracle/internal/oracle"
)

// contradictionPenalty is subtracted from confidence per source on the losing side, up to maxPenalty.
const (
	contradictionPenalty = 0.1
	maxPenalty           = 0.5
)

// sourceOf names the publisher of an item. Items from the same host count as one source.
func sourceOf(it models.RawItem) string {
	if u, err := url.Parse(it.URL); err == nil && u.Hostname() != "" {
		return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	return "name:" + strings.ToLower(it.SourceName)
}

// independent keeps the ruling's ids that belong to the window and returns them
// with the number of distinct sources behind them.
func independent(ids []string, byID map[string]models.RawItem) ([]string, int) {
	seen := map[string]bool{}
	sources := map[string]bool{}
	var kept []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		it, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		kept = append(kept, id)
		sources[sourceOf(it)] = true
	}
	return kept, len(sources)
}

// decide turns a ruling into a resolution. An event resolves when at least
// need independent sources agree and none disagree; disagreement on a side
// that reached need is contradicted, anything else stays open.
func decide(r oracle.Ruling, window []models.RawItem, need int) *models.Resolution {
	byID := make(map[string]models.RawItem, len(window))
	checked := map[string]bool{}
	for _, it := range window {
		byID[it.ID] = it
		checked[sourceOf(it)] = true
	}
	confirmingIDs, confirming := independent(r.ConfirmingIDs, byID)
	contradictingIDs, contradicting := independent(r.ContradictingIDs, byID)

	res := &models.Resolution{
		Confirming:       confirming,
		Contradicting:    contradicting,
		SourcesChecked:   len(checked),
		ConfirmingIDs:    confirmingIDs,
		ContradictingIDs: contradictingIDs,
	}
	switch {
	case confirming >= need && contradicting == 0:
		res.Status, res.Outcome = models.ResolutionResolved, models.OutcomeYes
	case contradicting >= need && confirming == 0:
		res.Status, res.Outcome = models.ResolutionResolved, models.OutcomeNo
	case confirming >= need || contradicting >= need:
		res.Status = models.ResolutionContradicted
	default:
		res.Status = models.ResolutionOpen
	}
	res.Confidence = confidence(confirming, contradicting, need, r.Confidence)
	res.Summary = summarize(res, need)
	return res
}

// confidence scales the oracle's own confidence by how close the leading side
// is to need, minus a penalty per source on the other side.
func confidence(confirming, contradicting, need int, oracleConfidence float64) float64 {
	lead, other := confirming, contradicting
	if contradicting > confirming {
		lead, other = contradicting, confirming
	}
	if lead == 0 {
		return 0
	}
	base := math.Min(float64(lead)/float64(need), 1)
	penalty := math.Min(float64(other)*contradictionPenalty, maxPenalty)
	c := base*oracleConfidence - penalty
	return math.Round(math.Max(0, math.Min(1, c))*1e4) / 1e4
}

func summarize(res *models.Resolution, need int) string {
	switch res.Status {
	case models.ResolutionResolved:
		return fmt.Sprintf("Resolved %s: %d independent sources agree, none disagree.",
			res.Outcome, max(res.Confirming, res.Contradicting))
	case models.ResolutionContradicted:
		return fmt.Sprintf("Sources disagree: %d confirm, %d contradict. Needs human review.",
			res.Confirming, res.Contradicting)
	}
	return fmt.Sprintf("Not enough evidence: %d confirming and %d contradicting sources, %d needed.",
		res.Confirming, res.Contradicting, need)
}
