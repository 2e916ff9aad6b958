package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rewired-gh/eventoracle/internal/models"
)

const (
	judgeJitter  = 0.05
	assessJitter = 0.2
	maxTTCHours  = 168
	usedEvidence = 3
)

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

var (
	pastPhrases     = []string{"last year", "previous year", "already happened", "occurred", "was held"}
	futurePhrases   = []string{"next year", "upcoming", "will happen", "will occur", "by end of"}
	specificWords   = []string{"will", "by", "before", "on"}
	precisionWords  = []string{"specific", "exact", "precise"}
	rangePhrases    = []string{"between", "above", "below", "be >", "be <", "at least", "at most", "over", "under"}
	rangeSubjects   = []string{"rating", "price", "temperature", "stock", "bitcoin", "ethereum", "approval"}
	majorWords      = []string{"election", "president", "war", "crisis", "major", "pandemic", "recession"}
	prominentWords  = []string{"trump", "biden", "bitcoin", "ethereum", "fed", "china", "russia"}
	recurringPhrase = []string{"daily", "weekly", "monthly", "regular", "routine"}
	confirmPhrases  = []string{"confirmed", "verified", "happened", "occurred", "won", "victory", "elected", "passed", "approved", "signed", "announced", "completed"}
	denyPhrases     = []string{"denied", "false", "did not", "didn't", "failed", "rejected", "canceled", "cancelled", "postponed", "lost", "not elected", "called off", "blocked"}
)

type tagRule struct {
	tag   string
	words []string
}

// Category order breaks ties between equally matched tags.
var tagRules = []tagRule{
	{"politics", []string{"election", "president", "senate", "congress", "trump", "biden", "vote", "parliament", "governor", "minister"}},
	{"economics", []string{"fed", "inflation", "cpi", "gdp", "interest rate", "rates", "recession", "unemployment", "tariff"}},
	{"crypto", []string{"bitcoin", "ethereum", "crypto", "btc", "eth", "blockchain", "solana"}},
	{"stock_market", []string{"stock", "s&p", "nasdaq", "dow", "shares", "ipo"}},
	{"ai", []string{"ai", "artificial intelligence", "openai", "gpt", "llm", "machine learning"}},
	{"technology", []string{"apple", "google", "microsoft", "iphone", "software", "chip", "semiconductor"}},
	{"science", []string{"nasa", "spacex", "mars", "moon", "research", "discovery"}},
	{"sports", []string{"super bowl", "nba", "nfl", "world cup", "championship", "olympics", "league"}},
	{"entertainment", []string{"oscar", "grammy", "movie", "film", "album", "box office", "netflix"}},
	{"international", []string{"ukraine", "russia", "china", "israel", "nato", "treaty", "summit"}},
	{"weather", []string{"hurricane", "storm", "temperature", "weather", "earthquake", "flood"}},
	{"health", []string{"covid", "vaccine", "fda", "pandemic", "outbreak", "health"}},
}

// Offline is a deterministic oracle. Its output is a pure function of the
// subject's content, the number of evidence items and the seed.
type Offline struct {
	seed          int64
	referenceYear int
}

// NewOffline creates an offline oracle. Years mentioned in a proposal are
// compared against referenceYear to decide temporal relevance.
func NewOffline(seed int64, referenceYear int) *Offline {
	return &Offline{seed: seed, referenceYear: referenceYear}
}

// Name identifies the oracle in judgments and run records.
func (o *Offline) Name() string {
	return fmt.Sprintf("offline:seed=%d", o.seed)
}

// Judge scores a proposal with keyword heuristics plus seeded jitter.
func (o *Offline) Judge(_ context.Context, p models.EventProposal, evidence []models.RawItem) (Verdict, error) {
	text := " " + normalizeText(p.Title+" "+p.Description) + " "
	title := " " + normalizeText(p.Title) + " "
	h := o.hash("judge", p.Title, p.Description, len(evidence))

	answerability := 0.5
	if containsAny(title, specificWords) {
		answerability += 0.2
	}
	if containsAny(title, precisionWords) {
		answerability += 0.2
	}
	if strings.Contains(p.Title, "?") {
		answerability += 0.1
	}

	optionsMarket := containsAny(title, rangePhrases) && containsAny(title, rangeSubjects)

	significance := 0.5
	frequency := 0.5
	if optionsMarket {
		significance = 0.1
		frequency = 0.1
	} else {
		if containsAny(text, majorWords) {
			significance += 0.3
		}
		if containsAny(text, prominentWords) {
			significance += 0.2
		}
		if containsAny(text, recurringPhrase) {
			frequency += 0.3
		}
		significance = clamp(significance+jitter(h, 1, judgeJitter), 0, 1)
		frequency = clamp(frequency+jitter(h, 2, judgeJitter), 0, 1)
	}
	answerability = clamp(answerability+jitter(h, 0, judgeJitter), 0, 1)

	primary, secondary, confidence := o.tags(text)

	v := Verdict{
		Scores: models.Scores{
			Answerability: round4(answerability),
			Significance:  round4(significance),
			Frequency:     round4(frequency),
			Temporal:      o.temporal(text),
		},
		PrimaryTag:    primary,
		SecondaryTags: secondary,
		TagConfidence: confidence,
		Rationale: fmt.Sprintf("Offline heuristic over %d evidence items (options market: %t).",
			len(evidence), optionsMarket),
		Usage: Usage{Model: o.Name()},
	}
	if optionsMarket {
		v.Suggestions = []string{"Rephrase as an outcome rather than a numeric range."}
	}
	return v, CheckVerdict(v, "")
}

// Assess produces p = 0.3 + 0.1*n plus seeded jitter and cites the first evidence items.
func (o *Offline) Assess(_ context.Context, e models.Event, evidence []models.RawItem) (Forecast, error) {
	n := len(evidence)
	h := o.hash("assess", e.Title, e.Description, n)

	p := clamp(0.3+0.1*float64(n)+jitter(h, 0, assessJitter), 0.05, 0.95)
	ttc := 1 + binary.BigEndian.Uint64(h[24:32])%maxTTCHours

	used := make([]string, 0, usedEvidence)
	for i := 0; i < n && i < usedEvidence; i++ {
		used = append(used, evidence[i].ID)
	}

	f := Forecast{
		P:               round4(p),
		TTCHours:        float64(ttc),
		Rationale:       fmt.Sprintf("Offline estimate from %d evidence items.", n),
		UsedEvidenceIDs: used,
		Usage:           Usage{Model: o.Name()},
	}
	return f, CheckForecast(f, "")
}

// Resolve sorts evidence by outcome keywords. Denials win over confirmations
// within one item, and items with neither stay inconclusive.
func (o *Offline) Resolve(_ context.Context, e models.Event, evidence []models.RawItem) (Ruling, error) {
	var confirming, contradicting []string
	for _, it := range evidence {
		text := " " + normalizeText(it.Title+" "+it.Snippet) + " "
		switch {
		case containsAny(text, denyPhrases):
			contradicting = append(contradicting, it.ID)
		case containsAny(text, confirmPhrases):
			confirming = append(confirming, it.ID)
		}
	}

	confidence := 0.0
	if decisive := len(confirming) + len(contradicting); decisive > 0 {
		agreement := math.Abs(float64(len(confirming)-len(contradicting))) / float64(decisive)
		confidence = round4(clamp(0.4+0.5*agreement+0.02*float64(decisive), 0, 0.95))
	}

	r := Ruling{
		ConfirmingIDs:    confirming,
		ContradictingIDs: contradicting,
		Confidence:       confidence,
		Rationale: fmt.Sprintf("Offline ruling on %q: %d confirming, %d contradicting of %d evidence items.",
			e.Title, len(confirming), len(contradicting), len(evidence)),
		Usage: Usage{Model: o.Name()},
	}
	return r, CheckRuling(r, "")
}

func (o *Offline) temporal(text string) float64 {
	if containsAny(text, pastPhrases) {
		return 0
	}
	future, past := false, false
	for _, y := range yearPattern.FindAllString(text, -1) {
		year, _ := strconv.Atoi(y)
		if year >= o.referenceYear {
			future = true
		} else {
			past = true
		}
	}
	switch {
	case future:
		return 1
	case past:
		return 0
	case containsAny(text, futurePhrases):
		return 1
	}
	return 0.5
}

func (o *Offline) tags(text string) (string, []string, float64) {
	best, bestHits := models.CategoryOther, 0
	var secondary []string
	hitsByTag := make(map[string]int, len(tagRules))
	for _, rule := range tagRules {
		hits := 0
		for _, w := range rule.words {
			if strings.Contains(text, " "+w+" ") {
				hits++
			}
		}
		hitsByTag[rule.tag] = hits
		if hits > bestHits {
			best, bestHits = rule.tag, hits
		}
	}
	for _, rule := range tagRules {
		if rule.tag != best && hitsByTag[rule.tag] > 0 {
			secondary = append(secondary, rule.tag)
		}
	}
	if bestHits == 0 {
		return models.CategoryOther, nil, 0.3
	}
	return best, secondary, round4(clamp(0.5+0.1*float64(bestHits), 0, 0.95))
}

func (o *Offline) hash(kind, title, description string, n int) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s|%d", kind, o.seed, title, description, n)))
}

// jitter maps two bytes of h to a value in [-amp, amp].
func jitter(h [32]byte, slot int, amp float64) float64 {
	u := float64(binary.BigEndian.Uint16(h[slot*2:slot*2+2])) / 65535
	return (u*2 - 1) * amp
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, " "+p+" ") || (strings.ContainsAny(p, "<>&") && strings.Contains(text, p)) {
			return true
		}
	}
	return false
}

// normalizeText lower-cases and separates punctuation so word matches can use spaces as boundaries.
func normalizeText(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '?' || r == '!' || r == ',' || r == '.' || r == ':' || r == ';' || r == '"' || r == '(' || r == ')':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
