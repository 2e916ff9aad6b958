package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rewired-gh/eventoracle/internal/llm"
	"github.com/rewired-gh/eventoracle/internal/models"
)

const maxPromptEvidence = 10

const judgeSystem = `You are an expert event judge evaluating prediction market event proposals.
Respond with a single JSON object and nothing else.`

const assessSystem = `You are a careful forecaster. Estimate the probability that the event resolves YES.
Respond with a single JSON object and nothing else.`

const resolveSystem = `You are a fact checker deciding whether an event has happened.
Respond with a single JSON object and nothing else.`

// Model is an Oracle backed by a language model.
type Model struct {
	gen           llm.Generator
	categories    []string
	pricing       llm.Pricing
	referenceYear int
}

// NewModel creates a model-backed oracle that tags with the given category vocabulary.
func NewModel(gen llm.Generator, categories []string, pricing llm.Pricing, referenceYear int) *Model {
	return &Model{gen: gen, categories: categories, pricing: pricing, referenceYear: referenceYear}
}

// Name returns the backing model name.
func (m *Model) Name() string {
	return m.gen.Model()
}

type judgeResponse struct {
	Answerability *float64 `json:"answerability_score"`
	Significance  *float64 `json:"significance_score"`
	Frequency     *float64 `json:"frequency_score"`
	Temporal      *float64 `json:"temporal_score"`
	Reasoning     string   `json:"reasoning"`
	Suggestions   []string `json:"suggestions"`
	PrimaryTag    *string  `json:"primary_tag"`
	SecondaryTags []string `json:"secondary_tags"`
	TagConfidence *float64 `json:"tag_confidence"`
}

type assessResponse struct {
	P           *float64 `json:"p"`
	TTCHours    *float64 `json:"ttc_hours"`
	Rationale   string   `json:"rationale"`
	EvidenceIDs []string `json:"evidence_ids"`
}

type resolveResponse struct {
	ConfirmingIDs    *[]string `json:"confirming_ids"`
	ContradictingIDs *[]string `json:"contradicting_ids"`
	Confidence       *float64  `json:"confidence"`
	Rationale        string    `json:"rationale"`
}

// Judge asks the model to score a proposal against the four criteria.
func (m *Model) Judge(ctx context.Context, p models.EventProposal, evidence []models.RawItem) (Verdict, error) {
	prompt := m.judgePrompt(p, evidence)
	resp, usage, err := m.call(ctx, judgeSystem, prompt)
	if err != nil {
		return Verdict{Usage: usage}, err
	}

	var r judgeResponse
	if err := decodeStrict(resp.Text, &r); err != nil {
		return Verdict{Usage: usage}, err
	}
	missing := missingFields(map[string]bool{
		"answerability_score": r.Answerability == nil,
		"significance_score":  r.Significance == nil,
		"frequency_score":     r.Frequency == nil,
		"temporal_score":      r.Temporal == nil,
		"primary_tag":         r.PrimaryTag == nil,
		"tag_confidence":      r.TagConfidence == nil,
		"reasoning":           strings.TrimSpace(r.Reasoning) == "",
	})
	if missing != "" {
		return Verdict{Usage: usage}, &ValidationError{Reason: "missing " + missing, Raw: resp.Text}
	}

	v := Verdict{
		Scores: models.Scores{
			Answerability: *r.Answerability,
			Significance:  *r.Significance,
			Frequency:     *r.Frequency,
			Temporal:      *r.Temporal,
		},
		PrimaryTag:    *r.PrimaryTag,
		SecondaryTags: r.SecondaryTags,
		TagConfidence: *r.TagConfidence,
		Rationale:     r.Reasoning,
		Suggestions:   r.Suggestions,
		Usage:         usage,
	}
	return v, CheckVerdict(v, resp.Text)
}

// Assess asks the model for a probability and the evidence it relied on.
func (m *Model) Assess(ctx context.Context, e models.Event, evidence []models.RawItem) (Forecast, error) {
	prompt := m.assessPrompt(e, evidence)
	resp, usage, err := m.call(ctx, assessSystem, prompt)
	if err != nil {
		return Forecast{Usage: usage}, err
	}

	var r assessResponse
	if err := decodeStrict(resp.Text, &r); err != nil {
		return Forecast{Usage: usage}, err
	}
	missing := missingFields(map[string]bool{
		"p":         r.P == nil,
		"ttc_hours": r.TTCHours == nil,
	})
	if missing != "" {
		return Forecast{Usage: usage}, &ValidationError{Reason: "missing " + missing, Raw: resp.Text}
	}

	f := Forecast{
		P:               *r.P,
		TTCHours:        *r.TTCHours,
		Rationale:       r.Rationale,
		UsedEvidenceIDs: r.EvidenceIDs,
		Usage:           usage,
	}
	return f, CheckForecast(f, resp.Text)
}

// Resolve asks the model which evidence confirms or contradicts that the event happened.
func (m *Model) Resolve(ctx context.Context, e models.Event, evidence []models.RawItem) (Ruling, error) {
	prompt := m.resolvePrompt(e, evidence)
	resp, usage, err := m.call(ctx, resolveSystem, prompt)
	if err != nil {
		return Ruling{Usage: usage}, err
	}

	var r resolveResponse
	if err := decodeStrict(resp.Text, &r); err != nil {
		return Ruling{Usage: usage}, err
	}
	missing := missingFields(map[string]bool{
		"confirming_ids":    r.ConfirmingIDs == nil,
		"contradicting_ids": r.ContradictingIDs == nil,
		"confidence":        r.Confidence == nil,
		"rationale":         strings.TrimSpace(r.Rationale) == "",
	})
	if missing != "" {
		return Ruling{Usage: usage}, &ValidationError{Reason: "missing " + missing, Raw: resp.Text}
	}

	ruling := Ruling{
		ConfirmingIDs:    *r.ConfirmingIDs,
		ContradictingIDs: *r.ContradictingIDs,
		Confidence:       *r.Confidence,
		Rationale:        r.Rationale,
		Usage:            usage,
	}
	return ruling, CheckRuling(ruling, resp.Text)
}

func (m *Model) call(ctx context.Context, system, prompt string) (llm.Response, Usage, error) {
	usage := Usage{Model: m.gen.Model(), Prompt: prompt}
	resp, err := m.gen.Generate(ctx, llm.Request{System: system, Prompt: prompt})
	if err != nil {
		return resp, usage, fmt.Errorf("model call failed: %w", err)
	}
	if resp.Model != "" {
		usage.Model = resp.Model
	}
	usage.RawResponse = resp.Text
	usage.TokensIn = resp.TokensIn
	usage.TokensOut = resp.TokensOut
	usage.CostUSD = m.pricing.Cost(resp.TokensIn, resp.TokensOut)
	return resp, usage, nil
}

func decodeStrict(text string, v any) error {
	obj, err := llm.ExtractJSON(text)
	if err != nil {
		return &ValidationError{Reason: err.Error(), Raw: text}
	}
	dec := json.NewDecoder(strings.NewReader(obj))
	if err := dec.Decode(v); err != nil {
		return &ValidationError{Reason: "decode: " + err.Error(), Raw: text}
	}
	return nil
}

func missingFields(checks map[string]bool) string {
	var names []string
	for _, name := range []string{
		"answerability_score", "significance_score", "frequency_score", "temporal_score",
		"primary_tag", "tag_confidence", "reasoning", "p", "ttc_hours",
		"confirming_ids", "contradicting_ids", "confidence", "rationale",
	} {
		if checks[name] {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

func (m *Model) judgePrompt(p models.EventProposal, evidence []models.RawItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "EVENT PROPOSAL\nTitle: %s\nDescription: %s\nProposed by: %s\nReference year: %d\n\n",
		p.Title, orNone(p.Description), p.ProposedBy, m.referenceYear)
	writeEvidence(&b, evidence)
	b.WriteString(`CRITERIA (each 0.0-1.0):
- answerability_score: can the outcome be verified objectively with clear resolution criteria?
- significance_score: would many people care about the outcome?
- frequency_score: how often does this kind of event recur? Higher means more routine.
- temporal_score: 0.0 if the event already happened, 1.0 if clearly in the future, 0.5 if unclear.
Binary bets on numeric ranges (prices, ratings, temperatures) are options-style markets:
set significance_score and frequency_score to 0.1 for them.

`)
	fmt.Fprintf(&b, "TAGS: choose primary_tag and secondary_tags from: %s.\n\n", strings.Join(m.categories, ", "))
	b.WriteString(`RESPONSE FORMAT:
{"answerability_score": 0.0, "significance_score": 0.0, "frequency_score": 0.0, "temporal_score": 0.0,
 "reasoning": "...", "suggestions": ["..."], "primary_tag": "...", "secondary_tags": ["..."], "tag_confidence": 0.0}
`)
	return b.String()
}

func (m *Model) assessPrompt(e models.Event, evidence []models.RawItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "EVENT\nTitle: %s\nDescription: %s\nCategory: %s\n\n", e.Title, orNone(e.Description), e.PrimaryTag)
	writeEvidence(&b, evidence)
	b.WriteString(`Estimate p, the probability the event resolves YES, and ttc_hours, the expected hours until it resolves.
List in evidence_ids the IDs of the evidence you relied on, most relevant first.

RESPONSE FORMAT:
{"p": 0.0, "ttc_hours": 0, "rationale": "...", "evidence_ids": ["..."]}
`)
	return b.String()
}

func (m *Model) resolvePrompt(e models.Event, evidence []models.RawItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "EVENT\nTitle: %s\nDescription: %s\nCategory: %s\n\n", e.Title, orNone(e.Description), e.PrimaryTag)
	writeEvidence(&b, evidence)
	b.WriteString(`List in confirming_ids the IDs of evidence stating that the event happened as described,
and in contradicting_ids the IDs of evidence stating that it did not. Leave out evidence that is
speculative, outdated or only restates the question. confidence is how sure you are of the outcome.

RESPONSE FORMAT:
{"confirming_ids": ["..."], "contradicting_ids": ["..."], "confidence": 0.0, "rationale": "..."}
`)
	return b.String()
}

func writeEvidence(b *strings.Builder, evidence []models.RawItem) {
	if len(evidence) == 0 {
		b.WriteString("EVIDENCE: none\n\n")
		return
	}
	b.WriteString("EVIDENCE:\n")
	for i, it := range evidence {
		if i == maxPromptEvidence {
			break
		}
		fmt.Fprintf(b, "[%s] %s (%s, %s)\n", it.ID, it.Title, it.SourceName, it.PublishedAt.Format("2006-01-02"))
		if it.Snippet != "" {
			fmt.Fprintf(b, "    %s\n", it.Snippet)
		}
	}
	b.WriteString("\n")
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
