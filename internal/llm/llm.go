// Package llm provides the text-generation backend used by the judge and assessor.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when a response contains no parseable JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

// Request is a single prompt sent to a model.
type Request struct {
	System string
	Prompt string
}

// Response is a model reply with its token accounting.
type Response struct {
	Text      string
	Model     string
	TokensIn  int
	TokensOut int
}

// Generator produces one completion per call.
type Generator interface {
	Model() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// Pricing converts token counts to USD, per million tokens.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost returns the USD cost of a call.
func (p Pricing) Cost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1e6*p.InputPerMTok + float64(tokensOut)/1e6*p.OutputPerMTok
}

// ExtractJSON returns the first valid top-level JSON object in text.
// Markdown code fences and surrounding prose are tolerated.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "{") && json.Valid([]byte(text)) {
		return text, nil
	}
	for _, c := range findJSONCandidates(text) {
		if json.Valid([]byte(c)) {
			return c, nil
		}
	}
	return "", ErrNoJSON
}

// findJSONCandidates scans s for balanced top-level {...} spans, skipping braces inside strings.
func findJSONCandidates(s string) []string {
	var candidates []string
	depth := 0
	start := -1
	inString := false
	escape := false

	for i := 0; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return candidates
}
