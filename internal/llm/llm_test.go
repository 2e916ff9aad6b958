package llm

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "prose around", in: `Here you go: {"a":{"b":"}"}} thanks`, want: `{"a":{"b":"}"}}`},
		{name: "first invalid second valid", in: `{oops} {"ok":true}`, want: `{"ok":true}`},
		{name: "no object", in: "I cannot answer that.", wantErr: true},
		{name: "truncated", in: `{"a": 1`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrNoJSON) {
					t.Errorf("got %q, %v; want ErrNoJSON", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPricingCost(t *testing.T) {
	p := Pricing{InputPerMTok: 0.075, OutputPerMTok: 0.30}
	got := p.Cost(1_000_000, 500_000)
	if math.Abs(got-0.225) > 1e-9 {
		t.Errorf("Cost = %v, want 0.225", got)
	}
}

func TestNewGemini_RequiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), GeminiConfig{}); err == nil {
		t.Error("expected error without API key")
	}
}
