package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/eventoracle/internal/cycle"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	// The chat ID is parsed before the bot token is checked, so no network call happens.
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

func TestFormatSummary(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	sum := cycle.Summary{
		ItemsIngested:      5,
		ItemsDuplicate:     2,
		ProposalsCreated:   4,
		PendingRemaining:   1,
		Accepted:           2,
		Rejected:           1,
		EventsCreated:      2,
		PredictionsEmitted: 2,
		SourceFailures:     1,
		FailedSources:      []string{"bbc-world"},
		JudgeFailures:      cycle.FailureCounts{Validation: 1},
		EventsLocked:       3,
		EventsResolved:     1,
		ResolveFailures:    cycle.FailureCounts{Backend: 2},
		Duration:           1250 * time.Millisecond,
	}

	msg := formatSummary(sum, at)
	for _, want := range []string{
		"*Cycle summary*",
		"2026\\-03\\-02 10:30:00",
		"Items: 5 new, 2 duplicate, 0 skipped",
		"Judged: 2 accepted, 1 rejected",
		"Events: 2 created, 2 predictions",
		"sources: bbc\\-world",
		"judge: 1 \\(1 validation, 0 backend\\)",
		"Resolution: 3 locked, 1 resolved, 0 open, 0 need review",
		"resolve: 2 \\(0 validation, 2 backend\\)",
		"1\\.25s",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "assess:") {
		t.Errorf("assess failures listed without any:\n%s", msg)
	}
}

func TestFormatSummary_NoFailures(t *testing.T) {
	msg := formatSummary(cycle.Summary{EventsCreated: 1}, time.Now())
	if strings.Contains(msg, "*Failures*") {
		t.Errorf("unexpected failures section:\n%s", msg)
	}
}
