// Package dedup normalizes fetched items, fingerprints their content and
// stores each distinct item exactly once.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/rewired-gh/eventoracle/internal/models"
)

const maxSlugRunes = 120

// Normalize strips markup, lower-cases and collapses whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(StripHTML(s))), " ")
}

// StripHTML returns the text content of s when it looks like markup.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

// Fingerprint identifies an item by its normalized content and origin.
func Fingerprint(item models.SourceItem) string {
	sourceKey := string(item.SourceType) + ":" + Normalize(item.URL)
	sum := sha256.Sum256([]byte(Normalize(item.Title) + "|" + Normalize(item.Snippet) + "|" + sourceKey))
	return hex.EncodeToString(sum[:])
}

// CanonicalKey groups items that describe the same candidate event.
// Market items key on their market identifier, everything else on a title slug.
func CanonicalKey(item models.SourceItem) string {
	if item.SourceType.IsMarket() {
		for _, field := range []string{"market_id", "ticker"} {
			if id := metadataString(item.Metadata, field); id != "" {
				return fmt.Sprintf("%s:%s", item.SourceType, id)
			}
		}
	}
	return fmt.Sprintf("%s:%s", item.SourceType, Slug(item.Title))
}

// Slug reduces a title to lower-case words joined by underscores, punctuation removed.
func Slug(title string) string {
	var b strings.Builder
	for _, r := range Normalize(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	slug := strings.Join(strings.Fields(b.String()), "_")
	if runes := []rune(slug); len(runes) > maxSlugRunes {
		slug = string(runes[:maxSlugRunes])
	}
	return slug
}

func metadataString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
