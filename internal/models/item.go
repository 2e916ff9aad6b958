// Package models defines the core domain entities: raw evidence items, event proposals,
// judgments, events, predictions with their evidence attributions, resolutions, and agent run records.
package models

import (
	"errors"
	"fmt"
	"time"
)

// SourceType identifies the kind of external source an item was fetched from.
type SourceType string

const (
	SourceRSS        SourceType = "rss"
	SourceKalshi     SourceType = "kalshi"
	SourcePolymarket SourceType = "polymarket"
	SourcePRWires    SourceType = "prwires"
	SourceEdgar      SourceType = "edgar"
	SourceCustom     SourceType = "custom"
)

// ParseSourceType validates a source type string.
func ParseSourceType(s string) (SourceType, error) {
	switch st := SourceType(s); st {
	case SourceRSS, SourceKalshi, SourcePolymarket, SourcePRWires, SourceEdgar, SourceCustom:
		return st, nil
	}
	return "", fmt.Errorf("unknown source type %q", s)
}

// IsMarket reports whether items of this source describe a tradable market.
func (s SourceType) IsMarket() bool {
	return s == SourceKalshi || s == SourcePolymarket
}

// RawItem is one immutable piece of fetched evidence.
// Fingerprint is unique across the store; re-ingesting identical content yields the same item.
type RawItem struct {
	ID           string         `json:"id"`
	SourceType   SourceType     `json:"source_type"`
	SourceName   string         `json:"source_name"`
	URL          string         `json:"url,omitempty"`
	Title        string         `json:"title"`
	Snippet      string         `json:"snippet,omitempty"`
	Fingerprint  string         `json:"fingerprint"`
	CanonicalKey string         `json:"canonical_key"`
	PublishedAt  time.Time      `json:"published_at"`
	FirstSeenAt  time.Time      `json:"first_seen_at"`
	FetchedAt    time.Time      `json:"fetched_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks raw item field constraints.
func (r *RawItem) Validate() error {
	if r.ID == "" {
		return errors.New("raw item ID must not be empty")
	}
	if _, err := ParseSourceType(string(r.SourceType)); err != nil {
		return err
	}
	if r.Title == "" {
		return errors.New("raw item title must not be empty")
	}
	if r.Fingerprint == "" {
		return errors.New("raw item fingerprint must not be empty")
	}
	if r.CanonicalKey == "" {
		return errors.New("raw item canonical key must not be empty")
	}
	return nil
}

// SourceItem is the inbound shape every source adapter produces.
type SourceItem struct {
	SourceType  SourceType
	SourceName  string
	URL         string
	Title       string
	Snippet     string
	PublishedAt time.Time
	Metadata    map[string]any
}
