// Package proposal groups ingested evidence by canonical key into pending event proposals.
package proposal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/eventoracle/internal/dedup"
	"github.com/rewired-gh/eventoracle/internal/logger"
	"github.com/rewired-gh/eventoracle/internal/models"
	"github.com/rewired-gh/eventoracle/internal/storage"
)

const maxDescriptionRunes = 1000

// Store is the persistence the builder needs.
type Store interface {
	AttachEvidence(ctx context.Context, draft *models.EventProposal, itemIDs []string, reopen bool) (storage.AttachResult, error)
}

// Result summarizes one Build call.
type Result struct {
	Created        int
	EvidenceLinked int
	// OnClosed counts groups with new items whose key only has judged proposals.
	OnClosed int
}

// Builder creates and extends pending proposals.
type Builder struct {
	store  Store
	reopen bool
	now    func() time.Time
}

// NewBuilder creates a builder. With reopen set, new evidence for a judged key
// opens a fresh pending proposal instead of being left unlinked.
func NewBuilder(store Store, reopen bool) *Builder {
	return &Builder{store: store, reopen: reopen, now: time.Now}
}

type group struct {
	key    string
	first  dedup.Ingested
	ids    []string
	hasNew bool
}

// Build processes every ingested item, duplicates included, so rerunning a batch
// converges on the same proposals.
func (b *Builder) Build(ctx context.Context, items []dedup.Ingested) (Result, error) {
	var res Result
	for _, g := range groupByKey(items) {
		now := b.now()
		draft := &models.EventProposal{
			ID:           uuid.New().String(),
			CanonicalKey: g.key,
			Title:        g.first.Title,
			Description:  truncate(g.first.Snippet, maxDescriptionRunes),
			ProposedBy:   "dedup:" + string(g.first.SourceType),
			Status:       models.StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		out, err := b.store.AttachEvidence(ctx, draft, g.ids, b.reopen)
		if err != nil {
			return res, fmt.Errorf("failed to attach evidence for %s: %w", g.key, err)
		}
		switch out.Outcome {
		case storage.AttachCreated:
			res.Created++
			logger.Debug("Created proposal %s for %s with %d items", out.ProposalID, g.key, out.Linked)
		case storage.AttachLinked:
			if out.Linked > 0 {
				logger.Debug("Linked %d items to proposal %s", out.Linked, out.ProposalID)
			}
		case storage.AttachClosed:
			if g.hasNew {
				res.OnClosed++
				logger.Debug("Key %s already judged, leaving %d items unlinked", g.key, len(g.ids))
			}
		}
		res.EvidenceLinked += out.Linked
	}
	return res, nil
}

func groupByKey(items []dedup.Ingested) []*group {
	var order []*group
	byKey := make(map[string]*group)
	for _, it := range items {
		g, ok := byKey[it.CanonicalKey]
		if !ok {
			g = &group{key: it.CanonicalKey, first: it}
			byKey[it.CanonicalKey] = g
			order = append(order, g)
		}
		g.ids = appendUnique(g.ids, it.RawItemID)
		g.hasNew = g.hasNew || it.New
	}
	return order
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes-3]) + "..."
}
