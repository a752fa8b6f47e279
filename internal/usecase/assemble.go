package usecase

import (
	"strings"

	"ragkit/internal/adapter/store"
	"ragkit/internal/domain"
	"ragkit/internal/port"
)

// Assembler packs ranked documents into a token-budgeted context string.
type Assembler struct {
	store     *store.Store
	tokenizer port.Tokenizer
	budget    int
	separator string
	// expandNeighbors pulls in the adjacent chunks of each selected document
	// when the budget allows, restoring continuity lost at chunk boundaries.
	expandNeighbors bool
}

type AssemblerOptions struct {
	BudgetTokens    int
	Separator       string
	ExpandNeighbors bool
}

func NewAssembler(st *store.Store, tokenizer port.Tokenizer, opts AssemblerOptions) (*Assembler, error) {
	if opts.BudgetTokens <= 0 {
		return nil, domain.ConfigErrorf("context budget must be positive, got %d", opts.BudgetTokens)
	}
	if opts.Separator == "" {
		opts.Separator = "\n\n---\n\n"
	}
	return &Assembler{
		store:           st,
		tokenizer:       tokenizer,
		budget:          opts.BudgetTokens,
		separator:       opts.Separator,
		expandNeighbors: opts.ExpandNeighbors,
	}, nil
}

// Assemble selects documents greedily in rank order until the budget is
// exhausted. A document that does not fit is skipped, not truncated, so later
// smaller documents can still be used. The one exception is the top-ranked
// document: if even it exceeds the whole budget it is truncated rather than
// returning an empty context.
func (a *Assembler) Assemble(collection string, ranked []domain.RankedCandidate) domain.AssembledContext {
	out := domain.AssembledContext{BudgetTokens: a.budget}
	if len(ranked) == 0 {
		return out
	}

	sepTokens := a.tokenizer.CountTokens(a.separator)
	var parts []string
	used := 0
	seen := make(map[string]struct{})

	for rank, cand := range ranked {
		doc := cand.Document
		if _, dup := seen[doc.ID]; dup {
			continue
		}

		cost := a.tokenizer.CountTokens(doc.Content)
		if len(parts) > 0 {
			cost += sepTokens
		}
		if used+cost > a.budget {
			if rank == 0 {
				text, tokens := a.truncate(doc.Content, a.budget)
				if tokens > 0 {
					parts = append(parts, text)
					used += tokens
					seen[doc.ID] = struct{}{}
					out.DocumentIDs = append(out.DocumentIDs, doc.ID)
				}
				continue
			}
			continue
		}

		parts = append(parts, doc.Content)
		used += cost
		seen[doc.ID] = struct{}{}
		out.DocumentIDs = append(out.DocumentIDs, doc.ID)

		if a.expandNeighbors {
			parts, used = a.addNeighbors(collection, doc, parts, used, sepTokens, seen, &out)
		}
	}

	out.Text = strings.Join(parts, a.separator)
	out.UsedTokens = used
	return out
}

// addNeighbors appends the chunks directly before and after doc from the same
// source, budget permitting. Neighbors count as citations like any other
// included document.
func (a *Assembler) addNeighbors(collection string, doc domain.Document, parts []string, used, sepTokens int, seen map[string]struct{}, out *domain.AssembledContext) ([]string, int) {
	siblings, err := a.store.ListBySource(collection, doc.Metadata.Source)
	if err != nil {
		return parts, used
	}

	for _, sib := range siblings {
		delta := sib.Metadata.ChunkIndex - doc.Metadata.ChunkIndex
		if delta != -1 && delta != 1 {
			continue
		}
		if _, dup := seen[sib.ID]; dup {
			continue
		}
		cost := a.tokenizer.CountTokens(sib.Content) + sepTokens
		if used+cost > a.budget {
			continue
		}
		parts = append(parts, sib.Content)
		used += cost
		seen[sib.ID] = struct{}{}
		out.DocumentIDs = append(out.DocumentIDs, sib.ID)
	}
	return parts, used
}

// truncate cuts text to fit within budget tokens, trimming whole runes from
// the end until the count fits.
func (a *Assembler) truncate(text string, budget int) (string, int) {
	runes := []rune(text)
	lo, hi := 0, len(runes)
	// Binary search the longest prefix that fits.
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if a.tokenizer.CountTokens(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return "", 0
	}
	prefix := string(runes[:lo])
	return prefix, a.tokenizer.CountTokens(prefix)
}
