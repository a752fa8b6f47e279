package retriever

import (
	"context"
	"fmt"
	"strings"

	"ragkit/internal/domain"
	"ragkit/internal/port"
)

const rewriteSystemPrompt = `You rewrite search queries to improve retrieval quality.

Rules:
1. Preserve the core intent of the query.
2. Make the query more explicit and specific.
3. Prefer keywords that are likely to appear in relevant documents.
4. If the query is already clear, return it unchanged.

Output only the rewritten query, nothing else.`

const reviseSystemPrompt = `You resolve a follow-up query against its conversation history.

Rules:
1. Read the history and identify what pronouns and elided phrases refer to.
2. Rewrite the current query as a standalone, self-contained query.
3. Keep the phrasing natural.

Output only the revised query, nothing else.`

const decomposeSystemPromptFmt = `You decompose complex queries into simple sub-queries.

Rules:
1. Identify the distinct aspects of the query.
2. Turn each aspect into one standalone sub-query that is easy to retrieve for.
3. Produce at most %d sub-queries.
4. If the query is already simple, return it as the only line.

Output one sub-query per line, nothing else.`

// historyWindow limits how many recent turns are shown to the model when
// revising a follow-up query.
const historyWindow = 5

// OptimizedQuery records every stage of query optimization so callers can
// report what actually ran.
type OptimizedQuery struct {
	Original   string
	Revised    string
	Rewritten  string
	Subqueries []string
	// Degraded is set when an enabled stage failed and its input was passed
	// through unchanged.
	Degraded bool
}

// QueryOptimizer runs up to three LLM transforms over an incoming query:
// history-aware revision, retrieval-oriented rewriting, and sub-query
// decomposition. Each stage is independently toggleable, and a stage failure
// never fails the query; the stage's input passes through unchanged.
type QueryOptimizer struct {
	llm           port.LLM
	enableRevise  bool
	enableRewrite bool
	enableExpand  bool
	maxSubqueries int
}

type OptimizerOptions struct {
	EnableRevise  bool
	EnableRewrite bool
	EnableExpand  bool
	MaxSubqueries int
}

func NewQueryOptimizer(llm port.LLM, opts OptimizerOptions) (*QueryOptimizer, error) {
	if llm == nil && (opts.EnableRevise || opts.EnableRewrite || opts.EnableExpand) {
		return nil, domain.ConfigErrorf("query optimizer requires an LLM when any stage is enabled")
	}
	if opts.MaxSubqueries <= 0 {
		opts.MaxSubqueries = 3
	}
	return &QueryOptimizer{
		llm:           llm,
		enableRevise:  opts.EnableRevise,
		enableRewrite: opts.EnableRewrite,
		enableExpand:  opts.EnableExpand,
		maxSubqueries: opts.MaxSubqueries,
	}, nil
}

// Optimize runs the enabled stages in order: revise, rewrite, decompose. Each
// stage feeds the next. The result always carries at least one sub-query.
func (o *QueryOptimizer) Optimize(ctx context.Context, query string, history []domain.Turn) OptimizedQuery {
	result := OptimizedQuery{
		Original:   query,
		Revised:    query,
		Rewritten:  query,
		Subqueries: []string{query},
	}

	current := query
	if o.enableRevise && len(history) > 0 {
		revised, err := o.Revise(ctx, current, history)
		if err != nil {
			result.Degraded = true
		} else {
			result.Revised = revised
			current = revised
		}
	}

	if o.enableRewrite {
		rewritten, err := o.Rewrite(ctx, current)
		if err != nil {
			result.Degraded = true
		} else {
			result.Rewritten = rewritten
			current = rewritten
		}
	}

	if o.enableExpand {
		subs, err := o.Decompose(ctx, current)
		if err != nil {
			result.Degraded = true
			result.Subqueries = []string{current}
		} else {
			result.Subqueries = subs
		}
	} else {
		result.Subqueries = []string{current}
	}
	return result
}

// Rewrite rephrases a query for retrieval. An empty model response counts as
// "no change".
func (o *QueryOptimizer) Rewrite(ctx context.Context, query string) (string, error) {
	out, err := o.llm.GenerateWithSystem(ctx, rewriteSystemPrompt, "Query: "+query)
	if err != nil {
		return query, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return query, nil
	}
	return out, nil
}

// Revise rewrites a follow-up query as a standalone query using recent
// conversation history. With empty history the query is returned unchanged
// without calling the model.
func (o *QueryOptimizer) Revise(ctx context.Context, query string, history []domain.Turn) (string, error) {
	if len(history) == 0 {
		return query, nil
	}
	recent := history
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}
	var sb strings.Builder
	for _, turn := range recent {
		fmt.Fprintf(&sb, "%s: %s\n", turn.Role, turn.Content)
	}
	prompt := fmt.Sprintf("Conversation history:\n%s\nCurrent query: %s\n\nRewrite the current query as a standalone query:", sb.String(), query)

	out, err := o.llm.GenerateWithSystem(ctx, reviseSystemPrompt, prompt)
	if err != nil {
		return query, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return query, nil
	}
	return out, nil
}

// Decompose splits a complex query into at most maxSubqueries standalone
// sub-queries, one per response line.
func (o *QueryOptimizer) Decompose(ctx context.Context, query string) ([]string, error) {
	system := fmt.Sprintf(decomposeSystemPromptFmt, o.maxSubqueries)
	out, err := o.llm.GenerateWithSystem(ctx, system, "Query: "+query)
	if err != nil {
		return []string{query}, err
	}

	var subs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		subs = append(subs, line)
		if len(subs) == o.maxSubqueries {
			break
		}
	}
	if len(subs) == 0 {
		return []string{query}, nil
	}
	return subs, nil
}
