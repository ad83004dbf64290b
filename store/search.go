package store

import (
	"context"
	"fmt"
	"strings"
)

// ftsQuery turns free text into an FTS5 query matching every term as a
// phrase, so user input never reaches the FTS5 query syntax.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, term := range terms {
		terms[i] = `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

// SearchWorkflows finds workflows whose prompts match every term of query,
// newest first. Each hit carries a highlighted snippet of its first matching
// prompt.
func (s *SQLiteStore) SearchWorkflows(ctx context.Context, query string, page, limit int) (SearchResult, error) {
	opts := ListOptions{Page: page, Limit: limit}.normalized()
	match := ftsQuery(query)
	if match == "" {
		return SearchResult{
			Workflows:  []SearchHit{},
			Pagination: newPagination(opts.Page, opts.Limit, 0),
		}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT p.workflow_id, snippet(prompts_fts, 0, '<mark>', '</mark>', '...', 64)
FROM prompts_fts
JOIN prompts p ON p.id = prompts_fts.rowid
JOIN workflows w ON w.id = p.workflow_id
WHERE prompts_fts MATCH ?
ORDER BY w.created_at DESC, w.id DESC, p.id ASC`, match)
	if err != nil {
		return SearchResult{}, fmt.Errorf("sqlite store search: %w", err)
	}
	var (
		order    []int64
		snippets = make(map[int64]string)
	)
	for rows.Next() {
		var (
			id      int64
			snippet string
		)
		if err := rows.Scan(&id, &snippet); err != nil {
			rows.Close()
			return SearchResult{}, fmt.Errorf("sqlite store scan search hit: %w", err)
		}
		if _, seen := snippets[id]; !seen {
			snippets[id] = snippet
			order = append(order, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return SearchResult{}, fmt.Errorf("sqlite store search rows: %w", err)
	}

	total := len(order)
	start := (opts.Page - 1) * opts.Limit
	end := start + opts.Limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	pageIDs := order[start:end]

	hits := make([]SearchHit, 0, len(pageIDs))
	if len(pageIDs) > 0 {
		workflows, err := s.workflowsByID(ctx, pageIDs)
		if err != nil {
			return SearchResult{}, err
		}
		for _, w := range workflows {
			hits = append(hits, SearchHit{Workflow: w, Snippet: snippets[w.ID]})
		}
	}

	return SearchResult{
		Workflows:  hits,
		Pagination: newPagination(opts.Page, opts.Limit, total),
	}, nil
}

// workflowsByID loads summaries of the given workflows in the order of ids.
func (s *SQLiteStore) workflowsByID(ctx context.Context, ids []int64) ([]Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+workflowColumns+`, (SELECT COUNT(*) FROM prompts p WHERE p.workflow_id = w.id)
FROM workflows w
WHERE w.id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store workflows by id: %w", err)
	}
	byID := make(map[int64]Workflow, len(ids))
	for rows.Next() {
		var count int
		w, err := scanWorkflow(rows, &count)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite store scan workflow: %w", err)
		}
		w.PromptCount = count
		byID[w.ID] = w
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store workflows by id rows: %w", err)
	}

	workflows := make([]Workflow, 0, len(ids))
	for _, id := range ids {
		if w, ok := byID[id]; ok {
			workflows = append(workflows, w)
		}
	}
	if err := s.attachTags(ctx, workflows); err != nil {
		return nil, err
	}
	return workflows, nil
}
