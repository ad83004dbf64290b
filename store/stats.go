package store

import (
	"context"
	"fmt"
	"time"
)

const statsTopN = 10

// Guards for metadata rows that are not JSON.
const (
	jsonOrEmpty = "CASE WHEN json_valid(m.value) THEN m.value ELSE '[]' END"
	jsonOrNull  = "CASE WHEN json_valid(m.value) THEN m.value ELSE 'null' END"
)

// Stats aggregates the dashboard numbers. now anchors the recent activity
// window (7 days) and the monthly timeline (the 12 months ending with now).
func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	now = now.UTC()
	var (
		st  Stats
		err error
	)

	counts := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&st.Summary.TotalWorkflows, "SELECT COUNT(*) FROM workflows", nil},
		{&st.Summary.TotalPrompts, "SELECT COUNT(*) FROM prompts", nil},
		{&st.Summary.TotalTags, "SELECT COUNT(*) FROM tags", nil},
		{&st.Summary.FavoriteCount, "SELECT COUNT(*) FROM workflows WHERE favorite = 1", nil},
		{&st.Summary.RecentActivity, "SELECT COUNT(*) FROM workflows WHERE created_at >= ?",
			[]any{formatTime(now.AddDate(0, 0, -7))}},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			return Stats{}, fmt.Errorf("sqlite store stats summary: %w", err)
		}
	}

	st.ModelUsage, err = s.countRows(ctx, `
SELECT json_extract(j.value, '$.name') AS name, COUNT(*) AS count
FROM metadata m, json_each(`+jsonOrEmpty+`) j
WHERE m.key = 'models' AND json_type(j.value) = 'object' AND json_extract(j.value, '$.name') != ''
GROUP BY name
ORDER BY count DESC, name ASC
LIMIT ?`, statsTopN)
	if err != nil {
		return Stats{}, err
	}

	st.SamplerUsage, err = s.countRows(ctx, `
SELECT CAST(json_extract(j.value, '$.sampler_name') AS TEXT) AS name, COUNT(*) AS count
FROM metadata m, json_each(`+jsonOrEmpty+`) j
WHERE m.key = 'samplers' AND json_type(j.value) = 'object'
	AND json_extract(j.value, '$.sampler_name') IS NOT NULL
GROUP BY name
ORDER BY count DESC, name ASC
LIMIT ?`, statsTopN)
	if err != nil {
		return Stats{}, err
	}

	st.PromptTypes, err = s.countRows(ctx, `
SELECT COALESCE(prompt_type, 'unknown') AS name, COUNT(*) AS count
FROM prompts
GROUP BY name
ORDER BY count DESC, name ASC`)
	if err != nil {
		return Stats{}, err
	}

	st.SizeDistribution, err = s.countRows(ctx, `
WITH sizes AS (
	SELECT CAST(json_extract(m.value, '$.width') AS INTEGER) AS size
	FROM metadata m WHERE m.key = 'dimensions' AND json_type(`+jsonOrNull+`) = 'object'
	UNION ALL
	SELECT CAST(json_extract(m.value, '$.height') AS INTEGER)
	FROM metadata m WHERE m.key = 'dimensions' AND json_type(`+jsonOrNull+`) = 'object'
)
SELECT CASE
		WHEN size <= 512 THEN '<=512'
		WHEN size <= 768 THEN '513-768'
		WHEN size <= 1024 THEN '769-1024'
		WHEN size <= 1536 THEN '1025-1536'
		ELSE '>1536'
	END AS name, COUNT(*) AS count
FROM sizes
WHERE size IS NOT NULL
GROUP BY name
ORDER BY count DESC, name ASC`)
	if err != nil {
		return Stats{}, err
	}

	if st.TagDistribution, err = s.tagDistribution(ctx); err != nil {
		return Stats{}, err
	}
	if st.Timeline, err = s.timeline(ctx, now); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (s *SQLiteStore) countRows(ctx context.Context, query string, args ...any) ([]Count, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store stats: %w", err)
	}
	defer rows.Close()

	counts := make([]Count, 0)
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, fmt.Errorf("sqlite store scan stats: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) tagDistribution(ctx context.Context) ([]TagCount, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT t.name, COALESCE(t.color, ''), COUNT(wt.workflow_id) AS count
FROM tags t
LEFT JOIN workflow_tags wt ON t.id = wt.tag_id
GROUP BY t.id
ORDER BY count DESC, t.name ASC
LIMIT ?`, statsTopN)
	if err != nil {
		return nil, fmt.Errorf("sqlite store tag distribution: %w", err)
	}
	defer rows.Close()

	tags := make([]TagCount, 0)
	for rows.Next() {
		var t TagCount
		if err := rows.Scan(&t.Name, &t.Color, &t.Count); err != nil {
			return nil, fmt.Errorf("sqlite store scan tag distribution: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *SQLiteStore) timeline(ctx context.Context, now time.Time) ([]MonthCount, error) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -11, 0)
	rows, err := s.db.QueryContext(ctx, `
SELECT substr(created_at, 1, 7) AS month, COUNT(*)
FROM workflows
WHERE created_at >= ?
GROUP BY month
ORDER BY month ASC`, formatTime(start))
	if err != nil {
		return nil, fmt.Errorf("sqlite store timeline: %w", err)
	}
	defer rows.Close()

	months := make([]MonthCount, 0)
	for rows.Next() {
		var m MonthCount
		if err := rows.Scan(&m.Month, &m.Count); err != nil {
			return nil, fmt.Errorf("sqlite store scan timeline: %w", err)
		}
		months = append(months, m)
	}
	return months, rows.Err()
}
