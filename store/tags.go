package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// DefaultTagColor is used when a tag is created without a color.
const DefaultTagColor = "#3B82F6"

func scanTag(row rowScanner, extra ...any) (Tag, error) {
	var (
		t         Tag
		color     sql.NullString
		createdAt string
	)
	dest := append(extra, &t.ID, &t.Name, &color, &createdAt)
	if err := row.Scan(dest...); err != nil {
		return Tag{}, err
	}
	t.Color = color.String
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

func (s *SQLiteStore) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT COUNT(wt.workflow_id), t.id, t.name, t.color, t.created_at
FROM tags t
LEFT JOIN workflow_tags wt ON t.id = wt.tag_id
GROUP BY t.id
ORDER BY t.name ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store list tags: %w", err)
	}
	defer rows.Close()

	tags := make([]Tag, 0)
	for rows.Next() {
		var count int
		t, err := scanTag(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("sqlite store scan tag: %w", err)
		}
		t.WorkflowCount = count
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *SQLiteStore) GetTag(ctx context.Context, id int64) (Tag, error) {
	var count int
	row := s.db.QueryRowContext(ctx, `
SELECT (SELECT COUNT(*) FROM workflow_tags wt WHERE wt.tag_id = t.id), t.id, t.name, t.color, t.created_at
FROM tags t WHERE t.id = ?`, id)
	t, err := scanTag(row, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return Tag{}, ErrNotFound
	}
	if err != nil {
		return Tag{}, fmt.Errorf("sqlite store get tag: %w", err)
	}
	t.WorkflowCount = count
	return t, nil
}

func (s *SQLiteStore) CreateTag(ctx context.Context, name, color string) (Tag, error) {
	name = strings.TrimSpace(name)
	if color == "" {
		color = DefaultTagColor
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO tags (name, color, created_at) VALUES (?, ?, ?)", name, color, s.timestamp())
	if err != nil {
		if isUniqueViolation(err) {
			return Tag{}, ErrDuplicateName
		}
		return Tag{}, fmt.Errorf("sqlite store create tag: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Tag{}, fmt.Errorf("sqlite store create tag id: %w", err)
	}
	return s.GetTag(ctx, id)
}

func (s *SQLiteStore) UpdateTag(ctx context.Context, id int64, u TagUpdate) (Tag, error) {
	var (
		fields []string
		args   []any
	)
	if u.Name != nil {
		fields = append(fields, "name = ?")
		args = append(args, strings.TrimSpace(*u.Name))
	}
	if u.Color != nil {
		fields = append(fields, "color = ?")
		args = append(args, *u.Color)
	}
	if len(fields) > 0 {
		res, err := s.db.ExecContext(ctx,
			"UPDATE tags SET "+strings.Join(fields, ", ")+" WHERE id = ?", append(args, id)...)
		if err != nil {
			if isUniqueViolation(err) {
				return Tag{}, ErrDuplicateName
			}
			return Tag{}, fmt.Errorf("sqlite store update tag: %w", err)
		}
		if err := requireRow(res); err != nil {
			return Tag{}, err
		}
	}
	return s.GetTag(ctx, id)
}

func (s *SQLiteStore) DeleteTag(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite store delete tag: %w", err)
	}
	return requireRow(res)
}

// GetOrCreateTag returns the tag called name, creating it with color when it
// does not exist yet.
func (s *SQLiteStore) GetOrCreateTag(ctx context.Context, name, color string) (Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tag{}, errors.New("tag name is required")
	}
	id, err := s.lookupID(ctx, "SELECT id FROM tags WHERE name = ?", name)
	if err == nil {
		return s.GetTag(ctx, id)
	}
	if !errors.Is(err, ErrNotFound) {
		return Tag{}, err
	}
	t, err := s.CreateTag(ctx, name, color)
	if errors.Is(err, ErrDuplicateName) {
		// Created concurrently.
		return s.GetOrCreateTag(ctx, name, color)
	}
	return t, err
}

func (s *SQLiteStore) WorkflowTags(ctx context.Context, workflowID int64) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT t.id, t.name, t.color, t.created_at
FROM tags t
JOIN workflow_tags wt ON t.id = wt.tag_id
WHERE wt.workflow_id = ?
ORDER BY t.name ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store workflow tags: %w", err)
	}
	defer rows.Close()

	tags := make([]Tag, 0)
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// SetWorkflowTags replaces the tags of a workflow.
func (s *SQLiteStore) SetWorkflowTags(ctx context.Context, workflowID int64, tagIDs []int64) error {
	if _, err := s.WorkflowName(ctx, workflowID); err != nil {
		return err
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM workflow_tags WHERE workflow_id = ?", workflowID); err != nil {
			return fmt.Errorf("sqlite store clear workflow tags: %w", err)
		}
		return insertWorkflowTags(ctx, tx, workflowID, tagIDs)
	})
}

func (s *SQLiteStore) AddWorkflowTags(ctx context.Context, workflowID int64, tagIDs []int64) error {
	if _, err := s.WorkflowName(ctx, workflowID); err != nil {
		return err
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		return insertWorkflowTags(ctx, tx, workflowID, tagIDs)
	})
}

func (s *SQLiteStore) RemoveWorkflowTags(ctx context.Context, workflowID int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	args := append([]any{workflowID}, int64Args(tagIDs)...)
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM workflow_tags WHERE workflow_id = ? AND tag_id IN ("+placeholders(len(tagIDs))+")", args...)
	if err != nil {
		return fmt.Errorf("sqlite store remove workflow tags: %w", err)
	}
	return nil
}
