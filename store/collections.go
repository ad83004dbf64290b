package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultCollectionColor = "#3B82F6"
	DefaultCollectionIcon  = "folder"
)

const collectionSelect = `
SELECT c.id, c.name, c.description, c.color, c.icon, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM workflow_collections wc WHERE wc.collection_id = c.id)
FROM collections c`

func scanCollection(row rowScanner) (Collection, error) {
	var (
		c         Collection
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Color, &c.Icon, &createdAt, &updatedAt, &c.WorkflowCount); err != nil {
		return Collection{}, err
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

func (s *SQLiteStore) queryCollections(ctx context.Context, query string, args ...any) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store list collections: %w", err)
	}
	defer rows.Close()

	collections := make([]Collection, 0)
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store scan collection: %w", err)
		}
		collections = append(collections, c)
	}
	return collections, rows.Err()
}

func (s *SQLiteStore) ListCollections(ctx context.Context) ([]Collection, error) {
	return s.queryCollections(ctx, collectionSelect+" ORDER BY c.name ASC, c.id ASC")
}

func (s *SQLiteStore) GetCollection(ctx context.Context, id int64) (Collection, error) {
	c, err := scanCollection(s.db.QueryRowContext(ctx, collectionSelect+" WHERE c.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, ErrNotFound
	}
	if err != nil {
		return Collection{}, fmt.Errorf("sqlite store get collection: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) CreateCollection(ctx context.Context, c NewCollection) (Collection, error) {
	if c.Color == "" {
		c.Color = DefaultCollectionColor
	}
	if c.Icon == "" {
		c.Icon = DefaultCollectionIcon
	}
	now := s.timestamp()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO collections (name, description, color, icon, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`, strings.TrimSpace(c.Name), c.Description, c.Color, c.Icon, now, now)
	if err != nil {
		return Collection{}, fmt.Errorf("sqlite store create collection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Collection{}, fmt.Errorf("sqlite store create collection id: %w", err)
	}
	return s.GetCollection(ctx, id)
}

func (s *SQLiteStore) UpdateCollection(ctx context.Context, id int64, u CollectionUpdate) (Collection, error) {
	var (
		fields []string
		args   []any
	)
	if u.Name != nil {
		fields = append(fields, "name = ?")
		args = append(args, strings.TrimSpace(*u.Name))
	}
	if u.Description != nil {
		fields = append(fields, "description = ?")
		args = append(args, *u.Description)
	}
	if u.Color != nil {
		fields = append(fields, "color = ?")
		args = append(args, *u.Color)
	}
	if u.Icon != nil {
		fields = append(fields, "icon = ?")
		args = append(args, *u.Icon)
	}
	if len(fields) > 0 {
		fields = append(fields, "updated_at = ?")
		args = append(args, s.timestamp(), id)
		res, err := s.db.ExecContext(ctx,
			"UPDATE collections SET "+strings.Join(fields, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return Collection{}, fmt.Errorf("sqlite store update collection: %w", err)
		}
		if err := requireRow(res); err != nil {
			return Collection{}, err
		}
	}
	return s.GetCollection(ctx, id)
}

func (s *SQLiteStore) DeleteCollection(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM collections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite store delete collection: %w", err)
	}
	return requireRow(res)
}

// AddWorkflowsToCollection adds workflows to a collection. Workflows already
// in the collection are left alone.
func (s *SQLiteStore) AddWorkflowsToCollection(ctx context.Context, collectionID int64, workflowIDs []int64) error {
	if _, err := s.GetCollection(ctx, collectionID); err != nil {
		return err
	}
	now := s.timestamp()
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, workflowID := range workflowIDs {
			_, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO workflow_collections (workflow_id, collection_id, added_at)
VALUES (?, ?, ?)`, workflowID, collectionID, now)
			if err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("workflow %d: %w", workflowID, ErrNotFound)
				}
				return fmt.Errorf("sqlite store add workflow to collection: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) RemoveWorkflowFromCollection(ctx context.Context, collectionID, workflowID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM workflow_collections WHERE collection_id = ? AND workflow_id = ?", collectionID, workflowID)
	if err != nil {
		return fmt.Errorf("sqlite store remove workflow from collection: %w", err)
	}
	return requireRow(res)
}

// CollectionWorkflows lists the workflows of a collection, most recently
// added first.
func (s *SQLiteStore) CollectionWorkflows(ctx context.Context, collectionID int64) ([]Workflow, error) {
	if _, err := s.GetCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+workflowColumns+`, (SELECT COUNT(*) FROM prompts p WHERE p.workflow_id = w.id)
FROM workflows w
JOIN workflow_collections wc ON w.id = wc.workflow_id
WHERE wc.collection_id = ?
ORDER BY wc.added_at DESC, w.id DESC`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store collection workflows: %w", err)
	}
	workflows := make([]Workflow, 0)
	for rows.Next() {
		var count int
		w, err := scanWorkflow(rows, &count)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite store scan workflow: %w", err)
		}
		w.PromptCount = count
		workflows = append(workflows, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store collection workflows rows: %w", err)
	}
	if err := s.attachTags(ctx, workflows); err != nil {
		return nil, err
	}
	return workflows, nil
}

func (s *SQLiteStore) WorkflowCollections(ctx context.Context, workflowID int64) ([]Collection, error) {
	return s.queryCollections(ctx, collectionSelect+`
JOIN workflow_collections m ON c.id = m.collection_id
WHERE m.workflow_id = ?
ORDER BY c.name ASC, c.id ASC`, workflowID)
}
