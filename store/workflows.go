package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

func (s *SQLiteStore) CreateWorkflow(ctx context.Context, w NewWorkflow) (int64, error) {
	now := s.timestamp()
	var id int64

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO workflows (name, description, workflow_json, content_hash, category, favorite, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			w.Name, nullString(w.Description), string(w.WorkflowJSON), nullString(w.ContentHash),
			nullString(w.Category), boolInt(w.Favorite), now, now)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateName
			}
			return fmt.Errorf("sqlite store create workflow: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("sqlite store create workflow id: %w", err)
		}

		for _, p := range w.Prompts {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO prompts (workflow_id, node_id, node_type, prompt_type, prompt_text, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
				id, p.NodeID, nullString(p.NodeType), nullString(p.PromptType), p.PromptText, now); err != nil {
				return fmt.Errorf("sqlite store create prompt: %w", err)
			}
		}

		for _, m := range w.Metadata {
			value := string(m.Value)
			if len(m.Value) == 0 {
				value = "null"
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO metadata (workflow_id, key, value) VALUES (?, ?, ?)",
				id, m.Key, value); err != nil {
				return fmt.Errorf("sqlite store create metadata: %w", err)
			}
		}

		return insertWorkflowTags(ctx, tx, id, w.TagIDs)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func insertWorkflowTags(ctx context.Context, tx *sql.Tx, workflowID int64, tagIDs []int64) error {
	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO workflow_tags (workflow_id, tag_id) VALUES (?, ?)",
			workflowID, tagID); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("tag %d: %w", tagID, ErrNotFound)
			}
			return fmt.Errorf("sqlite store add workflow tag: %w", err)
		}
	}
	return nil
}

const workflowColumns = "w.id, w.name, w.description, w.category, w.favorite, w.content_hash, w.created_at, w.updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner, extra ...any) (Workflow, error) {
	var (
		w           Workflow
		description sql.NullString
		category    sql.NullString
		hash        sql.NullString
		favorite    int
		createdAt   string
		updatedAt   string
	)
	dest := append([]any{&w.ID, &w.Name, &description, &category, &favorite, &hash, &createdAt, &updatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Workflow{}, err
	}
	w.Description = description.String
	w.Category = category.String
	w.ContentHash = hash.String
	w.Favorite = favorite != 0
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	w.Tags = []Tag{}
	return w, nil
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id int64) (Workflow, error) {
	var raw string
	row := s.db.QueryRowContext(ctx,
		"SELECT "+workflowColumns+", w.workflow_json FROM workflows w WHERE w.id = ?", id)
	w, err := scanWorkflow(row, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Workflow{}, ErrNotFound
	}
	if err != nil {
		return Workflow{}, fmt.Errorf("sqlite store get workflow: %w", err)
	}
	w.WorkflowJSON = json.RawMessage(raw)

	if w.Prompts, err = s.workflowPrompts(ctx, id); err != nil {
		return Workflow{}, err
	}
	w.PromptCount = len(w.Prompts)
	if w.Tags, err = s.WorkflowTags(ctx, id); err != nil {
		return Workflow{}, err
	}
	if w.Metadata, err = s.workflowMetadata(ctx, id); err != nil {
		return Workflow{}, err
	}
	return w, nil
}

func (s *SQLiteStore) workflowPrompts(ctx context.Context, workflowID int64) ([]Prompt, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, workflow_id, node_id, node_type, prompt_type, prompt_text, created_at
FROM prompts WHERE workflow_id = ? ORDER BY id ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store list prompts: %w", err)
	}
	defer rows.Close()

	prompts := make([]Prompt, 0)
	for rows.Next() {
		var (
			p          Prompt
			nodeType   sql.NullString
			promptType sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&p.ID, &p.WorkflowID, &p.NodeID, &nodeType, &promptType, &p.PromptText, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite store scan prompt: %w", err)
		}
		p.NodeType = nodeType.String
		p.PromptType = promptType.String
		p.CreatedAt = parseTime(createdAt)
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// workflowMetadata returns the metadata keys of a workflow. Values that are
// not valid JSON are returned as JSON strings.
func (s *SQLiteStore) workflowMetadata(ctx context.Context, workflowID int64) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM metadata WHERE workflow_id = ? ORDER BY key ASC", workflowID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store list metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]json.RawMessage)
	for rows.Next() {
		var (
			key   string
			value sql.NullString
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("sqlite store scan metadata: %w", err)
		}
		switch {
		case !value.Valid:
			meta[key] = json.RawMessage("null")
		case json.Valid([]byte(value.String)):
			meta[key] = json.RawMessage(value.String)
		default:
			quoted, _ := json.Marshal(value.String)
			meta[key] = quoted
		}
	}
	return meta, rows.Err()
}

var workflowSortColumns = map[string]string{
	"created_at": "w.created_at",
	"updated_at": "w.updated_at",
	"name":       "w.name",
	"favorite":   "w.favorite",
}

func (o ListOptions) normalized() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if _, ok := workflowSortColumns[o.SortBy]; !ok {
		o.SortBy = "created_at"
	}
	if strings.ToUpper(o.Order) == "ASC" {
		o.Order = "ASC"
	} else {
		o.Order = "DESC"
	}
	return o
}

func (s *SQLiteStore) ListWorkflows(ctx context.Context, opts ListOptions) (WorkflowList, error) {
	opts = opts.normalized()

	var (
		conditions []string
		args       []any
	)
	if opts.Category != "" {
		conditions = append(conditions, "w.category = ?")
		args = append(args, opts.Category)
	}
	if opts.Favorite != nil {
		conditions = append(conditions, "w.favorite = ?")
		args = append(args, boolInt(*opts.Favorite))
	}
	if opts.TagID > 0 {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM workflow_tags wt WHERE wt.workflow_id = w.id AND wt.tag_id = ?)")
		args = append(args, opts.TagID)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows w "+where, args...).Scan(&total); err != nil {
		return WorkflowList{}, fmt.Errorf("sqlite store count workflows: %w", err)
	}

	query := fmt.Sprintf(`
SELECT %s, (SELECT COUNT(*) FROM prompts p WHERE p.workflow_id = w.id)
FROM workflows w
%s
ORDER BY %s %s, w.id %s
LIMIT ? OFFSET ?`, workflowColumns, where, workflowSortColumns[opts.SortBy], opts.Order, opts.Order)

	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, (opts.Page-1)*opts.Limit)...)
	if err != nil {
		return WorkflowList{}, fmt.Errorf("sqlite store list workflows: %w", err)
	}
	workflows := make([]Workflow, 0)
	for rows.Next() {
		var count int
		w, err := scanWorkflow(rows, &count)
		if err != nil {
			rows.Close()
			return WorkflowList{}, fmt.Errorf("sqlite store scan workflow: %w", err)
		}
		w.PromptCount = count
		workflows = append(workflows, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return WorkflowList{}, fmt.Errorf("sqlite store list workflows rows: %w", err)
	}

	if err := s.attachTags(ctx, workflows); err != nil {
		return WorkflowList{}, err
	}

	return WorkflowList{
		Workflows:  workflows,
		Pagination: newPagination(opts.Page, opts.Limit, total),
	}, nil
}

// attachTags loads the tags of every workflow in one query.
func (s *SQLiteStore) attachTags(ctx context.Context, workflows []Workflow) error {
	if len(workflows) == 0 {
		return nil
	}
	index := make(map[int64]int, len(workflows))
	ids := make([]int64, len(workflows))
	for i, w := range workflows {
		index[w.ID] = i
		ids[i] = w.ID
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT wt.workflow_id, t.id, t.name, t.color, t.created_at
FROM tags t
JOIN workflow_tags wt ON t.id = wt.tag_id
WHERE wt.workflow_id IN (`+placeholders(len(ids))+`)
ORDER BY t.name ASC`, int64Args(ids)...)
	if err != nil {
		return fmt.Errorf("sqlite store list workflow tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var workflowID int64
		t, err := scanTag(rows, &workflowID)
		if err != nil {
			return fmt.Errorf("sqlite store scan tag: %w", err)
		}
		i := index[workflowID]
		workflows[i].Tags = append(workflows[i].Tags, t)
	}
	return rows.Err()
}

func (s *SQLiteStore) UpdateWorkflow(ctx context.Context, id int64, u WorkflowUpdate) error {
	var (
		fields []string
		args   []any
	)
	if u.Name != nil {
		fields = append(fields, "name = ?")
		args = append(args, *u.Name)
	}
	if u.Description != nil {
		fields = append(fields, "description = ?")
		args = append(args, nullString(*u.Description))
	}
	if u.Category != nil {
		fields = append(fields, "category = ?")
		args = append(args, nullString(*u.Category))
	}
	if u.Favorite != nil {
		fields = append(fields, "favorite = ?")
		args = append(args, boolInt(*u.Favorite))
	}
	if len(fields) == 0 {
		_, err := s.WorkflowName(ctx, id)
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE workflows SET "+strings.Join(fields, ", ")+" WHERE id = ?", append(args, id)...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("sqlite store update workflow: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite store delete workflow: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) ToggleFavorite(ctx context.Context, id int64) (bool, error) {
	var favorite int
	err := s.db.QueryRowContext(ctx,
		"UPDATE workflows SET favorite = 1 - favorite WHERE id = ? RETURNING favorite", id).Scan(&favorite)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("sqlite store toggle favorite: %w", err)
	}
	return favorite != 0, nil
}

// WorkflowName returns the name of a workflow, or ErrNotFound.
func (s *SQLiteStore) WorkflowName(ctx context.Context, id int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, "SELECT name FROM workflows WHERE id = ?", id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite store workflow name: %w", err)
	}
	return name, nil
}

// NameExists reports whether another workflow than excludeID uses name.
// Pass 0 to check against every workflow.
func (s *SQLiteStore) NameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM workflows WHERE name = ? AND id != ?", name, excludeID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlite store name exists: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) WorkflowIDByName(ctx context.Context, name string) (int64, error) {
	return s.lookupID(ctx, "SELECT id FROM workflows WHERE name = ?", name)
}

// FindByContentHash returns the oldest workflow stored with hash.
func (s *SQLiteStore) FindByContentHash(ctx context.Context, hash string) (int64, error) {
	if hash == "" {
		return 0, ErrNotFound
	}
	return s.lookupID(ctx, "SELECT id FROM workflows WHERE content_hash = ? ORDER BY id ASC LIMIT 1", hash)
}

func (s *SQLiteStore) lookupID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite store lookup: %w", err)
	}
	return id, nil
}
