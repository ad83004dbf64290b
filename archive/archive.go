// Package archive moves stored workflows in and out of export bundles, as a
// JSON document or a zip file carrying workflows.json.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KANAsho116/PromptStorage/ingest"
	"github.com/KANAsho116/PromptStorage/store"
)

const BundleVersion = "1.0.0"

var ErrInvalidBundle = errors.New("invalid import data format")

// Store is the part of the persistence layer used for export and import.
type Store interface {
	GetWorkflow(ctx context.Context, id int64) (store.Workflow, error)
	CreateWorkflow(ctx context.Context, w store.NewWorkflow) (int64, error)
	DeleteWorkflow(ctx context.Context, id int64) error
	NameExists(ctx context.Context, name string, excludeID int64) (bool, error)
	WorkflowIDByName(ctx context.Context, name string) (int64, error)
	GetOrCreateTag(ctx context.Context, name, color string) (store.Tag, error)
}

// WorkflowRecord is the workflow row of an exported entry.
type WorkflowRecord struct {
	ID           int64           `json:"id,omitempty"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	Favorite     bool            `json:"favorite"`
	WorkflowJSON json.RawMessage `json:"workflow_json"`
	ContentHash  string          `json:"content_hash,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Entry is one workflow with everything stored alongside it.
type Entry struct {
	Workflow WorkflowRecord        `json:"workflow"`
	Prompts  []store.Prompt        `json:"prompts"`
	Tags     []store.Tag           `json:"tags"`
	Metadata []store.MetadataEntry `json:"metadata"`
}

// Bundle is an export document. A multi-workflow export fills Workflows, a
// single-workflow export fills Workflow.
type Bundle struct {
	Version    string    `json:"version"`
	ID         string    `json:"id,omitempty"`
	ExportedAt time.Time `json:"exported_at"`
	Workflows  []Entry   `json:"workflows,omitempty"`
	Workflow   *Entry    `json:"workflow,omitempty"`
}

// Entries returns the workflows carried by b in either layout.
func (b *Bundle) Entries() []Entry {
	if b.Workflows != nil {
		return b.Workflows
	}
	if b.Workflow != nil {
		return []Entry{*b.Workflow}
	}
	return nil
}

// DecodeBundle parses an export document.
func DecodeBundle(data []byte) (*Bundle, error) {
	var raw struct {
		Bundle
		Workflows *[]Entry `json:"workflows"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	b := raw.Bundle
	if raw.Workflows != nil {
		b.Workflows = *raw.Workflows
	}
	if raw.Workflows == nil && b.Workflow == nil {
		return nil, ErrInvalidBundle
	}
	return &b, nil
}

type DuplicatePolicy string

const (
	DuplicateSkip      DuplicatePolicy = "skip"
	DuplicateRename    DuplicatePolicy = "rename"
	DuplicateOverwrite DuplicatePolicy = "overwrite"
)

// ParseDuplicatePolicy accepts skip, rename or overwrite. An empty string
// means rename.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DuplicateRename, nil
	case DuplicateSkip, DuplicateRename, DuplicateOverwrite:
		return p, nil
	default:
		return "", fmt.Errorf("invalid duplicate policy %q: must be skip, rename, or overwrite", s)
	}
}

type Imported struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	OriginalName string `json:"original_name"`
}

type Skipped struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type Failed struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// ImportResult reports what happened to every entry of a bundle.
type ImportResult struct {
	Success []Imported `json:"success"`
	Skipped []Skipped  `json:"skipped"`
	Errors  []Failed   `json:"errors"`
}

type Config struct {
	Store  Store
	Logger *slog.Logger
	Now    func() time.Time
}

type Archiver struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg Config) (*Archiver, error) {
	if cfg.Store == nil {
		return nil, errors.New("archive: store is required")
	}
	a := &Archiver{store: cfg.Store, logger: cfg.Logger, now: cfg.Now}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// Export bundles the workflows ids in the given order. A missing id fails
// the whole export with store.ErrNotFound.
func (a *Archiver) Export(ctx context.Context, ids []int64) (*Bundle, error) {
	b := a.newBundle()
	b.Workflows = make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, err := a.entry(ctx, id)
		if err != nil {
			return nil, err
		}
		b.Workflows = append(b.Workflows, e)
	}
	return b, nil
}

// ExportOne bundles a single workflow.
func (a *Archiver) ExportOne(ctx context.Context, id int64) (*Bundle, error) {
	e, err := a.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	b := a.newBundle()
	b.Workflow = &e
	return b, nil
}

func (a *Archiver) newBundle() *Bundle {
	return &Bundle{
		Version:    BundleVersion,
		ID:         uuid.New().String(),
		ExportedAt: a.now().UTC(),
	}
}

func (a *Archiver) entry(ctx context.Context, id int64) (Entry, error) {
	w, err := a.store.GetWorkflow(ctx, id)
	if err != nil {
		return Entry{}, fmt.Errorf("workflow %d: %w", id, err)
	}

	keys := make([]string, 0, len(w.Metadata))
	for k := range w.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	metadata := make([]store.MetadataEntry, len(keys))
	for i, k := range keys {
		metadata[i] = store.MetadataEntry{Key: k, Value: w.Metadata[k]}
	}

	prompts := w.Prompts
	if prompts == nil {
		prompts = []store.Prompt{}
	}
	return Entry{
		Workflow: WorkflowRecord{
			ID:           w.ID,
			Name:         w.Name,
			Description:  w.Description,
			Category:     w.Category,
			Favorite:     w.Favorite,
			WorkflowJSON: w.WorkflowJSON,
			ContentHash:  w.ContentHash,
			CreatedAt:    w.CreatedAt,
			UpdatedAt:    w.UpdatedAt,
		},
		Prompts:  prompts,
		Tags:     w.Tags,
		Metadata: metadata,
	}, nil
}

// Import stores every entry of b. Entries whose name is taken are skipped,
// renamed to "name (n)", or replace the stored workflow, depending on
// policy. A failing entry is reported and does not stop the import.
func (a *Archiver) Import(ctx context.Context, b *Bundle, policy DuplicatePolicy) (ImportResult, error) {
	entries := b.Entries()
	if entries == nil {
		return ImportResult{}, ErrInvalidBundle
	}

	res := ImportResult{Success: []Imported{}, Skipped: []Skipped{}, Errors: []Failed{}}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		original := e.Workflow.Name
		imported, skipped, err := a.importEntry(ctx, e, policy)
		switch {
		case err != nil:
			a.logger.Warn("Failed to import workflow", "name", original, "error", err)
			name := original
			if name == "" {
				name = "Unknown"
			}
			res.Errors = append(res.Errors, Failed{Name: name, Error: err.Error()})
		case skipped:
			res.Skipped = append(res.Skipped, Skipped{Name: original, Reason: "Duplicate name"})
		default:
			res.Success = append(res.Success, imported)
		}
	}
	a.logger.Info("Imported bundle", "success", len(res.Success), "skipped", len(res.Skipped), "errors", len(res.Errors))
	return res, nil
}

func (a *Archiver) importEntry(ctx context.Context, e Entry, policy DuplicatePolicy) (Imported, bool, error) {
	name := strings.TrimSpace(e.Workflow.Name)
	if name == "" {
		return Imported{}, false, errors.New("workflow name is required")
	}
	canonical, err := compactJSON(e.Workflow.WorkflowJSON)
	if err != nil {
		return Imported{}, false, fmt.Errorf("workflow_json: %w", err)
	}

	exists, err := a.store.NameExists(ctx, name, 0)
	if err != nil {
		return Imported{}, false, err
	}
	if exists {
		switch policy {
		case DuplicateSkip:
			return Imported{}, true, nil
		case DuplicateOverwrite:
			id, err := a.store.WorkflowIDByName(ctx, name)
			if err != nil {
				return Imported{}, false, err
			}
			if err := a.store.DeleteWorkflow(ctx, id); err != nil {
				return Imported{}, false, err
			}
		default:
			if name, err = a.uniqueName(ctx, name); err != nil {
				return Imported{}, false, err
			}
		}
	}

	tagIDs := make([]int64, 0, len(e.Tags))
	for _, t := range e.Tags {
		tag, err := a.store.GetOrCreateTag(ctx, t.Name, t.Color)
		if err != nil {
			return Imported{}, false, fmt.Errorf("tag %q: %w", t.Name, err)
		}
		tagIDs = append(tagIDs, tag.ID)
	}

	prompts := make([]store.PromptRecord, len(e.Prompts))
	for i, p := range e.Prompts {
		prompts[i] = store.PromptRecord{
			NodeID:     p.NodeID,
			NodeType:   p.NodeType,
			PromptType: p.PromptType,
			PromptText: p.PromptText,
		}
	}

	id, err := a.store.CreateWorkflow(ctx, store.NewWorkflow{
		Name:         name,
		Description:  e.Workflow.Description,
		Category:     e.Workflow.Category,
		Favorite:     e.Workflow.Favorite,
		WorkflowJSON: canonical,
		ContentHash:  ingest.ContentHash(canonical),
		Prompts:      prompts,
		Metadata:     e.Metadata,
		TagIDs:       tagIDs,
	})
	if err != nil {
		return Imported{}, false, err
	}
	return Imported{ID: id, Name: name, OriginalName: e.Workflow.Name}, false, nil
}

// uniqueName appends " (1)", " (2)", ... until the name is free.
func (a *Archiver) uniqueName(ctx context.Context, base string) (string, error) {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", base, n)
		exists, err := a.store.NameExists(ctx, candidate, 0)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}

// compactJSON accepts a document given either as JSON or as a JSON string
// holding it.
func compactJSON(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
