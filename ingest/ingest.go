// Package ingest stores ComfyUI workflows together with the prompts and
// metadata the parser extracts from them.
package ingest

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"github.com/KANAsho116/PromptStorage/client"
	"github.com/KANAsho116/PromptStorage/parser"
	"github.com/KANAsho116/PromptStorage/store"
)

var (
	// ErrNoWorkflow is returned when a PNG or history entry carries no graph.
	ErrNoWorkflow = errors.New("no workflow found")
	// ErrDuplicateContent is returned when Request.SkipDuplicateContent is
	// set and an identical workflow is already stored.
	ErrDuplicateContent = errors.New("workflow content already stored")
)

const maxRenameAttempts = 1000

// Store is the part of the persistence layer the service writes through.
type Store interface {
	CreateWorkflow(ctx context.Context, w store.NewWorkflow) (int64, error)
	NameExists(ctx context.Context, name string, excludeID int64) (bool, error)
	FindByContentHash(ctx context.Context, hash string) (int64, error)
	GetOrCreateTag(ctx context.Context, name, color string) (store.Tag, error)
}

type Config struct {
	Store  Store
	Parser *parser.Parser
	Logger *slog.Logger
	Now    func() time.Time
}

// Service validates, names and stores workflows.
type Service struct {
	store  Store
	parser *parser.Parser
	logger *slog.Logger
	now    func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	s := &Service{
		store:  cfg.Store,
		parser: cfg.Parser,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if s.parser == nil {
		s.parser = parser.New(parser.Options{Logger: cfg.Logger})
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Request describes a workflow to store. Workflow holds the document JSON,
// either as an object or as a string containing the object.
type Request struct {
	Name        string
	Description string
	Category    string
	Favorite    bool
	Tags        []string
	Workflow    []byte

	// RenameOnConflict appends " (2)", " (3)", ... to a name already in use
	// instead of failing with store.ErrDuplicateName.
	RenameOnConflict bool
	// SkipDuplicateContent fails with ErrDuplicateContent when a workflow
	// with the same content hash exists.
	SkipDuplicateContent bool
}

// Result is what was stored.
type Result struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Format      string          `json:"format"`
	ContentHash string          `json:"content_hash"`
	Prompts     []parser.Prompt `json:"prompts"`
	Metadata    parser.Metadata `json:"metadata"`
}

// Create validates req.Workflow and stores it with its prompts and
// metadata. Invalid documents fail with a *parser.ValidationError before
// anything is written; a name already in use fails with
// store.ErrDuplicateName unless req.RenameOnConflict is set.
func (s *Service) Create(ctx context.Context, req Request) (Result, error) {
	doc, err := parser.LoadDocument(unwrapString(req.Workflow))
	if err != nil {
		return Result{}, err
	}

	canonical, err := compact(doc.Bytes())
	if err != nil {
		return Result{}, err
	}
	hash := ContentHash(canonical)
	if req.SkipDuplicateContent {
		id, err := s.store.FindByContentHash(ctx, hash)
		switch {
		case err == nil:
			return Result{ID: id, ContentHash: hash}, fmt.Errorf("%w as workflow %d", ErrDuplicateContent, id)
		case !errors.Is(err, store.ErrNotFound):
			return Result{}, err
		}
	}

	parsed, err := s.parser.Parse(doc)
	if err != nil {
		return Result{}, err
	}

	name, err := s.chooseName(ctx, parser.DisplayName(req.Name, parsed.Metadata, s.now()), req.RenameOnConflict)
	if err != nil {
		return Result{}, err
	}

	tagIDs, err := s.tagIDs(ctx, req.Tags)
	if err != nil {
		return Result{}, err
	}

	metadata, err := metadataEntries(parsed.Metadata)
	if err != nil {
		return Result{}, err
	}

	id, err := s.store.CreateWorkflow(ctx, store.NewWorkflow{
		Name:         name,
		Description:  req.Description,
		Category:     req.Category,
		Favorite:     req.Favorite,
		WorkflowJSON: canonical,
		ContentHash:  hash,
		Prompts:      promptRecords(parsed.Prompts),
		Metadata:     metadata,
		TagIDs:       tagIDs,
	})
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("Stored workflow", "id", id, "name", name, "format", parsed.Format, "prompts", len(parsed.Prompts))
	return Result{
		ID:          id,
		Name:        name,
		Format:      parsed.Format,
		ContentHash: hash,
		Prompts:     parsed.Prompts,
		Metadata:    parsed.Metadata,
	}, nil
}

// CreateFromPNG stores the workflow embedded in a ComfyUI PNG.
func (s *Service) CreateFromPNG(ctx context.Context, r io.Reader, req Request) (Result, error) {
	workflow, err := WorkflowFromPNG(r)
	if err != nil {
		return Result{}, err
	}
	req.Workflow = workflow
	return s.Create(ctx, req)
}

// CreateFromHistory stores the graph of a finished ComfyUI prompt. The
// executed API graph is preferred over the UI workflow sent along with it.
func (s *Service) CreateFromHistory(ctx context.Context, item client.HistoryItem, req Request) (Result, error) {
	switch {
	case len(item.Prompt) > 0:
		req.Workflow = item.Prompt
	case len(item.Workflow) > 0:
		req.Workflow = item.Workflow
	default:
		return Result{}, fmt.Errorf("prompt %s: %w", item.PromptID, ErrNoWorkflow)
	}
	if req.Description == "" {
		req.Description = "ComfyUI prompt " + item.PromptID
	}
	return s.Create(ctx, req)
}

// WorkflowFromPNG returns the workflow JSON embedded in a ComfyUI PNG: the
// "prompt" chunk (API format) when present, else the "workflow" chunk.
func WorkflowFromPNG(r io.Reader) ([]byte, error) {
	chunks, err := client.GetPngMetadata(r)
	if err != nil {
		return nil, fmt.Errorf("read png: %w", err)
	}
	for _, key := range []string{"prompt", "workflow"} {
		if text := strings.TrimSpace(chunks[key]); text != "" {
			return []byte(text), nil
		}
	}
	return nil, ErrNoWorkflow
}

// ContentHash is the hex blake3 digest of a compact workflow document.
func ContentHash(canonical []byte) string {
	sum := blake3.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func compact(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unwrapString returns the document inside a JSON string, or b unchanged.
func unwrapString(b []byte) []byte {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return b
	}
	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return b
	}
	return []byte(inner)
}

func (s *Service) chooseName(ctx context.Context, name string, rename bool) (string, error) {
	candidate := name
	for n := 2; ; n++ {
		exists, err := s.store.NameExists(ctx, candidate, 0)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		if !rename {
			return "", fmt.Errorf("workflow %q: %w", name, store.ErrDuplicateName)
		}
		if n > maxRenameAttempts {
			return "", fmt.Errorf("workflow %q: no free name after %d attempts: %w", name, maxRenameAttempts, store.ErrDuplicateName)
		}
		candidate = fmt.Sprintf("%s (%d)", name, n)
	}
}

func (s *Service) tagIDs(ctx context.Context, names []string) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	seen := make(map[int64]bool)
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		tag, err := s.store.GetOrCreateTag(ctx, name, "")
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", name, err)
		}
		if !seen[tag.ID] {
			seen[tag.ID] = true
			ids = append(ids, tag.ID)
		}
	}
	return ids, nil
}

func promptRecords(prompts []parser.Prompt) []store.PromptRecord {
	records := make([]store.PromptRecord, len(prompts))
	for i, p := range prompts {
		records[i] = store.PromptRecord{
			NodeID:     p.NodeID,
			NodeType:   p.NodeType,
			PromptType: string(p.PromptType),
			PromptText: p.PromptText,
		}
	}
	return records
}

func metadataEntries(meta parser.Metadata) ([]store.MetadataEntry, error) {
	fields := meta.Fields()
	entries := make([]store.MetadataEntry, len(fields))
	for i, f := range fields {
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("metadata %s: %w", f.Key, err)
		}
		entries[i] = store.MetadataEntry{Key: f.Key, Value: value}
	}
	return entries, nil
}
