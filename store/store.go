// Package store persists workflows together with the prompts and metadata
// extracted from them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateName = errors.New("name already exists")
)

type Workflow struct {
	ID           int64                      `json:"id"`
	Name         string                     `json:"name"`
	Description  string                     `json:"description"`
	Category     string                     `json:"category"`
	Favorite     bool                       `json:"favorite"`
	WorkflowJSON json.RawMessage            `json:"workflow_json,omitempty"`
	ContentHash  string                     `json:"content_hash,omitempty"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
	PromptCount  int                        `json:"promptCount"`
	Tags         []Tag                      `json:"tags"`
	Prompts      []Prompt                   `json:"prompts,omitempty"`
	Metadata     map[string]json.RawMessage `json:"metadata,omitempty"`
}

type Prompt struct {
	ID         int64     `json:"id"`
	WorkflowID int64     `json:"workflow_id"`
	NodeID     string    `json:"node_id"`
	NodeType   string    `json:"node_type"`
	PromptType string    `json:"prompt_type"`
	PromptText string    `json:"prompt_text"`
	CreatedAt  time.Time `json:"created_at"`
}

// PromptRecord is a prompt to be stored with a new workflow.
type PromptRecord struct {
	NodeID     string `json:"node_id"`
	NodeType   string `json:"node_type"`
	PromptType string `json:"prompt_type"`
	PromptText string `json:"prompt_text"`
}

// MetadataEntry is one key of a workflow's metadata. Value is JSON.
type MetadataEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type NewWorkflow struct {
	Name         string
	Description  string
	Category     string
	Favorite     bool
	WorkflowJSON json.RawMessage
	ContentHash  string
	Prompts      []PromptRecord
	Metadata     []MetadataEntry
	TagIDs       []int64
}

// WorkflowUpdate changes the fields that are set.
type WorkflowUpdate struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty" validate:"omitempty,max=100"`
	Favorite    *bool   `json:"favorite,omitempty"`
}

type ListOptions struct {
	Page     int
	Limit    int
	SortBy   string // created_at, updated_at, name or favorite
	Order    string // ASC or DESC
	Category string
	Favorite *bool
	TagID    int64
}

type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

func newPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1,
	}
}

type WorkflowList struct {
	Workflows  []Workflow `json:"workflows"`
	Pagination Pagination `json:"pagination"`
}

type SearchHit struct {
	Workflow
	Snippet string `json:"snippet"`
}

type SearchResult struct {
	Workflows  []SearchHit `json:"workflows"`
	Pagination Pagination  `json:"pagination"`
}

type Tag struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Color         string    `json:"color"`
	CreatedAt     time.Time `json:"created_at"`
	WorkflowCount int       `json:"workflow_count"`
}

type TagUpdate struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Color *string `json:"color,omitempty" validate:"omitempty,hexcolor"`
}

type Collection struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Color         string    `json:"color"`
	Icon          string    `json:"icon"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	WorkflowCount int       `json:"workflow_count"`
}

type NewCollection struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description"`
	Color       string `json:"color" validate:"omitempty,hexcolor"`
	Icon        string `json:"icon" validate:"omitempty,max=50"`
}

type CollectionUpdate struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description,omitempty"`
	Color       *string `json:"color,omitempty" validate:"omitempty,hexcolor"`
	Icon        *string `json:"icon,omitempty" validate:"omitempty,max=50"`
}

type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type TagCount struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Count int    `json:"count"`
}

type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

type Summary struct {
	TotalWorkflows int `json:"totalWorkflows"`
	TotalPrompts   int `json:"totalPrompts"`
	TotalTags      int `json:"totalTags"`
	FavoriteCount  int `json:"favoriteCount"`
	RecentActivity int `json:"recentActivity"`
}

type Stats struct {
	Summary          Summary      `json:"summary"`
	ModelUsage       []Count      `json:"modelUsage"`
	SamplerUsage     []Count      `json:"samplerUsage"`
	TagDistribution  []TagCount   `json:"tagDistribution"`
	PromptTypes      []Count      `json:"promptTypes"`
	Timeline         []MonthCount `json:"timeline"`
	SizeDistribution []Count      `json:"sizeDistribution"`
}

// Store is the persistence layer used by the server and the archive.
type Store interface {
	CreateWorkflow(ctx context.Context, w NewWorkflow) (int64, error)
	GetWorkflow(ctx context.Context, id int64) (Workflow, error)
	ListWorkflows(ctx context.Context, opts ListOptions) (WorkflowList, error)
	UpdateWorkflow(ctx context.Context, id int64, u WorkflowUpdate) error
	DeleteWorkflow(ctx context.Context, id int64) error
	ToggleFavorite(ctx context.Context, id int64) (bool, error)
	NameExists(ctx context.Context, name string, excludeID int64) (bool, error)
	WorkflowIDByName(ctx context.Context, name string) (int64, error)
	FindByContentHash(ctx context.Context, hash string) (int64, error)
	SearchWorkflows(ctx context.Context, query string, page, limit int) (SearchResult, error)

	ListTags(ctx context.Context) ([]Tag, error)
	GetTag(ctx context.Context, id int64) (Tag, error)
	CreateTag(ctx context.Context, name, color string) (Tag, error)
	UpdateTag(ctx context.Context, id int64, u TagUpdate) (Tag, error)
	DeleteTag(ctx context.Context, id int64) error
	GetOrCreateTag(ctx context.Context, name, color string) (Tag, error)
	WorkflowTags(ctx context.Context, workflowID int64) ([]Tag, error)
	SetWorkflowTags(ctx context.Context, workflowID int64, tagIDs []int64) error
	AddWorkflowTags(ctx context.Context, workflowID int64, tagIDs []int64) error
	RemoveWorkflowTags(ctx context.Context, workflowID int64, tagIDs []int64) error

	ListCollections(ctx context.Context) ([]Collection, error)
	GetCollection(ctx context.Context, id int64) (Collection, error)
	CreateCollection(ctx context.Context, c NewCollection) (Collection, error)
	UpdateCollection(ctx context.Context, id int64, u CollectionUpdate) (Collection, error)
	DeleteCollection(ctx context.Context, id int64) error
	AddWorkflowsToCollection(ctx context.Context, collectionID int64, workflowIDs []int64) error
	RemoveWorkflowFromCollection(ctx context.Context, collectionID, workflowID int64) error
	CollectionWorkflows(ctx context.Context, collectionID int64) ([]Workflow, error)
	WorkflowCollections(ctx context.Context, workflowID int64) ([]Collection, error)

	Stats(ctx context.Context, now time.Time) (Stats, error)

	Close() error
}
