package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/KANAsho116/PromptStorage/client"
	"github.com/KANAsho116/PromptStorage/ingest"
	"github.com/KANAsho116/PromptStorage/store"
)

type createWorkflowRequest struct {
	Name         string          `json:"name" validate:"max=255"`
	Description  string          `json:"description"`
	Category     string          `json:"category" validate:"max=100"`
	Favorite     bool            `json:"favorite"`
	Tags         []string        `json:"tags" validate:"dive,max=100"`
	WorkflowJSON json.RawMessage `json:"workflow_json"`
}

type workflowTagsRequest struct {
	TagIDs []int64 `json:"tagIds" validate:"required,min=1,dive,gt=0"`
}

type setWorkflowTagsRequest struct {
	TagIDs []int64 `json:"tagIds" validate:"required,dive,gt=0"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if len(bytes.TrimSpace(req.WorkflowJSON)) == 0 || string(req.WorkflowJSON) == "null" {
		s.writeError(w, http.StatusBadRequest, "INVALID_WORKFLOW_JSON", "workflow_json is required")
		return
	}

	res, err := s.ingest.Create(r.Context(), ingest.Request{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Favorite:    req.Favorite,
		Tags:        req.Tags,
		Workflow:    req.WorkflowJSON,
	})
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	s.writeCreatedWorkflow(w, r, res.ID)
}

// handleUploadWorkflow stores a raw workflow file: a ComfyUI PNG or a JSON
// document. Query parameters carry name, description, category, tags
// (comma separated) and rename=true to suffix a taken name.
func (s *Server) handleUploadWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		s.writeError(w, http.StatusBadRequest, "NO_FILE", "No file uploaded")
		return
	}

	q := r.URL.Query()
	req := ingest.Request{
		Name:                 q.Get("name"),
		Description:          q.Get("description"),
		Category:             q.Get("category"),
		Favorite:             q.Get("favorite") == "true",
		RenameOnConflict:     q.Get("rename") == "true",
		SkipDuplicateContent: q.Get("skipDuplicates") == "true",
	}
	if tags := q.Get("tags"); tags != "" {
		req.Tags = strings.Split(tags, ",")
	}

	var res ingest.Result
	if client.IsPNG(body) {
		res, err = s.ingest.CreateFromPNG(r.Context(), bytes.NewReader(body), req)
	} else {
		req.Workflow = body
		res, err = s.ingest.Create(r.Context(), req)
	}
	switch {
	case errors.Is(err, ingest.ErrNoWorkflow):
		s.writeError(w, http.StatusBadRequest, "NO_WORKFLOW", "The PNG file carries no ComfyUI workflow")
		return
	case errors.Is(err, ingest.ErrDuplicateContent):
		s.writeError(w, http.StatusConflict, "DUPLICATE_CONTENT", err.Error())
		return
	case err != nil:
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	s.writeCreatedWorkflow(w, r, res.ID)
}

func (s *Server) writeCreatedWorkflow(w http.ResponseWriter, r *http.Request, id int64) {
	wf, err := s.store.GetWorkflow(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	s.writeData(w, http.StatusCreated, wf, "Workflow created successfully")
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{
		Page:     atoiDefault(q.Get("page"), 1),
		Limit:    atoiDefault(q.Get("limit"), 20),
		SortBy:   q.Get("sortBy"),
		Order:    q.Get("order"),
		Category: q.Get("category"),
	}
	if v := q.Get("favorite"); v != "" {
		fav := v == "true"
		opts.Favorite = &fav
	}
	if v := q.Get("tag"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "INVALID_ID", "invalid tag "+strconv.Quote(v))
			return
		}
		opts.TagID = id
	}

	list, err := s.store.ListWorkflows(r.Context(), opts)
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	s.writePage(w, list.Workflows, list.Pagination, "")
}

func (s *Server) handleSearchWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "MISSING_QUERY", "Search query is required")
		return
	}
	res, err := s.store.SearchWorkflows(r.Context(), query, atoiDefault(q.Get("page"), 1), atoiDefault(q.Get("limit"), 20))
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	s.writePage(w, res.Workflows, res.Pagination, query)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	wf, err := s.store.GetWorkflow(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "Workflow with ID "+strconv.FormatInt(id, 10))
		return
	}
	s.writeData(w, http.StatusOK, wf, "")
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var u store.WorkflowUpdate
	if !s.decodeBody(w, r, &u) {
		return
	}
	if u.Name != nil {
		trimmed := strings.TrimSpace(*u.Name)
		if trimmed == "" {
			s.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "name must not be blank")
			return
		}
		u.Name = &trimmed
	}

	if err := s.store.UpdateWorkflow(r.Context(), id, u); err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "Workflow with ID "+strconv.FormatInt(id, 10))
		return
	}
	wf, err := s.store.GetWorkflow(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	s.writeData(w, http.StatusOK, wf, "Workflow updated successfully")
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteWorkflow(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "Workflow with ID "+strconv.FormatInt(id, 10))
		return
	}
	s.writeData(w, http.StatusOK, nil, "Workflow deleted successfully")
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.store.ToggleFavorite(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "Workflow with ID "+strconv.FormatInt(id, 10))
		return
	}
	wf, err := s.store.GetWorkflow(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	s.writeData(w, http.StatusOK, wf, "Favorite status updated")
}

func (s *Server) handleSetWorkflowTags(w http.ResponseWriter, r *http.Request) {
	var req setWorkflowTagsRequest
	s.changeWorkflowTags(w, r, &req, func(id int64) error {
		return s.store.SetWorkflowTags(r.Context(), id, req.TagIDs)
	})
}

func (s *Server) handleAddWorkflowTags(w http.ResponseWriter, r *http.Request) {
	var req workflowTagsRequest
	s.changeWorkflowTags(w, r, &req, func(id int64) error {
		return s.store.AddWorkflowTags(r.Context(), id, req.TagIDs)
	})
}

func (s *Server) handleRemoveWorkflowTags(w http.ResponseWriter, r *http.Request) {
	var req workflowTagsRequest
	s.changeWorkflowTags(w, r, &req, func(id int64) error {
		return s.store.RemoveWorkflowTags(r.Context(), id, req.TagIDs)
	})
}

// changeWorkflowTags decodes body, applies change to the workflow in the
// path and responds with the workflow's tags.
func (s *Server) changeWorkflowTags(w http.ResponseWriter, r *http.Request, body any, change func(id int64) error) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if !s.decodeBody(w, r, body) {
		return
	}
	if err := change(id); err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "Workflow or tag")
		return
	}
	tags, err := s.store.WorkflowTags(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	s.writeData(w, http.StatusOK, tags, "Tags updated successfully")
}

// handleParse previews what storing the request body would extract.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	if client.IsPNG(body) {
		if body, err = ingest.WorkflowFromPNG(bytes.NewReader(body)); err != nil {
			s.writeError(w, http.StatusBadRequest, "NO_WORKFLOW", err.Error())
			return
		}
	}
	s.writeData(w, http.StatusOK, s.ingest.Preview(body), "")
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
