package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/KANAsho116/PromptStorage/store"
)

type createTagRequest struct {
	Name  string `json:"name" validate:"max=100"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}

func (s *Server) writeTagError(w http.ResponseWriter, err error, id int64) {
	if errors.Is(err, store.ErrDuplicateName) {
		s.writeError(w, http.StatusConflict, "DUPLICATE_TAG", "Tag with this name already exists")
		return
	}
	s.writeStoreError(w, err, "TAG_NOT_FOUND", "Tag with ID "+strconv.FormatInt(id, 10))
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "TAG_NOT_FOUND", "tag")
		return
	}
	s.writeData(w, http.StatusOK, tags, "")
}

func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	tag, err := s.store.GetTag(r.Context(), id)
	if err != nil {
		s.writeTagError(w, err, id)
		return
	}
	s.writeData(w, http.StatusOK, tag, "")
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var req createTagRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "MISSING_NAME", "Tag name is required")
		return
	}
	tag, err := s.store.CreateTag(r.Context(), req.Name, req.Color)
	if err != nil {
		s.writeTagError(w, err, 0)
		return
	}
	s.writeData(w, http.StatusCreated, tag, "Tag created successfully")
}

func (s *Server) handleUpdateTag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var u store.TagUpdate
	if !s.decodeBody(w, r, &u) {
		return
	}
	tag, err := s.store.UpdateTag(r.Context(), id, u)
	if err != nil {
		s.writeTagError(w, err, id)
		return
	}
	s.writeData(w, http.StatusOK, tag, "Tag updated successfully")
}

// handleDeleteTag refuses to delete a tag still attached to workflows.
func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	tag, err := s.store.GetTag(r.Context(), id)
	if err != nil {
		s.writeTagError(w, err, id)
		return
	}
	if tag.WorkflowCount > 0 {
		s.writeError(w, http.StatusConflict, "TAG_IN_USE",
			fmt.Sprintf("Tag is used by %d workflow(s). Remove tag from workflows first.", tag.WorkflowCount))
		return
	}
	if err := s.store.DeleteTag(r.Context(), id); err != nil {
		s.writeTagError(w, err, id)
		return
	}
	s.writeData(w, http.StatusOK, nil, "Tag deleted successfully")
}
