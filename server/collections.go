package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/KANAsho116/PromptStorage/store"
)

type addCollectionWorkflowsRequest struct {
	WorkflowID  int64   `json:"workflowId" validate:"gte=0"`
	WorkflowIDs []int64 `json:"workflowIds" validate:"dive,gt=0"`
}

func (s *Server) writeCollectionError(w http.ResponseWriter, err error, id int64) {
	if errors.Is(err, store.ErrDuplicateName) {
		s.writeError(w, http.StatusConflict, "DUPLICATE_NAME", "Collection with this name already exists")
		return
	}
	s.writeStoreError(w, err, "COLLECTION_NOT_FOUND", "Collection with ID "+strconv.FormatInt(id, 10))
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	cs, err := s.store.ListCollections(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "COLLECTION_NOT_FOUND", "collection")
		return
	}
	s.writeData(w, http.StatusOK, cs, "")
}

// handleGetCollection responds with the collection and its workflows.
func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := s.store.GetCollection(r.Context(), id)
	if err != nil {
		s.writeCollectionError(w, err, id)
		return
	}
	workflows, err := s.store.CollectionWorkflows(r.Context(), id)
	if err != nil {
		s.writeCollectionError(w, err, id)
		return
	}
	s.writeData(w, http.StatusOK, struct {
		store.Collection
		Workflows []store.Workflow `json:"workflows"`
	}{c, workflows}, "")
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req store.NewCollection
	if !s.decodeBody(w, r, &req) {
		return
	}
	c, err := s.store.CreateCollection(r.Context(), req)
	if err != nil {
		s.writeCollectionError(w, err, 0)
		return
	}
	s.writeData(w, http.StatusCreated, c, "Collection created successfully")
}

func (s *Server) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var u store.CollectionUpdate
	if !s.decodeBody(w, r, &u) {
		return
	}
	c, err := s.store.UpdateCollection(r.Context(), id, u)
	if err != nil {
		s.writeCollectionError(w, err, id)
		return
	}
	s.writeData(w, http.StatusOK, c, "Collection updated successfully")
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteCollection(r.Context(), id); err != nil {
		s.writeCollectionError(w, err, id)
		return
	}
	s.writeData(w, http.StatusOK, nil, "Collection deleted successfully")
}

func (s *Server) handleAddCollectionWorkflows(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req addCollectionWorkflowsRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	ids := req.WorkflowIDs
	if req.WorkflowID > 0 {
		ids = append(ids, req.WorkflowID)
	}
	if len(ids) == 0 {
		s.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "workflowId or workflowIds is required")
		return
	}
	if err := s.store.AddWorkflowsToCollection(r.Context(), id, ids); err != nil {
		s.writeStoreError(w, err, "COLLECTION_NOT_FOUND", "Collection or workflow")
		return
	}
	s.writeData(w, http.StatusOK, nil, "Workflows added to collection")
}

func (s *Server) handleRemoveCollectionWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	workflowID, ok := s.pathID(w, r, "workflowId")
	if !ok {
		return
	}
	if err := s.store.RemoveWorkflowFromCollection(r.Context(), id, workflowID); err != nil {
		s.writeStoreError(w, err, "COLLECTION_NOT_FOUND", "Workflow in collection")
		return
	}
	s.writeData(w, http.StatusOK, nil, "Workflow removed from collection")
}

func (s *Server) handleWorkflowCollections(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := s.pathID(w, r, "workflowId")
	if !ok {
		return
	}
	cs, err := s.store.WorkflowCollections(r.Context(), workflowID)
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	s.writeData(w, http.StatusOK, cs, "")
}
