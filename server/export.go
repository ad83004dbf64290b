package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/KANAsho116/PromptStorage/archive"
)

func (s *Server) exportIDs(w http.ResponseWriter, r *http.Request) ([]int64, bool) {
	ids, err := parseIDs(r.URL.Query()["ids"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_ID", err.Error())
		return nil, false
	}
	if len(ids) == 0 {
		s.writeError(w, http.StatusBadRequest, "MISSING_IDS", "Workflow IDs are required")
		return nil, false
	}
	return ids, true
}

func setAttachment(w http.ResponseWriter, contentType, name string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}

func (s *Server) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.exportIDs(w, r)
	if !ok {
		return
	}
	b, err := s.archiver.Export(r.Context(), ids)
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	setAttachment(w, "application/json", fmt.Sprintf("workflows-export-%d.json", s.now().UnixMilli()))
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleExportZip(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.exportIDs(w, r)
	if !ok {
		return
	}
	b, err := s.archiver.Export(r.Context(), ids)
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}

	var buf bytes.Buffer
	if err := archive.WriteZip(&buf, b); err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	setAttachment(w, "application/zip", fmt.Sprintf("workflows-export-%d.zip", s.now().UnixMilli()))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleExportOne(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := s.archiver.ExportOne(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "Workflow with ID "+strconv.FormatInt(id, 10))
		return
	}
	setAttachment(w, "application/json", fmt.Sprintf("workflow-%d-%d.json", id, s.now().UnixMilli()))
	writeJSON(w, http.StatusOK, b)
}

// handleImport stores a bundle sent as a JSON document or a zip archive.
// The duplicate query parameter picks skip, rename (default) or overwrite.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	policy, err := archive.ParseDuplicatePolicy(r.URL.Query().Get("duplicate"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_DUPLICATE_ACTION", "Invalid duplicateAction. Must be: skip, rename, or overwrite")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		s.writeError(w, http.StatusBadRequest, "NO_FILE", "No file uploaded")
		return
	}

	var b *archive.Bundle
	if archive.IsZip(body) {
		b, err = archive.ReadZip(bytes.NewReader(body), int64(len(body)))
	} else {
		b, err = archive.DecodeBundle(body)
	}
	if err != nil {
		code := "INVALID_IMPORT"
		if errors.Is(err, archive.ErrNoBundleFile) {
			code = "INVALID_ZIP"
		}
		s.writeError(w, http.StatusBadRequest, code, err.Error())
		return
	}

	res, err := s.archiver.Import(r.Context(), b, policy)
	if err != nil {
		s.writeStoreError(w, err, "WORKFLOW_NOT_FOUND", "workflow")
		return
	}
	s.writeData(w, http.StatusOK, res, "")
}
