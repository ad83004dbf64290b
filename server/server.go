// Package server exposes the workflow store over a JSON HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/KANAsho116/PromptStorage/archive"
	"github.com/KANAsho116/PromptStorage/ingest"
	"github.com/KANAsho116/PromptStorage/parser"
	"github.com/KANAsho116/PromptStorage/store"
)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Store      store.Store
	Ingest     *ingest.Service
	Archiver   *archive.Archiver
	APIPrefix  string
	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
	Now        func() time.Time
}

// Server is the PromptStorage HTTP API server.
type Server struct {
	store      store.Store
	ingest     *ingest.Service
	archiver   *archive.Archiver
	prefix     string
	corsOrigin string
	maxBody    int64
	logger     *slog.Logger
	now        func() time.Time
	validate   *validator.Validate
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}
	s := &Server{
		store:      cfg.Store,
		ingest:     cfg.Ingest,
		archiver:   cfg.Archiver,
		prefix:     "/" + strings.Trim(cfg.APIPrefix, "/"),
		corsOrigin: cfg.CORSOrigin,
		maxBody:    cfg.MaxBody,
		logger:     cfg.Logger,
		now:        cfg.Now,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
	if s.prefix == "/" {
		s.prefix = ""
	}
	if s.corsOrigin == "" {
		s.corsOrigin = "*"
	}
	if s.maxBody <= 0 {
		s.maxBody = 50 << 20
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	var err error
	if s.ingest == nil {
		if s.ingest, err = ingest.NewService(ingest.Config{Store: cfg.Store, Logger: s.logger, Now: s.now}); err != nil {
			return nil, err
		}
	}
	if s.archiver == nil {
		if s.archiver, err = archive.New(archive.Config{Store: cfg.Store, Logger: s.logger, Now: s.now}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)
	handler = s.logMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the API routes under the configured prefix.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	handle := func(pattern string, h http.HandlerFunc) {
		method, path, _ := strings.Cut(pattern, " ")
		mux.HandleFunc(method+" "+s.prefix+path, h)
	}

	handle("GET /health", s.handleHealth)

	handle("GET /workflows", s.handleListWorkflows)
	handle("POST /workflows", s.handleCreateWorkflow)
	handle("POST /workflows/upload", s.handleUploadWorkflow)
	handle("GET /workflows/search", s.handleSearchWorkflows)
	handle("GET /workflows/{id}", s.handleGetWorkflow)
	handle("PUT /workflows/{id}", s.handleUpdateWorkflow)
	handle("DELETE /workflows/{id}", s.handleDeleteWorkflow)
	handle("PATCH /workflows/{id}/favorite", s.handleToggleFavorite)
	handle("PUT /workflows/{id}/tags", s.handleSetWorkflowTags)
	handle("POST /workflows/{id}/tags", s.handleAddWorkflowTags)
	handle("DELETE /workflows/{id}/tags", s.handleRemoveWorkflowTags)

	handle("POST /parse", s.handleParse)

	handle("GET /tags", s.handleListTags)
	handle("POST /tags", s.handleCreateTag)
	handle("GET /tags/{id}", s.handleGetTag)
	handle("PUT /tags/{id}", s.handleUpdateTag)
	handle("DELETE /tags/{id}", s.handleDeleteTag)

	handle("GET /collections", s.handleListCollections)
	handle("POST /collections", s.handleCreateCollection)
	handle("GET /collections/{id}", s.handleGetCollection)
	handle("PUT /collections/{id}", s.handleUpdateCollection)
	handle("DELETE /collections/{id}", s.handleDeleteCollection)
	handle("POST /collections/{id}/workflows", s.handleAddCollectionWorkflows)
	handle("DELETE /collections/{id}/workflows/{workflowId}", s.handleRemoveCollectionWorkflow)
	handle("GET /collections/workflow/{workflowId}", s.handleWorkflowCollections)

	handle("GET /stats", s.handleStats)

	handle("GET /export", s.handleExportJSON)
	handle("GET /export/zip", s.handleExportZip)
	handle("GET /export/{id}", s.handleExportOne)
	handle("POST /import", s.handleImport)
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

// --- JSON helpers ---

type response struct {
	Success    bool              `json:"success"`
	Data       any               `json:"data,omitempty"`
	Message    string            `json:"message,omitempty"`
	Pagination *store.Pagination `json:"pagination,omitempty"`
	Query      string            `json:"query,omitempty"`
	Timestamp  string            `json:"timestamp"`
}

type apiError struct {
	Success   bool         `json:"success"`
	Error     apiErrorBody `json:"error"`
	Timestamp string       `json:"timestamp"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func (s *Server) writeData(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, response{Success: true, Data: data, Message: message, Timestamp: s.timestamp()})
}

func (s *Server) writePage(w http.ResponseWriter, data any, p store.Pagination, query string) {
	writeJSON(w, http.StatusOK, response{Success: true, Data: data, Pagination: &p, Query: query, Timestamp: s.timestamp()})
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error:     apiErrorBody{Code: code, Message: message},
		Timestamp: s.timestamp(),
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}

// writeStoreError maps a store or ingest error onto the API error codes.
// notFound is the code used for store.ErrNotFound.
func (s *Server) writeStoreError(w http.ResponseWriter, err error, notFound, what string) {
	var verr *parser.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeError(w, http.StatusBadRequest, "INVALID_WORKFLOW_JSON", verr.Reason)
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, notFound, what+" not found")
	case errors.Is(err, store.ErrDuplicateName):
		s.writeError(w, http.StatusConflict, "DUPLICATE_NAME", err.Error())
	case isMaxBytesError(err):
		s.writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
	default:
		s.logger.Error("Request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
	}
}

func isMaxBytesError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

// decodeBody decodes a JSON request body into dest and validates it.
// It writes the error response itself and reports whether to continue.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if isMaxBytesError(err) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON format: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dest); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]string, len(verrs))
			for i, fe := range verrs {
				details[i] = fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag())
			}
			s.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "request body is invalid", details...)
			return false
		}
		s.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return false
	}
	return true
}

// pathID parses the {name} path value as a positive id.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "INVALID_ID", fmt.Sprintf("invalid %s %q", name, r.PathValue(name)))
		return 0, false
	}
	return id, true
}

// parseIDs parses a comma separated id list. Repeated parameters are
// accepted too.
func parseIDs(values []string) ([]int64, error) {
	var ids []int64
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid id %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeData(w, http.StatusOK, map[string]string{"status": "ok"}, "")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), s.now())
	if err != nil {
		s.writeStoreError(w, err, "NOT_FOUND", "stats")
		return
	}
	s.writeData(w, http.StatusOK, stats, "")
}
