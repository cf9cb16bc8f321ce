package main

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"jurisflow/auth"
	"jurisflow/broadcast"
	"jurisflow/extract"
	"jurisflow/httpx"
	"jurisflow/proceeding"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes the proceeding engine over HTTP.
type Server struct {
	cases       *proceeding.Service
	hub         *broadcast.Hub
	extractor   extract.Extractor
	tokens      *auth.Service
	verdicts    *caseLimiter
	logger      *slog.Logger
	maxUpload   int64
	keepAlive   time.Duration
	allowedCORS []string
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "observers": s.hub.Len()})
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/events", s.handleEvents)
		api.Post("/create-case", s.handleCreateCase)
		api.Post("/upload", s.handleUpload)
		api.Post("/argument", s.handleArgument)
		api.Post("/surrender", s.handleSurrender)
		api.Post("/verdict", s.handleVerdict)
		api.Get("/case/{caseId}", s.handleGetCase)
		api.Get("/case/{caseId}/next-verdict", s.handleNextVerdict)
		api.Post("/case/{caseId}/token", s.handleIssueToken)
	})
	return r
}

type createCaseRequest struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	c, created, err := s.cases.CreateCase(r.Context(), proceeding.CreateCaseParams{Title: req.Title, CaseType: req.Type})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := map[string]any{
		"caseId": c.ID,
		"title":  c.Title,
		"type":   c.CaseType,
		"phase":  c.Phase,
		"status": c.Status,
	}
	if created {
		resp["message"] = "Case created successfully"
		httpx.WriteJSON(w, http.StatusCreated, resp)
		return
	}
	resp["message"] = "Case already exists"
	resp["existing"] = true
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "BAD_UPLOAD", "expected a multipart form within the upload limit", nil)
		return
	}

	caseID := strings.TrimSpace(r.FormValue("caseId"))
	side := proceeding.Side(strings.TrimSpace(r.FormValue("side")))
	if caseID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "BAD_REQUEST", "caseId is required", nil)
		return
	}
	if !s.authorize(w, r, caseID, side) {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "BAD_REQUEST", "no file uploaded", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "BAD_UPLOAD", err.Error(), nil)
		return
	}
	text, err := s.extractor.Extract(header.Filename, data)
	if err != nil {
		status, code := http.StatusUnprocessableEntity, "EXTRACTION_FAILED"
		switch {
		case errors.Is(err, extract.ErrUnsupportedFormat):
			status, code = http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT"
		case errors.Is(err, extract.ErrTooLarge):
			status, code = http.StatusRequestEntityTooLarge, "DOCUMENT_TOO_LARGE"
		}
		httpx.WriteError(w, r, status, code, err.Error(), nil)
		return
	}

	name := strings.TrimSpace(r.FormValue("documentName"))
	if name == "" {
		name = header.Filename
	}
	doc, err := s.cases.FileDocument(r.Context(), proceeding.FileDocumentParams{
		CaseID:   caseID,
		Side:     side,
		Filename: name,
		Content:  text,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"caseId":   doc.CaseID,
		"document": toDocumentResponse(doc),
		"message":  "Uploaded and parsed",
	})
}

type argumentRequest struct {
	CaseID string `json:"caseId"`
	Side   string `json:"side"`
	Text   string `json:"text"`
}

func (s *Server) handleArgument(w http.ResponseWriter, r *http.Request) {
	var req argumentRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.CaseID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "BAD_REQUEST", "caseId is required", nil)
		return
	}
	side := proceeding.Side(req.Side)
	if !s.authorize(w, r, req.CaseID, side) {
		return
	}

	arg, err := s.cases.SubmitArgument(r.Context(), req.CaseID, side, req.Text)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toArgumentResponse(arg))
}

type surrenderRequest struct {
	CaseID string `json:"caseId"`
	Side   string `json:"side"`
}

func (s *Server) handleSurrender(w http.ResponseWriter, r *http.Request) {
	var req surrenderRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.CaseID == "" || req.Side == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "BAD_REQUEST", "caseId and side are required", nil)
		return
	}
	side := proceeding.Side(req.Side)
	if !s.authorize(w, r, req.CaseID, side) {
		return
	}

	d, err := s.cases.Surrender(r.Context(), req.CaseID, side)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Case surrendered by " + req.Side,
		"verdict": toDecisionResponse(d),
	})
}

type verdictRequest struct {
	CaseID      string `json:"caseId"`
	ContextNote string `json:"contextNote"`
}

func (s *Server) handleVerdict(w http.ResponseWriter, r *http.Request) {
	var req verdictRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.CaseID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "BAD_REQUEST", "caseId is required", nil)
		return
	}
	if !s.verdicts.Allow(req.CaseID) {
		w.Header().Set("Retry-After", "5")
		httpx.WriteError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many verdict requests for this case", nil)
		return
	}

	d, err := s.cases.RequestVerdict(r.Context(), req.CaseID, req.ContextNote)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toDecisionResponse(d))
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	view, err := s.cases.GetCase(r.Context(), chi.URLParam(r, "caseId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toCaseResponse(view))
}

func (s *Server) handleNextVerdict(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseId")
	t, err := s.cases.Classify(r.Context(), caseID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"caseId": caseID, "requestType": t})
}

type tokenRequest struct {
	Side string `json:"side"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if !s.tokens.Enabled() {
		httpx.WriteError(w, r, http.StatusNotFound, "TOKENS_DISABLED", "party tokens are not enabled", nil)
		return
	}
	var req tokenRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	caseID := chi.URLParam(r, "caseId")
	if _, err := s.cases.Classify(r.Context(), caseID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	token, expires, err := s.tokens.IssuePartyToken(caseID, proceeding.Side(req.Side))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"token":     token,
		"expiresAt": expires.UTC().Format(time.RFC3339),
		"caseId":    caseID,
		"side":      req.Side,
	})
}

// authorize enforces party tokens when they are enabled.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, caseID string, side proceeding.Side) bool {
	if !s.tokens.Enabled() {
		return true
	}
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if token == "" {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "party token required", nil)
		return false
	}
	if err := s.tokens.Authorize(token, caseID, side); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrWrongParty) {
			status = http.StatusForbidden
		}
		httpx.WriteError(w, r, status, "UNAUTHORIZED", err.Error(), nil)
		return false
	}
	return true
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, proceeding.ErrValidation):
		httpx.WriteError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
	case errors.Is(err, proceeding.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "case not found", nil)
	case errors.Is(err, proceeding.ErrQuotaExceeded):
		httpx.WriteError(w, r, http.StatusConflict, "QUOTA_EXCEEDED", err.Error(), map[string]int{"quota": s.cases.Policy().CounterQuota})
	case errors.Is(err, proceeding.ErrCaseClosed):
		httpx.WriteError(w, r, http.StatusConflict, "CASE_CLOSED", err.Error(), nil)
	case errors.Is(err, proceeding.ErrUpstream):
		httpx.WriteError(w, r, http.StatusBadGateway, "UPSTREAM_FAILED", "verdict generation failed; nothing was recorded", nil)
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", httpx.RequestID(r), "error", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(started).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.allowedCORS {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
