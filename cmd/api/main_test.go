package main

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jurisflow/auth"
	"jurisflow/broadcast"
	"jurisflow/extract"
	"jurisflow/httpx"
	"jurisflow/proceeding"
)

type stubJudge struct {
	text string
	err  error
}

func (s *stubJudge) GenerateVerdict(_ context.Context, req proceeding.VerdictRequest) (proceeding.VerdictResult, error) {
	if s.err != nil {
		return proceeding.VerdictResult{}, s.err
	}
	return proceeding.VerdictResult{
		Text:       s.text,
		Provenance: map[string]any{"requestType": string(req.RequestType)},
	}, nil
}

type serverOption func(*Server)

func withTokens(secret string) serverOption {
	return func(s *Server) { s.tokens = auth.NewService(secret, time.Hour) }
}

func withVerdictLimit(rps float64, burst int) serverOption {
	return func(s *Server) { s.verdicts = newCaseLimiter(rps, burst) }
}

func withMaxText(n int64) serverOption {
	return func(s *Server) { s.extractor = extract.NewRegistry(extract.WithMaxTextBytes(n)) }
}

func newTestServer(t *testing.T, judge proceeding.Adjudicator, opts ...serverOption) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := broadcast.NewHub(broadcast.WithLogger(logger))
	t.Cleanup(hub.Close)

	srv := &Server{
		cases:       proceeding.NewService(proceeding.NewMemoryStore(), judge, hub, proceeding.WithLogger(logger)),
		hub:         hub,
		extractor:   extract.NewRegistry(),
		tokens:      auth.NewService("", 0),
		verdicts:    newCaseLimiter(0, 0),
		logger:      logger,
		maxUpload:   1 << 20,
		keepAlive:   time.Second,
		allowedCORS: []string{"http://localhost:3000"},
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorBody {
	t.Helper()
	var body httpx.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body
}

func createCase(t *testing.T, h http.Handler, title string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/create-case", map[string]string{"title": title, "type": "civil"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create case: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		CaseID string `json:"caseId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create case: %v", err)
	}
	return resp.CaseID
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, nil).routes()
	rec := doJSON(t, h, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health body %s", rec.Body.String())
	}
}

func TestCreateCase_ExistingTitle(t *testing.T) {
	h := newTestServer(t, nil).routes()
	id := createCase(t, h, "Doe v. Roe")

	rec := doJSON(t, h, http.MethodPost, "/api/create-case", map[string]string{"title": "Doe v. Roe"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for existing title, got %d", rec.Code)
	}
	var resp struct {
		CaseID   string `json:"caseId"`
		Existing bool   `json:"existing"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Existing || resp.CaseID != id {
		t.Fatalf("expected existing case %s, got %+v", id, resp)
	}
}

func TestCreateCase_BlankTitle(t *testing.T) {
	h := newTestServer(t, nil).routes()
	rec := doJSON(t, h, http.MethodPost, "/api/create-case", map[string]string{"title": "  "}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error.Code != "VALIDATION_FAILED" || body.RequestID == "" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestArgument_TypesAndQuota(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.routes()
	id := createCase(t, h, "Quota")

	rec := doJSON(t, h, http.MethodPost, "/api/argument", argumentRequest{CaseID: id, Side: "plaintiff", Text: "opening"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var arg argumentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &arg); err != nil {
		t.Fatalf("decode argument: %v", err)
	}
	if arg.Type != "initial" || arg.Side != "plaintiff" {
		t.Fatalf("unexpected argument %+v", arg)
	}

	quota := srv.cases.Policy().CounterQuota
	for i := 0; i < quota; i++ {
		if _, err := srv.cases.SubmitArgument(context.Background(), id, proceeding.SidePlaintiff, "counter"); err != nil {
			t.Fatalf("counter %d: %v", i, err)
		}
	}

	rec = doJSON(t, h, http.MethodPost, "/api/argument", argumentRequest{CaseID: id, Side: "plaintiff", Text: "one too many"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error.Code != "QUOTA_EXCEEDED" {
		t.Fatalf("expected QUOTA_EXCEEDED, got %+v", body.Error)
	}

	args, err := srv.cases.Arguments(context.Background(), id)
	if err != nil {
		t.Fatalf("arguments: %v", err)
	}
	if len(args) != quota+1 {
		t.Fatalf("expected %d arguments after rejection, got %d", quota+1, len(args))
	}
}

func TestArgument_UnknownCase(t *testing.T) {
	h := newTestServer(t, nil).routes()
	rec := doJSON(t, h, http.MethodPost, "/api/argument", argumentRequest{CaseID: "missing", Side: "defense", Text: "x"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSurrender_ThenArgumentRejected(t *testing.T) {
	h := newTestServer(t, nil).routes()
	id := createCase(t, h, "Surrender")

	rec := doJSON(t, h, http.MethodPost, "/api/surrender", surrenderRequest{CaseID: id, Side: "defense"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Verdict decisionResponse `json:"verdict"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Verdict.Final || !strings.Contains(resp.Verdict.Text, "plaintiff") {
		t.Fatalf("unexpected surrender verdict %+v", resp.Verdict)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/argument", argumentRequest{CaseID: id, Side: "plaintiff", Text: "late"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error.Code != "CASE_CLOSED" {
		t.Fatalf("expected CASE_CLOSED, got %+v", body.Error)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/case/"+id, nil, nil)
	var view caseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode case: %v", err)
	}
	if view.Status != "surrendered" || view.Phase != "closed" || !view.Closed {
		t.Fatalf("expected closed case, got status=%s phase=%s closed=%v", view.Status, view.Phase, view.Closed)
	}
	if view.SurrenderedBy == nil || *view.SurrenderedBy != "defense" {
		t.Fatalf("expected surrenderedBy defense, got %v", view.SurrenderedBy)
	}
}

func TestVerdict_RecordsDecision(t *testing.T) {
	srv := newTestServer(t, &stubJudge{text: "The court finds for neither party yet."})
	h := srv.routes()
	id := createCase(t, h, "Verdict")
	for _, side := range []proceeding.Side{proceeding.SidePlaintiff, proceeding.SideDefense, proceeding.SidePlaintiff} {
		if _, err := srv.cases.SubmitArgument(context.Background(), id, side, "point"); err != nil {
			t.Fatalf("argue %s: %v", side, err)
		}
	}

	rec := doJSON(t, h, http.MethodPost, "/api/verdict", verdictRequest{CaseID: id}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var d decisionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Type != "initial" || d.Final || len(d.Raw) == 0 {
		t.Fatalf("unexpected decision %+v", d)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/case/"+id+"/next-verdict", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"requestType":"interim"`) {
		t.Fatalf("expected interim next, got %s", rec.Body.String())
	}
}

func TestVerdict_UpstreamFailureRecordsNothing(t *testing.T) {
	srv := newTestServer(t, &stubJudge{err: errors.New("connection reset")})
	h := srv.routes()
	id := createCase(t, h, "Upstream")
	if _, err := srv.cases.SubmitArgument(context.Background(), id, proceeding.SideDefense, "opening"); err != nil {
		t.Fatalf("argue: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/verdict", verdictRequest{CaseID: id}, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error.Code != "UPSTREAM_FAILED" {
		t.Fatalf("expected UPSTREAM_FAILED, got %+v", body.Error)
	}

	view, err := srv.cases.GetCase(context.Background(), id)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if len(view.Decisions) != 0 {
		t.Fatalf("expected no decisions, got %d", len(view.Decisions))
	}
}

func TestVerdict_RateLimitedPerCase(t *testing.T) {
	srv := newTestServer(t, &stubJudge{text: "noted"}, withVerdictLimit(0.001, 1))
	h := srv.routes()
	id := createCase(t, h, "Rate")
	other := createCase(t, h, "Rate other")

	if rec := doJSON(t, h, http.MethodPost, "/api/verdict", verdictRequest{CaseID: id}, nil); rec.Code == http.StatusTooManyRequests {
		t.Fatalf("first request should not be limited")
	}
	rec := doJSON(t, h, http.MethodPost, "/api/verdict", verdictRequest{CaseID: id}, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if rec := doJSON(t, h, http.MethodPost, "/api/verdict", verdictRequest{CaseID: other}, nil); rec.Code == http.StatusTooManyRequests {
		t.Fatalf("limit must not leak across cases")
	}
}

func TestUpload_ExtractsAndFiles(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.routes()
	id := createCase(t, h, "Upload")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("caseId", id)
	_ = mw.WriteField("side", "plaintiff")
	fw, err := mw.CreateFormFile("file", "brief.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte("  The lease was signed on 3 March.  "))
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Document documentResponse `json:"document"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Document.Content != "The lease was signed on 3 March." || resp.Document.Filename != "brief.txt" {
		t.Fatalf("unexpected document %+v", resp.Document)
	}

	view, err := srv.cases.GetCase(context.Background(), id)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if view.Case.Phase != proceeding.PhaseArguments {
		t.Fatalf("expected phase arguments after upload, got %s", view.Case.Phase)
	}
}

func TestUpload_UnsupportedFormat(t *testing.T) {
	h := newTestServer(t, nil).routes()
	id := createCase(t, h, "Upload pdf")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("caseId", id)
	_ = mw.WriteField("side", "defense")
	fw, _ := mw.CreateFormFile("file", "scan.pdf")
	_, _ = fw.Write([]byte("%PDF-1.7"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
}

func TestUpload_ExtractedTextTooLarge(t *testing.T) {
	srv := newTestServer(t, nil, withMaxText(1<<10))
	h := srv.routes()
	id := createCase(t, h, "Upload bomb")

	var doc bytes.Buffer
	zw := zip.NewWriter(&doc)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	_, _ = w.Write([]byte("<w:document><w:body><w:p><w:r><w:t>" + strings.Repeat("a", 256<<10) + "</w:t></w:r></w:p></w:body></w:document>"))
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("caseId", id)
	_ = mw.WriteField("side", "plaintiff")
	fw, _ := mw.CreateFormFile("file", "bomb.docx")
	_, _ = fw.Write(doc.Bytes())
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
	if code := decodeError(t, rec).Error.Code; code != "DOCUMENT_TOO_LARGE" {
		t.Fatalf("expected DOCUMENT_TOO_LARGE, got %s", code)
	}
	view, err := srv.cases.GetCase(context.Background(), id)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if len(view.Case.Documents) != 0 {
		t.Fatalf("expected no stored documents, got %d", len(view.Case.Documents))
	}
}

func TestPartyTokens(t *testing.T) {
	h := newTestServer(t, nil, withTokens("test-secret")).routes()
	id := createCase(t, h, "Tokens")

	rec := doJSON(t, h, http.MethodPost, "/api/argument", argumentRequest{CaseID: id, Side: "plaintiff", Text: "x"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/case/"+id+"/token", tokenRequest{Side: "plaintiff"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 issuing token, got %d: %s", rec.Code, rec.Body.String())
	}
	var issued struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &issued); err != nil || issued.Token == "" {
		t.Fatalf("decode token: %v %s", err, rec.Body.String())
	}
	bearer := http.Header{"Authorization": []string{"Bearer " + issued.Token}}

	rec = doJSON(t, h, http.MethodPost, "/api/argument", argumentRequest{CaseID: id, Side: "defense", Text: "x"}, bearer)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for the other side, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/argument", argumentRequest{CaseID: id, Side: "plaintiff", Text: "x"}, bearer)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTokenEndpoint_Disabled(t *testing.T) {
	h := newTestServer(t, nil).routes()
	id := createCase(t, h, "No tokens")
	rec := doJSON(t, h, http.MethodPost, "/api/case/"+id+"/token", tokenRequest{Side: "plaintiff"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := newTestServer(t, nil).routes()
	req := httptest.NewRequest(http.MethodOptions, "/api/argument", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestEvents_StreamsCaseUpdates(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	// The retry hint is written after the observer is registered.
	for lines.Scan() {
		if strings.HasPrefix(lines.Text(), "retry:") {
			break
		}
	}

	c, _, err := srv.cases.CreateCase(context.Background(), proceeding.CreateCaseParams{Title: "Streamed"})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}

	for lines.Scan() {
		line := lines.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt broadcast.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.Type != broadcast.TypeCaseCreated || evt.CaseID != c.ID || evt.Phase != "initial" {
			t.Fatalf("unexpected event %+v", evt)
		}
		return
	}
	t.Fatalf("stream ended before an event arrived: %v", lines.Err())
}
