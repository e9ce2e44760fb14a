package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/mohammad-safakhou/roadbook/config"
	"github.com/mohammad-safakhou/roadbook/internal/agent"
	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
	"github.com/mohammad-safakhou/roadbook/internal/agent/telemetry"
	"github.com/mohammad-safakhou/roadbook/internal/search"
	"github.com/mohammad-safakhou/roadbook/internal/store"
)

type stubSearcher struct {
	hits []core.SearchHit
	got  search.Params
}

func (s *stubSearcher) Search(_ context.Context, p search.Params) ([]core.SearchHit, error) {
	s.got = p
	return s.hits, nil
}

type stubLLM struct{ text string }

func (s *stubLLM) GenerateAnswer(_ context.Context, _ string, _ []core.Message, _ string) (core.Generation, error) {
	return core.Generation{Text: s.text, Model: "test-model", TotalTokens: 10, Cost: 0.001}, nil
}

func (s *stubLLM) GenerateAnswerStream(ctx context.Context, system string, history []core.Message, q string, onDelta func(string)) (core.Generation, error) {
	gen, err := s.GenerateAnswer(ctx, system, history, q)
	if err == nil && onDelta != nil {
		onDelta(gen.Text)
	}
	return gen, err
}

func (s *stubLLM) JudgeImageRelevance(context.Context, string, string) (float64, error) {
	return 0, nil
}

func newTestAgent(t *testing.T, hits []core.SearchHit, answer string) *agent.Agent {
	t.Helper()
	cfg := &config.Config{
		LLM:    config.LLMConfig{Model: "test-model"},
		Search: config.SearchConfig{Provider: "azure", TopK: 5},
		Images: config.ImagesConfig{Mode: "keyword", Threshold: 0.75, MaxImages: 5},
	}
	a, err := agent.New(cfg, &stubSearcher{hits: hits}, &stubLLM{text: answer}, nil,
		telemetry.NewTelemetry(config.TelemetryConfig{}))
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	return a
}

func newContext(e *echo.Echo, method, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")
	return ctx, rec
}

func TestAuthMiddleware(t *testing.T) {
	e := echo.New()
	secret := []byte("test-secret")
	handler := AuthMiddleware(secret)(func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get("user_id").(string))
	})

	// missing token
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	err := handler(e.NewContext(req, rec))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %v", err)
	}

	// valid bearer token
	token, err := SignJWT("user-42", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if rec.Body.String() != "user-42" {
		t.Fatalf("subject = %q", rec.Body.String())
	}

	// wrong secret
	bad, _ := SignJWT("user-42", []byte("other"), time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	err = handler(e.NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %v", err)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505"})

	h := &AuthHandler{Store: &store.Store{DB: db}, Secret: []byte("s")}
	ctx, _ := newContext(e, http.MethodPost, "/api/auth/signup", `{"email":"a@b.c","password":"longenough"}`)
	err = h.signup(ctx)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestLoginSuccess(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)
	mock.ExpectQuery(`SELECT id, password_hash FROM users WHERE email=\$1`).
		WithArgs("a@b.c").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).AddRow("user-1", string(hash)))

	h := &AuthHandler{Store: &store.Store{DB: db}, Secret: []byte("s")}
	ctx, rec := newContext(e, http.MethodPost, "/api/auth/login", `{"email":"a@b.c","password":"hunter2hunter2"}`)
	if err := h.login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("no token returned")
	}
	if rec.Result().Cookies()[0].Name != "auth" {
		t.Fatal("auth cookie not set")
	}
}

func TestAskHandler(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO asks`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	hits := []core.SearchHit{{
		ChunkID: "c1", Content: "Stop signs are octagonal and red.",
		DocumentName: "CA Handbook", PageNumber: 45,
	}}
	h := &AskHandler{
		Agent: newTestAgent(t, hits, "Stop when required. (Source: CA Handbook, Page 45)"),
		Store: &store.Store{DB: db},
	}
	h.Register(e.Group(""))

	ctx, rec := newContext(e, http.MethodPost, "/api/ask", `{"query":"When must I stop?"}`)
	if err := h.ask(ctx); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp AskAPIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.Answer, "[1]") {
		t.Fatalf("answer not rewritten with markers: %q", resp.Answer)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].DocumentName != "CA Handbook" {
		t.Fatalf("citations = %+v", resp.Citations)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAskHandlerEmptyQuery(t *testing.T) {
	e := echo.New()
	db, _, _ := sqlmock.New()
	defer db.Close()

	h := &AskHandler{
		Agent: newTestAgent(t, nil, "irrelevant"),
		Store: &store.Store{DB: db},
	}
	h.Register(e.Group(""))

	ctx, _ := newContext(e, http.MethodPost, "/api/ask", `{"query":"  "}`)
	err := h.ask(ctx)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestAskHandlerStream(t *testing.T) {
	e := echo.New()
	db, mock, _ := sqlmock.New()
	defer db.Close()
	mock.ExpectExec(`INSERT INTO asks`).WillReturnResult(sqlmock.NewResult(0, 1))

	hits := []core.SearchHit{{ChunkID: "c1", Content: "x", DocumentName: "Doc", PageNumber: 1}}
	h := &AskHandler{
		Agent: newTestAgent(t, hits, "Answer. (Source: Doc, Page 1)"),
		Store: &store.Store{DB: db},
	}
	h.Register(e.Group(""))

	ctx, rec := newContext(e, http.MethodPost, "/api/ask", `{"query":"When must I stop?","stream":true}`)
	if err := h.ask(ctx); err != nil {
		t.Fatalf("ask stream: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: delta") {
		t.Fatalf("no delta events in stream:\n%s", body)
	}
	if !strings.Contains(body, "event: result") {
		t.Fatalf("no result event in stream:\n%s", body)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestThreadCreateRequiresTitle(t *testing.T) {
	e := echo.New()
	db, _, _ := sqlmock.New()
	defer db.Close()

	h := &ThreadsHandler{Store: &store.Store{DB: db}}
	ctx, _ := newContext(e, http.MethodPost, "/api/threads", `{"title":""}`)
	err := h.create(ctx)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestDiagnoseSearch(t *testing.T) {
	e := echo.New()
	searcher := &stubSearcher{hits: []core.SearchHit{{ChunkID: "c1", Content: "yield"}}}
	h := &DiagnoseHandler{Searcher: searcher}

	ctx, rec := newContext(e, http.MethodPost, "/api/diagnose/search", `{"query":"right of way","state":"texas","top_k":3}`)
	if err := h.search(ctx); err != nil {
		t.Fatalf("search: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp DiagnoseSearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.Filter, "Texas") || !strings.Contains(resp.Filter, "'TX'") {
		t.Fatalf("filter = %q", resp.Filter)
	}
	if searcher.got.TopK != 3 {
		t.Fatalf("top_k not forwarded: %+v", searcher.got)
	}
	if len(resp.Hits) != 1 {
		t.Fatalf("hits = %+v", resp.Hits)
	}
}
