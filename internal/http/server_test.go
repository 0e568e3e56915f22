package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/metrics"
	"kakeibo/internal/services"
	"kakeibo/internal/storage"
)

type brokenStore struct{}

func (brokenStore) Load(context.Context) (core.Collection, error) {
	return nil, errors.New("disk on fire")
}
func (brokenStore) Save(context.Context, core.Collection) error { return errors.New("disk on fire") }
func (brokenStore) Close() error                                { return nil }

func quietLogger(t *testing.T) *applog.Logger {
	t.Helper()
	l, err := applog.New(applog.Config{Level: "error", Format: "text", Output: io.Discard})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type testServer struct {
	*Server
	path string
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.json")
	if opts.Logger == nil {
		opts.Logger = quietLogger(t)
	}
	srv := NewServer(":0", services.NewRecordService(storage.NewFileStore(path)), opts)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &testServer{Server: srv, path: path}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func expect(t *testing.T, rr *httptest.ResponseRecorder, status int, body string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body %q)", rr.Code, status, rr.Body.String())
	}
	if body != "" && strings.TrimSpace(rr.Body.String()) != body {
		t.Fatalf("body = %q, want %q", strings.TrimSpace(rr.Body.String()), body)
	}
}

func expectCORS(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	h := rr.Header()
	if h.Get("Access-Control-Allow-Origin") != "*" ||
		h.Get("Access-Control-Allow-Methods") != "GET, POST, PUT, DELETE, OPTIONS" ||
		h.Get("Access-Control-Allow-Headers") != "Content-Type" {
		t.Fatalf("missing CORS headers: %v", h)
	}
	if got := h.Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Fatalf("Content-Type = %q", got)
	}
}

func onlyRecord(t *testing.T, s *testServer) map[string]any {
	t.Helper()
	list := decode[[]map[string]any](t, s.do(t, http.MethodGet, "/records", ""))
	if len(list) != 1 {
		t.Fatalf("expected one record, got %v", list)
	}
	return list[0]
}

func TestRecordLifecycle(t *testing.T) {
	s := newTestServer(t, Options{})

	// Empty store lists as an empty array.
	rr := s.do(t, http.MethodGet, "/records", "")
	expect(t, rr, http.StatusOK, "[]")
	expectCORS(t, rr)

	rr = s.do(t, http.MethodPost, "/records", `{"date":"2025-12-14","category":"food","amount":100}`)
	expect(t, rr, http.StatusCreated, `{"status":"ok"}`)
	expectCORS(t, rr)

	rec := onlyRecord(t, s)
	id, _ := rec["id"].(string)
	if id == "" || rec["category"] != "food" || rec["amount"] != float64(100) || rec["date"] != "2025-12-14" {
		t.Fatalf("unexpected record: %v", rec)
	}

	expect(t, s.do(t, http.MethodGet, "/records/total", ""), http.StatusOK, `{"total":100}`)
	expect(t, s.do(t, http.MethodGet, "/records/summary", ""), http.StatusOK, `{"food":100}`)

	rr = s.do(t, http.MethodPut, "/records/"+id, `{"category":"snack","amount":150}`)
	expect(t, rr, http.StatusOK, "")
	updated := decode[map[string]any](t, rr)
	if updated["category"] != "snack" || updated["amount"] != float64(150) || updated["date"] != "2025-12-14" || updated["id"] != id {
		t.Fatalf("unexpected update: %v", updated)
	}

	rr = s.do(t, http.MethodDelete, "/records/"+id, "")
	expect(t, rr, http.StatusOK, `{"deleted":"`+id+`"}`)
	expect(t, s.do(t, http.MethodGet, "/records", ""), http.StatusOK, "[]")

	// Deleting again answers the same way.
	expect(t, s.do(t, http.MethodDelete, "/records/"+id, ""), http.StatusOK, `{"deleted":"`+id+`"}`)
}

func TestCreateMissingFieldsLeavesStoreUntouched(t *testing.T) {
	s := newTestServer(t, Options{})

	rr := s.do(t, http.MethodPost, "/records", `{"date":"2025-12-14","category":"food"}`)
	expect(t, rr, http.StatusBadRequest, `{"error":"missing fields"}`)
	expectCORS(t, rr)

	if _, err := os.Stat(s.path); !os.IsNotExist(err) {
		t.Fatalf("store file should not exist, stat err=%v", err)
	}
	expect(t, s.do(t, http.MethodGet, "/records", ""), http.StatusOK, "[]")
}

func TestBadBodies(t *testing.T) {
	s := newTestServer(t, Options{})
	s.do(t, http.MethodPost, "/records", `{"date":"d","category":"c","amount":1}`)
	id := onlyRecord(t, s)["id"].(string)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		want   string
	}{
		{"create not json", http.MethodPost, "/records", `{nope`, 400, `{"error":"Invalid JSON"}`},
		{"create empty body", http.MethodPost, "/records", ``, 400, `{"error":"Invalid JSON"}`},
		{"create array", http.MethodPost, "/records", `[1,2]`, 400, `{"error":"Invalid JSON"}`},
		{"create wrong type", http.MethodPost, "/records", `{"date":"d","category":"c","amount":"lots"}`, 400, `{"error":"invalid fields"}`},
		{"update not json", http.MethodPut, "/records/" + id, `nope`, 400, `{"error":"Invalid JSON"}`},
		{"update wrong type", http.MethodPut, "/records/" + id, `{"category":7}`, 400, `{"error":"invalid fields"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, tt.method, tt.path, tt.body)
			expect(t, rr, tt.status, tt.want)
			expectCORS(t, rr)
		})
	}

	if rec := onlyRecord(t, s); rec["category"] != "c" || rec["amount"] != float64(1) {
		t.Fatalf("record changed by rejected requests: %v", rec)
	}
}

func TestOversizedBodyIsInvalid(t *testing.T) {
	s := newTestServer(t, Options{})
	big := `{"date":"d","category":"c","amount":1,"note":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	expect(t, s.do(t, http.MethodPost, "/records", big), http.StatusBadRequest, `{"error":"Invalid JSON"}`)
}

func TestUpdateUnknownIDIsNotFound(t *testing.T) {
	s := newTestServer(t, Options{})
	rr := s.do(t, http.MethodPut, "/records/missing", `{"amount":1}`)
	expect(t, rr, http.StatusNotFound, `{"error":"Not Found"}`)
	expectCORS(t, rr)
}

func TestUpdateKeepsIDAndExtraFields(t *testing.T) {
	s := newTestServer(t, Options{})
	s.do(t, http.MethodPost, "/records", `{"date":"d","category":"c","amount":1,"note":"lunch"}`)
	id := onlyRecord(t, s)["id"].(string)

	rr := s.do(t, http.MethodPut, "/records/"+id, `{"id":"hijack","tags":["a"]}`)
	expect(t, rr, http.StatusOK, "")

	rec := onlyRecord(t, s)
	if rec["id"] != id || rec["note"] != "lunch" || rec["tags"] == nil {
		t.Fatalf("unexpected record after update: %v", rec)
	}
	expect(t, s.do(t, http.MethodPut, "/records/hijack", `{}`), http.StatusNotFound, "")
}

func TestUnknownRoutes(t *testing.T) {
	s := newTestServer(t, Options{})

	tests := []struct{ method, path string }{
		{http.MethodGet, "/"},
		{http.MethodGet, "/expenses"},
		{http.MethodGet, "/records/"},
		{http.MethodGet, "/records/abc"},
		{http.MethodPatch, "/records"},
		{http.MethodDelete, "/records"},
		{http.MethodPut, "/records"},
		{http.MethodPut, "/records/"},
		{http.MethodPost, "/records/total"},
		{http.MethodDelete, "/records/a/b"},
		{http.MethodGet, "/recordsx"},
		{http.MethodGet, "//records"},
		{http.MethodGet, "/records/../records"},
		{http.MethodGet, "/records/./total"},
		{http.MethodPost, "//records"},
		{http.MethodDelete, "/records//x"},
		{http.MethodHead, "/records"},
		{http.MethodHead, "/records/total"},
		{"TRACE", "/records"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := s.do(t, tt.method, tt.path, "")
			expect(t, rr, http.StatusNotFound, `{"error":"Not Found"}`)
			expectCORS(t, rr)
		})
	}
}

func TestQueryStringIsIgnored(t *testing.T) {
	s := newTestServer(t, Options{})
	expect(t, s.do(t, http.MethodGet, "/records/total?year=2025", ""), http.StatusOK, `{"total":0}`)
}

func TestPreflightOnAnyPath(t *testing.T) {
	s := newTestServer(t, Options{})
	for _, path := range []string{"/records", "/records/abc", "/nowhere"} {
		rr := s.do(t, http.MethodOptions, path, "")
		expect(t, rr, http.StatusOK, "{}")
		expectCORS(t, rr)
	}
}

func TestStorageFaultIsInternalError(t *testing.T) {
	srv := NewServer(":0", services.NewRecordService(brokenStore{}), Options{Logger: quietLogger(t)})
	defer srv.Shutdown(context.Background())
	s := &testServer{Server: srv}

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/records", ""},
		{http.MethodGet, "/records/total", ""},
		{http.MethodGet, "/records/summary", ""},
		{http.MethodPost, "/records", `{"date":"d","category":"c","amount":1}`},
		{http.MethodPut, "/records/x", `{"amount":1}`},
		{http.MethodDelete, "/records/x", ""},
	} {
		rr := s.do(t, tc.method, tc.path, tc.body)
		expect(t, rr, http.StatusInternalServerError, `{"error":"Internal Server Error"}`)
		expectCORS(t, rr)
	}
}

func TestCorruptFileIsInternalError(t *testing.T) {
	s := newTestServer(t, Options{})
	if err := os.WriteFile(s.path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	expect(t, s.do(t, http.MethodGet, "/records", ""), http.StatusInternalServerError, `{"error":"Internal Server Error"}`)
}

func TestRateLimitAppliesToMutationsOnly(t *testing.T) {
	m := metrics.New()
	s := newTestServer(t, Options{Metrics: m, RateLimitRPM: 1, RateLimitBurst: 2})

	body := `{"date":"d","category":"c","amount":1}`
	expect(t, s.do(t, http.MethodPost, "/records", body), http.StatusCreated, "")
	expect(t, s.do(t, http.MethodPost, "/records", body), http.StatusCreated, "")

	rr := s.do(t, http.MethodPost, "/records", body)
	expect(t, rr, http.StatusTooManyRequests, `{"error":"rate limit exceeded"}`)
	expectCORS(t, rr)
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}

	for i := 0; i < 5; i++ {
		expect(t, s.do(t, http.MethodGet, "/records/total", ""), http.StatusOK, `{"total":2}`)
	}
	expect(t, s.do(t, http.MethodOptions, "/records", ""), http.StatusOK, "{}")

	mrr := httptest.NewRecorder()
	m.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	out := mrr.Body.String()
	for _, want := range []string{
		"kakeibo_rate_limited_requests_total 1",
		`route="GET /records/total"`,
		`route="POST /records"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, Options{})
	rr := s.do(t, http.MethodGet, "/records", "")
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
	if s.TotalRequests() != 1 {
		t.Fatalf("TotalRequests = %d", s.TotalRequests())
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	s := newTestServer(t, Options{RateLimitRPM: 10})
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestRateLimitIgnoresForwardedFor(t *testing.T) {
	s := newTestServer(t, Options{RateLimitRPM: 1, RateLimitBurst: 1})

	body := `{"date":"d","category":"c","amount":1}`
	post := func(fwd string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/records", strings.NewReader(body))
		req.Header.Set("X-Forwarded-For", fwd)
		rr := httptest.NewRecorder()
		s.Handler.ServeHTTP(rr, req)
		return rr
	}

	expect(t, post("203.0.113.1"), http.StatusCreated, "")
	expect(t, post("203.0.113.2"), http.StatusTooManyRequests, `{"error":"rate limit exceeded"}`)
}
