package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/ringwatch/internal/analysis"
	"github.com/opensource-finance/ringwatch/internal/bus"
	"github.com/opensource-finance/ringwatch/internal/cache"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/metrics"
	"github.com/opensource-finance/ringwatch/internal/repository"
	"github.com/opensource-finance/ringwatch/internal/rules"
)

const triangleCSV = "transaction_id,sender_id,receiver_id,amount,timestamp\n" +
	"T1,A,B,1000,2024-01-01 10:00:00\n" +
	"T2,B,C,990,2024-01-01 11:00:00\n" +
	"T3,C,A,980,2024-01-01 12:00:00\n" +
	"T4,D,E,50,2024-01-02 09:00:00\n"

type testEnv struct {
	server *Server
	bus    *bus.ChannelBus
}

// newTestEnv wires a server over a temp SQLite repository, LRU cache and
// channel bus.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	lru := cache.NewLRUCache(16)
	m := metrics.New()

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	engine.LoadRule(domain.ReasonRule{
		ID:         "ring-member",
		Expression: `ring_id != ""`,
		Reason:     "ring_member",
		Enabled:    true,
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := analysis.New(
		analysis.WithRepository(repo),
		analysis.WithCache(lru),
		analysis.WithBus(eventBus),
		analysis.WithMetrics(m),
		analysis.WithRules(engine),
		analysis.WithLogger(logger),
	)

	cfg := domain.ServerConfig{
		Host:           "localhost",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxUploadBytes: 1 << 20,
	}
	server := NewServer(cfg, Deps{
		Service: svc,
		Repo:    repo,
		Cache:   lru,
		Bus:     eventBus,
		Rules:   engine,
		Metrics: m,
		Logger:  logger,
		Version: "test-v1",
	})
	return &testEnv{server: server, bus: eventBus}
}

// multipartBody builds a multipart request body with one part per file.
func multipartBody(t *testing.T, files map[string]string, order ...string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range order {
		part, err := mw.CreateFormFile(uploadField, name)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		io.WriteString(part, files[name])
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) upload(t *testing.T, path string, files map[string]string, order ...string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, files, order...)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	return e.do(req)
}

func detail(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error body %q: %v", rr.Body.String(), err)
	}
	return resp["detail"]
}

func TestUploadFiles(t *testing.T) {
	env := newTestEnv(t)

	t.Run("SuccessfulAnalysis", func(t *testing.T) {
		rr := env.upload(t, "/input/files", map[string]string{
			"march.csv": triangleCSV,
		}, "march.csv")

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]domain.FileResult
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		res, ok := resp["march.csv"]
		if !ok {
			t.Fatalf("expected result keyed by file name, got %v", rr.Body.String())
		}
		if res.SavedTo != "/download/march_analysis.json" {
			t.Errorf("unexpected saved_to %s", res.SavedTo)
		}
		if len(res.Report.FraudRings) != 1 {
			t.Fatalf("expected 1 ring, got %d", len(res.Report.FraudRings))
		}
		if len(res.Summary) != 1 || res.Summary[0].RingID != "RING_001" {
			t.Errorf("unexpected summary %+v", res.Summary)
		}
		if strings.Contains(rr.Body.String(), "account_scores") {
			t.Error("response must not expose account_scores")
		}
		for _, sa := range res.Report.SuspiciousAccounts {
			if sa.RingID != nil && sa.Reasons[len(sa.Reasons)-1] != "ring_member" {
				t.Errorf("expected rule reason last for %s, got %v", sa.AccountID, sa.Reasons)
			}
		}
	})

	t.Run("NonCSVRejected", func(t *testing.T) {
		rr := env.upload(t, "/input/files", map[string]string{
			"ok.csv":    triangleCSV,
			"notes.txt": "hello",
		}, "ok.csv", "notes.txt")

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		if got := detail(t, rr); got != "notes.txt is not a csv file" {
			t.Errorf("unexpected detail %q", got)
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		rr := env.upload(t, "/input/files", map[string]string{
			"broken.csv": "transaction_id,sender_id,amount,timestamp\nT1,A,10,2024-01-01\n",
		}, "broken.csv")

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		if got := detail(t, rr); got != "Invalid CSV file broken.csv: Missing column: receiver_id" {
			t.Errorf("unexpected detail %q", got)
		}
	})

	t.Run("BadFileSavesNothing", func(t *testing.T) {
		fresh := newTestEnv(t)
		rr := fresh.upload(t, "/input/files", map[string]string{
			"good.csv":   triangleCSV,
			"broken.csv": "a,b,c\n1,2,3\n",
		}, "good.csv", "broken.csv")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}

		rr = fresh.do(httptest.NewRequest(http.MethodGet, "/show/output/files", nil))
		var resp struct {
			Files []FileEntry `json:"files"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if len(resp.Files) != 0 {
			t.Errorf("expected no saved reports, got %v", resp.Files)
		}
	})

	t.Run("NoFiles", func(t *testing.T) {
		rr := env.upload(t, "/input/files", nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		if got := detail(t, rr); got != "No files uploaded" {
			t.Errorf("unexpected detail %q", got)
		}
	})

	t.Run("NotMultipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/input/files", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		if rr := env.do(req); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("TooLarge", func(t *testing.T) {
		big := strings.Repeat("x", 2<<20)
		rr := env.upload(t, "/input/files", map[string]string{"big.csv": big}, "big.csv")
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected status 413, got %d", rr.Code)
		}
	})
}

func TestListAndDownload(t *testing.T) {
	env := newTestEnv(t)

	rr := env.upload(t, "/input/files", map[string]string{
		"b_file.csv": triangleCSV,
		"a_file.csv": triangleCSV,
	}, "b_file.csv", "a_file.csv")
	if rr.Code != http.StatusOK {
		t.Fatalf("upload failed: %d %s", rr.Code, rr.Body.String())
	}

	t.Run("List", func(t *testing.T) {
		rr := env.do(httptest.NewRequest(http.MethodGet, "/show/output/files", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Files []FileEntry `json:"files"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		want := []FileEntry{
			{Name: "a_file_analysis.json", DownloadURL: "/download/a_file_analysis.json"},
			{Name: "b_file_analysis.json", DownloadURL: "/download/b_file_analysis.json"},
		}
		if len(resp.Files) != len(want) {
			t.Fatalf("expected %d files, got %v", len(want), resp.Files)
		}
		for i := range want {
			if resp.Files[i] != want[i] {
				t.Errorf("file %d: expected %+v, got %+v", i, want[i], resp.Files[i])
			}
		}
	})

	for _, path := range []string{"/download/a_file_analysis", "/download/a_file_analysis.json"} {
		t.Run("Download "+path, func(t *testing.T) {
			rr := env.do(httptest.NewRequest(http.MethodGet, path, nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename="a_file_analysis.json"` {
				t.Errorf("unexpected Content-Disposition %q", cd)
			}

			var report domain.Report
			if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
				t.Fatalf("failed to parse report: %v", err)
			}
			if report.Summary.FraudRingsDetected != 1 {
				t.Errorf("expected 1 ring, got %d", report.Summary.FraudRingsDetected)
			}
		})
	}

	t.Run("NotFound", func(t *testing.T) {
		rr := env.do(httptest.NewRequest(http.MethodGet, "/download/missing", nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
		if got := detail(t, rr); got != "File 'missing.json' not found" {
			t.Errorf("unexpected detail %q", got)
		}
	})

	t.Run("TraversalRejected", func(t *testing.T) {
		rr := env.do(httptest.NewRequest(http.MethodGet, "/download/..secret", nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestUploadFilesAsync(t *testing.T) {
	env := newTestEnv(t)

	requested := make(chan *domain.Message, 4)
	env.bus.Subscribe(context.Background(), domain.TopicAnalysisRequested, func(ctx context.Context, msg *domain.Message) error {
		requested <- msg
		return nil
	})

	rr := env.upload(t, "/input/files/async", map[string]string{"later.csv": triangleCSV}, "later.csv")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Jobs []JobEntry `json:"jobs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].FileName != "later.csv" || resp.Jobs[0].JobID == "" {
		t.Fatalf("unexpected jobs %+v", resp.Jobs)
	}

	select {
	case msg := <-requested:
		var job domain.AnalysisJob
		json.Unmarshal(msg.Payload, &job)
		if job.JobID != resp.Jobs[0].JobID {
			t.Errorf("expected job %s on the bus, got %s", resp.Jobs[0].JobID, job.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for queued job")
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Status  string            `json:"status"`
			Version string            `json:"version"`
			Checks  map[string]string `json:"checks"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Status != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp.Status)
		}
		if resp.Version != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp.Version)
		}
		if resp.Checks["repository"] != "ok" || resp.Checks["eventBus"] != "ok" {
			t.Errorf("unexpected checks %v", resp.Checks)
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := env.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		env.do(httptest.NewRequest(http.MethodGet, "/ready", nil))

		rr := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		want := `ringwatch_http_requests_total{method="GET",route="/ready",status="200"}`
		if !strings.Contains(rr.Body.String(), want) {
			t.Errorf("expected %s in metrics output", want)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/rules", nil))
	var list struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rr.Body.Bytes(), &list)
	if list.Count != 1 {
		t.Errorf("expected 1 loaded rule, got %d", list.Count)
	}

	tests := []struct {
		expr string
		want int
	}{
		{`score > 50.0`, http.StatusOK},
		{`score +`, http.StatusUnprocessableEntity},
		{`score`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		body := fmt.Sprintf(`{"id":"r1","expression":%q,"reason":"x","enabled":true}`, tt.expr)
		req := httptest.NewRequest(http.MethodPost, "/rules/validate", strings.NewReader(body))
		if rr := env.do(req); rr.Code != tt.want {
			t.Errorf("%s: expected status %d, got %d", tt.expr, tt.want, rr.Code)
		}
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedRequestID = GetRequestID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get(RequestIDHeader) != capturedRequestID {
			t.Error("expected X-Request-ID response header to match context")
		}
	})

	t.Run("TracingMiddlewareKeepsIncomingID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "req-42" {
			t.Errorf("expected req-42, got %s", got)
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		handler := RecoverMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight must not reach the handler")
		}))

		req := httptest.NewRequest(http.MethodOptions, "/input/files", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
			t.Error("expected origin to be echoed")
		}
	})
}
