package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/duynguyendang/lexa/pkg/analysis"
	"github.com/duynguyendang/lexa/pkg/events"
	"github.com/duynguyendang/lexa/pkg/extract"
	"github.com/duynguyendang/lexa/pkg/llm/llmtest"
	"github.com/duynguyendang/lexa/pkg/metrics"
	"github.com/duynguyendang/lexa/pkg/model"
	"github.com/duynguyendang/lexa/pkg/pipeline"
	"github.com/duynguyendang/lexa/pkg/prompts"
	"github.com/duynguyendang/lexa/pkg/session"
	"github.com/duynguyendang/lexa/pkg/storage"
)

const nda = "MUTUAL NON-DISCLOSURE AGREEMENT\nThe receiving party shall keep all confidential information secret for 2 years."

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testEnv struct {
	srv *Server
	bus *events.Broadcaster
	llm *llmtest.Scripted
}

func setupServer(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t)

	store, err := session.NewMemoryStore(100)
	require.NoError(t, err)
	artifacts, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	provider := llmtest.NewScripted(map[string]llmtest.Reply{
		prompts.Overview:  {Text: `{"summary":"Mutual NDA.","documentType":"NDA","parties":[],"effectiveDate":null,"expiryDate":null}`},
		prompts.Clauses:   {Text: `[{"text":"The receiving party shall keep all confidential information secret for 2 years.","type":"obligation","riskLevel":"low","explanation":"Confidentiality term."}]`},
		prompts.Risk:      {Text: `{"score":"low","reasoning":"Standard terms.","topRisks":[]}`},
		prompts.NextSteps: {Text: `{"steps":[{"step":"Sign","rationale":"Terms are standard"}],"disclaimer":"Not legal advice"}`},
		prompts.Question:  {Text: "Two years."},
	})
	engine, err := analysis.NewEngine(provider)
	require.NoError(t, err)

	bus := events.NewBroadcaster()
	m := metrics.New(prometheus.NewRegistry())

	var seq atomic.Int64
	orch, err := pipeline.New(pipeline.Deps{
		Store:     store,
		Events:    bus,
		Extractor: extract.NewDocumentExtractor(log),
		Analyzer:  engine,
		Artifacts: artifacts,
	}, pipeline.Config{MaxUploadSize: cfg.MaxUploadSize},
		pipeline.WithLogger(log),
		pipeline.WithIDGenerator(func() string { return fmt.Sprintf("sess-%d", seq.Add(1)) }),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = orch.Shutdown(context.Background())
		bus.Close()
	})

	return &testEnv{
		srv: NewServer(orch, bus, cfg, WithLogger(log), WithMetrics(m)),
		bus: bus,
		llm: provider,
	}
}

func multipartBody(t *testing.T, field, name, contentType, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, name))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (e *testEnv) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) postJSON(path, body string) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, path, strings.NewReader(body), "application/json")
}

func (e *testEnv) upload(t *testing.T, name, contentType, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, "document", name, contentType, content)
	return e.do(http.MethodPost, "/api/documents/upload", body, ct)
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) waitForStatus(t *testing.T, id string, want model.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		w := e.do(http.MethodGet, "/api/documents/session/"+id, nil, "")
		if w.Code != http.StatusOK {
			return false
		}
		var v sessionView
		return json.Unmarshal(w.Body.Bytes(), &v) == nil && v.Status == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHealthCheck(t *testing.T) {
	env := setupServer(t, DefaultConfig())

	w := env.do(http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := setupServer(t, DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))
}

func TestUploadAnalyzeAndAsk(t *testing.T) {
	env := setupServer(t, DefaultConfig())

	w := env.upload(t, "nda.txt", "text/plain", nda)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	up := decodeBody[map[string]any](t, w)
	assert.Equal(t, "sess-1", up["sessionId"])
	assert.Equal(t, "nda.txt", up["fileName"])
	assert.EqualValues(t, len(nda), up["fileSize"])
	assert.Equal(t, "File uploaded successfully. Processing started.", up["message"])

	env.waitForStatus(t, "sess-1", model.StatusExtracted)

	w = env.do(http.MethodGet, "/api/documents/session/sess-1", nil, "")
	view := decodeBody[sessionView](t, w)
	require.NotNil(t, view.DocumentMetadata)
	assert.Equal(t, 1, view.DocumentMetadata.PageCount)
	assert.NotContains(t, w.Body.String(), "confidential information", "text is not exposed")

	w = env.do(http.MethodGet, "/api/documents/session/sess-1/text", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	text := decodeBody[struct {
		SessionID string                 `json:"sessionId"`
		Text      string                 `json:"text"`
		Metadata  model.DocumentMetadata `json:"metadata"`
	}](t, w)
	assert.Equal(t, nda, text.Text)
	assert.Equal(t, len(nda), text.Metadata.CharCount)

	w = env.do(http.MethodGet, "/api/analysis/results/sess-1", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Results not found or still processing", decodeBody[map[string]any](t, w)["error"])

	w = env.postJSON("/api/analysis/analyze", `{"sessionId":"sess-1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ack := decodeBody[map[string]any](t, w)
	assert.Equal(t, "Analysis will be performed", ack["message"])
	assert.Equal(t, "analyzing", ack["status"])

	env.waitForStatus(t, "sess-1", model.StatusAnalysisComplete)

	w = env.do(http.MethodGet, "/api/analysis/results/sess-1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	result := decodeBody[model.AnalysisResult](t, w)
	assert.Equal(t, "NDA", result.DocumentType)
	assert.Equal(t, model.LevelLow, result.RiskAssessment.Score)
	require.Len(t, result.Clauses, 1)
	require.NotNil(t, result.Clauses[0].Span)

	w = env.postJSON("/api/analysis/analyze", `{"sessionId":"sess-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	again := decodeBody[map[string]any](t, w)
	assert.Equal(t, false, again["started"])
	assert.Equal(t, "analysis_complete", again["status"])

	w = env.postJSON("/api/analysis/question", `{"sessionId":"sess-1","question":"How long is the term?"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"sessionId":"sess-1","status":"processing_question"}`, w.Body.String())
}

func TestUploadRejections(t *testing.T) {
	env := setupServer(t, DefaultConfig())

	body, ct := multipartBody(t, "attachment", "nda.txt", "text/plain", nda)
	w := env.do(http.MethodPost, "/api/documents/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No file uploaded", decodeBody[map[string]any](t, w)["error"])

	w = env.upload(t, "scan.png", "image/png", "not a document")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody[map[string]any](t, w)["details"], "unsupported file type")

	w = env.do(http.MethodGet, "/api/documents/sessions", nil, "")
	assert.JSONEq(t, `{"activeSessions":0,"sessions":[]}`, w.Body.String())
}

func TestUploadTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUploadSize = 16
	env := setupServer(t, cfg)

	w := env.upload(t, "nda.txt", "text/plain", nda)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody[map[string]any](t, w)["details"], "the limit is 16 B")
}

func TestNotFound(t *testing.T) {
	env := setupServer(t, DefaultConfig())

	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/documents/session/nope"},
		{http.MethodGet, "/api/documents/session/nope/text"},
		{http.MethodPost, "/api/documents/session/nope/extract"},
		{http.MethodDelete, "/api/documents/session/nope"},
		{http.MethodGet, "/api/analysis/results/nope"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := env.do(tt.method, tt.path, nil, "")
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, "Resource not found", decodeBody[map[string]any](t, w)["error"])
		})
	}

	w := env.postJSON("/api/analysis/analyze", `{"sessionId":"nope"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/api/unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Route not found", decodeBody[map[string]any](t, w)["error"])
}

func TestRequestValidation(t *testing.T) {
	env := setupServer(t, DefaultConfig())

	tests := []struct {
		name, path, body, msg string
	}{
		{"analyze without id", "/api/analysis/analyze", `{}`, "sessionId is required"},
		{"analyze bad json", "/api/analysis/analyze", `{`, "Invalid request body"},
		{"question without question", "/api/analysis/question", `{"sessionId":"sess-1"}`, "sessionId and question are required"},
		{"question without id", "/api/analysis/question", `{"question":"why?"}`, "sessionId and question are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.postJSON(tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.msg, decodeBody[map[string]any](t, w)["error"])
		})
	}
	assert.Empty(t, env.llm.Calls())
}

func TestSessionsCleanupAndDelete(t *testing.T) {
	env := setupServer(t, DefaultConfig())

	require.Equal(t, http.StatusOK, env.upload(t, "nda.txt", "text/plain", nda).Code)
	env.waitForStatus(t, "sess-1", model.StatusExtracted)

	w := env.do(http.MethodGet, "/api/documents/sessions", nil, "")
	list := decodeBody[struct {
		ActiveSessions int              `json:"activeSessions"`
		Sessions       []sessionSummary `json:"sessions"`
	}](t, w)
	assert.Equal(t, 1, list.ActiveSessions)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "nda.txt", list.Sessions[0].FileName)
	assert.Equal(t, model.StatusExtracted, list.Sessions[0].Status)

	w = env.do(http.MethodPost, "/api/documents/cleanup", nil, "")
	assert.JSONEq(t, `{"cleaned":0,"remaining":1}`, w.Body.String())

	w = env.do(http.MethodPost, "/api/documents/session/sess-1/extract", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sessionId":"sess-1","status":"extracted","started":false}`, w.Body.String())

	w = env.do(http.MethodDelete, "/api/documents/session/sess-1", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(http.MethodGet, "/api/documents/session/sess-1", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UploadLimit = Limit{Requests: 2, Window: time.Minute}
	env := setupServer(t, cfg)

	for i := range 2 {
		w := env.upload(t, "nda.txt", "text/plain", nda)
		assert.Equal(t, http.StatusOK, w.Code, "upload %d", i+1)
	}
	w := env.upload(t, "nda.txt", "text/plain", nda)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// other routes have their own budget
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/documents/sessions", nil, "").Code)
}

func TestIPLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newIPLimiter(Limit{Requests: 2, Window: time.Minute})
	l.now = func() time.Time { return now }
	l.lastSweep = now

	ok, _ := l.allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = l.allow("10.0.0.1")
	assert.True(t, ok)
	ok, retry := l.allow("10.0.0.1")
	assert.False(t, ok)
	assert.InDelta(t, 30, retry.Seconds(), 0.01)

	ok, _ = l.allow("10.0.0.2")
	assert.True(t, ok, "budgets are per IP")

	now = now.Add(31 * time.Second)
	ok, _ = l.allow("10.0.0.1")
	assert.True(t, ok, "one token refilled")

	now = now.Add(2 * time.Minute)
	ok, _ = l.allow("10.0.0.3")
	assert.True(t, ok)
	assert.Len(t, l.visitors, 1, "idle buckets are swept")
}

func TestWebsocketStream(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?sessionId=sess-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	w := env.upload(t, "nda.txt", "text/plain", nda)
	require.Equal(t, http.StatusOK, w.Code)

	var stages []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var e events.ProgressEvent
		require.NoError(t, conn.ReadJSON(&e))
		assert.Equal(t, events.TypeProcessingUpdate, e.Type)
		assert.Equal(t, "sess-1", e.SessionID)
		stages = append(stages, fmt.Sprintf("%s/%d", e.Stage, e.Progress))
		if e.Stage == events.StageExtraction && e.Progress == 100 {
			break
		}
	}
	assert.Equal(t, []string{"upload/100", "extraction/10", "extraction/100"}, stages)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return env.bus.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupServer(t, DefaultConfig())

	env.do(http.MethodGet, "/api/health", nil, "")
	w := env.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `lexa_http_requests_total{code="200",method="GET",path="/api/health"} 1`)
}
