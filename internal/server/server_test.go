package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/weft/internal/build"
	"github.com/conneroisu/weft/internal/config"
	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/metrics"
	"github.com/conneroisu/weft/internal/output"
	"github.com/conneroisu/weft/internal/types"
)

const indexDoc = `<!doctype html><html><head></head><body><div id="app"></div></body></html>`

// stubEngine builds empty snapshots and counts writes.
type stubEngine struct {
	gen    atomic.Uint64
	writes atomic.Int32
	werr   error
}

func (e *stubEngine) NextGeneration() types.Generation {
	return types.Generation(e.gen.Add(1))
}

func (e *stubEngine) BuildGeneration(_ context.Context, gen types.Generation) (*build.Result, error) {
	return &build.Result{Generation: gen, Snapshot: output.NewSnapshot(gen)}, nil
}

func (e *stubEngine) Write(context.Context, *build.Result) error {
	e.writes.Add(1)
	return e.werr
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:               "localhost",
			Port:               8080,
			Fallback:           "index.html",
			HistoryAPIFallback: true,
		},
		Development: config.DevelopmentConfig{
			HotReload:    true,
			ErrorOverlay: true,
			Debounce:     20 * time.Millisecond,
		},
		Metrics: config.MetricsConfig{Enabled: true},
	}
}

func testSnapshot(t *testing.T, gen types.Generation) *output.Snapshot {
	t.Helper()
	snap := output.NewSnapshot(gen)
	require.NoError(t, snap.Add("index.html", []byte(indexDoc)))
	require.NoError(t, snap.Add("app.js", []byte(fmt.Sprintf("console.log(%d)", gen))))
	require.NoError(t, snap.Add("styles.css", []byte("body{}")))
	return snap
}

func publish(t *testing.T, s *DevServer, gen types.Generation) {
	t.Helper()
	s.handleResult(context.Background(), gen, &build.Result{Generation: gen, Snapshot: testSnapshot(t, gen)}, nil)
}

func get(t *testing.T, h http.Handler, method, target, accept string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeSnapshotRouting(t *testing.T) {
	s := New(testConfig(), &stubEngine{})
	publish(t, s, 1)
	h := s.Handler()

	testCases := []struct {
		name   string
		method string
		target string
		accept string
		status int
		body   string
	}{
		{"root serves fallback", http.MethodGet, "/", "text/html", http.StatusOK, `<div id="app">`},
		{"exact file", http.MethodGet, "/app.js", "*/*", http.StatusOK, "console.log(1)"},
		{"history route", http.MethodGet, "/users/42", "text/html,application/xhtml+xml", http.StatusOK, `<div id="app">`},
		{"extensionless wildcard", http.MethodGet, "/settings", "*/*", http.StatusOK, `<div id="app">`},
		{"missing asset", http.MethodGet, "/missing.js", "*/*", http.StatusNotFound, ""},
		{"non html accept", http.MethodGet, "/users/42", "application/json", http.StatusNotFound, ""},
		{"unknown internal route", http.MethodGet, "/__weft/nope", "text/html", http.StatusNotFound, ""},
		{"post rejected", http.MethodPost, "/", "text/html", http.StatusMethodNotAllowed, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(t, h, tc.method, tc.target, tc.accept)
			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Contains(t, rec.Body.String(), tc.body)
			}
		})
	}
}

func TestServeSnapshotInjectsReloadClient(t *testing.T) {
	s := New(testConfig(), &stubEngine{})
	publish(t, s, 1)

	rec := get(t, s.Handler(), http.MethodGet, "/index.html", "text/html")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), `<script src="/__weft/client.js"></script></body>`)

	js := get(t, s.Handler(), http.MethodGet, "/app.js", "*/*")
	assert.NotContains(t, js.Body.String(), "__weft")
}

func TestServeSnapshotHistoryFallbackDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Server.HistoryAPIFallback = false
	s := New(cfg, &stubEngine{})
	publish(t, s, 1)

	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), http.MethodGet, "/users/42", "text/html").Code)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), http.MethodGet, "/", "text/html").Code)
}

func TestServeHead(t *testing.T) {
	s := New(testConfig(), &stubEngine{})
	publish(t, s, 1)

	rec := get(t, s.Handler(), http.MethodHead, "/styles.css", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
}

func TestServeBeforeFirstBuild(t *testing.T) {
	s := New(testConfig(), &stubEngine{})

	rec := get(t, s.Handler(), http.MethodGet, "/", "text/html")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "/__weft/client.js")

	rec = get(t, s.Handler(), http.MethodGet, "/app.js", "*/*")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFailedGenerationKeepsPreviousSnapshot(t *testing.T) {
	s := New(testConfig(), &stubEngine{})
	h := s.Handler()
	publish(t, s, 1)

	cycle := errors.NewCycleDetected([]types.AssetID{
		types.NewAssetID("/p/a.js", ""),
		types.NewAssetID("/p/b.js", ""),
		types.NewAssetID("/p/a.js", ""),
	})
	s.handleResult(context.Background(), 2, nil, cycle)

	assert.Equal(t, types.Generation(1), s.Snapshot().Generation)
	assert.Contains(t, get(t, h, http.MethodGet, "/app.js", "*/*").Body.String(), "console.log(1)")

	doc := get(t, h, http.MethodGet, "/", "text/html").Body.String()
	assert.Contains(t, doc, "weft-error-overlay")
	assert.Contains(t, doc, "dependency cycle detected")

	rec := get(t, h, http.MethodGet, "/__weft/errors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Errors []errors.Report `json:"errors"`
		Count  int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, errors.KindCycleDetected, body.Errors[0].Kind)
	assert.Equal(t, types.Generation(2), body.Errors[0].Generation)

	publish(t, s, 3)
	assert.False(t, s.Errors().HasErrors())
	assert.NotContains(t, get(t, h, http.MethodGet, "/", "text/html").Body.String(), "weft-error-overlay")
}

func TestStatusEndpoint(t *testing.T) {
	s := New(testConfig(), &stubEngine{})
	h := s.Handler()

	var status Status
	rec := get(t, h, http.MethodGet, "/__weft/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "idle", status.State)
	assert.Zero(t, status.Generation)

	publish(t, s, 5)
	rec = get(t, h, http.MethodGet, "/__weft/status", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, uint64(5), status.Generation)
	assert.Equal(t, 3, status.Files)
	assert.NotEmpty(t, status.Version)

	assert.Equal(t, http.StatusMethodNotAllowed, get(t, h, http.MethodPost, "/__weft/status", "").Code)
}

func TestClientScript(t *testing.T) {
	s := New(testConfig(), &stubEngine{})

	rec := get(t, s.Handler(), http.MethodGet, "/__weft/client.js", "*/*")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rec.Body.String(), "/__weft/ws")
}

func TestMetricsEndpoint(t *testing.T) {
	rec := metrics.NewPrometheusRecorder(nil)
	rec.SetGeneration(3)

	s := New(testConfig(), &stubEngine{}, WithMetrics(rec))
	res := get(t, s.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "weft_generation 3")

	cfg := testConfig()
	cfg.Metrics.Enabled = false
	s = New(cfg, &stubEngine{}, WithMetrics(rec))
	assert.NotContains(t, get(t, s.Handler(), http.MethodGet, "/metrics", "text/plain").Body.String(), "weft_generation")
}

func TestWriteToDisk(t *testing.T) {
	cfg := testConfig()
	cfg.Server.WriteToDisk = true
	engine := &stubEngine{}
	s := New(cfg, engine)

	publish(t, s, 1)
	assert.Equal(t, int32(1), engine.writes.Load())
	assert.False(t, s.Errors().HasErrors())

	engine.werr = errors.NewWriteFailed("/p/dist", fmt.Errorf("read-only file system"))
	publish(t, s, 2)
	assert.Equal(t, types.Generation(2), s.Snapshot().Generation)
	require.True(t, s.Errors().HasErrors())
	assert.Equal(t, errors.ErrorSeverityFatal, s.Errors().Reports()[0].Severity)
}

func TestWebSocketReloadMessages(t *testing.T) {
	s := New(testConfig(), &stubEngine{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/__weft/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{srv.URL}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	publish(t, s, 7)
	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"reload","generation":7}`, string(data))

	s.handleResult(ctx, 8, nil, fmt.Errorf("transform exploded"))
	_, data, err = conn.Read(readCtx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageError, msg.Type)
	assert.Equal(t, uint64(8), msg.Generation)
	require.Len(t, msg.Errors, 1)
	assert.Equal(t, "transform exploded", msg.Errors[0].Message)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	s := New(testConfig(), &stubEngine{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/__weft/ws"
	_, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://evil.example.com"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, s.hub.ClientCount())
}

func TestInjectHTML(t *testing.T) {
	snippet := []byte("<x>")
	assert.Equal(t, "<html><body>hi<x></BODY></html>", string(injectHTML([]byte("<html><body>hi</BODY></html>"), snippet)))
	assert.Equal(t, "fragment<x>", string(injectHTML([]byte("fragment"), snippet)))
	assert.Equal(t, "doc", string(injectHTML([]byte("doc"), nil)))
}

func TestAcceptsHTML(t *testing.T) {
	testCases := []struct {
		accept   string
		path     string
		expected bool
	}{
		{"text/html", "users/1", true},
		{"text/html", "logo.png", true},
		{"*/*", "users/1", true},
		{"*/*", "logo.png", false},
		{"", "about", true},
		{"application/json", "about", false},
	}

	for _, tc := range testCases {
		t.Run(tc.accept+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/"+tc.path, nil)
			if tc.accept != "" {
				req.Header.Set("Accept", tc.accept)
			}
			assert.Equal(t, tc.expected, acceptsHTML(req, tc.path))
		})
	}
}

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func TestDevServerRebuildsWithEngine(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"index.js":   "require('./index.html');\nrequire('./styles.css');\nconsole.log('v1');\n",
		"index.html": indexDoc,
		"styles.css": "body{color:red}",
	})

	cfg := testConfig()
	cfg.Context = dir
	cfg.Entry = []string{"./index.js"}
	cfg.Output = config.OutputConfig{Path: "dist", Filename: "[name].js"}
	cfg.Resolve = config.ResolveConfig{Extensions: []string{".js"}, Modules: []string{"node_modules"}}
	cfg.Build = config.BuildConfig{Workers: 2}
	require.NoError(t, cfg.Normalize())

	engine, err := build.NewEngine(cfg)
	require.NoError(t, err)
	s := New(cfg, engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.run(ctx)

	require.Eventually(t, func() bool { return s.Snapshot() != nil }, 5*time.Second, 10*time.Millisecond)
	h := s.Handler()
	assert.Contains(t, get(t, h, http.MethodGet, "/index.js", "*/*").Body.String(), "v1")
	assert.Equal(t, "body{color:red}", get(t, h, http.MethodGet, "/styles.css", "text/css").Body.String())
	first := s.Snapshot().Generation

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"),
		[]byte("require('./index.html');\nrequire('./styles.css');\nconsole.log('v2');\n"), 0o644))
	s.Trigger()

	require.Eventually(t, func() bool { return s.Snapshot().Generation > first }, 5*time.Second, 10*time.Millisecond)
	body, err := io.ReadAll(get(t, h, http.MethodGet, "/index.js", "*/*").Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "v2")
	assert.NoDirExists(t, filepath.Join(dir, "dist"))

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, s.State())
}
