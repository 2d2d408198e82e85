// Package server implements the development server. It owns the generation
// being served: builds are scheduled by a Coordinator, finished snapshots are
// swapped in atomically and connected browsers are told to reload.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/weft/internal/build"
	"github.com/conneroisu/weft/internal/config"
	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/logging"
	"github.com/conneroisu/weft/internal/metrics"
	"github.com/conneroisu/weft/internal/output"
	"github.com/conneroisu/weft/internal/types"
	"github.com/conneroisu/weft/internal/version"
	"github.com/conneroisu/weft/internal/watcher"
)

// Engine is the part of *build.Engine the dev server drives.
type Engine interface {
	Builder
	Write(ctx context.Context, res *build.Result) error
}

// DevServer serves the latest good build from memory with live reload.
type DevServer struct {
	cfg            *config.Config
	engine         Engine
	coordinator    *Coordinator
	hub            *Hub
	watcher        *watcher.FileWatcher
	errors         *errors.ErrorCollector
	metrics        metrics.Recorder
	metricsHandler http.Handler
	logger         logging.Logger

	snapshot  atomic.Pointer[output.Snapshot]
	lastBuild atomic.Int64

	httpServer   *http.Server
	addr         string
	serverMutex  sync.RWMutex
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	isShutdown   atomic.Bool
}

// Option configures a DevServer.
type Option func(*DevServer)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *DevServer) { s.logger = logger }
}

// WithMetrics sets the recorder. Recorders exposing Handler() are served
// at /metrics when metrics are enabled.
func WithMetrics(rec metrics.Recorder) Option {
	return func(s *DevServer) { s.metrics = rec }
}

// Status is the document served at /__weft/status.
type Status struct {
	State        string `json:"state"`
	Generation   uint64 `json:"generation"`
	Files        int    `json:"files"`
	Clients      int    `json:"clients"`
	Errors       int    `json:"errors"`
	Builds       int    `json:"builds"`
	LastDuration string `json:"last_duration,omitempty"`
	Version      string `json:"version"`
}

// New creates a dev server for cfg driving engine.
func New(cfg *config.Config, engine Engine, opts ...Option) *DevServer {
	s := &DevServer{
		cfg:     cfg,
		engine:  engine,
		errors:  errors.NewErrorCollector(),
		metrics: metrics.NoopRecorder{},
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("server")

	if h, ok := s.metrics.(interface{ Handler() http.Handler }); ok && cfg.Metrics.Enabled {
		s.metricsHandler = h.Handler()
	}
	s.hub = NewHub(cfg.Server.AllowedOrigins, s.metrics, s.logger)
	s.coordinator = NewCoordinator(engine, s.handleResult, s.metrics, s.logger)
	return s
}

// Start watches the project, runs the initial build and serves HTTP until
// Shutdown is called or ctx is done.
func (s *DevServer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	if err := s.setupFileWatcher(runCtx); err != nil {
		cancel()
		return err
	}
	s.run(runCtx)

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		cancel()
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	s.serverMutex.Lock()
	s.cancel = cancel
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Dev server listening", "url", "http://"+ln.Addr().String())

	go func() {
		<-runCtx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = s.Shutdown(shutdownCtx)
	}()

	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// run starts the hub and coordinator and requests the first generation.
func (s *DevServer) run(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.coordinator.Run(ctx)
	s.coordinator.Trigger()
}

func (s *DevServer) setupFileWatcher(ctx context.Context) error {
	w, err := watcher.NewFileWatcher(s.cfg.Development.Debounce, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	w.AddFilter(watcher.OutputFilter(s.cfg.Output.Path))
	w.AddFilter(watcher.IgnoreFilter(s.cfg.Watch.Ignore))
	w.AddFilter(watcher.NoEditorFilter)
	w.AddHandler(s.handleFileChange)

	for _, p := range s.cfg.Watch.Paths {
		if err := w.AddRecursive(p); err != nil {
			s.logger.Warn(ctx, err, "Failed to watch path", "path", p)
		}
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	s.watcher = w
	return nil
}

func (s *DevServer) handleFileChange(events []watcher.ChangeEvent) error {
	for _, event := range events {
		s.logger.Info(context.Background(), "File changed", "path", event.Path, "type", event.Type.String())
	}
	s.coordinator.Trigger()
	return nil
}

// handleResult publishes the outcome of the latest generation.
func (s *DevServer) handleResult(ctx context.Context, gen types.Generation, res *build.Result, err error) {
	if err != nil {
		s.errors.Record(gen, err)
		s.logger.Error(ctx, err, "Generation failed, serving previous snapshot", "generation", uint64(gen))
		s.hub.Broadcast(Message{Type: MessageError, Generation: uint64(gen), Errors: s.errors.Reports()})
		return
	}

	// Output on disk is complete before clients are told to reload.
	var werr error
	if s.cfg.Server.WriteToDisk {
		werr = s.engine.Write(ctx, res)
	}

	s.errors.Clear()
	s.snapshot.Store(res.Snapshot)
	s.lastBuild.Store(int64(res.Duration))
	s.hub.Broadcast(Message{Type: MessageReload, Generation: uint64(gen)})

	if werr != nil {
		s.errors.Record(gen, werr)
		s.logger.Error(ctx, werr, "Failed to write output", "generation", uint64(gen))
		s.hub.Broadcast(Message{Type: MessageError, Generation: uint64(gen), Errors: s.errors.Reports()})
	}
}

// Addr returns the address the server listens on, empty until Start has
// bound it.
func (s *DevServer) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	return s.addr
}

// Snapshot returns the snapshot currently served, nil before the first
// successful generation.
func (s *DevServer) Snapshot() *output.Snapshot {
	return s.snapshot.Load()
}

// Errors returns the collector holding the latest generation's errors.
func (s *DevServer) Errors() *errors.ErrorCollector {
	return s.errors
}

// State returns the lifecycle state.
func (s *DevServer) State() State {
	if s.isShutdown.Load() {
		return StateStopped
	}
	return s.coordinator.State()
}

// Trigger requests a rebuild.
func (s *DevServer) Trigger() {
	s.coordinator.Trigger()
}

// Handler returns the HTTP handler serving internal endpoints and the
// current snapshot.
func (s *DevServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(routeWS, s.hub)
	mux.HandleFunc(routeStatus, s.handleStatus)
	mux.HandleFunc(routeErrors, s.handleErrors)
	mux.HandleFunc(routeClient, s.handleClient)
	mux.HandleFunc(routePrefix, http.NotFound)
	if s.metricsHandler != nil {
		mux.Handle("/metrics", s.metricsHandler)
	}
	mux.HandleFunc("/", s.handleSnapshot)
	return s.logRequests(mux)
}

func (s *DevServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "Request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *DevServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := Status{
		State:   s.State().String(),
		Clients: s.hub.ClientCount(),
		Errors:  len(s.errors.Reports()),
		Builds:  s.coordinator.Builds(),
		Version: version.GetVersion(),
	}
	if snap := s.snapshot.Load(); snap != nil {
		status.Generation = uint64(snap.Generation)
		status.Files = snap.Len()
		status.LastDuration = time.Duration(s.lastBuild.Load()).String()
	}
	writeJSON(w, status)
}

func (s *DevServer) handleErrors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reports := s.errors.Reports()
	writeJSON(w, map[string]interface{}{
		"errors": reports,
		"count":  len(reports),
	})
}

func (s *DevServer) handleClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(reloadClient))
}

func (s *DevServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.snapshot.Load()
	if snap == nil {
		s.servePending(w, r)
		return
	}

	p := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if p == "" {
		p = s.cfg.Server.Fallback
	}
	if f, ok := snap.Get(p); ok {
		s.serveFile(w, r, f)
		return
	}

	if s.cfg.Server.HistoryAPIFallback && acceptsHTML(r, p) {
		if f, ok := snap.Get(s.cfg.Server.Fallback); ok {
			s.serveFile(w, r, f)
			return
		}
	}
	http.NotFound(w, r)
}

// servePending answers requests made before any generation succeeded.
func (s *DevServer) servePending(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "1")
	if !acceptsHTML(r, strings.TrimPrefix(r.URL.Path, "/")) {
		http.Error(w, "initial build in progress", http.StatusServiceUnavailable)
		return
	}
	doc := []byte("<!doctype html><html><head><title>weft</title></head><body><p>Building...</p></body></html>")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write(s.decorate(doc))
}

func (s *DevServer) serveFile(w http.ResponseWriter, r *http.Request, f *output.File) {
	content := f.Content
	if strings.HasPrefix(f.ContentType, "text/html") {
		content = s.decorate(content)
	}
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, f.Path, time.Time{}, bytes.NewReader(content))
}

// decorate injects the reload client and the error overlay into an HTML
// document.
func (s *DevServer) decorate(doc []byte) []byte {
	var snippet []byte
	if s.cfg.Development.ErrorOverlay {
		snippet = append(snippet, s.errors.ErrorOverlay()...)
	}
	if s.cfg.Development.HotReload {
		snippet = append(snippet, clientTag...)
	}
	return injectHTML(doc, snippet)
}

// acceptsHTML reports whether an unmatched request should get the fallback
// document: the client accepts text/html, or accepts anything and asked for
// an extensionless path.
func acceptsHTML(r *http.Request, p string) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "text/html") {
		return true
	}
	if accept == "" || strings.Contains(accept, "*/*") {
		return path.Ext(p) == ""
	}
	return false
}

// Shutdown stops the watcher, the coordinator and the HTTP server.
func (s *DevServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")
		s.isShutdown.Store(true)

		s.coordinator.Stop()
		if s.watcher != nil {
			if err := s.watcher.Stop(); err != nil {
				s.logger.Warn(ctx, err, "Failed to stop file watcher")
			}
		}

		s.serverMutex.RLock()
		server := s.httpServer
		cancel := s.cancel
		s.serverMutex.RUnlock()

		if cancel != nil {
			cancel()
		}
		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	_ = json.NewEncoder(w).Encode(v)
}
