// Package server is the development HTTP server: the live-reload endpoints
// and the staged output tree served as static files.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/larrix/internal/livereload"
	"github.com/conneroisu/larrix/internal/logging"
	"github.com/conneroisu/larrix/internal/staging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"
)

// Endpoints.
const (
	EventsPath    = "/events"
	WebSocketPath = "/ws"
	IndexRedirect = "/popup/"
)

var contentTypes = map[string]string{
	".html": "text/html",
	".js":   "application/javascript",
	".css":  "text/css",
	".json": "application/json",
}

const defaultContentType = "application/octet-stream"

// ContentType returns the Content-Type served for name.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return defaultContentType
}

// Config holds what the server needs to run.
type Config struct {
	Host string
	Port int
	// Root is the staged output directory served as static files.
	Root string
}

// Address is the listen address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// DevServer serves the staged extension and the live-reload channel.
type DevServer struct {
	config Config
	fs     afero.Fs
	hub    *livereload.Hub
	logger logging.Logger
	router chi.Router

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	listener     net.Listener
	closed       bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a server reading static files from cfg.Root on fs.
func New(cfg Config, fs afero.Fs, hub *livereload.Hub, logger logging.Logger) *DevServer {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &DevServer{
		config: cfg,
		fs:     fs,
		hub:    hub,
		logger: logger.WithComponent("server"),
	}
	s.router = s.routes()
	return s
}

func (s *DevServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Options(EventsPath, livereload.PreflightHandler())
	r.Get(EventsPath, livereload.SSEHandler(s.hub, s.logger))
	r.Get(WebSocketPath, livereload.WebSocketHandler(s.hub, s.logger))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, IndexRedirect, http.StatusFound)
	})
	r.Handle("/*", http.HandlerFunc(s.handleStatic))
	return r
}

// Handler returns the routed handler.
func (s *DevServer) Handler() http.Handler { return s.router }

// Hub returns the client hub the server registers connections with.
func (s *DevServer) Hub() *livereload.Hub { return s.hub }

// Listen binds the configured address. Start calls it when needed.
func (s *DevServer) Listen() (net.Addr, error) {
	s.serverMutex.Lock()
	defer s.serverMutex.Unlock()
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.config.Address(), err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *DevServer) Start(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}

	s.serverMutex.Lock()
	if s.closed {
		_ = s.listener.Close()
		s.serverMutex.Unlock()
		return nil
	}
	if s.httpServer != nil {
		s.serverMutex.Unlock()
		return fmt.Errorf("server already started")
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server, ln := s.httpServer, s.listener
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Development server started", "url", "http://"+addr.String())
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown closes every live-reload client, then drains in-flight requests.
// Concurrent and repeated calls share the first call's result.
func (s *DevServer) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		// Streams never finish on their own, so close them before draining.
		s.hub.CloseAll()

		s.serverMutex.Lock()
		s.closed = true
		server, ln := s.httpServer, s.listener
		s.serverMutex.Unlock()

		switch {
		case server != nil:
			if err := server.Shutdown(ctx); err != nil {
				s.shutdownErr = fmt.Errorf("server shutdown: %w", err)
			}
		case ln != nil:
			_ = ln.Close()
		}
	})
	return s.shutdownErr
}

func (s *DevServer) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path
	if strings.HasSuffix(name, "/") {
		name += "index.html"
	}

	rel, err := staging.CleanRelative(strings.TrimPrefix(path.Clean("/"+name), "/"))
	if err != nil {
		s.notFound(w, r, name, err)
		return
	}

	target := filepath.Join(s.config.Root, filepath.FromSlash(rel))
	content, err := afero.ReadFile(s.fs, target)
	if err != nil {
		s.notFound(w, r, target, err)
		return
	}

	w.Header().Set("Content-Type", ContentType(rel))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(content)
	}
}

func (s *DevServer) notFound(w http.ResponseWriter, r *http.Request, file string, err error) {
	s.logger.Warn(r.Context(), err, "Error serving file", "path", file)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("Not Found"))
}

// requestLogger logs every request at debug level once it completes.
func (s *DevServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug(r.Context(), "Request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
