// Package server exposes the controller over HTTP: the MCP endpoint agents
// sign in to, package downloads, Prometheus metrics and a health probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"testfleet/pkg/logging"
)

// DefaultReadHeaderTimeout is the timeout for reading request headers.
const DefaultReadHeaderTimeout = 10 * time.Second

// Packages resolves download tokens to package files.
type Packages interface {
	Lookup(token string) (string, bool)
}

// Options configures the HTTP surface.
type Options struct {
	Host string
	Port int
	// MCP serves the agent link.
	MCP http.Handler
	// Packages serves GET /packages/{token}.
	Packages Packages
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Health returns the body of /healthz.
	Health func() map[string]interface{}
}

// Server is the controller's HTTP listener.
type Server struct {
	mu         sync.Mutex
	opts       Options
	router     *mux.Router
	httpServer *http.Server
	addr       net.Addr
	done       chan struct{}
}

// New builds the router. Nothing listens until Start.
func New(opts Options) *Server {
	s := &Server{opts: opts, router: mux.NewRouter()}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	if s.opts.MCP != nil {
		s.router.Handle("/mcp", s.opts.MCP)
	}
	if s.opts.Packages != nil {
		s.router.HandleFunc("/packages/{token}", s.handlePackage).Methods(http.MethodGet, http.MethodHead)
	}
	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handlePackage(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	path, ok := s.opts.Packages.Lookup(token)
	if !ok {
		http.Error(w, "unknown package token", http.StatusNotFound)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		logging.Error("Server", err, "Package for token %s is gone", token)
		http.Error(w, "package unavailable", http.StatusGone)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "package unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", token+".pkg"))
	http.ServeContent(w, r, token+".pkg", info.ModTime(), f)
	logging.Debug("Server", "Served package %s to %s", token, r.RemoteAddr)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if s.opts.Health != nil {
		for k, v := range s.opts.Health() {
			body[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn("Server", "Failed to write health response: %v", err)
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return fmt.Errorf("server already started")
	}

	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	s.addr = ln.Addr()
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Server", err, "HTTP server stopped unexpectedly")
		}
	}(s.httpServer, s.done)

	logging.Info("Server", "Listening on %s", s.addr)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// URL returns the base URL agents reach the server under.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	host := s.opts.Host
	port := s.opts.Port
	if tcp, ok := s.addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	if host == "" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Stop shuts the listener down and waits for the serve loop.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	done := s.done
	s.httpServer = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	logging.Info("Server", "Stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-done
	return err
}
