package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/r3d91ll/palinor/pkg/config"
	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/manager"
)

const (
	readTimeout = 15 * time.Second

	// Training requests run synchronously, so writes get a generous budget.
	writeTimeout = 10 * time.Minute
	idleTimeout  = 60 * time.Second
)

// Server is the HTTP API server.
type Server struct {
	cfg      config.ServerConfig
	router   *Router
	handlers *Handlers

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a server for mgr with all routes registered.
func NewServer(cfg config.ServerConfig, mgr *manager.Manager, version string) *Server {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}

	router := NewRouter()
	handlers := NewHandlers(mgr, version)
	handlers.SetAllowedOrigins(cfg.CORSOrigins)
	handlers.RegisterRoutes(router)

	return &Server{cfg: cfg, router: router, handlers: handlers}
}

// Address returns the configured host:port.
func (s *Server) Address() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
}

// Router returns the underlying router.
func (s *Server) Router() *Router { return s.router }

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mws := []Middleware{RecoveryMiddleware, RequestIDMiddleware}
	if s.cfg.Logging {
		mws = append(mws, LoggingMiddleware)
	}
	if len(s.cfg.CORSOrigins) > 0 {
		mws = append(mws, CORSMiddleware(s.cfg.CORSOrigins))
	}
	mws = append(mws, ContentTypeMiddleware)
	return Chain(s.router, mws...)
}

// Start binds the listener and serves in the background. It returns once the
// port is bound, so bind errors are reported synchronously.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return perrors.State(perrors.ErrInternal, "server is already running")
	}

	ln, err := net.Listen("tcp", s.Address())
	if err != nil {
		return perrors.IOWrap(err, perrors.ErrIOReadFailed, "failed to bind API server").
			WithContext("address", s.Address())
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	srv := s.httpServer
	go func() {
		log.Printf("[api] Listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] Server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, which differs from Address when port 0 was
// requested. It is empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	log.Printf("[api] Shutting down server...")
	return srv.Shutdown(ctx)
}

// Run starts the server and blocks until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}
