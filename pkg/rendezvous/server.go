package rendezvous

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Server is the rendezvous HTTP/WebSocket server: it wires a Handler
// over a session registry and realm manager and exposes health/stats
// endpoints alongside the WebSocket upgrade path.
type Server struct {
	sessions *Registry
	realms   *RealmManager
	handler  *Handler

	httpServer *http.Server
	mux        *http.ServeMux

	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	CleanupInterval time.Duration

	shutdownOnce sync.Once
	done         chan struct{}

	Logger *log.Logger
}

// Config holds server configuration options.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	CleanupInterval time.Duration
	EmptyRealmTTL   time.Duration
	Upgrader        Upgrader
	NewDirectory    DirectoryFactory
	Logger          *log.Logger
}

// DefaultConfig returns sensible default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		CleanupInterval: time.Minute,
		EmptyRealmTTL:   5 * time.Minute,
		Logger:          log.Default(),
	}
}

// NewServer creates a rendezvous server with the given configuration.
// cfg.NewDirectory must be set; cfg.Upgrader may be set later via
// Handler().Upgrader = ... before Start.
func NewServer(cfg Config) *Server {
	sessions := NewRegistry()
	realms := NewRealmManager(cfg.NewDirectory)
	if cfg.EmptyRealmTTL > 0 {
		realms.EmptyRealmTTL = cfg.EmptyRealmTTL
	}

	handler := NewHandler(sessions, realms)
	handler.Upgrader = cfg.Upgrader

	s := &Server{
		sessions:        sessions,
		realms:          realms,
		handler:         handler,
		mux:             http.NewServeMux(),
		Addr:            cfg.Addr,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          cfg.Logger,
		done:            make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.Handle("/ws", s.handler)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/realms", s.handleRealms)
}

// Start begins serving requests, blocking until Shutdown is called or
// the listener fails.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.Addr,
		Handler:      s.corsMiddleware(s.mux),
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
	}

	go s.cleanupLoop()
	go s.handleShutdownSignals()

	s.log("starting server on %s", s.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.log("shutting down...")
		close(s.done)
		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}
	})
	return err
}

func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(s.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if removed := s.realms.CleanupEmpty(); removed > 0 {
				s.log("cleanup: removed %d empty realm(s)", removed)
			}
		}
	}
}

func (s *Server) handleShutdownSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		s.log("received signal: %v", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	case <-s.done:
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"sessions":  s.sessions.Count(),
		"realms":    s.realms.Count(),
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handleRealms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"realms": s.realms.List(),
	})
}

func (s *Server) log(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf("[rendezvous] "+format, args...)
	}
}

// Handler returns the WebSocket handler for configuration (e.g. setting
// Upgrader after construction).
func (s *Server) Handler() *Handler {
	return s.handler
}

// Sessions returns the session registry for external inspection.
func (s *Server) Sessions() *Registry {
	return s.sessions
}

// Realms returns the realm manager for external inspection.
func (s *Server) Realms() *RealmManager {
	return s.realms
}

// ListenAddr returns a human-readable URL for the bound address.
func (s *Server) ListenAddr() string {
	return fmt.Sprintf("http://localhost%s", s.Addr)
}
