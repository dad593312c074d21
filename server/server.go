// Package server is the completion relay: it accepts a chat turn as a
// multipart form and streams the assistant's progress back as
// newline-delimited JSON.
//
// Endpoints:
//   - POST /api/chat/completion         stream one assistant turn
//   - GET  /api/utils/download-image    proxy an image as an attachment
//   - GET  /health                      liveness
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"miku/provider"
	"miku/websearch"
)

const (
	CompletionPath    = "/api/chat/completion"
	DownloadImagePath = "/api/utils/download-image"
	HealthPath        = "/health"

	DefaultAddr = "127.0.0.1:8790"

	// MaxFormMemory is the part of a completion form kept in memory; larger
	// files spill to temporary files.
	MaxFormMemory = 8 << 20
	// MaxBodyBytes bounds the whole completion form.
	MaxBodyBytes = 32 << 20

	defaultImageTimeout = 30 * time.Second
)

// Searcher runs a delegated web search.
type Searcher interface {
	Search(ctx context.Context, req websearch.Request) (websearch.Response, error)
}

// Options configures a Server. Provider is required.
type Options struct {
	Addr     string
	Provider provider.Provider
	// Searcher is optional; without one, turns never search.
	Searcher Searcher
	// Token, when set, must be presented as a bearer credential.
	Token string
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	RateBurst int
	// ImageClient fetches proxied images.
	ImageClient *http.Client
	Logger      *zap.Logger
	Now         func() time.Time
}

// Server is the relay's HTTP surface.
type Server struct {
	opts    Options
	logger  *zap.Logger
	mux     *http.ServeMux
	handler http.Handler
	srv     *http.Server
}

// New builds a Server and its middleware chain.
func New(opts Options) (*Server, error) {
	if opts.Provider == nil {
		return nil, errors.New("server: provider is required")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ImageClient == nil {
		opts.ImageClient = &http.Client{Timeout: defaultImageTimeout}
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger.Named("server"),
		mux:    http.NewServeMux(),
	}
	s.setupRoutes()

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger),
	}
	if opts.RateLimit > 0 {
		middlewares = append(middlewares, RateLimitMiddleware(NewRateLimiter(opts.RateLimit, opts.RateBurst)))
	}
	if opts.Token != "" {
		middlewares = append(middlewares, AuthMiddleware(opts.Token, s.logger))
	}
	s.handler = Chain(middlewares...)(s.mux)
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Method checks happen in the handlers so that the 405 body is JSON.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc(CompletionPath, s.handleCompletion)
	s.mux.HandleFunc(DownloadImagePath, s.handleDownloadImage)
	s.mux.HandleFunc(HealthPath, s.handleHealth)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.opts.Addr
}

// Listen binds the listen address. Serve must be called with the listener.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.opts.Addr)
}

// Serve handles connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("relay listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("provider", s.opts.Provider.Name()),
		zap.String("model", s.opts.Provider.Model()),
		zap.Bool("search", s.opts.Searcher != nil))
	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for open streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("relay shutting down")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": s.opts.Provider.Name(),
		"model":    s.opts.Provider.Model(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}
