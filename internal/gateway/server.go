// Package gateway exposes the agent runtime over HTTP: OpenAI-style
// chat completions, raw agent event streams, thread CRUD, and the usual
// operational endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/sandbox"
	"github.com/strandlabs/strand/internal/store"
	"github.com/strandlabs/strand/internal/tools"
	"github.com/strandlabs/strand/pkg/models"
)

// AgentRunner is the slice of the agent session the HTTP layer needs.
type AgentRunner interface {
	Run(ctx context.Context, messages []models.Message, model string, opts agent.Options) (<-chan models.Event, error)
	RunWithThread(ctx context.Context, threadID string, newMessages []models.Message, model string, opts agent.Options) (<-chan models.Event, error)
}

// Config wires a Server.
type Config struct {
	Addr         string
	DefaultModel string
	Models       []string
	Store        store.Store
	Runner       AgentRunner
	Manager      *sandbox.Manager
	Registry     *tools.Registry
	Logger       *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	addr         string
	defaultModel string
	models       []string
	store        store.Store
	runner       AgentRunner
	manager      *sandbox.Manager
	registry     *tools.Registry
	logger       *slog.Logger
	metrics      *metrics

	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the server and registers its metrics.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:         cfg.Addr,
		defaultModel: cfg.DefaultModel,
		models:       cfg.Models,
		store:        cfg.Store,
		runner:       cfg.Runner,
		manager:      cfg.Manager,
		registry:     cfg.Registry,
		logger:       logger.With("component", "gateway"),
		metrics:      newMetrics(),
	}
}

// Handler returns the routed handler; exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /v1/threads/{tid}/chat/completions", s.handleThreadChatCompletions)
	mux.HandleFunc("POST /v1/agent/run", s.handleAgentRun)
	mux.HandleFunc("POST /v1/threads/{tid}/agent/run", s.handleThreadAgentRun)
	mux.HandleFunc("POST /v1/threads", s.handleCreateThread)
	mux.HandleFunc("GET /v1/threads/{tid}/messages", s.handleGetMessages)
	mux.HandleFunc("POST /v1/threads/{tid}/messages", s.handleAddMessage)
	mux.HandleFunc("DELETE /v1/threads/{tid}/messages", s.handleDeleteMessages)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("http server listening", "addr", s.addr)
	return nil
}

// Shutdown drains in-flight requests and joins outstanding sandbox
// provisioning.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.manager != nil {
		s.manager.Quiesce(ctx)
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
