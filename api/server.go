// Package api exposes ingestion and query over HTTP with fiber.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/poiesic/webrag/ingestion"
	"github.com/poiesic/webrag/query"
	"github.com/poiesic/webrag/storage"
)

// DefaultAllowedOrigins are the browser origins accepted by CORS.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// Services are the collaborators behind the HTTP routes.
type Services struct {
	Submitter    *ingestion.Submitter
	Orchestrator *query.Orchestrator
	Jobs         storage.JobRepository
	Chunks       storage.ChunkRepository
	Sessions     storage.SessionRepository
	Queue        storage.Queue
}

func (s Services) validate() error {
	switch {
	case s.Submitter == nil:
		return fmt.Errorf("submitter is required")
	case s.Orchestrator == nil:
		return fmt.Errorf("orchestrator is required")
	case s.Jobs == nil:
		return fmt.Errorf("job repository is required")
	case s.Chunks == nil:
		return fmt.Errorf("chunk repository is required")
	case s.Sessions == nil:
		return fmt.Errorf("session repository is required")
	case s.Queue == nil:
		return fmt.Errorf("queue is required")
	}
	return nil
}

// Server serves the HTTP API.
type Server struct {
	app    *fiber.App
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*serverOptions) error

type serverOptions struct {
	origins []string
	logger  *slog.Logger
}

// WithAllowedOrigins replaces DefaultAllowedOrigins.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *serverOptions) error {
		o.origins = origins
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *serverOptions) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// NewServer builds the fiber app and registers every route.
func NewServer(services Services, opts ...Option) (*Server, error) {
	if err := services.validate(); err != nil {
		return nil, err
	}
	options := &serverOptions{origins: DefaultAllowedOrigins, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}
	logger := options.logger.With("component", "api")

	ctx, cancel := context.WithCancel(context.Background())
	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(options.origins, ","),
	}))
	app.Use(requestContext(ctx))

	h := &handlers{
		submitter:    services.Submitter,
		orchestrator: services.Orchestrator,
		jobs:         services.Jobs,
		chunks:       services.Chunks,
		sessions:     services.Sessions,
		queue:        services.Queue,
	}

	var (
		check = app.Group("/check")
		apiv1 = app.Group("/api/v1")
	)

	app.Get("/", h.handleRoot)
	check.Get("/healthy", h.handleHealthy)

	apiv1.Post("/ingest-url", h.handleIngest)
	apiv1.Post("/query", h.handleQuery)
	apiv1.Get("/jobs/:id", h.handleGetJob)
	apiv1.Get("/jobs/:id/chunks", h.handleGetJobChunks)
	apiv1.Get("/sessions/:id", h.handleGetSession)
	apiv1.Delete("/sessions/:id", h.handleDeleteSession)
	apiv1.Post("/sessions/:id/clear", h.handleClearSession)
	apiv1.Get("/queue", h.handleQueue)

	return &Server{app: app, ctx: ctx, cancel: cancel, logger: logger}, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the listener, waits for in-flight requests until ctx is
// done, then cancels any request context still alive.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.cancel()
	s.logger.Info("server stopped")
	return err
}
