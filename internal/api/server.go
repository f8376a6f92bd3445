// Package api exposes the claim decision pipeline over HTTP.
package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// Server wraps the fiber application and its routes.
type Server struct {
	app    *fiber.App
	logger *slog.Logger
}

// NewServer builds the fiber app and mounts the handler's routes.
func NewServer(handler *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
	})

	check := app.Group("/check")
	check.Get("/healthy", handler.HandleHealthy)

	apiv1 := app.Group("/api/v1")
	apiv1.Post("/query", handler.HandleQuery)
	apiv1.Post("/documents", handler.HandleIngest)

	return &Server{app: app, logger: logger}
}

// Listen serves until the listener fails or Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown() error {
	s.logger.Info("http server stopping")
	return s.app.Shutdown()
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
