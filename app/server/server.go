package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"ragingest/app/api"
	"ragingest/app/middleware"
	"ragingest/config"
	"ragingest/retrieval"
)

type Server struct {
	listenAddr string
	logger     *slog.Logger
	app        *fiber.App
}

func NewServer(cfg *config.Config, querier retrieval.Querier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listenAddr: cfg.Server.Addr,
		logger:     logger.With("component", "server"),
		app:        NewApp(cfg, querier, logger),
	}
}

// NewApp wires the HTTP routes of the query service.
func NewApp(cfg *config.Config, querier retrieval.Querier, logger *slog.Logger) *fiber.App {
	var (
		app = fiber.New(fiber.Config{
			ErrorHandler:          api.ErrorHandler,
			DisableStartupMessage: true,
			ReadTimeout:           30 * time.Second,
		})
		checkHandler   = api.NewCheckHandler(querier)
		requestHandler = api.NewRequestHandler(querier, logger)
		configHandler  = api.NewConfigHandler(cfg)
	)

	app.Use(middleware.RequestLogger(logger))
	app.Use(middleware.IgnoreWellKnown())

	check := app.Group("/check")
	check.Get("/healthy", checkHandler.HandleHealthy)
	check.Get("/ready", checkHandler.HandleReady)

	apiv1 := app.Group("/api/v1")
	apiv1.Post("/search", requestHandler.HandleSearch)
	apiv1.Get("/collections", requestHandler.HandleCollections)
	apiv1.Get("/collections/:name", requestHandler.HandleCollection)
	apiv1.Get("/config", configHandler.HandleGetConfig)

	return app
}

// Run blocks serving HTTP until Stop is called.
func (s *Server) Run() error {
	s.logger.Info("server listening", "addr", s.listenAddr)
	return s.app.Listen(s.listenAddr)
}

func (s *Server) Stop(ctx context.Context) error {
	defer s.logger.Info("server stopped")
	return s.app.ShutdownWithContext(ctx)
}
