// Package api serves current positions over HTTP and streams changes over
// a websocket
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"pet-tracker/internal/floorplan"
	"pet-tracker/internal/ingest"
	"pet-tracker/internal/models"
)

// Positions is the read side of the live state store
type Positions interface {
	Get(tagID string) (models.PositionEstimate, bool)
	AllCurrent() []models.PositionEstimate
	Len() int
}

// Server is the query API
type Server struct {
	app    *fiber.App
	addr   string
	logger *zap.Logger

	positions Positions
	plan      *floorplan.Floorplan
	stats     *ingest.Stats
	hub       *Hub
	started   time.Time
}

// NewServer creates the API server. Call Start to serve.
func NewServer(addr string, positions Positions, plan *floorplan.Floorplan, stats *ingest.Stats, logger *zap.Logger) *Server {
	s := &Server{
		addr:      addr,
		logger:    logger,
		positions: positions,
		plan:      plan,
		stats:     stats,
		hub:       NewHub(logger),
		started:   time.Now(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Pet Tracker",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)

	// API routes
	api := app.Group("/api")
	api.Get("/positions", s.handleListPositions)
	api.Get("/positions/:tag", s.handleGetPosition)
	api.Get("/floorplan", s.handleFloorplan)
	api.Get("/stats", s.handleStats)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/positions", websocket.New(s.handlePositionsWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hub, forwards changes to websocket clients and serves
// HTTP. It blocks until the listener stops.
func (s *Server) Start(ctx context.Context, changes <-chan models.PositionEstimate) error {
	go s.hub.Run(ctx)
	go s.forward(ctx, changes)

	s.logger.Info("HTTP API listening", zap.String("addr", s.addr))
	if err := s.app.Listen(s.addr); err != nil {
		return fmt.Errorf("failed to serve HTTP API: %w", err)
	}
	return nil
}

// Shutdown stops the listener, waiting up to timeout for open requests
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

// forward broadcasts every store change to the websocket hub
func (s *Server) forward(ctx context.Context, changes <-chan models.PositionEstimate) {
	for {
		select {
		case <-ctx.Done():
			return
		case est, ok := <-changes:
			if !ok {
				return
			}
			if err := s.hub.BroadcastJSON(est); err != nil {
				s.logger.Warn("Error encoding position update", zap.String("tag_id", est.TagID), zap.Error(err))
			}
		}
	}
}
