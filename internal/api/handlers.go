package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"pet-tracker/internal/floorplan"
	"pet-tracker/internal/ingest"
)

// FloorplanResponse is what the map page needs to draw the house
type FloorplanResponse struct {
	Floors  []floorplan.Floor  `json:"floors"`
	Rooms   []floorplan.Room   `json:"rooms"`
	Anchors []floorplan.Anchor `json:"anchors"`
}

// StatsResponse reports ingestion counters and tracker size
type StatsResponse struct {
	Ingest           ingest.StatsSnapshot `json:"ingest"`
	TrackedTags      int                  `json:"tracked_tags"`
	WebsocketClients int                  `json:"websocket_clients"`
	UptimeSeconds    int64                `json:"uptime_seconds"`
}

// handleError renders every error as {"error": "..."}; internals never leak
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		s.logger.Error("HTTP handler failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleListPositions returns every current estimate, sorted by tag id
func (s *Server) handleListPositions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"positions": s.positions.AllCurrent()})
}

// handleGetPosition returns one tag's estimate; 404 for a tag never seen
func (s *Server) handleGetPosition(c *fiber.Ctx) error {
	est, ok := s.positions.Get(c.Params("tag"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "tag not found")
	}
	return c.JSON(est)
}

func (s *Server) handleFloorplan(c *fiber.Ctx) error {
	return c.JSON(FloorplanResponse{
		Floors:  s.plan.Floors(),
		Rooms:   s.plan.Rooms(),
		Anchors: s.plan.AnchorList(),
	})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(StatsResponse{
		Ingest:           s.stats.Snapshot(),
		TrackedTags:      s.positions.Len(),
		WebsocketClients: s.hub.ClientCount(),
		UptimeSeconds:    int64(time.Since(s.started).Seconds()),
	})
}

// handlePositionsWS sends the current estimates, then every change
func (s *Server) handlePositionsWS(conn *websocket.Conn) {
	client, ok := newClient(s.hub, conn)
	if !ok {
		conn.Close()
		return
	}

	// writePump is not running yet, so this goroutine may write directly
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	for _, est := range s.positions.AllCurrent() {
		if err := conn.WriteJSON(est); err != nil {
			s.logger.Debug("Websocket snapshot write failed", zap.Error(err))
			break
		}
	}

	client.run()
}
