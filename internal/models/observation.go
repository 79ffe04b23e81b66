package models

import (
	"math"
	"time"
)

// Coordinate is a point on the floorplan in metres. 2D points carry Z=0.
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance returns the euclidean distance between two coordinates
func (c Coordinate) Distance(o Coordinate) float64 {
	dx, dy, dz := c.X-o.X, c.Y-o.Y, c.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// IsFinite reports whether every component is a finite number
func (c Coordinate) IsFinite() bool {
	for _, v := range [...]float64{c.X, c.Y, c.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Observation is one timestamped proximity reading from one anchor about one tag
type Observation struct {
	TagID      string    `json:"tag_id"`
	AnchorID   string    `json:"anchor_id"`
	Distance   float64   `json:"distance"`       // metres, never negative
	RSSI       *float64  `json:"rssi,omitempty"` // dBm, when the anchor reported it
	ReceivedAt time.Time `json:"received_at"`
}

// ObservationPayload is the inbound MQTT message body on the observation topic
type ObservationPayload struct {
	Anchor    string   `json:"anchor"`
	Distance  *float64 `json:"distance"`
	RSSI      *float64 `json:"rssi"`
	RSSIAt1m  *float64 `json:"rssi@1m"`
	Timestamp string   `json:"timestamp"`
}
