package database

import (
	"math"
	"time"

	"pet-tracker/internal/models"
)

// PositionRow is one tag_positions row
type PositionRow struct {
	Timestamp   time.Time
	TagID       string
	Name        string
	X, Y, Z     float64
	Room        string
	Confidence  float64
	AnchorCount uint16
}

// StaleEventRow is one tag_stale_events row
type StaleEventRow struct {
	Timestamp time.Time
	TagID     string
	LastSeen  time.Time
	LastRoom  string
}

// splitTrail maps estimates to rows. Unknown estimates that are not stale
// carry no position and are skipped.
func splitTrail(estimates []models.PositionEstimate) ([]PositionRow, []StaleEventRow) {
	var fixes []PositionRow
	var stale []StaleEventRow
	for _, est := range estimates {
		switch {
		case est.Stale:
			stale = append(stale, StaleEventRow{
				Timestamp: est.StaleSince,
				TagID:     est.TagID,
				LastSeen:  est.ComputedAt,
				LastRoom:  est.LastRoom,
			})
		case est.Known():
			fixes = append(fixes, PositionRow{
				Timestamp:   est.ComputedAt,
				TagID:       est.TagID,
				Name:        est.Name,
				X:           est.Coordinate.X,
				Y:           est.Coordinate.Y,
				Z:           est.Coordinate.Z,
				Room:        est.Room,
				Confidence:  est.Confidence,
				AnchorCount: uint16(min(est.SourceAnchorCount, math.MaxUint16)),
			})
		}
	}
	return fixes, stale
}
