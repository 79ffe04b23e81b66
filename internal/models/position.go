package models

import "time"

// PositionEstimate is the current best guess of where a tag is.
// A nil Coordinate means the location is unknown; an empty Room means the
// coordinate (if any) lies outside every declared room.
type PositionEstimate struct {
	TagID             string      `json:"tag_id"`
	Name              string      `json:"name,omitempty"`
	Coordinate        *Coordinate `json:"coordinate"`
	Room              string      `json:"room,omitempty"`
	Confidence        float64     `json:"confidence"`         // 0-1
	ComputedAt        time.Time   `json:"computed_at"`        // last real fix when Stale
	SourceAnchorCount int         `json:"source_anchor_count"`
	Stale             bool        `json:"stale"`
	StaleSince        time.Time   `json:"stale_since,omitzero"`
	LastRoom          string      `json:"last_room,omitempty"` // room of the last fix, set when Stale
}

// Known reports whether the estimate carries a position
func (p PositionEstimate) Known() bool {
	return p.Coordinate != nil
}

// UnknownPosition returns the "insufficient data" estimate for a tag
func UnknownPosition(tagID string, now time.Time) PositionEstimate {
	return PositionEstimate{
		TagID:      tagID,
		ComputedAt: now,
	}
}

// Degrade returns the stale form of p: no position and zero confidence,
// keeping ComputedAt as the last-seen time
func (p PositionEstimate) Degrade(now time.Time) PositionEstimate {
	last := p.Room
	if last == "" {
		last = p.LastRoom
	}
	p.Coordinate = nil
	p.Room = ""
	p.Confidence = 0
	p.Stale = true
	p.StaleSince = now
	p.LastRoom = last
	return p
}
