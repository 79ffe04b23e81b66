// Package ingest turns raw MQTT telemetry into validated observations.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"pet-tracker/internal/floorplan"
	"pet-tracker/internal/models"
)

var (
	// ErrMalformed is wrapped by every DecodeError
	ErrMalformed = errors.New("malformed observation")
	// ErrUnknownAnchor marks an observation from an anchor missing in the
	// floorplan. It is a warning: the message is dropped and ingestion goes on.
	ErrUnknownAnchor = errors.New("unknown anchor")
)

// DecodeError reports a single message that could not be decoded
type DecodeError struct {
	Topic  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Topic, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Topic, e.Reason)
}

// Unwrap exposes both the cause and ErrMalformed to errors.Is
func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformed, e.Err}
	}
	return []error{ErrMalformed}
}

// Stats counts decoder outcomes. Safe for concurrent use.
type Stats struct {
	decoded       atomic.Uint64
	malformed     atomic.Uint64
	unknownAnchor atomic.Uint64
	dropped       atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	Decoded       uint64 `json:"decoded"`
	Malformed     uint64 `json:"malformed"`
	UnknownAnchor uint64 `json:"unknown_anchor"`
	Dropped       uint64 `json:"dropped"`
}

// Snapshot returns the current counter values
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Decoded:       s.decoded.Load(),
		Malformed:     s.malformed.Load(),
		UnknownAnchor: s.unknownAnchor.Load(),
		Dropped:       s.dropped.Load(),
	}
}

// CountDropped records an observation decoded but not delivered downstream
func (s *Stats) CountDropped() {
	s.dropped.Add(1)
}

// DefaultMaxClockSkew is how far a payload timestamp may run ahead of
// arrival before it is replaced by the arrival time
const DefaultMaxClockSkew = 2 * time.Second

// Decoder validates observation messages against the floorplan
type Decoder struct {
	plan     *floorplan.Floorplan
	segments []string // subscription pattern split on "/"
	tagIndex int      // position of the "+" wildcard
	maxSkew  time.Duration
	stats    Stats
}

// NewDecoder creates a decoder for topics matching pattern, which must
// contain exactly one "+" segment holding the tag id and no "#"
func NewDecoder(plan *floorplan.Floorplan, pattern string) (*Decoder, error) {
	segments := strings.Split(pattern, "/")
	tagIndex := -1
	for i, seg := range segments {
		switch seg {
		case "+":
			if tagIndex >= 0 {
				return nil, fmt.Errorf("topic pattern %q has more than one + wildcard", pattern)
			}
			tagIndex = i
		case "#":
			return nil, fmt.Errorf("topic pattern %q must not use #", pattern)
		}
	}
	if tagIndex < 0 {
		return nil, fmt.Errorf("topic pattern %q has no + wildcard for the tag id", pattern)
	}
	return &Decoder{plan: plan, segments: segments, tagIndex: tagIndex, maxSkew: DefaultMaxClockSkew}, nil
}

// SetMaxClockSkew sets how far ahead of arrival a payload timestamp is
// trusted. Negative values are treated as zero.
func (d *Decoder) SetMaxClockSkew(skew time.Duration) {
	d.maxSkew = max(skew, 0)
}

// Stats returns the decoder's counters
func (d *Decoder) Stats() *Stats {
	return &d.stats
}

// TagID extracts the tag id from topic
func (d *Decoder) TagID(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != len(d.segments) {
		return "", false
	}
	for i, seg := range d.segments {
		if i == d.tagIndex {
			continue
		}
		if parts[i] != seg {
			return "", false
		}
	}
	tag := parts[d.tagIndex]
	return tag, tag != ""
}

// Decode turns one message into an observation. arrival stands in for a
// payload timestamp that is missing, unparseable or further ahead of
// arrival than the allowed clock skew. Failures are counted: a
// *DecodeError for malformed input, ErrUnknownAnchor for anchors the
// floorplan does not know.
func (d *Decoder) Decode(topic string, payload []byte, arrival time.Time) (models.Observation, error) {
	obs, err := d.decode(topic, payload, arrival)
	switch {
	case err == nil:
		d.stats.decoded.Add(1)
	case errors.Is(err, ErrUnknownAnchor):
		d.stats.unknownAnchor.Add(1)
	default:
		d.stats.malformed.Add(1)
	}
	return obs, err
}

func (d *Decoder) decode(topic string, payload []byte, arrival time.Time) (models.Observation, error) {
	tagID, ok := d.TagID(topic)
	if !ok {
		return models.Observation{}, &DecodeError{Topic: topic, Reason: "topic carries no tag id"}
	}

	var p models.ObservationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return models.Observation{}, &DecodeError{Topic: topic, Reason: "invalid json", Err: err}
	}
	if p.Anchor == "" {
		return models.Observation{}, &DecodeError{Topic: topic, Reason: "missing anchor"}
	}

	anchor, ok := d.plan.Anchor(p.Anchor)
	if !ok {
		return models.Observation{}, fmt.Errorf("%w %q on %s", ErrUnknownAnchor, p.Anchor, topic)
	}

	var distance float64
	switch {
	case p.Distance != nil:
		distance = *p.Distance
	case p.RSSI != nil:
		if !finite(*p.RSSI) {
			return models.Observation{}, &DecodeError{Topic: topic, Reason: "non-finite rssi"}
		}
		distance = d.plan.Converter(anchor.Hardware).Distance(*p.RSSI, p.RSSIAt1m)
	default:
		return models.Observation{}, &DecodeError{Topic: topic, Reason: "neither distance nor rssi present"}
	}
	if !finite(distance) {
		return models.Observation{}, &DecodeError{Topic: topic, Reason: "non-finite distance"}
	}

	receivedAt := arrival
	if p.Timestamp != "" {
		// a future-dated reading would pin its ring until the clock caught up
		if ts, err := time.Parse(time.RFC3339Nano, p.Timestamp); err == nil && !ts.After(arrival.Add(d.maxSkew)) {
			receivedAt = ts
		}
	}

	return models.Observation{
		TagID:      tagID,
		AnchorID:   anchor.ID,
		Distance:   math.Max(0, distance),
		RSSI:       p.RSSI,
		ReceivedAt: receivedAt,
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
