// Package floorplan holds the static house model: anchors with their
// coordinates and room labels, floors, and room outlines used to turn a
// coordinate into a room name. It is loaded once and read-only afterwards.
package floorplan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gopkg.in/yaml.v3"

	"pet-tracker/internal/models"
	"pet-tracker/internal/rssi"
)

// DefaultSignalModel is the signal_models key applied to anchors whose
// hardware has no model of its own
const DefaultSignalModel = "default"

// ConfigError reports a malformed or inconsistent floorplan. It is fatal at
// startup.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("floorplan: %v", e.Err)
	}
	return fmt.Sprintf("floorplan: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// Anchor is a fixed receiver at a known position
type Anchor struct {
	ID       string            `json:"id"`
	Point    models.Coordinate `json:"point"`
	Room     string            `json:"room"`
	Floors   []string          `json:"floors,omitempty"`
	Hardware string            `json:"hardware,omitempty"`
}

// Floor is one storey; Z bounds limit which coordinates its rooms can contain
type Floor struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Min       *models.Coordinate `json:"min,omitempty"`
	Max       *models.Coordinate `json:"max,omitempty"`
	RoomNames []string           `json:"rooms"`
}

// Room is a named 2D outline, optionally tied to a floor
type Room struct {
	Name    string      `json:"name"`
	Floor   string      `json:"floor,omitempty"`
	Outline orb.Polygon `json:"outline"`
}

// Floorplan is the validated, immutable house model
type Floorplan struct {
	anchors     map[string]Anchor
	anchorOrder []string
	floors      []Floor
	floorByID   map[string]int
	rooms       []Room
	tagNames    map[string]string
	converters  map[string]rssi.Converter
	fallback    rssi.Converter
}

// Load reads and validates a YAML floorplan from disk
func Load(path string) (*Floorplan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("read %s: %w", path, err)}
	}
	return Parse(data)
}

// Parse decodes and validates a YAML floorplan document
func Parse(data []byte) (*Floorplan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ConfigError{Err: errors.New("empty document")}
		}
		return nil, &ConfigError{Err: fmt.Errorf("decode yaml: %w", err)}
	}
	return New(cfg)
}

// New validates cfg and builds the floorplan
func New(cfg Config) (*Floorplan, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Err: err}
	}

	fp := &Floorplan{
		anchors:    make(map[string]Anchor, len(cfg.Anchors)),
		floorByID:  make(map[string]int, len(cfg.Floors)),
		tagNames:   make(map[string]string, len(cfg.Tags)),
		converters: make(map[string]rssi.Converter, len(cfg.SignalModels)),
		fallback:   rssi.Default(),
	}

	if err := fp.buildSignalModels(cfg.SignalModels); err != nil {
		return nil, err
	}
	if err := fp.buildAnchors(cfg.Anchors); err != nil {
		return nil, err
	}
	if err := fp.buildFloors(cfg.Floors); err != nil {
		return nil, err
	}
	for i, rc := range cfg.Rooms {
		if err := fp.addRoom(fmt.Sprintf("rooms[%d]", i), "", rc); err != nil {
			return nil, err
		}
	}
	if err := fp.linkAnchors(); err != nil {
		return nil, err
	}

	for i, tc := range cfg.Tags {
		if _, dup := fp.tagNames[tc.ID]; dup {
			return nil, configErrorf(fmt.Sprintf("tags[%d]", i), "duplicate tag id %q", tc.ID)
		}
		fp.tagNames[tc.ID] = tc.Name
	}

	return fp, nil
}

func (fp *Floorplan) buildSignalModels(cfgs map[string]SignalModelConfig) error {
	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mc := cfgs[name]
		field := "signal_models." + name
		var conv rssi.Converter
		switch mc.Model {
		case rssi.ModelPathLoss:
			pl, err := rssi.NewPathLoss(mc.ReferenceRSSI, mc.Exponent)
			if err != nil {
				return &ConfigError{Field: field, Err: err}
			}
			conv = pl
		case rssi.ModelTable:
			pts := make([]rssi.Point, len(mc.Table))
			for i, p := range mc.Table {
				pts[i] = rssi.Point{RSSI: p[0], Distance: p[1]}
			}
			tbl, err := rssi.NewTable(pts)
			if err != nil {
				return &ConfigError{Field: field, Err: err}
			}
			conv = tbl
		default:
			return configErrorf(field, "unknown model %q", mc.Model)
		}
		if name == DefaultSignalModel {
			fp.fallback = conv
			continue
		}
		fp.converters[name] = conv
	}
	return nil
}

func (fp *Floorplan) buildAnchors(anchors []AnchorConfig) error {
	for i, ac := range anchors {
		field := fmt.Sprintf("anchors[%d]", i)
		if _, dup := fp.anchors[ac.ID]; dup {
			return configErrorf(field, "duplicate anchor id %q", ac.ID)
		}
		pt, err := toCoordinate(ac.Point)
		if err != nil {
			return &ConfigError{Field: field + ".point", Err: err}
		}
		fp.anchors[ac.ID] = Anchor{
			ID:       ac.ID,
			Point:    pt,
			Room:     ac.Room,
			Floors:   ac.Floors,
			Hardware: ac.Hardware,
		}
		fp.anchorOrder = append(fp.anchorOrder, ac.ID)
	}
	return nil
}

func (fp *Floorplan) buildFloors(floors []FloorConfig) error {
	for i, fc := range floors {
		field := fmt.Sprintf("floors[%d]", i)
		if _, dup := fp.floorByID[fc.ID]; dup {
			return configErrorf(field, "duplicate floor id %q", fc.ID)
		}
		floor := Floor{ID: fc.ID, Name: fc.Name, RoomNames: []string{}}
		if len(fc.Bounds) == 2 {
			lo, err := toCoordinate(fc.Bounds[0])
			if err != nil {
				return &ConfigError{Field: field + ".bounds", Err: err}
			}
			hi, err := toCoordinate(fc.Bounds[1])
			if err != nil {
				return &ConfigError{Field: field + ".bounds", Err: err}
			}
			if lo.X > hi.X || lo.Y > hi.Y || lo.Z > hi.Z {
				return configErrorf(field+".bounds", "min %v exceeds max %v", lo, hi)
			}
			floor.Min, floor.Max = &lo, &hi
		}
		fp.floorByID[fc.ID] = len(fp.floors)
		fp.floors = append(fp.floors, floor)

		for j, rc := range fc.Rooms {
			if err := fp.addRoom(fmt.Sprintf("%s.rooms[%d]", field, j), fc.ID, rc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (fp *Floorplan) addRoom(field, floorID string, rc RoomConfig) error {
	hasPoints, hasAnchors := len(rc.Points) > 0, len(rc.Anchors) > 0
	if hasPoints == hasAnchors {
		return configErrorf(field, "room %q needs exactly one of points or anchors", rc.Name)
	}

	var ring orb.Ring
	if hasPoints {
		for _, p := range rc.Points {
			c, err := toCoordinate(p)
			if err != nil {
				return &ConfigError{Field: field + ".points", Err: err}
			}
			ring = append(ring, orb.Point{c.X, c.Y})
		}
	} else {
		for _, id := range rc.Anchors {
			a, ok := fp.anchors[id]
			if !ok {
				return configErrorf(field+".anchors", "room %q references unknown anchor %q", rc.Name, id)
			}
			ring = append(ring, orb.Point{a.Point.X, a.Point.Y})
		}
	}

	// rings are kept open; planar containment closes them itself
	if len(ring) > 1 && ring[0].Equal(ring[len(ring)-1]) {
		ring = ring[:len(ring)-1]
	}
	if len(ring) < 3 {
		return configErrorf(field, "room %q outline needs at least 3 distinct points", rc.Name)
	}

	fp.rooms = append(fp.rooms, Room{Name: rc.Name, Floor: floorID, Outline: orb.Polygon{ring}})
	if floorID != "" {
		f := &fp.floors[fp.floorByID[floorID]]
		f.RoomNames = append(f.RoomNames, rc.Name)
	}
	return nil
}

// linkAnchors checks anchor floor references and fills in missing room labels
// from geometry.
func (fp *Floorplan) linkAnchors() error {
	for _, id := range fp.anchorOrder {
		a := fp.anchors[id]
		for _, f := range a.Floors {
			if _, ok := fp.floorByID[f]; !ok {
				return configErrorf("anchors."+id, "unknown floor %q", f)
			}
		}
		if a.Room == "" {
			if room, ok := fp.RoomContaining(a.Point); ok {
				a.Room = room
				fp.anchors[id] = a
			}
		}
	}
	return nil
}

func toCoordinate(p Point) (models.Coordinate, error) {
	if len(p) < 2 || len(p) > 3 {
		return models.Coordinate{}, fmt.Errorf("point needs 2 or 3 components, got %d", len(p))
	}
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.Coordinate{}, fmt.Errorf("point component %v is not finite", v)
		}
	}
	c := models.Coordinate{X: p[0], Y: p[1]}
	if len(p) == 3 {
		c.Z = p[2]
	}
	return c, nil
}

// Anchor looks up an anchor by id
func (fp *Floorplan) Anchor(id string) (Anchor, bool) {
	a, ok := fp.anchors[id]
	return a, ok
}

// Anchors returns every anchor keyed by id. The map is a copy.
func (fp *Floorplan) Anchors() map[string]Anchor {
	out := make(map[string]Anchor, len(fp.anchors))
	for id, a := range fp.anchors {
		out[id] = a
	}
	return out
}

// AnchorList returns anchors in declaration order
func (fp *Floorplan) AnchorList() []Anchor {
	out := make([]Anchor, 0, len(fp.anchorOrder))
	for _, id := range fp.anchorOrder {
		out = append(out, fp.anchors[id])
	}
	return out
}

// Floors returns floors in declaration order
func (fp *Floorplan) Floors() []Floor {
	out := make([]Floor, len(fp.floors))
	copy(out, fp.floors)
	return out
}

// Rooms returns rooms in declaration order, floor rooms first
func (fp *Floorplan) Rooms() []Room {
	out := make([]Room, len(fp.rooms))
	copy(out, fp.rooms)
	return out
}

// TagName returns the display name of a declared tag, or "" when the tag is
// not declared
func (fp *Floorplan) TagName(tagID string) string {
	return fp.tagNames[tagID]
}

// Converter returns the RSSI converter for an anchor hardware type
func (fp *Floorplan) Converter(hardware string) rssi.Converter {
	if c, ok := fp.converters[hardware]; ok {
		return c
	}
	return fp.fallback
}

// RoomContaining returns the first declared room whose outline contains c.
// Rooms on a floor with bounds only match when c.Z is inside the floor's
// height range.
func (fp *Floorplan) RoomContaining(c models.Coordinate) (string, bool) {
	pt := orb.Point{c.X, c.Y}
	for _, r := range fp.rooms {
		if r.Floor != "" {
			f := fp.floors[fp.floorByID[r.Floor]]
			if f.Min != nil && (c.Z < f.Min.Z || c.Z > f.Max.Z) {
				continue
			}
		}
		if planar.PolygonContains(r.Outline, pt) {
			return r.Name, true
		}
	}
	return "", false
}
