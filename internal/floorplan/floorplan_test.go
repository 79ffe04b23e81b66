package floorplan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pet-tracker/internal/models"
)

const houseYAML = `
floors:
  - id: ground
    name: Ground Floor
    bounds: [[-5, -5, 0], [15, 5, 3]]
    rooms:
      - name: kitchen
        points: [[-5, -5], [5, -5], [5, 5], [-5, 5]]
      - name: hall
        points: [[5, -5], [15, -5], [15, 5], [5, 5]]
anchors:
  - id: A
    point: [0, 0]
    room: kitchen
    floors: [ground]
    hardware: esp32
  - id: B
    point: [10, 0, 1]
    floors: [ground]
tags:
  - id: whiskers
    name: Whiskers
signal_models:
  esp32:
    model: path_loss
    reference_rssi: -62
    exponent: 2
  default:
    model: table
    table: [[-50, 1], [-80, 6]]
`

func TestParse_House(t *testing.T) {
	fp, err := Parse([]byte(houseYAML))
	require.NoError(t, err)

	a, ok := fp.Anchor("A")
	require.True(t, ok)
	assert.Equal(t, models.Coordinate{X: 0, Y: 0, Z: 0}, a.Point)
	assert.Equal(t, "kitchen", a.Room)

	b, ok := fp.Anchor("B")
	require.True(t, ok)
	assert.Equal(t, 1.0, b.Point.Z)
	assert.Equal(t, "hall", b.Room, "unlabelled anchor takes the room it sits in")

	assert.Len(t, fp.Anchors(), 2)
	assert.Equal(t, []string{"A", "B"}, []string{fp.AnchorList()[0].ID, fp.AnchorList()[1].ID})
	assert.Equal(t, "Whiskers", fp.TagName("whiskers"))
	assert.Equal(t, "", fp.TagName("rex"))

	floors := fp.Floors()
	require.Len(t, floors, 1)
	assert.Equal(t, []string{"kitchen", "hall"}, floors[0].RoomNames)
}

func TestRoomContaining(t *testing.T) {
	fp, err := Parse([]byte(houseYAML))
	require.NoError(t, err)

	tests := []struct {
		name   string
		coord  models.Coordinate
		room   string
		inside bool
	}{
		{"kitchen", models.Coordinate{X: 1, Y: 0, Z: 1}, "kitchen", true},
		{"hall", models.Coordinate{X: 9, Y: 2, Z: 1}, "hall", true},
		{"outside the house", models.Coordinate{X: 30, Y: 0, Z: 1}, "", false},
		{"above the floor", models.Coordinate{X: 1, Y: 0, Z: 4}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room, ok := fp.RoomContaining(tt.coord)
			assert.Equal(t, tt.inside, ok)
			assert.Equal(t, tt.room, room)
		})
	}
}

func TestConverterSelection(t *testing.T) {
	fp, err := Parse([]byte(houseYAML))
	require.NoError(t, err)

	assert.InDelta(t, 1.0, fp.Converter("esp32").Distance(-62, nil), 1e-9)
	assert.InDelta(t, 1.0, fp.Converter("unknown-hw").Distance(-50, nil), 1e-9, "falls back to default model")
}

func TestAnchorRelativeRoom(t *testing.T) {
	doc := `
anchors:
  - {id: n1, point: [0, 0]}
  - {id: n2, point: [4, 0]}
  - {id: n3, point: [4, 4]}
  - {id: n4, point: [0, 4]}
rooms:
  - name: lounge
    anchors: [n1, n2, n3, n4]
`
	fp, err := Parse([]byte(doc))
	require.NoError(t, err)

	room, ok := fp.RoomContaining(models.Coordinate{X: 2, Y: 2})
	assert.True(t, ok)
	assert.Equal(t, "lounge", room)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ``},
		{"no anchors", `floors: [{id: g}]`},
		{"duplicate anchor", `
anchors:
  - {id: A, point: [0, 0]}
  - {id: A, point: [1, 0]}
`},
		{"non-finite coordinate", `
anchors:
  - {id: A, point: [.nan, 0]}
`},
		{"too many components", `
anchors:
  - {id: A, point: [0, 0, 0, 0]}
`},
		{"room references missing anchor", `
anchors:
  - {id: A, point: [0, 0]}
  - {id: B, point: [1, 0]}
rooms:
  - {name: den, anchors: [A, B, C]}
`},
		{"room with points and anchors", `
anchors:
  - {id: A, point: [0, 0]}
rooms:
  - {name: den, anchors: [A, A, A], points: [[0, 0], [1, 0], [1, 1]]}
`},
		{"anchor on unknown floor", `
anchors:
  - {id: A, point: [0, 0], floors: [attic]}
`},
		{"inverted floor bounds", `
floors:
  - {id: g, bounds: [[5, 5, 0], [0, 0, 3]]}
anchors:
  - {id: A, point: [0, 0]}
`},
		{"unknown field", `
anchors:
  - {id: A, point: [0, 0], colour: red}
`},
		{"bad signal model", `
anchors:
  - {id: A, point: [0, 0]}
signal_models:
  esp32: {model: path_loss, exponent: 0}
`},
		{"non-monotonic table", `
anchors:
  - {id: A, point: [0, 0]}
signal_models:
  esp32: {model: table, table: [[-50, 4], [-70, 2]]}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr), "want *ConfigError, got %T", err)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floorplan.yml")
	require.NoError(t, os.WriteFile(path, []byte(houseYAML), 0o644))

	fp, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, fp.Rooms(), 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
