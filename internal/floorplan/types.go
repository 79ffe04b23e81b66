package floorplan

// Point is a 2 or 3 component coordinate as written in YAML, e.g. [1.5, 2, 0.8]
type Point []float64

// FloorConfig is one storey of the house
type FloorConfig struct {
	ID     string       `yaml:"id" validate:"required"`
	Name   string       `yaml:"name"`
	Bounds []Point      `yaml:"bounds" validate:"omitempty,len=2,dive,min=2,max=3"` // [min, max]
	Rooms  []RoomConfig `yaml:"rooms" validate:"dive"`
}

// RoomConfig is either an explicit polygon or an anchor-relative region whose
// outline is traced through the listed anchors in order.
type RoomConfig struct {
	Name    string   `yaml:"name" validate:"required"`
	Points  []Point  `yaml:"points" validate:"omitempty,min=3,dive,min=2,max=3"`
	Anchors []string `yaml:"anchors" validate:"omitempty,min=3,dive,required"`
}

// AnchorConfig is a fixed BLE receiver (room node)
type AnchorConfig struct {
	ID       string   `yaml:"id" validate:"required"`
	Point    Point    `yaml:"point" validate:"min=2,max=3"`
	Room     string   `yaml:"room"`
	Floors   []string `yaml:"floors"`
	Hardware string   `yaml:"hardware"`
}

// TagConfig names a collar for display
type TagConfig struct {
	ID   string `yaml:"id" validate:"required"`
	Name string `yaml:"name"`
}

// SignalModelConfig configures the rssi.Converter for one hardware type
type SignalModelConfig struct {
	Model         string  `yaml:"model" validate:"oneof=path_loss table"`
	ReferenceRSSI float64 `yaml:"reference_rssi"`
	Exponent      float64 `yaml:"exponent"`
	Table         []Point `yaml:"table" validate:"omitempty,dive,len=2"` // [[rssi, distance], ...]
}

// Config is the root of the floorplan document
type Config struct {
	Floors       []FloorConfig                `yaml:"floors" validate:"dive"`
	Rooms        []RoomConfig                 `yaml:"rooms" validate:"dive"` // rooms not tied to a floor
	Anchors      []AnchorConfig               `yaml:"anchors" validate:"required,min=1,dive"`
	Tags         []TagConfig                  `yaml:"tags" validate:"dive"`
	SignalModels map[string]SignalModelConfig `yaml:"signal_models" validate:"dive"`
}
