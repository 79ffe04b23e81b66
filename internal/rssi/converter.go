// Package rssi converts received signal strength into a distance estimate.
// Anchor hardware varies, so every conversion is a Converter selected per
// hardware type from the floorplan's signal model table.
package rssi

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Model names accepted in configuration
const (
	ModelPathLoss = "path_loss"
	ModelTable    = "table"
)

// ErrNotMonotonic is returned when a table does not decrease strictly in RSSI
var ErrNotMonotonic = errors.New("rssi table must be strictly decreasing in rssi")

// Converter maps an RSSI reading (dBm) to a distance in metres.
// refAt1m is the reference power at one metre reported by the anchor, or nil
// to use the converter's configured reference. Implementations must be
// monotonic: a weaker signal never yields a shorter distance.
type Converter interface {
	Distance(rssi float64, refAt1m *float64) float64
}

// PathLoss is the log-distance path loss model:
// d = 10 ^ ((ref - rssi) / (10 * n))
type PathLoss struct {
	ReferenceRSSI float64 // dBm at 1m
	Exponent      float64 // environment factor, ~2 free space, 2.5-4 indoors
}

// NewPathLoss validates and returns a path loss converter
func NewPathLoss(referenceRSSI, exponent float64) (*PathLoss, error) {
	if exponent <= 0 || math.IsNaN(exponent) || math.IsInf(exponent, 0) {
		return nil, fmt.Errorf("path loss exponent must be positive, got %v", exponent)
	}
	if math.IsNaN(referenceRSSI) || math.IsInf(referenceRSSI, 0) {
		return nil, fmt.Errorf("path loss reference rssi must be finite, got %v", referenceRSSI)
	}
	return &PathLoss{ReferenceRSSI: referenceRSSI, Exponent: exponent}, nil
}

func (p *PathLoss) Distance(rssi float64, refAt1m *float64) float64 {
	ref := p.ReferenceRSSI
	if refAt1m != nil {
		ref = *refAt1m
	}
	return math.Pow(10, (ref-rssi)/(10*p.Exponent))
}

// Point is one calibration sample of a Table converter
type Point struct {
	RSSI     float64
	Distance float64
}

// Table interpolates linearly between measured calibration points and clamps
// outside the measured range. The reference power argument is ignored.
type Table struct {
	points []Point
}

// NewTable sorts the points by descending RSSI and checks that distance grows
// as the signal weakens.
func NewTable(points []Point) (*Table, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("rssi table needs at least 2 points, got %d", len(points))
	}
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RSSI > sorted[j].RSSI })

	for i, p := range sorted {
		if p.Distance < 0 || math.IsNaN(p.Distance) || math.IsInf(p.Distance, 0) {
			return nil, fmt.Errorf("rssi table distance must be finite and non-negative, got %v", p.Distance)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if p.RSSI == prev.RSSI || p.Distance <= prev.Distance {
			return nil, ErrNotMonotonic
		}
	}
	return &Table{points: sorted}, nil
}

func (t *Table) Distance(rssi float64, _ *float64) float64 {
	first, last := t.points[0], t.points[len(t.points)-1]
	if rssi >= first.RSSI {
		return first.Distance
	}
	if rssi <= last.RSSI {
		return last.Distance
	}
	for i := 1; i < len(t.points); i++ {
		hi, lo := t.points[i-1], t.points[i]
		if rssi >= lo.RSSI {
			frac := (hi.RSSI - rssi) / (hi.RSSI - lo.RSSI)
			return hi.Distance + frac*(lo.Distance-hi.Distance)
		}
	}
	return last.Distance
}

// Default is used for anchors whose hardware has no configured model.
// Values match a stock ESP32 room node.
func Default() Converter {
	return &PathLoss{ReferenceRSSI: -59, Exponent: 2.7}
}
