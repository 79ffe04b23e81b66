package estimator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pet-tracker/internal/floorplan"
	"pet-tracker/internal/models"
	"pet-tracker/internal/window"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const houseYAML = `
rooms:
  - name: kitchen
    points: [[-5, -5], [5, -5], [5, 5], [-5, 5]]
  - name: hall
    points: [[5, -5], [15, -5], [15, 5], [5, 5]]
anchors:
  - {id: A, point: [0, 0], room: kitchen}
  - {id: B, point: [10, 0], room: hall}
  - {id: C, point: [0, 40]}
tags:
  - {id: whiskers, name: Whiskers}
`

type fixture struct {
	win *window.Window
	est *Estimator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	plan, err := floorplan.Parse([]byte(houseYAML))
	require.NoError(t, err)
	win := window.New(16)
	return &fixture{win: win, est: New(plan, win, DefaultParams())}
}

func (f *fixture) observe(tag, anchor string, d float64, at time.Time) {
	f.win.Insert(models.Observation{TagID: tag, AnchorID: anchor, Distance: d, ReceivedAt: at})
}

func TestEstimate_NoObservations(t *testing.T) {
	f := newFixture(t)

	est := f.est.Estimate("whiskers", t0)

	assert.Equal(t, "whiskers", est.TagID)
	assert.Equal(t, "Whiskers", est.Name)
	assert.Nil(t, est.Coordinate)
	assert.Empty(t, est.Room)
	assert.Zero(t, est.Confidence)
	assert.Zero(t, est.SourceAnchorCount)
	assert.Equal(t, t0, est.ComputedAt)
	assert.False(t, est.Known())
}

func TestEstimate_TwoAnchorsOnOneAxis(t *testing.T) {
	f := newFixture(t)
	f.observe("whiskers", "A", 1, t0)
	f.observe("whiskers", "B", 9, t0)

	est := f.est.Estimate("whiskers", t0)

	require.NotNil(t, est.Coordinate)
	assert.InDelta(t, 1.0, est.Coordinate.X, 1e-6)
	assert.InDelta(t, 0.0, est.Coordinate.Y, 1e-6)
	assert.Equal(t, "kitchen", est.Room)
	assert.Equal(t, 2, est.SourceAnchorCount)
	assert.Greater(t, est.Confidence, 0.0)
	assert.LessOrEqual(t, est.Confidence, 1.0)
}

func TestEstimate_SingleAnchor(t *testing.T) {
	f := newFixture(t)
	f.observe("whiskers", "A", 2, t0)

	single := f.est.Estimate("whiskers", t0)

	require.NotNil(t, single.Coordinate)
	assert.Equal(t, models.Coordinate{}, *single.Coordinate)
	assert.Equal(t, "kitchen", single.Room)
	assert.Equal(t, 1, single.SourceAnchorCount)

	other := newFixture(t)
	other.observe("whiskers", "A", 1, t0)
	other.observe("whiskers", "B", 9, t0)
	double := other.est.Estimate("whiskers", t0)

	assert.Less(t, single.Confidence, double.Confidence)
}

func TestEstimate_ConfidenceDecaysWithAge(t *testing.T) {
	f := newFixture(t)
	f.observe("whiskers", "A", 1, t0)
	f.observe("whiskers", "B", 9, t0)

	prev := f.est.Estimate("whiskers", t0)
	for _, age := range []time.Duration{time.Second, 3 * time.Second, 7 * time.Second, 10 * time.Second} {
		est := f.est.Estimate("whiskers", t0.Add(age))
		require.Equal(t, 2, est.SourceAnchorCount, "age %s", age)
		assert.Less(t, est.Confidence, prev.Confidence, "age %s", age)
		prev = est
	}

	// past the max age nothing is left
	gone := f.est.Estimate("whiskers", t0.Add(11*time.Second))
	assert.False(t, gone.Known())
	assert.Zero(t, gone.Confidence)
}

func TestEstimate_ConfidenceDecaysWithNewestAge(t *testing.T) {
	now := t0.Add(9 * time.Second)

	for _, d := range []struct{ a, b float64 }{{1, 9}, {0.2, 12}, {4, 6}, {8, 2}} {
		// A stays fixed at 9s old; only B, the newest reading, ages
		prev := 1.0
		for age := time.Duration(0); age <= 9*time.Second; age += 500 * time.Millisecond {
			f := newFixture(t)
			f.observe("whiskers", "A", d.a, t0)
			f.observe("whiskers", "B", d.b, now.Add(-age))

			est := f.est.Estimate("whiskers", now)
			require.Equal(t, 2, est.SourceAnchorCount)
			assert.LessOrEqual(t, est.Confidence, prev, "dA=%v dB=%v age=%s", d.a, d.b, age)
			prev = est.Confidence
		}
	}
}

func TestEstimate_Deterministic(t *testing.T) {
	f := newFixture(t)
	f.observe("whiskers", "A", 3.2, t0)
	f.observe("whiskers", "B", 7.1, t0.Add(200*time.Millisecond))
	f.observe("whiskers", "C", 39, t0.Add(400*time.Millisecond))
	f.observe("whiskers", "A", 3.4, t0.Add(600*time.Millisecond))

	now := t0.Add(time.Second)
	first := f.est.Estimate("whiskers", now)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, f.est.Estimate("whiskers", now))
	}
	assert.Equal(t, 3, first.SourceAnchorCount)
}

func TestEstimate_AveragesReadingsPerAnchor(t *testing.T) {
	f := newFixture(t)
	f.observe("whiskers", "A", 0.5, t0)
	f.observe("whiskers", "A", 1.5, t0.Add(100*time.Millisecond))
	f.observe("whiskers", "B", 9, t0.Add(100*time.Millisecond))

	est := f.est.Estimate("whiskers", t0.Add(100*time.Millisecond))

	require.NotNil(t, est.Coordinate)
	assert.InDelta(t, 1.0, est.Coordinate.X, 1e-6)
	assert.Equal(t, 2, est.SourceAnchorCount)
}

func TestEstimate_OutsideEveryRoom(t *testing.T) {
	f := newFixture(t)
	f.observe("whiskers", "A", 20, t0)
	f.observe("whiskers", "C", 20, t0)

	est := f.est.Estimate("whiskers", t0)

	require.NotNil(t, est.Coordinate)
	assert.InDelta(t, 20.0, est.Coordinate.Y, 1e-3)
	assert.Empty(t, est.Room)
	assert.Greater(t, est.Confidence, 0.0)
}

func TestEstimate_UnknownAnchorIgnored(t *testing.T) {
	f := newFixture(t)
	f.observe("whiskers", "A", 2, t0)
	f.observe("whiskers", "Z", 1, t0)

	est := f.est.Estimate("whiskers", t0)

	assert.Equal(t, 1, est.SourceAnchorCount)
	assert.Equal(t, "kitchen", est.Room)
}

func TestEstimate_NegativeDistanceClamped(t *testing.T) {
	f := newFixture(t)
	f.observe("whiskers", "A", -3, t0)
	f.observe("whiskers", "B", 10, t0)

	est := f.est.Estimate("whiskers", t0)

	require.NotNil(t, est.Coordinate)
	assert.True(t, est.Coordinate.IsFinite())
	assert.InDelta(t, 0.0, est.Coordinate.X, 1e-3)
}

func TestNew_FixesInvalidParams(t *testing.T) {
	plan, err := floorplan.Parse([]byte(houseYAML))
	require.NoError(t, err)

	e := New(plan, window.New(1), Params{SingleAnchorConfidence: 0.2})

	p := e.Params()
	assert.Equal(t, 1, p.Iterations)
	assert.Equal(t, DefaultParams().FreshnessHalfLife, p.FreshnessHalfLife)
	assert.Equal(t, DefaultParams().ResidualScale, p.ResidualScale)
}
