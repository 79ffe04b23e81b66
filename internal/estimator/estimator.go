// Package estimator turns the fresh observations of a tag into a single
// position estimate.
//
// With two or more anchors the position is the weighted least squares fit of
// the range constraints |p - aᵢ| = dᵢ, solved with a fixed number of damped
// Gauss-Newton steps from the weighted anchor centroid. With one anchor the
// tag is placed at that anchor. With none the result is "unknown".
package estimator

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"pet-tracker/internal/floorplan"
	"pet-tracker/internal/models"
)

// Params are the tunable constants of the estimator
type Params struct {
	MaxObservationAge      time.Duration // observations older than this are ignored
	FreshnessHalfLife      time.Duration // weight and confidence halve every half-life of age
	SingleAnchorConfidence float64       // ceiling for nearest-anchor estimates
	ResidualScale          float64       // metres of RMS residual that halve the fit quality
	Iterations             int           // Gauss-Newton steps
	Damping                float64       // Levenberg-Marquardt λ
}

// DefaultParams returns the defaults used by the service
func DefaultParams() Params {
	return Params{
		MaxObservationAge:      10 * time.Second,
		FreshnessHalfLife:      5 * time.Second,
		SingleAnchorConfidence: 0.35,
		ResidualScale:          1.0,
		Iterations:             25,
		Damping:                1e-3,
	}
}

// nearFieldEpsilon keeps inverse-distance weights finite at d=0
const nearFieldEpsilon = 0.1

// Source provides the fresh observations of a tag
type Source interface {
	FreshObservations(tagID string, now time.Time, maxAge time.Duration) []models.Observation
}

// Estimator computes position estimates from the observation window
type Estimator struct {
	plan   *floorplan.Floorplan
	source Source
	params Params
}

// New creates an estimator reading from source
func New(plan *floorplan.Floorplan, source Source, params Params) *Estimator {
	if params.Iterations < 1 {
		params.Iterations = 1
	}
	if params.FreshnessHalfLife <= 0 {
		params.FreshnessHalfLife = DefaultParams().FreshnessHalfLife
	}
	if params.ResidualScale <= 0 {
		params.ResidualScale = DefaultParams().ResidualScale
	}
	return &Estimator{plan: plan, source: source, params: params}
}

// Params returns the estimator's parameters
func (e *Estimator) Params() Params {
	return e.params
}

// rangeReading is the smoothed distance to one anchor
type rangeReading struct {
	anchor   floorplan.Anchor
	distance float64
	age      time.Duration // age of the newest reading from this anchor
	weight   float64
}

// Estimate computes the position of tagID at now
func (e *Estimator) Estimate(tagID string, now time.Time) models.PositionEstimate {
	readings := e.gather(tagID, now)

	est := models.UnknownPosition(tagID, now)
	est.Name = e.plan.TagName(tagID)
	est.SourceAnchorCount = len(readings)

	switch len(readings) {
	case 0:
		return est
	case 1:
		r := readings[0]
		pt := r.anchor.Point
		est.Coordinate = &pt
		est.Room = r.anchor.Room
		est.Confidence = clamp01(e.params.SingleAnchorConfidence * e.freshness(r.age))
		return est
	}

	pos, rms := e.solve(readings)
	est.Coordinate = &pos
	if room, ok := e.plan.RoomContaining(pos); ok {
		est.Room = room
	}
	est.Confidence = e.confidence(readings, rms)
	return est
}

// gather averages the fresh readings of every known anchor
func (e *Estimator) gather(tagID string, now time.Time) []rangeReading {
	type acc struct {
		sum    float64
		n      int
		newest time.Time
	}
	byAnchor := make(map[string]*acc)
	for _, o := range e.source.FreshObservations(tagID, now, e.params.MaxObservationAge) {
		if now.Sub(o.ReceivedAt) > e.params.MaxObservationAge {
			continue
		}
		a, ok := byAnchor[o.AnchorID]
		if !ok {
			a = &acc{}
			byAnchor[o.AnchorID] = a
		}
		a.sum += math.Max(0, o.Distance)
		a.n++
		if o.ReceivedAt.After(a.newest) {
			a.newest = o.ReceivedAt
		}
	}

	ids := make([]string, 0, len(byAnchor))
	for id := range byAnchor {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	readings := make([]rangeReading, 0, len(ids))
	for _, id := range ids {
		anchor, ok := e.plan.Anchor(id)
		if !ok {
			continue
		}
		a := byAnchor[id]
		age := now.Sub(a.newest)
		if age < 0 {
			age = 0
		}
		d := math.Max(0, a.sum/float64(a.n))
		readings = append(readings, rangeReading{
			anchor:   anchor,
			distance: d,
			age:      age,
			weight:   e.freshness(age) / (d + nearFieldEpsilon),
		})
	}
	return readings
}

// freshness is 1 for a brand-new reading and halves every half-life
func (e *Estimator) freshness(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Exp2(-age.Seconds() / e.params.FreshnessHalfLife.Seconds())
}

// solve runs a fixed number of damped Gauss-Newton iterations and returns the
// position with its weighted RMS residual
func (e *Estimator) solve(readings []rangeReading) (models.Coordinate, float64) {
	n := len(readings)
	p := centroid(readings)

	jac := mat.NewDense(n, 3, nil)
	res := mat.NewVecDense(n, nil)
	// normalised weights make the solve independent of a common freshness factor
	var total float64
	for _, r := range readings {
		total += r.weight
	}
	w := mat.NewDiagDense(n, nil)
	for i, r := range readings {
		if total > 0 {
			w.SetDiag(i, r.weight/total)
		}
	}

	var jtw, lhs mat.Dense
	var rhs, step mat.VecDense
	for iter := 0; iter < e.params.Iterations; iter++ {
		e.linearize(readings, p, jac, res)

		jtw.Mul(jac.T(), w)
		lhs.Mul(&jtw, jac)
		for k := 0; k < 3; k++ {
			lhs.Set(k, k, lhs.At(k, k)*(1+e.params.Damping)+e.params.Damping)
		}
		rhs.MulVec(&jtw, res)
		rhs.ScaleVec(-1, &rhs)

		if err := step.SolveVec(&lhs, &rhs); err != nil {
			break
		}
		next := models.Coordinate{X: p.X + step.AtVec(0), Y: p.Y + step.AtVec(1), Z: p.Z + step.AtVec(2)}
		if !next.IsFinite() {
			break
		}
		p = next
		if mat.Norm(&step, 2) < 1e-9 {
			break
		}
	}

	e.linearize(readings, p, jac, res)
	var sumW, sumWR2 float64
	for i, r := range readings {
		ri := res.AtVec(i)
		sumW += r.weight
		sumWR2 += r.weight * ri * ri
	}
	if sumW == 0 {
		return p, 0
	}
	return p, math.Sqrt(sumWR2 / sumW)
}

// linearize fills the residual vector |p - aᵢ| - dᵢ and its Jacobian at p
func (e *Estimator) linearize(readings []rangeReading, p models.Coordinate, jac *mat.Dense, res *mat.VecDense) {
	for i, r := range readings {
		a := r.anchor.Point
		dist := p.Distance(a)
		res.SetVec(i, dist-r.distance)
		if dist < 1e-12 {
			jac.Set(i, 0, 0)
			jac.Set(i, 1, 0)
			jac.Set(i, 2, 0)
			continue
		}
		jac.Set(i, 0, (p.X-a.X)/dist)
		jac.Set(i, 1, (p.Y-a.Y)/dist)
		jac.Set(i, 2, (p.Z-a.Z)/dist)
	}
}

// centroid is the weighted mean of the anchor positions; close, fresh
// anchors pull it hardest
func centroid(readings []rangeReading) models.Coordinate {
	var c models.Coordinate
	var sum float64
	for _, r := range readings {
		c.X += r.weight * r.anchor.Point.X
		c.Y += r.weight * r.anchor.Point.Y
		c.Z += r.weight * r.anchor.Point.Z
		sum += r.weight
	}
	if sum == 0 {
		return readings[0].anchor.Point
	}
	c.X /= sum
	c.Y /= sum
	c.Z /= sum
	return c
}

// confidence grows with anchor count and fit quality and decays with the
// age of the newest reading. For the same freshness it always exceeds the
// single-anchor confidence.
func (e *Estimator) confidence(readings []rangeReading, rms float64) float64 {
	newest := readings[0].age
	for _, r := range readings[1:] {
		if r.age < newest {
			newest = r.age
		}
	}
	n := float64(len(readings))
	fit := 1 / (1 + rms/e.params.ResidualScale)
	base := e.params.SingleAnchorConfidence
	quality := base + (1-base)*(1-1/n)*fit
	return clamp01(e.freshness(newest) * quality)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
