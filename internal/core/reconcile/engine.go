// Package reconcile repairs place coordinates that arrive shifted by a power
// of ten, with swapped axes, or as the (0, 0) placeholder.
//
// A point is trusted when it lies within a fixed distance of a reference
// point. Anything else is run through a fixed list of candidate repairs; the
// first candidate that lands inside the allowed area wins. Points that cannot
// be repaired are replaced with a jittered point near the reference and
// reported as Unrecoverable so callers can flag them for manual correction.
package reconcile

import (
	"math/rand/v2"
	"sync"

	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/pkg/geospatial"
)

// DefaultMaxDistanceKm is the radius of the allowed area.
const DefaultMaxDistanceKm = 10.0

// DefaultReference is the centre of the allowed area (Brixen).
var DefaultReference = domain.GeoPoint{Lon: 11.566, Lat: 46.7165}

const (
	zeroJitterDegrees     = 0.01
	fallbackJitterDegrees = 0.005
)

// Engine reconciles coordinates against an allowed area. It is safe for
// concurrent use.
type Engine struct {
	reference domain.GeoPoint
	maxKm     float64

	mu  sync.Mutex
	rnd *rand.Rand

	onReport func(Report)
}

// Option configures an Engine.
type Option func(*Engine)

// WithReference overrides the centre of the allowed area.
func WithReference(p domain.GeoPoint) Option {
	return func(e *Engine) { e.reference = p }
}

// WithMaxDistanceKm overrides the radius of the allowed area.
func WithMaxDistanceKm(km float64) Option {
	return func(e *Engine) {
		if km > 0 {
			e.maxKm = km
		}
	}
}

// WithRandSource makes jitter deterministic.
func WithRandSource(src rand.Source) Option {
	return func(e *Engine) { e.rnd = rand.New(src) }
}

// WithReportHook is called with every report produced by ReconcileWithReport.
func WithReportHook(fn func(Report)) Option {
	return func(e *Engine) { e.onReport = fn }
}

// New builds an Engine with the default area unless overridden.
func New(opts ...Option) *Engine {
	e := &Engine{
		reference: DefaultReference,
		maxKm:     DefaultMaxDistanceKm,
		rnd:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Reference returns the centre of the allowed area.
func (e *Engine) Reference() domain.GeoPoint { return e.reference }

// MaxDistanceKm returns the radius of the allowed area.
func (e *Engine) MaxDistanceKm() float64 { return e.maxKm }

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(a, b domain.GeoPoint) float64 {
	return geospatial.HaversineKm(a.Lat, a.Lon, b.Lat, b.Lon)
}

// DistanceToReference returns the distance from p to the reference point.
func (e *Engine) DistanceToReference(p domain.GeoPoint) float64 {
	return DistanceKm(p, e.reference)
}

// IsWithinAllowedArea reports whether p lies within the allowed radius.
// Non-finite points are never inside.
func (e *Engine) IsWithinAllowedArea(p domain.GeoPoint) bool {
	return e.DistanceToReference(p) <= e.maxKm
}

// Reconcile returns the repaired point for p.
func (e *Engine) Reconcile(p domain.GeoPoint) domain.GeoPoint {
	return e.ReconcileWithReport(p).Point
}

// ReconcileWithReport repairs p and reports which rule fired.
func (e *Engine) ReconcileWithReport(p domain.GeoPoint) Report {
	r := e.Inspect(p)
	if e.onReport != nil {
		e.onReport(r)
	}
	return r
}

// Inspect reconciles p like ReconcileWithReport without calling the report
// hook. Use it for points that were already reconciled once.
func (e *Engine) Inspect(p domain.GeoPoint) Report {
	r := e.reconcile(p)
	r.Original = p
	return r
}

func (e *Engine) reconcile(p domain.GeoPoint) Report {
	if !p.IsFinite() {
		return Report{Point: e.jitter(fallbackJitterDegrees), Outcome: Unrecoverable}
	}
	if p.IsZero() {
		return Report{Point: e.jitter(zeroJitterDegrees), Outcome: CorrectedZero}
	}
	if e.IsWithinAllowedArea(p) {
		return Report{Point: p, Outcome: Unchanged}
	}
	for _, c := range candidates {
		q := c.apply(p)
		if e.IsWithinAllowedArea(q) {
			return Report{Point: q, Outcome: c.outcome, Correction: c.correction}
		}
	}
	return Report{Point: e.jitter(fallbackJitterDegrees), Outcome: Unrecoverable}
}

// jitter returns a point near the reference offset by the same random amount
// on both axes, scaled to stay well inside the allowed area.
func (e *Engine) jitter(scale float64) domain.GeoPoint {
	e.mu.Lock()
	offset := (e.rnd.Float64() - 0.5) * scale
	e.mu.Unlock()
	return domain.GeoPoint{Lon: e.reference.Lon + offset, Lat: e.reference.Lat + offset}
}

type candidate struct {
	outcome    Outcome
	correction Correction
	apply      func(domain.GeoPoint) domain.GeoPoint
}

// candidates are tried in order; the order is part of the contract.
var candidates = []candidate{
	{CorrectedAxis, LonDividedBy10, func(p domain.GeoPoint) domain.GeoPoint {
		return domain.GeoPoint{Lon: p.Lon / 10, Lat: p.Lat}
	}},
	{CorrectedAxis, LatMultipliedBy10, func(p domain.GeoPoint) domain.GeoPoint {
		return domain.GeoPoint{Lon: p.Lon, Lat: p.Lat * 10}
	}},
	{CorrectedAxis, Swapped, func(p domain.GeoPoint) domain.GeoPoint {
		return domain.GeoPoint{Lon: p.Lat, Lat: p.Lon}
	}},
	{CorrectedCompound, LonTimesTenth, scale(0.1, 1)},
	{CorrectedCompound, LatTimesTen, scale(1, 10)},
	{CorrectedCompound, LatTimesTenth, scale(1, 0.1)},
	{CorrectedCompound, LonTimesTen, scale(10, 1)},
	{CorrectedCompound, LatTimesTenLonTimesTenth, scale(0.1, 10)},
	{CorrectedCompound, LatTimesTenthLonTimesTen, scale(10, 0.1)},
}

func scale(lon, lat float64) func(domain.GeoPoint) domain.GeoPoint {
	return func(p domain.GeoPoint) domain.GeoPoint {
		return domain.GeoPoint{Lon: p.Lon * lon, Lat: p.Lat * lat}
	}
}
