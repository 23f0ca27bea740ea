package tiling

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Attributes is the property record carried by a source shape. The
// tiling algorithm copies it onto every fragment but never reads it.
type Attributes = geojson.Properties

// Record is one contiguous piece of a source shape inside one tile.
//
// A record that entered was started at a tile boundary crossing, one that
// exited was closed by one. A polygon record with neither flag is a ring
// lying wholly inside its tile. Points are only appended while tracing.
type Record struct {
	Shape   int
	Ring    int
	Polygon bool
	Entered bool
	Exited  bool
	Points  []orb.Point
	Holes   []orb.Ring
	Attrs   Attributes
}

func newRecord(shape, ring int, polygon bool, attrs Attributes) *Record {
	return &Record{Shape: shape, Ring: ring, Polygon: polygon, Attrs: attrs}
}

// add appends p unless it repeats the last point.
func (r *Record) add(p orb.Point) {
	if n := len(r.Points); n > 0 && r.Points[n-1].Equal(p) {
		return
	}
	r.Points = append(r.Points, p)
}

// extend appends pts, skipping a leading point equal to the current last.
func (r *Record) extend(pts []orb.Point) {
	for _, p := range pts {
		r.add(p)
	}
}

// First returns the first recorded point.
func (r *Record) First() orb.Point {
	return r.Points[0]
}

// Last returns the last recorded point.
func (r *Record) Last() orb.Point {
	return r.Points[len(r.Points)-1]
}

// Crossing reports whether the record both entered and exited its tile.
func (r *Record) Crossing() bool {
	return r.Entered && r.Exited
}

// Closed reports whether the record is a ring wholly inside its tile.
func (r *Record) Closed() bool {
	return !r.Entered && !r.Exited
}

// ring returns the recorded points as a closed ring.
func (r *Record) ring() orb.Ring {
	ring := make(orb.Ring, 0, len(r.Points)+1)
	ring = append(ring, r.Points...)
	if len(ring) > 0 && !ring[0].Equal(ring[len(ring)-1]) {
		ring = append(ring, ring[0])
	}
	return ring
}

// polygon returns the record as a polygon with its holes.
func (r *Record) polygon() orb.Polygon {
	p := orb.Polygon{r.ring()}
	return append(p, r.Holes...)
}

// Area returns the planar area of the record's ring minus its holes.
func (r *Record) Area() float64 {
	if len(r.Points) < 3 {
		return 0
	}
	return planar.Area(r.polygon())
}

// lineString returns the recorded points of a line record.
func (r *Record) lineString() orb.LineString {
	return append(orb.LineString(nil), r.Points...)
}
