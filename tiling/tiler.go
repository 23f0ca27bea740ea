package tiling

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	log "github.com/sirupsen/logrus"
)

// degenerateArea is the fraction of a tile's area below which a stitched
// ring is considered collapsed.
const degenerateArea = 1e-12

// Tiler splits shapes into the tiles of one grid level.
//
// Add traces shapes one at a time and must not be called concurrently.
// Once every shape is added, Complete may run concurrently for distinct
// tiles: it only reads and writes the tile it is given.
type Tiler struct {
	opts   Options
	store  *Store
	log    *log.Entry
	shapes int
}

// NewTiler creates the tile store covering extent.
func NewTiler(opts Options, extent orb.Bound) (*Tiler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := log.WithFields(log.Fields{"component": "tiling", "level": opts.Level})
	return &Tiler{
		opts:  opts,
		store: NewStore(opts.Grid(), extent, logger),
		log:   logger,
	}, nil
}

// Options returns the options of the run.
func (tl *Tiler) Options() Options {
	return tl.opts
}

// Store returns the tiles of the run.
func (tl *Tiler) Store() *Store {
	return tl.store
}

// Add traces one shape into the store and returns its shape id.
// Geometry types other than rings, polygons, line strings and their
// multi variants are rejected with ErrUnsupportedGeometry.
func (tl *Tiler) Add(g orb.Geometry, attrs Attributes) (int, error) {
	var polys []orb.Polygon
	var lines []orb.LineString
	switch g := g.(type) {
	case orb.Ring:
		polys = []orb.Polygon{{g}}
	case orb.Bound:
		polys = []orb.Polygon{g.ToPolygon()}
	case orb.Polygon:
		polys = []orb.Polygon{g}
	case orb.MultiPolygon:
		polys = g
	case orb.LineString:
		lines = []orb.LineString{g}
	case orb.MultiLineString:
		lines = g
	case nil:
		return -1, fmt.Errorf("%w: nil", ErrUnsupportedGeometry)
	default:
		return -1, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.GeoJSONType())
	}

	shape := tl.shapes
	tl.shapes++
	ring := 0
	for _, p := range polys {
		tl.addPolygon(shape, &ring, p, attrs)
	}
	for _, ls := range lines {
		if len(ls) < 2 {
			tl.log.Warnf("shape %d: line with %d points skipped", shape, len(ls))
			continue
		}
		tl.store.trace(ls, shape, ring, false, attrs)
		ring++
	}
	return shape, nil
}

func (tl *Tiler) addPolygon(shape int, next *int, p orb.Polygon, attrs Attributes) {
	for i, r := range p {
		ring := closeRing(r)
		exterior := i == 0
		if len(ring) < 4 {
			tl.log.Warnf("shape %d: ring %d with %d points skipped", shape, i, len(ring))
			if exterior {
				return
			}
			continue
		}
		// exteriors run clockwise, holes counter-clockwise, so the
		// polygon interior is always on the right of the boundary
		want := orb.CW
		if !exterior {
			want = orb.CCW
		}
		if ring.Orientation() != want {
			ring.Reverse()
		}

		if !exterior {
			if a, ok := tl.singleTile(ring); ok {
				tl.store.Tile(a).addHole(shape, ring)
				continue
			}
		}
		affected := tl.store.trace(ring, shape, *next, true, attrs)
		tl.store.resolveEdgeTiles(ring, affected, shape, *next, attrs, exterior)
		*next++
		tl.store.fillInterior(affected, shape, attrs, exterior)
	}
}

// singleTile reports the tile holding every vertex of ring, if any.
func (tl *Tiler) singleTile(ring orb.Ring) (Address, bool) {
	a := tl.store.Address(ring[0])
	for _, p := range ring[1:] {
		if tl.store.Address(p) != a {
			return a, false
		}
	}
	return a, true
}

// closeRing returns a copy of r ending on its first point.
func closeRing(r orb.Ring) orb.Ring {
	ring := r.Clone()
	if len(ring) > 0 && !ring[0].Equal(ring[len(ring)-1]) {
		ring = append(ring, ring[0])
	}
	return ring
}

// Output is the finished geometry of one tile.
type Output struct {
	Address  Address
	Sector   orb.Bound
	Filled   bool
	Features *geojson.FeatureCollection
}

// Empty reports whether the tile produced no geometry.
func (o *Output) Empty() bool {
	return len(o.Features.Features) == 0
}

// Complete stitches the fragments of t into closed rings, one shape at a
// time, and returns the tile's features. It must run once per tile.
func (tl *Tiler) Complete(t *Tile) *Output {
	out := &Output{Address: t.Address, Sector: t.Sector, Features: geojson.NewFeatureCollection()}
	solid := true
	for _, shape := range t.shapes() {
		var lines, closed, crossing []*Record
		for _, r := range t.records {
			if r.Shape != shape {
				continue
			}
			switch {
			case !r.Polygon:
				lines = append(lines, r)
			case r.Closed():
				closed = append(closed, r)
			case r.Crossing():
				crossing = append(crossing, r)
			default:
				tl.log.Warnf("shape %d: fragment in tile %s entered=%v exited=%v, stitching with its end points",
					shape, t.Address, r.Entered, r.Exited)
				crossing = append(crossing, r)
			}
		}

		// only rings lying wholly inside the tile are held to MinimumArea
		rings := closed
		inner := len(closed)
		switch filledAttrs, filled := t.filledBy(shape); {
		case len(crossing) > 0:
			rings = append(rings[:inner:inner], tl.store.stitch(t, crossing)...)
		case filled:
			sq := newRecord(shape, -1, true, filledAttrs)
			sq.Points = t.square()[:4]
			rings = append(rings[:inner:inner], sq)
		}
		tl.attachHoles(t, shape, rings)

		for i, r := range rings {
			area := r.Area()
			if area <= degenerateArea*t.area() || (i < inner && tl.opts.MinimumArea > 0 && area < tl.opts.MinimumArea) {
				tl.log.Debugf("shape %d: ring of area %g dropped from tile %s", shape, area, t.Address)
				continue
			}
			if len(r.Holes) > 0 {
				solid = false
			} else if math.Abs(area-t.area()) <= degenerateArea*t.area() {
				r.Points = t.square()[:4]
				t.filled = true
			}
			out.Features.Append(newFeature(r.polygon(), r.Attrs))
		}
		for _, r := range lines {
			if len(r.Points) < 2 {
				continue
			}
			out.Features.Append(newFeature(r.lineString(), r.Attrs))
		}
	}
	t.solid = t.Filled() && solid
	out.Filled = t.Filled()
	return out
}

// attachHoles gives each hole lying wholly inside t to the ring of the
// same shape containing it.
func (tl *Tiler) attachHoles(t *Tile, shape int, rings []*Record) {
	for _, h := range t.holes {
		if h.shape != shape {
			continue
		}
		var owner *Record
		for _, r := range rings {
			if planar.RingContains(r.ring(), h.ring[0]) {
				owner = r
				break
			}
		}
		if owner == nil {
			if len(rings) == 0 {
				tl.log.Warnf("shape %d: hole in tile %s has no enclosing ring, dropped", shape, t.Address)
				continue
			}
			tl.log.Warnf("shape %d: hole in tile %s outside every ring, attached to the first", shape, t.Address)
			owner = rings[0]
		}
		owner.Holes = append(owner.Holes, h.ring)
	}
}

// shapes returns the ids of the shapes present in t in first-seen order.
func (t *Tile) shapes() []int {
	var ids []int
	seen := make(map[int]bool)
	add := func(id int) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, r := range t.records {
		add(r.Shape)
	}
	for _, f := range t.fills {
		add(f.shape)
	}
	for _, h := range t.holes {
		add(h.shape)
	}
	return ids
}

func newFeature(g orb.Geometry, attrs Attributes) *geojson.Feature {
	f := geojson.NewFeature(g)
	if attrs != nil {
		f.Properties = attrs.Clone()
	}
	return f
}

// CompleteAll completes every tile of the store in order.
func (tl *Tiler) CompleteAll(fn func(*Output) error) error {
	return tl.store.Each(func(t *Tile) error {
		return fn(tl.Complete(t))
	})
}
