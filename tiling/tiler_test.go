package tiling

import (
	"math"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTiler(t *testing.T, extent orb.Bound, minArea float64) *Tiler {
	t.Helper()
	tl, err := NewTiler(Options{Origin: orb.Point{0, 0}, LevelZeroSize: 10, MinimumArea: minArea}, extent)
	require.NoError(t, err)
	return tl
}

func completeAll(t *testing.T, tl *Tiler) map[Address]*Output {
	t.Helper()
	outs := make(map[Address]*Output)
	require.NoError(t, tl.CompleteAll(func(o *Output) error {
		outs[o.Address] = o
		return nil
	}))
	return outs
}

func polygonArea(outs map[Address]*Output) float64 {
	total := 0.0
	for _, o := range outs {
		for _, f := range o.Features.Features {
			if p, ok := f.Geometry.(orb.Polygon); ok {
				total += planar.Area(p)
			}
		}
	}
	return total
}

func TestTilerSquareCoveringFourTiles(t *testing.T) {
	square := orb.Polygon{{{-180, -180}, {180, -180}, {180, 180}, {-180, 180}, {-180, -180}}}
	tl, err := NewTiler(Options{Origin: orb.Point{-180, -180}, Level: 0, LevelZeroSize: 180}, square.Bound())
	require.NoError(t, err)
	_, err = tl.Add(square, Attributes{"name": "square"})
	require.NoError(t, err)
	require.Equal(t, 4, tl.Store().Len())
	require.NoError(t, tl.Store().Each(func(tile *Tile) error {
		assert.Empty(t, tile.Records(), "tile %s", tile.Address)
		assert.True(t, tile.Filled(), "tile %s", tile.Address)
		return nil
	}))

	outs := completeAll(t, tl)
	require.Len(t, outs, 4)
	for a, o := range outs {
		assert.True(t, o.Filled, "tile %s", a)
		require.Len(t, o.Features.Features, 1)
		f := o.Features.Features[0]
		p, ok := f.Geometry.(orb.Polygon)
		require.True(t, ok)
		require.Len(t, p, 1)
		assert.Len(t, p[0], 5)
		assert.InDelta(t, 180*180, planar.Area(p), 1e-6)
		assert.Equal(t, "square", f.Properties.MustString("name"))
		assert.True(t, tl.Store().Tile(a).FilledWithoutHoles())
	}
}

func TestTilerTriangleAcrossTwoTiles(t *testing.T) {
	tri := orb.Polygon{{{2, 2}, {12, 8}, {18, 2}, {2, 2}}}
	tl := newTestTiler(t, tri.Bound(), 0)
	_, err := tl.Add(tri, Attributes{"kind": "triangle"})
	require.NoError(t, err)

	outs := completeAll(t, tl)
	require.Len(t, outs, 2)
	left, right := outs[Address{0, 0}], outs[Address{1, 0}]
	require.Len(t, left.Features.Features, 1)
	require.Len(t, right.Features.Features, 1)

	lp := left.Features.Features[0].Geometry.(orb.Polygon)
	rp := right.Features.Features[0].Geometry.(orb.Polygon)
	assert.InDelta(t, 19.2, planar.Area(lp), 1e-9)
	assert.InDelta(t, 28.8, planar.Area(rp), 1e-9)

	// both pieces share the points where the triangle crosses x=10
	for _, p := range []orb.Point{{10, 2}, {10, 6.8}} {
		assert.True(t, containsPoint(lp[0], p), "left has %v", p)
		assert.True(t, containsPoint(rp[0], p), "right has %v", p)
	}
	assert.Equal(t, left.Features.Features[0].Properties, right.Features.Features[0].Properties)
	assert.False(t, left.Filled)
}

func TestTilerHoleInsideOneTile(t *testing.T) {
	poly := orb.Polygon{
		{{1, 1}, {19, 1}, {19, 9}, {1, 9}, {1, 1}},
		{{3, 3}, {6, 3}, {6, 6}, {3, 6}, {3, 3}},
	}
	tl := newTestTiler(t, poly.Bound(), 0)
	_, err := tl.Add(poly, Attributes{"id": 42})
	require.NoError(t, err)

	outs := completeAll(t, tl)
	left := outs[Address{0, 0}]
	require.Len(t, left.Features.Features, 1)
	p := left.Features.Features[0].Geometry.(orb.Polygon)
	require.Len(t, p, 2, "one hole")
	assert.InDelta(t, 9*8-9, planar.Area(p), 1e-9)
	assert.Equal(t, 42, left.Features.Features[0].Properties.MustInt("id"))

	right := outs[Address{1, 0}]
	require.Len(t, right.Features.Features, 1)
	assert.Len(t, right.Features.Features[0].Geometry.(orb.Polygon), 1)
	assert.False(t, tl.Store().Tile(Address{0, 0}).FilledWithoutHoles())
}

func TestTilerDropsDegenerateRing(t *testing.T) {
	extent := orb.Bound{Max: orb.Point{10, 10}}
	tl := newTestTiler(t, extent, 0.01)
	sliver := orb.Polygon{{{1, 1}, {9, 1}, {9, 1.0000001}, {1, 1}}}
	_, err := tl.Add(sliver, nil)
	require.NoError(t, err)

	tile := tl.Store().Tile(Address{0, 0})
	require.Len(t, tile.Records(), 1)
	assert.True(t, tl.Complete(tile).Empty())
}

func TestTilerMinimumAreaKeepsLargeRings(t *testing.T) {
	extent := orb.Bound{Max: orb.Point{10, 10}}
	tl := newTestTiler(t, extent, 0.01)
	_, err := tl.Add(orb.Polygon{{{1, 1}, {1, 2}, {2, 2}, {2, 1}, {1, 1}}}, nil)
	require.NoError(t, err)
	assert.False(t, tl.Complete(tl.Store().Tile(Address{0, 0})).Empty())
}

func TestTilerMinimumAreaKeepsCoveredTiles(t *testing.T) {
	square := orb.Polygon{{{0.5, 0.5}, {0.5, 39.5}, {39.5, 39.5}, {39.5, 0.5}, {0.5, 0.5}}}
	tl, err := NewTiler(Options{Origin: orb.Point{0, 0}, Level: 4, LevelZeroSize: 10, MinimumArea: 1}, square.Bound())
	require.NoError(t, err)
	_, err = tl.Add(square, nil)
	require.NoError(t, err)

	// every tile is smaller than MinimumArea
	outs := completeAll(t, tl)
	assert.InDelta(t, 39.0*39.0, polygonArea(outs), 1e-6)
	inner := outs[Address{Col: 10, Row: 10}]
	require.NotNil(t, inner)
	assert.True(t, inner.Filled)
	assert.Len(t, inner.Features.Features, 1)
}

func TestTilerVertexOnGridCorner(t *testing.T) {
	notch := orb.Polygon{{{5, 5}, {5, 35}, {35, 35}, {35, 5}, {20, 10}, {5, 5}}}
	tl := newTestTiler(t, notch.Bound(), 0)
	_, err := tl.Add(notch, nil)
	require.NoError(t, err)

	corner := tl.Store().Tile(Address{Col: 2, Row: 1})
	assert.Empty(t, corner.Records())
	assert.True(t, corner.Filled())

	outs := completeAll(t, tl)
	assert.InDelta(t, 825, polygonArea(outs), 1e-6)
	assert.True(t, outs[Address{Col: 2, Row: 1}].Filled)
	assert.True(t, outs[Address{Col: 1, Row: 1}].Filled)
}

func TestTilerPartition(t *testing.T) {
	tests := []struct {
		name   string
		geom   orb.Geometry
		extent orb.Bound
	}{
		{
			name: "large square",
			geom: orb.Polygon{{{1, 1}, {1, 49}, {49, 49}, {49, 1}, {1, 1}}},
		},
		{
			name: "counter-clockwise input",
			geom: orb.Polygon{{{1, 1}, {49, 1}, {49, 49}, {1, 49}, {1, 1}}},
		},
		{
			name: "hole crossing tiles",
			geom: orb.Polygon{
				{{1, 1}, {1, 39}, {39, 39}, {39, 1}, {1, 1}},
				{{5, 5}, {25, 5}, {25, 25}, {5, 25}, {5, 5}},
			},
		},
		{
			name: "concave",
			geom: orb.Polygon{{
				{1, 1}, {1, 29}, {9, 29}, {9, 9}, {21, 9}, {21, 29}, {29, 29}, {29, 1}, {1, 1},
			}},
		},
		{
			name: "through corners",
			geom: orb.Polygon{{{5, 5}, {25, 25}, {25, 5}, {5, 5}}},
		},
		{
			name: "diagonal triangle",
			geom: orb.Polygon{{{0.5, 0.5}, {12.2, 38.7}, {35.5, 20.3}, {0.5, 0.5}}},
		},
		{
			name: "edges on grid lines",
			geom: orb.Polygon{{{0, 0}, {0, 20}, {10, 20}, {10, 0}, {0, 0}}},
		},
		{
			name:   "square on grid lines",
			geom:   orb.Polygon{{{10, 10}, {10, 30}, {30, 30}, {30, 10}, {10, 10}}},
			extent: orb.Bound{Max: orb.Point{40, 40}},
		},
		{
			name: "vertex on interior corner",
			geom: orb.Polygon{{{5, 5}, {5, 35}, {35, 35}, {35, 5}, {20, 10}, {5, 5}}},
		},
		{
			name: "ring starting on a corner",
			geom: orb.Polygon{{{20, 10}, {5, 5}, {5, 35}, {35, 35}, {35, 5}, {20, 10}}},
		},
		{
			name: "vertex touching a tile edge",
			geom: orb.Polygon{{{5, 5}, {5, 12}, {20, 15}, {5, 18}, {5, 35}, {35, 35}, {35, 5}, {5, 5}}},
		},
		{
			name:   "corner touched from outside",
			geom:   orb.Polygon{{{5, 5}, {20, 10}, {25, 5}, {5, 5}}},
			extent: orb.Bound{Max: orb.Point{40, 40}},
		},
		{
			name: "hole with a vertex on a corner",
			geom: orb.Polygon{
				{{1, 1}, {1, 39}, {39, 39}, {39, 1}, {1, 1}},
				{{5, 5}, {20, 20}, {35, 5}, {5, 5}},
			},
		},
		{
			name: "multipolygon",
			geom: orb.MultiPolygon{
				{{{1, 1}, {1, 14}, {14, 14}, {14, 1}, {1, 1}}},
				{{{22, 22}, {22, 37}, {37, 37}, {37, 22}, {22, 22}}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extent := tt.extent
			if extent.IsZero() {
				extent = tt.geom.Bound()
			}
			tl := newTestTiler(t, extent, 0)
			_, err := tl.Add(tt.geom, Attributes{"name": tt.name})
			require.NoError(t, err)

			outs := completeAll(t, tl)
			assert.InDelta(t, planar.Area(tt.geom), polygonArea(outs), 1e-6)

			for a, o := range outs {
				for _, f := range o.Features.Features {
					p := f.Geometry.(orb.Polygon)
					for _, ring := range p {
						require.GreaterOrEqual(t, len(ring), 4)
						assert.Equal(t, ring[0], ring[len(ring)-1], "ring closed in tile %s", a)
						for _, pt := range ring {
							assert.True(t, o.Sector.Contains(pt), "%v inside tile %s", pt, a)
						}
					}
					assert.Equal(t, tt.name, f.Properties.MustString("name"))
				}
			}
		})
	}
}

func TestTilerFillsInterior(t *testing.T) {
	poly := orb.Polygon{
		{{1, 1}, {1, 39}, {39, 39}, {39, 1}, {1, 1}},
		{{5, 5}, {25, 5}, {25, 25}, {5, 25}, {5, 5}},
	}
	tl := newTestTiler(t, poly.Bound(), 0)
	_, err := tl.Add(poly, Attributes{"name": "frame"})
	require.NoError(t, err)
	outs := completeAll(t, tl)

	inHole := outs[Address{1, 1}]
	assert.True(t, inHole.Empty())
	assert.False(t, inHole.Filled)

	// filled by the exterior but cut by the hole
	corner := outs[Address{2, 2}]
	require.Len(t, corner.Features.Features, 1)
	assert.InDelta(t, 75, planar.Area(corner.Features.Features[0].Geometry), 1e-9)

	// filled by the exterior, halved by one edge of the hole
	for _, a := range []Address{{2, 1}, {1, 2}} {
		o := outs[a]
		assert.True(t, o.Filled, "tile %s", a)
		require.Len(t, o.Features.Features, 1)
		assert.InDelta(t, 50, planar.Area(o.Features.Features[0].Geometry), 1e-9)
		assert.Equal(t, "frame", o.Features.Features[0].Properties.MustString("name"))
	}
}

func TestTilerKeepsShapesApart(t *testing.T) {
	extent := orb.Bound{Max: orb.Point{20, 10}}
	tl := newTestTiler(t, extent, 0)
	a := orb.Polygon{{{2, 2}, {2, 8}, {14, 8}, {14, 2}, {2, 2}}}
	b := orb.Polygon{{{6, 3}, {6, 7}, {16, 7}, {16, 3}, {6, 3}}}
	_, err := tl.Add(a, Attributes{"name": "a"})
	require.NoError(t, err)
	_, err = tl.Add(b, Attributes{"name": "b"})
	require.NoError(t, err)

	out := tl.Complete(tl.Store().Tile(Address{0, 0}))
	require.Len(t, out.Features.Features, 2)
	areas := map[string]float64{}
	for _, f := range out.Features.Features {
		areas[f.Properties.MustString("name")] += planar.Area(f.Geometry)
	}
	assert.InDelta(t, 8*6, areas["a"], 1e-9)
	assert.InDelta(t, 4*4, areas["b"], 1e-9)
}

func TestTilerLines(t *testing.T) {
	lines := orb.MultiLineString{
		{{2, 5}, {28, 5}},
		{{5, 2}, {5, 8}},
	}
	tl := newTestTiler(t, orb.Bound{Max: orb.Point{30, 10}}, 0)
	_, err := tl.Add(lines, Attributes{"road": "a1"})
	require.NoError(t, err)

	outs := completeAll(t, tl)
	first := outs[Address{0, 0}].Features.Features
	require.Len(t, first, 2)
	for _, f := range first {
		_, ok := f.Geometry.(orb.LineString)
		assert.True(t, ok)
		assert.Equal(t, "a1", f.Properties.MustString("road"))
	}
	mid := outs[Address{1, 0}].Features.Features
	require.Len(t, mid, 1)
	assert.Equal(t, orb.LineString{{10, 5}, {20, 5}}, mid[0].Geometry)
}

func TestTilerRejectsUnsupportedGeometry(t *testing.T) {
	tl := newTestTiler(t, orb.Bound{Max: orb.Point{10, 10}}, 0)
	_, err := tl.Add(orb.Point{1, 1}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedGeometry)
	_, err = tl.Add(nil, nil)
	assert.ErrorIs(t, err, ErrUnsupportedGeometry)
	assert.False(t, tl.Store().Tile(Address{0, 0}).Touched())

	id, err := tl.Add(orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{2, 2}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, id)
}

func TestTilerCompleteConcurrently(t *testing.T) {
	poly := orb.Polygon{{{0.5, 0.5}, {12.2, 38.7}, {35.5, 20.3}, {0.5, 0.5}}}
	tl := newTestTiler(t, poly.Bound(), 0)
	_, err := tl.Add(poly, nil)
	require.NoError(t, err)

	var tiles []*Tile
	require.NoError(t, tl.Store().Each(func(tile *Tile) error {
		tiles = append(tiles, tile)
		return nil
	}))
	outs := make([]*Output, len(tiles))
	var wg sync.WaitGroup
	for i, tile := range tiles {
		wg.Add(1)
		go func(i int, tile *Tile) {
			defer wg.Done()
			outs[i] = tl.Complete(tile)
		}(i, tile)
	}
	wg.Wait()

	total := 0.0
	for _, o := range outs {
		for _, f := range o.Features.Features {
			total += planar.Area(f.Geometry)
		}
	}
	assert.InDelta(t, planar.Area(poly), total, 1e-6)
}

func containsPoint(ring orb.Ring, p orb.Point) bool {
	for _, q := range ring {
		if math.Abs(q.Lon()-p.Lon()) < 1e-9 && math.Abs(q.Lat()-p.Lat()) < 1e-9 {
			return true
		}
	}
	return false
}
