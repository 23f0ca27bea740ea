package tiling

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// edgeEpsilon nudges dataset extent edges inward so an extent ending
// exactly on a grid line does not allocate an extra row or column.
const edgeEpsilon = 1e-10

// Address is the integer column/row of a tile in the grid.
type Address struct {
	Col int
	Row int
}

// String returns a string representation of the address.
func (a Address) String() string {
	return fmt.Sprintf("{%d/%d}", a.Col, a.Row)
}

// Options are the parameters of one tiling run.
type Options struct {
	Origin        orb.Point // lon/lat of the grid origin
	Level         int       // target level, 0 is the coarsest
	LevelZeroSize float64   // tile edge in degrees at level 0
	MinimumArea   float64   // rings below this area are dropped, 0 disables
}

// Validate checks the options can address tiles.
func (o Options) Validate() error {
	switch {
	case o.Level < 0:
		return fmt.Errorf("%w: level %d", ErrInvalidGrid, o.Level)
	case !(o.LevelZeroSize > 0) || math.IsInf(o.LevelZeroSize, 0):
		return fmt.Errorf("%w: level zero size %v", ErrInvalidGrid, o.LevelZeroSize)
	case o.MinimumArea < 0 || math.IsNaN(o.MinimumArea):
		return fmt.Errorf("%w: minimum area %v", ErrInvalidGrid, o.MinimumArea)
	case math.IsNaN(o.Origin.Lon()) || math.IsNaN(o.Origin.Lat()):
		return fmt.Errorf("%w: origin %v", ErrInvalidGrid, o.Origin)
	}
	return nil
}

// Grid returns the addressing grid described by the options.
func (o Options) Grid() Grid {
	return Grid{Origin: o.Origin, Level: o.Level, LevelZeroSize: o.LevelZeroSize}
}

// Grid maps lon/lat positions to tile addresses at one level.
type Grid struct {
	Origin        orb.Point
	Level         int
	LevelZeroSize float64
}

// TileSize returns the tile edge length in degrees at the grid level.
func (g Grid) TileSize() float64 {
	return g.LevelZeroSize * math.Pow(0.5, float64(g.Level))
}

// Column returns the tile column holding lon.
func (g Grid) Column(lon float64) int {
	return int(math.Floor((lon - g.Origin.Lon()) / g.TileSize()))
}

// Row returns the tile row holding lat.
func (g Grid) Row(lat float64) int {
	return int(math.Floor((lat - g.Origin.Lat()) / g.TileSize()))
}

// Address returns the address of the tile holding p.
func (g Grid) Address(p orb.Point) Address {
	return Address{Col: g.Column(p.Lon()), Row: g.Row(p.Lat())}
}

// Sector returns the bounding rectangle of the tile at a.
func (g Grid) Sector(a Address) orb.Bound {
	ox, oy := g.Origin.Lon(), g.Origin.Lat()
	return orb.Bound{
		Min: orb.Point{g.lineValue(ox, a.Col), g.lineValue(oy, a.Row)},
		Max: orb.Point{g.lineValue(ox, a.Col+1), g.lineValue(oy, a.Row+1)},
	}
}

// Range returns the first and last address of the tiles covering extent.
// Extent edges are nudged inward by edgeEpsilon.
func (g Grid) Range(extent orb.Bound) (Address, Address) {
	lo := g.Address(orb.Point{extent.Min.Lon() + edgeEpsilon, extent.Min.Lat() + edgeEpsilon})
	hi := g.Address(orb.Point{extent.Max.Lon() - edgeEpsilon, extent.Max.Lat() - edgeEpsilon})
	// extents thinner than the nudge collapse to a single column or row
	if hi.Col < lo.Col {
		hi.Col = lo.Col
	}
	if hi.Row < lo.Row {
		hi.Row = lo.Row
	}
	return lo, hi
}

// lineValue returns the world coordinate of grid line n along one axis.
// Neighbouring sectors share edges bit for bit because both sides are
// computed here.
func (g Grid) lineValue(origin float64, n int) float64 {
	return origin + float64(n)*g.TileSize()
}
