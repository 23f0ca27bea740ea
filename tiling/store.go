package tiling

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	log "github.com/sirupsen/logrus"
)

// clampTolerance is the fraction of a tile edge a coordinate may stray
// outside its tile before clamping it is reported.
const clampTolerance = 1e-9

type hole struct {
	shape int
	ring  orb.Ring
}

type fill struct {
	shape int
	attrs Attributes
}

// Tile is the per-tile state of one tiling run.
type Tile struct {
	Address Address
	Sector  orb.Bound

	records []*Record
	holes   []hole
	fills   []fill

	// set by Tiler.Complete
	filled bool
	solid  bool
}

// Records returns the fragments recorded in the tile.
func (t *Tile) Records() []*Record {
	return t.records
}

// Touched reports whether any shape boundary reached the tile.
func (t *Tile) Touched() bool {
	return len(t.records) > 0
}

// Filled reports whether the tile lies wholly inside some polygon.
func (t *Tile) Filled() bool {
	return t.filled || len(t.fills) > 0
}

// FilledWithoutHoles reports whether a completed tile is covered by a
// polygon with no hole inside the tile.
func (t *Tile) FilledWithoutHoles() bool {
	return t.solid
}

// FilledAttributes returns the attributes of the shape filling the tile.
func (t *Tile) FilledAttributes() (Attributes, bool) {
	if len(t.fills) == 0 {
		return nil, false
	}
	return t.fills[len(t.fills)-1].attrs, true
}

func (t *Tile) open(shape, ring int, polygon bool, attrs Attributes, entered bool) *Record {
	r := newRecord(shape, ring, polygon, attrs)
	r.Entered = entered
	t.records = append(t.records, r)
	return r
}

func (t *Tile) remove(r *Record) {
	for i, o := range t.records {
		if o == r {
			t.records = append(t.records[:i], t.records[i+1:]...)
			return
		}
	}
}

func (t *Tile) addHole(shape int, ring orb.Ring) {
	t.holes = append(t.holes, hole{shape: shape, ring: ring})
}

func (t *Tile) fill(shape int, attrs Attributes) {
	for i := range t.fills {
		if t.fills[i].shape == shape {
			t.fills[i].attrs = attrs
			return
		}
	}
	t.fills = append(t.fills, fill{shape: shape, attrs: attrs})
}

func (t *Tile) unfill(shape int) {
	for i := range t.fills {
		if t.fills[i].shape == shape {
			t.fills = append(t.fills[:i], t.fills[i+1:]...)
			return
		}
	}
}

func (t *Tile) filledBy(shape int) (Attributes, bool) {
	for _, f := range t.fills {
		if f.shape == shape {
			return f.attrs, true
		}
	}
	return nil, false
}

// corners returns the tile corners clockwise from the south-west one.
func (t *Tile) corners() []orb.Point {
	s := t.Sector
	return []orb.Point{
		s.Min,
		{s.Min.Lon(), s.Max.Lat()},
		s.Max,
		{s.Max.Lon(), s.Min.Lat()},
	}
}

// square returns the tile outline as a closed clockwise ring.
func (t *Tile) square() orb.Ring {
	c := t.corners()
	return orb.Ring{c[0], c[1], c[2], c[3], c[0]}
}

// onEdge reports whether p lies within tol of the sector outline.
func (t *Tile) onEdge(p orb.Point, tol float64) bool {
	s := t.Sector
	return math.Abs(p.Lon()-s.Min.Lon()) <= tol || math.Abs(p.Lon()-s.Max.Lon()) <= tol ||
		math.Abs(p.Lat()-s.Min.Lat()) <= tol || math.Abs(p.Lat()-s.Max.Lat()) <= tol
}

func (t *Tile) area() float64 {
	s := t.Sector
	return (s.Max.Lon() - s.Min.Lon()) * (s.Max.Lat() - s.Min.Lat())
}

// Store is the grid of tiles covering the dataset of one run.
type Store struct {
	grid  Grid
	min   Address
	cols  int
	rows  int
	tiles []*Tile
	log   *log.Entry
}

// NewStore creates a tile for every address of the grid covering extent.
func NewStore(grid Grid, extent orb.Bound, logger *log.Entry) *Store {
	lo, hi := grid.Range(extent)
	s := &Store{
		grid: grid,
		min:  lo,
		cols: hi.Col - lo.Col + 1,
		rows: hi.Row - lo.Row + 1,
		log:  logger,
	}
	if s.log == nil {
		s.log = log.WithField("component", "tiling")
	}
	s.tiles = make([]*Tile, s.cols*s.rows)
	for row := 0; row < s.rows; row++ {
		for col := 0; col < s.cols; col++ {
			a := Address{Col: lo.Col + col, Row: lo.Row + row}
			s.tiles[row*s.cols+col] = &Tile{Address: a, Sector: grid.Sector(a)}
		}
	}
	return s
}

// Grid returns the addressing grid of the store.
func (s *Store) Grid() Grid {
	return s.grid
}

// Bounds returns the first and last address held by the store.
func (s *Store) Bounds() (Address, Address) {
	return s.min, Address{Col: s.min.Col + s.cols - 1, Row: s.min.Row + s.rows - 1}
}

// Len returns the number of tiles in the store.
func (s *Store) Len() int {
	return len(s.tiles)
}

// Contains reports whether a is an address of the store.
func (s *Store) Contains(a Address) bool {
	c, r := a.Col-s.min.Col, a.Row-s.min.Row
	return c >= 0 && c < s.cols && r >= 0 && r < s.rows
}

// Tile returns the tile at a, or nil outside the store.
func (s *Store) Tile(a Address) *Tile {
	if !s.Contains(a) {
		return nil
	}
	return s.tiles[(a.Row-s.min.Row)*s.cols+a.Col-s.min.Col]
}

// Lookup is Tile with an error for addresses outside the store.
func (s *Store) Lookup(a Address) (*Tile, error) {
	t := s.Tile(a)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTileOutsideStore, a)
	}
	return t, nil
}

// Each calls fn for every tile, row by row, stopping at the first error.
func (s *Store) Each(fn func(*Tile) error) error {
	for _, t := range s.tiles {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

// Address returns the tile address of p clamped into the store.
func (s *Store) Address(p orb.Point) Address {
	return s.clampAddress(s.grid.Address(p))
}

func (s *Store) clampAddress(a Address) Address {
	a.Col = clampInt(a.Col, s.min.Col, s.min.Col+s.cols-1)
	a.Row = clampInt(a.Row, s.min.Row, s.min.Row+s.rows-1)
	return a
}

// clampPoint moves p into the sector of t. Moves larger than the
// tolerance are reported, since p then lies outside its computed tile.
func (s *Store) clampPoint(t *Tile, p orb.Point, shape int) orb.Point {
	b := t.Sector
	q := orb.Point{
		math.Min(math.Max(p.Lon(), b.Min.Lon()), b.Max.Lon()),
		math.Min(math.Max(p.Lat(), b.Min.Lat()), b.Max.Lat()),
	}
	if q.Equal(p) {
		return p
	}
	tol := clampTolerance * s.grid.TileSize()
	if math.Abs(q.Lon()-p.Lon()) > tol || math.Abs(q.Lat()-p.Lat()) > tol {
		s.log.Warnf("shape %d: coordinate %v outside tile %s, clamped to %v", shape, p, t.Address, q)
	}
	return q
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
