package tiling

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// cornerTolerance decides, in segment parameter units, when a segment
// leaves a tile through its corner rather than one of its edges.
const cornerTolerance = 1e-12

// crossing is one step of a segment into a neighbouring tile.
type crossing struct {
	to    Address
	point orb.Point
}

// crossings walks the segment a→b from tile from to tile to and returns
// every tile entered on the way, with the point where it is entered.
// The walk runs in grid units and only steps toward the destination, so
// a diagonal jump over untouched tiles visits each tile the segment
// actually crosses and passes corners in a single step. It reports false
// when no boundary intersection leads on toward the destination.
func (s *Store) crossings(a, b orb.Point, from, to Address) ([]crossing, bool) {
	g := s.grid
	size := g.TileSize()
	ox, oy := g.Origin.Lon(), g.Origin.Lat()
	x0, y0 := (a.Lon()-ox)/size, (a.Lat()-oy)/size
	dx, dy := (b.Lon()-ox)/size-x0, (b.Lat()-oy)/size-y0

	limit := absInt(to.Col-from.Col) + absInt(to.Row-from.Row)
	steps := make([]crossing, 0, limit)
	cur := from
	for cur != to {
		if len(steps) >= limit {
			return steps, false
		}
		sx, sy := signInt(to.Col-cur.Col), signInt(to.Row-cur.Row)
		lineX, lineY := cur.Col, cur.Row
		if sx > 0 {
			lineX++
		}
		if sy > 0 {
			lineY++
		}
		tx, ty := math.Inf(1), math.Inf(1)
		if sx != 0 && dx != 0 {
			tx = (float64(lineX) - x0) / dx
		}
		if sy != 0 && dy != 0 {
			ty = (float64(lineY) - y0) / dy
		}
		if math.IsInf(tx, 1) && math.IsInf(ty, 1) {
			return steps, false
		}

		next := cur
		var p orb.Point
		switch {
		case !math.IsInf(tx, 1) && !math.IsInf(ty, 1) && math.Abs(tx-ty) <= cornerTolerance:
			next.Col += sx
			next.Row += sy
			p = orb.Point{g.lineValue(ox, lineX), g.lineValue(oy, lineY)}
		case tx < ty:
			next.Col += sx
			u := clamp01(tx)
			p = orb.Point{g.lineValue(ox, lineX), a.Lat() + u*(b.Lat()-a.Lat())}
		default:
			next.Row += sy
			u := clamp01(ty)
			p = orb.Point{a.Lon() + u*(b.Lon()-a.Lon()), g.lineValue(oy, lineY)}
		}
		steps = append(steps, crossing{to: next, point: p})
		cur = next
	}
	return steps, true
}

// walk returns the crossings of a→b like crossings, falling back to a
// single jump onto the destination tile at b when the boundary walk
// cannot reach it.
func (s *Store) walk(a, b orb.Point, from, to Address, shape int) []crossing {
	steps, ok := s.crossings(a, b, from, to)
	if ok {
		return steps
	}
	last := from
	if len(steps) > 0 {
		last = steps[len(steps)-1].to
	}
	s.log.Warnf("shape %d: no boundary intersection from %s toward %s, using vertex %v", shape, last, to, b)
	return append(steps, crossing{to: to, point: b})
}

// trace records one vertex sequence into the tiles it passes through and
// returns the ordered list of tiles touched, duplicates included. For a
// closed ring the first tile is repeated last.
func (s *Store) trace(pts []orb.Point, shape, ring int, polygon bool, attrs Attributes) []Address {
	prev := pts[0]
	from := s.Address(prev)
	tile := s.Tile(from)
	rec := tile.open(shape, ring, polygon, attrs, false)
	rec.add(s.clampPoint(tile, prev, shape))
	affected := []Address{from}

	for _, p := range pts[1:] {
		to := s.Address(p)
		if to != from {
			for _, c := range s.walk(prev, p, from, to, shape) {
				rec.add(s.clampPoint(tile, c.point, shape))
				rec.Exited = true
				tile = s.Tile(c.to)
				rec = tile.open(shape, ring, polygon, attrs, true)
				rec.add(s.clampPoint(tile, c.point, shape))
				affected = append(affected, c.to)
			}
		}
		rec.add(s.clampPoint(tile, p, shape))
		prev, from = p, to
	}

	if polygon {
		if err := s.joinOrphans(affected, shape, ring); err != nil {
			s.log.WithError(err).Warnf("shape %d ring %d: fragments left unjoined", shape, ring)
		}
	}
	return affected
}

// joinOrphans splices the fragment a ring started with, which never
// entered its tile, onto the fragment the ring ended with, which never
// exited it. Both are halves of one boundary piece split where tracing
// happened to start.
//
// A single trace leaves at most one such pair, in the tile it started
// in. Tiles holding several unmatched fragments of the ring are skipped
// and reported together in the returned error.
func (s *Store) joinOrphans(affected []Address, shape, ring int) error {
	var errs []error
	seen := make(map[Address]bool, len(affected))
	for _, a := range affected {
		if seen[a] {
			continue
		}
		seen[a] = true
		t := s.Tile(a)

		var noEntry, noExit []*Record
		for _, r := range t.records {
			if r.Shape != shape || r.Ring != ring {
				continue
			}
			if !r.Entered {
				noEntry = append(noEntry, r)
			}
			if !r.Exited {
				noExit = append(noExit, r)
			}
		}
		switch {
		case len(noEntry) == 0 && len(noExit) == 0:
			continue
		case len(noEntry) != 1 || len(noExit) != 1:
			errs = append(errs, fmt.Errorf("%w: tile %s has %d unentered and %d unexited",
				ErrOrphanFragments, a, len(noEntry), len(noExit)))
			continue
		}

		head, tail := noEntry[0], noExit[0]
		if head == tail {
			// the ring never left this tile
			continue
		}
		if !tail.Last().Equal(head.First()) {
			s.log.Warnf("shape %d ring %d: orphan fragments in tile %s do not meet (%v, %v)",
				shape, ring, a, tail.Last(), head.First())
		}
		tail.extend(head.Points)
		tail.Exited = head.Exited
		t.remove(head)
	}
	return errors.Join(errs...)
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func signInt(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
