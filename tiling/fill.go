package tiling

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// fillInterior marks the tiles enclosed by a traced ring that its
// boundary never touched. affected is the tile path returned by trace.
//
// Each occurrence of a tile on the path contributes one crossing when
// exactly one of its path neighbours lies on a lower row. Sweeping a row
// left to right, an untouched tile seen while the running count is odd
// is inside the ring. Exterior rings fill such tiles; holes clear them.
func (s *Store) fillInterior(affected []Address, shape int, attrs Attributes, fillInside bool) int {
	path := closedPath(affected)
	n := len(path)
	if n < 3 {
		return 0
	}

	weight := make(map[Address]int, n)
	touched := make(map[Address]bool, n)
	lo, hi := path[0], path[0]
	for i, cur := range path {
		prev, next := path[(i+n-1)%n], path[(i+1)%n]
		below := 0
		if prev.Row < cur.Row {
			below++
		}
		if next.Row < cur.Row {
			below++
		}
		if below == 1 {
			weight[cur]++
		}
		touched[cur] = true
		lo.Col, hi.Col = min(lo.Col, cur.Col), max(hi.Col, cur.Col)
		lo.Row, hi.Row = min(lo.Row, cur.Row), max(hi.Row, cur.Row)
	}

	count := 0
	for row := lo.Row; row <= hi.Row; row++ {
		sum := 0
		for col := lo.Col; col <= hi.Col; col++ {
			a := Address{Col: col, Row: row}
			if !touched[a] && sum%2 == 1 {
				t := s.Tile(a)
				if t == nil {
					continue
				}
				if fillInside {
					t.fill(shape, attrs)
				} else {
					t.unfill(shape)
				}
				count++
			}
			sum += weight[a]
		}
	}
	return count
}

// closedPath drops the repeated closing tile and consecutive repeats.
func closedPath(affected []Address) []Address {
	path := make([]Address, 0, len(affected))
	for _, a := range affected {
		if len(path) > 0 && path[len(path)-1] == a {
			continue
		}
		path = append(path, a)
	}
	for len(path) > 1 && path[0] == path[len(path)-1] {
		path = path[:len(path)-1]
	}
	return path
}

// resolveEdgeTiles settles the tiles a traced ring only ran along or
// touched. When every fragment of the ring in a tile lies on the sector
// outline, the tile interior never meets the ring and sits wholly inside
// or outside it: the fragments are removed and the sector centre decides.
// Such tiles stay on the fill path but are no longer touched.
func (s *Store) resolveEdgeTiles(ring orb.Ring, affected []Address, shape, id int, attrs Attributes, fillInside bool) int {
	tol := clampTolerance * s.grid.TileSize()
	count := 0
	seen := make(map[Address]bool, len(affected))
	for _, a := range affected {
		if seen[a] {
			continue
		}
		seen[a] = true
		t := s.Tile(a)

		var recs []*Record
		edge := true
		for _, r := range t.records {
			if r.Shape != shape || r.Ring != id {
				continue
			}
			recs = append(recs, r)
			for _, p := range r.Points {
				if !t.onEdge(p, tol) {
					edge = false
					break
				}
			}
		}
		if !edge || len(recs) == 0 {
			continue
		}
		for _, r := range recs {
			t.remove(r)
		}
		if !planar.RingContains(ring, t.Sector.Center()) {
			continue
		}
		if fillInside {
			t.fill(shape, attrs)
		} else {
			t.unfill(shape)
		}
		count++
	}
	return count
}
