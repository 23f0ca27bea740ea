package tiling

import (
	"github.com/paulmach/orb"
)

// angleTolerance separates a corner from a boundary point lying on it.
const angleTolerance = 1e-12

// stitch closes the boundary-crossing records of one shape inside t.
//
// Every record contributes an entry at its first point and an exit at its
// last. Exits are paired with entries by a single circular offset between
// the clockwise-sorted exit and entry lists; the pairing is a permutation
// of the records, so each of its cycles is one closed ring. Tile corners
// lying clockwise between a paired exit and entry are inserted between
// the two records.
func (s *Store) stitch(t *Tile, recs []*Record) []*Record {
	n := len(recs)
	if n == 0 {
		return nil
	}
	center := t.Sector.Center()
	all := make([]EntryExit, 0, 2*n)
	entries := make([]EntryExit, 0, n)
	exits := make([]EntryExit, 0, n)
	for i, r := range recs {
		en := newEntryExit(r.First(), false, i, center)
		ex := newEntryExit(r.Last(), true, i, center)
		all = append(all, en, ex)
		entries = append(entries, en)
		exits = append(exits, ex)
	}
	sortClockwise(all)
	sortClockwise(entries)
	sortClockwise(exits)

	offset := s.pairingOffset(t, all, entries, exits)
	next := make([]int, n)
	corners := make([][]orb.Point, n)
	for i, ex := range exits {
		en := entries[(i+offset)%n]
		next[ex.Record] = en.Record
		if !ex.Point.Equal(en.Point) {
			corners[ex.Record] = t.cornersBetween(ex.Angle, en.Angle)
		}
	}

	var out []*Record
	visited := make([]bool, n)
	for i := range recs {
		if visited[i] {
			continue
		}
		head := recs[i]
		ring := newRecord(head.Shape, head.Ring, true, head.Attrs)
		ring.Entered, ring.Exited = true, true
		for j := i; !visited[j]; j = next[j] {
			visited[j] = true
			ring.extend(recs[j].Points)
			ring.extend(corners[j])
			ring.Holes = append(ring.Holes, recs[j].Holes...)
		}
		out = append(out, ring)
	}
	return out
}

// pairingOffset finds the circular offset between the sorted exit and
// entry lists. It looks for an exit followed clockwise by an entry at a
// different coordinate; coincident exit/entry pairs are ambiguous and
// skipped.
func (s *Store) pairingOffset(t *Tile, all, entries, exits []EntryExit) int {
	n := len(entries)
	entryIndex := make(map[int]int, n)
	exitIndex := make(map[int]int, n)
	for i, e := range entries {
		entryIndex[e.Record] = i
	}
	for i, e := range exits {
		exitIndex[e.Record] = i
	}

	m := len(all)
	fallback := -1
	for k := 0; k < m; k++ {
		cur, nxt := all[k], all[(k+1)%m]
		if !cur.Exit || nxt.Exit {
			continue
		}
		offset := ((entryIndex[nxt.Record]-exitIndex[cur.Record])%n + n) % n
		if !cur.Point.Equal(nxt.Point) {
			return offset
		}
		if fallback < 0 {
			fallback = offset
		}
	}
	if fallback < 0 {
		s.log.Warnf("tile %s: no exit is followed by an entry, pairing in list order", t.Address)
		return 0
	}
	return fallback
}

// cornersBetween returns the tile corners strictly between two boundary
// angles, walking clockwise from the exit to the entry.
func (t *Tile) cornersBetween(exit, entry float64) []orb.Point {
	span := clockwiseSpan(exit, entry)
	center := t.Sector.Center()
	type corner struct {
		p orb.Point
		d float64
	}
	var found []corner
	for _, c := range t.corners() {
		d := clockwiseSpan(exit, clockwiseAngle(center, c))
		if d > angleTolerance && d < span-angleTolerance {
			found = append(found, corner{p: c, d: d})
		}
	}
	// at most four corners, insertion order by clockwise distance
	for i := 1; i < len(found); i++ {
		for j := i; j > 0 && found[j].d < found[j-1].d; j-- {
			found[j], found[j-1] = found[j-1], found[j]
		}
	}
	pts := make([]orb.Point, len(found))
	for i, c := range found {
		pts[i] = c.p
	}
	return pts
}
