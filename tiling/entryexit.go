package tiling

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// EntryExit is a point where a record crosses the boundary of its tile.
type EntryExit struct {
	Point  orb.Point
	Exit   bool
	Record int // index into the records being stitched
	Angle  float64
}

func newEntryExit(p orb.Point, exit bool, record int, center orb.Point) EntryExit {
	return EntryExit{Point: p, Exit: exit, Record: record, Angle: clockwiseAngle(center, p)}
}

// clockwiseAngle grows clockwise around center, in (-π, π].
func clockwiseAngle(center, p orb.Point) float64 {
	return -math.Atan2(p.Lat()-center.Lat(), p.Lon()-center.Lon())
}

// lessClockwise orders boundary points clockwise around the tile center.
// At a shared coordinate the exit comes first.
func lessClockwise(a, b EntryExit) bool {
	if a.Point.Equal(b.Point) {
		return a.Exit && !b.Exit
	}
	return a.Angle < b.Angle
}

func sortClockwise(points []EntryExit) {
	sort.SliceStable(points, func(i, j int) bool {
		return lessClockwise(points[i], points[j])
	})
}

// clockwiseSpan returns the clockwise angle from a to b in [0, 2π).
func clockwiseSpan(a, b float64) float64 {
	d := math.Mod(b-a, 2*math.Pi)
	if d < 0 {
		d += 2 * math.Pi
	}
	return d
}
