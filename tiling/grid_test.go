package tiling

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridTileSize(t *testing.T) {
	tests := []struct {
		level int
		want  float64
	}{
		{level: 0, want: 36},
		{level: 1, want: 18},
		{level: 3, want: 4.5},
	}
	for _, tt := range tests {
		g := Grid{Origin: orb.Point{-180, -90}, Level: tt.level, LevelZeroSize: 36}
		assert.Equal(t, tt.want, g.TileSize(), "level %d", tt.level)
	}
}

func TestGridAddress(t *testing.T) {
	g := Grid{Origin: orb.Point{-180, -90}, Level: 1, LevelZeroSize: 36}
	tests := []struct {
		name string
		p    orb.Point
		want Address
	}{
		{name: "origin", p: orb.Point{-180, -90}, want: Address{0, 0}},
		{name: "inside", p: orb.Point{-170, -80}, want: Address{0, 0}},
		{name: "on grid line", p: orb.Point{-162, -72}, want: Address{1, 1}},
		{name: "far corner", p: orb.Point{179.9, 89.9}, want: Address{19, 9}},
		{name: "west of origin", p: orb.Point{-181, -91}, want: Address{-1, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Address(tt.p))
		})
	}
}

func TestGridSector(t *testing.T) {
	g := Grid{Origin: orb.Point{-180, -90}, Level: 0, LevelZeroSize: 36}
	s := g.Sector(Address{Col: 2, Row: 1})
	assert.Equal(t, orb.Bound{Min: orb.Point{-108, -54}, Max: orb.Point{-72, -18}}, s)

	// neighbours share their edge exactly
	right := g.Sector(Address{Col: 3, Row: 1})
	assert.Equal(t, s.Max.Lon(), right.Min.Lon())
}

func TestGridAddressOfSectorCenter(t *testing.T) {
	for level := 0; level < 6; level++ {
		g := Grid{Origin: orb.Point{-180, -90}, Level: level, LevelZeroSize: 36}
		store := NewStore(g, orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{-100, -20}}, nil)
		err := store.Each(func(tile *Tile) error {
			if got := g.Address(tile.Sector.Center()); got != tile.Address {
				return errors.New("center of " + tile.Address.String() + " maps to " + got.String())
			}
			return nil
		})
		require.NoError(t, err, "level %d", level)
	}
}

func TestGridRange(t *testing.T) {
	g := Grid{Origin: orb.Point{0, 0}, Level: 0, LevelZeroSize: 10}
	tests := []struct {
		name   string
		extent orb.Bound
		lo, hi Address
	}{
		{
			name:   "extent on grid lines",
			extent: orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{20, 20}},
			lo:     Address{0, 0}, hi: Address{1, 1},
		},
		{
			name:   "extent inside tiles",
			extent: orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{25, 15}},
			lo:     Address{0, 0}, hi: Address{2, 1},
		},
		{
			name:   "single point on a grid line",
			extent: orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{10, 10}},
			lo:     Address{1, 1}, hi: Address{1, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := g.Range(tt.extent)
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	ok := Options{Origin: orb.Point{-180, -90}, Level: 2, LevelZeroSize: 36}
	require.NoError(t, ok.Validate())

	bad := []Options{
		{Level: -1, LevelZeroSize: 36},
		{Level: 0, LevelZeroSize: 0},
		{Level: 0, LevelZeroSize: 36, MinimumArea: -1},
	}
	for _, o := range bad {
		assert.ErrorIs(t, o.Validate(), ErrInvalidGrid)
	}
}
