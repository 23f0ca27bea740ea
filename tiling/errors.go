package tiling

import "errors"

var (
	// ErrUnsupportedGeometry is returned by Tiler.Add for geometry types
	// that cannot be split into tiles. The record is skipped.
	ErrUnsupportedGeometry = errors.New("tiling: unsupported geometry type")
	// ErrInvalidGrid reports grid options that cannot address any tile.
	ErrInvalidGrid = errors.New("tiling: invalid grid options")
	// ErrOrphanFragments reports a tile holding more than one unmatched
	// fragment pair for the same ring after tracing.
	ErrOrphanFragments = errors.New("tiling: unmatched orphan fragments")
	// ErrTileOutsideStore is returned when an address does not belong to
	// the store of the current run.
	ErrTileOutsideStore = errors.New("tiling: tile outside store")
)
