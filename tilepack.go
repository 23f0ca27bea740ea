package main

import (
	"Fast-ShapeTiler/tiling"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

//ErrTile 保存失败的瓦片
type ErrTile struct {
	Level int    `json:"level"`
	Col   int    `json:"col"`
	Row   int    `json:"row"`
	Res   string `json:"res"`
	Data  []byte `json:"data,omitempty"`
}

func (et ErrTile) tile() Tile {
	return Tile{Level: et.Level, Col: et.Col, Row: et.Row, Data: et.Data}
}

type GenerateTilesOptions struct {
	Store    *tiling.Store
	StartRow int
	Consumer chan tiling.Address
	Done     <-chan struct{}
}

//GenerateTiles 按行输出瓦片地址，跳过续传游标之前的行
func GenerateTiles(opts *GenerateTilesOptions) {
	defer close(opts.Consumer)
	lo, hi := opts.Store.Bounds()
	start := lo.Row
	if opts.StartRow > start {
		start = opts.StartRow
	}
	for row := start; row <= hi.Row; row++ {
		for col := lo.Col; col <= hi.Col; col++ {
			select {
			case opts.Consumer <- tiling.Address{Col: col, Row: row}:
			case <-opts.Done:
				return
			}
		}
	}
}

//GetTileCount 续传游标之后的瓦片数
func GetTileCount(store *tiling.Store, startRow int) int {
	lo, hi := store.Bounds()
	if startRow < lo.Row {
		startRow = lo.Row
	}
	if startRow > hi.Row {
		return 0
	}
	return (hi.Row - startRow + 1) * (hi.Col - lo.Col + 1)
}

//collectionExtent 要素集合的外包矩形
func collectionExtent(features []*geojson.Feature) (orb.Bound, bool) {
	var extent orb.Bound
	found := false
	for _, f := range features {
		if f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bound()
		if !found {
			extent, found = b, true
			continue
		}
		extent = extent.Union(b)
	}
	return extent, found
}
