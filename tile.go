package main

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"Fast-ShapeTiler/tiling"

	"github.com/paulmach/orb/geojson"
)

// Constants representing TileFormat types
const (
	GZIP    string = "gzip" // encoding = gzip
	GEOJSON        = "geojson"
)

//Tile 持久化瓦片
type Tile struct {
	Level int
	Col   int
	Row   int
	Data  []byte
}

//encodeTile 输出瓦片编码为 GeoJSON FeatureCollection
func encodeTile(out *tiling.Output, level int, gz bool) (Tile, error) {
	tile := Tile{Level: level, Col: out.Address.Col, Row: out.Address.Row}
	body, err := out.Features.MarshalJSON()
	if err != nil {
		return tile, fmt.Errorf("marshal tile %s: %w", out.Address, err)
	}
	if !gz {
		tile.Data = body
		return tile, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err = zw.Write(body); err != nil {
		return tile, err
	}
	if err = zw.Close(); err != nil {
		return tile, err
	}
	tile.Data = buf.Bytes()
	return tile, nil
}

// gzipped reports whether data starts with the gzip magic number.
func gzipped(data []byte) bool {
	return len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b
}

//decodeTile 解码瓦片数据
func decodeTile(data []byte) (*geojson.FeatureCollection, error) {
	if gzipped(data) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		data, err = io.ReadAll(zr)
		if err != nil {
			return nil, err
		}
	}
	return geojson.UnmarshalFeatureCollection(data)
}

func (tile Tile) key() string {
	return fmt.Sprintf("tile_%d_%d_%d", tile.Col, tile.Row, tile.Level)
}

// String returns a string representation of the tile.
func (tile Tile) String() string {
	return fmt.Sprintf("{%d/%d/%d}", tile.Level, tile.Col, tile.Row)
}
