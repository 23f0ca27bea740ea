package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	log "github.com/sirupsen/logrus"
)

func saveToDB(tiles []Tile, db *sql.DB, dt string) error {
	switch dt {
	case MYSQL:
		return saveToMysql(tiles, db)
	case POSTGRES:
		return saveToPostgres(tiles, db)
	}
	return saveToSQLite(tiles, db)
}

func saveToSQLite(tiles []Tile, db *sql.DB) error {
	tx, er := db.Begin()
	if er != nil {
		return er
	}
	sqlStr := "insert or ignore into tiles (level, tile_column, tile_row, tile_data) values (?, ?, ?, ?);"
	for _, tile := range tiles {
		_, err := tx.Exec(sqlStr, tile.Level, tile.Col, tile.Row, tile.Data)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func saveToMysql(tiles []Tile, db *sql.DB) error {
	sqlStr := "insert ignore into tiles (level, tile_column, tile_row, tile_data) values %s"
	stmStr, bulkValues := bulkInsert(sqlStr, tiles, func(int) string { return "(?,?,?,?)" })
	return execBulk(db, stmStr, bulkValues, len(tiles))
}

func saveToPostgres(tiles []Tile, db *sql.DB) error {
	sqlStr := "insert into tiles (level, tile_column, tile_row, tile_data) values %s on conflict do nothing"
	stmStr, bulkValues := bulkInsert(sqlStr, tiles, func(i int) string {
		n := i*4 + 1
		return fmt.Sprintf("($%d,$%d,$%d,$%d)", n, n+1, n+2, n+3)
	})
	return execBulk(db, stmStr, bulkValues, len(tiles))
}

func bulkInsert(sqlStr string, tiles []Tile, placeholder func(int) string) (string, []interface{}) {
	bulkValues := make([]interface{}, 0, len(tiles)*4)
	valueStrings := make([]string, 0, len(tiles))
	for i, tile := range tiles {
		valueStrings = append(valueStrings, placeholder(i))
		bulkValues = append(bulkValues, tile.Level, tile.Col, tile.Row, tile.Data)
	}
	return fmt.Sprintf(sqlStr, strings.Join(valueStrings, ",")), bulkValues
}

func execBulk(db *sql.DB, stmStr string, bulkValues []interface{}, count int) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	res, err := tx.Exec(stmStr, bulkValues...)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	err = tx.Commit()
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	log.Debugf("save batch count %d,insert %d", count, rows)
	return nil
}

func tilePath(rootdir string, level, col, row int, gz bool) string {
	name := strconv.Itoa(row) + ".geojson"
	if gz {
		name += ".gz"
	}
	return filepath.Join(rootdir, strconv.Itoa(level), strconv.Itoa(col), name)
}

//saveToFiles 写入 <level>/<col>/<row>.geojson，已存在的瓦片跳过
func saveToFiles(tile Tile, rootdir string, gz bool) error {
	fileName := tilePath(rootdir, tile.Level, tile.Col, tile.Row, gz)
	if _, err := os.Stat(fileName); err == nil {
		return nil
	}
	err := os.MkdirAll(filepath.Dir(fileName), os.ModePerm)
	if err != nil {
		return err
	}
	err = os.WriteFile(fileName, tile.Data, 0644)
	if err != nil {
		return err
	}
	log.Debugln(fileName)
	return nil
}

func optimizeConnection(db *sql.DB) error {
	_, err := db.Exec("PRAGMA synchronous=1")
	if err != nil {
		return err
	}
	_, err = db.Exec("PRAGMA locking_mode=EXCLUSIVE")
	if err != nil {
		return err
	}
	_, err = db.Exec("PRAGMA journal_mode=OFF")
	if err != nil {
		return err
	}
	return nil
}

//loadCollection 读取 GeoJSON 文件，返回全部要素及其外包矩形
func loadCollection(paths []string) ([]*geojson.Feature, orb.Bound, error) {
	var features []*geojson.Feature
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, orb.Bound{}, fmt.Errorf("unable to read file: %w", err)
		}
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, orb.Bound{}, fmt.Errorf("unable to unmarshal %s: %w", path, err)
		}
		log.Infof("load %d features from %s", len(fc.Features), path)
		features = append(features, fc.Features...)
	}
	extent, ok := collectionExtent(features)
	if !ok {
		return nil, orb.Bound{}, errors.New("no geometry in input files")
	}
	return features, extent, nil
}
