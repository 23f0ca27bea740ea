package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var errTileNotFound = errors.New("tile not found")

type tileReader interface {
	ReadTile(level, col, row int) ([]byte, error)
	Metadata() (map[string]string, error)
}

type dbReader struct {
	db      *sql.DB
	dialect string
}

func (r *dbReader) ReadTile(level, col, row int) ([]byte, error) {
	q := "select tile_data from tiles where level = ? and tile_column = ? and tile_row = ?"
	if r.dialect == POSTGRES {
		q = "select tile_data from tiles where level = $1 and tile_column = $2 and tile_row = $3"
	}
	var data []byte
	err := r.db.QueryRow(q, level, col, row).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errTileNotFound
	}
	return data, err
}

func (r *dbReader) Metadata() (map[string]string, error) {
	rows, err := r.db.Query("select name, value from metadata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	meta := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		meta[name] = value
	}
	return meta, rows.Err()
}

type fileReader struct {
	root string
}

func (r *fileReader) ReadTile(level, col, row int) ([]byte, error) {
	for _, gz := range []bool{false, true} {
		data, err := os.ReadFile(tilePath(r.root, level, col, row, gz))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, errTileNotFound
}

func (r *fileReader) Metadata() (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(r.root, "metadata.json"))
	if err != nil {
		return nil, err
	}
	meta := map[string]string{}
	return meta, json.Unmarshal(data, &meta)
}

//openReader 按输出配置打开瓦片库
func openReader() (tileReader, func() error, error) {
	format := viper.GetString("output.format")
	outdir := viper.GetString("output.directory")
	name := viper.GetString("task.name")
	var driver, dsn string
	switch format {
	case FILES:
		return &fileReader{root: filepath.Join(outdir, name)}, func() error { return nil }, nil
	case SQLITE:
		driver, dsn = "sqlite3", filepath.Join(outdir, name+".sqlite")
	case MYSQL:
		driver, dsn = "mysql", viper.GetString("output.conn")
	case POSTGRES:
		driver, dsn = "postgres", viper.GetString("output.conn")
	default:
		return nil, nil, fmt.Errorf("unknown output format %q", format)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	return &dbReader{db: db, dialect: format}, db.Close, nil
}

func ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithField("component", "serve").Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func newRouter(r tileReader) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(), gin.Recovery())
	router.GET("/metadata", func(c *gin.Context) {
		meta, err := r.Metadata()
		if err != nil {
			log.Errorf("read metadata error ~ %s", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, meta)
	})
	router.GET("/tiles/:level/:col/:row", func(c *gin.Context) {
		var xyz [3]int
		for i, p := range []string{"level", "col", "row"} {
			v, err := strconv.Atoi(c.Param(p))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + p})
				return
			}
			xyz[i] = v
		}
		data, err := r.ReadTile(xyz[0], xyz[1], xyz[2])
		if errors.Is(err, errTileNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		if err != nil {
			log.Errorf("read tile %v error ~ %s", xyz, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if gzipped(data) {
			c.Header("Content-Encoding", GZIP)
		}
		c.Data(http.StatusOK, "application/geo+json", data)
	})
	return router
}

//serve 启动瓦片服务
func serve() error {
	r, closer, err := openReader()
	if err != nil {
		return err
	}
	defer closer()
	addr := viper.GetString("serve.addr")
	log.Infof("serving tiles on %s", addr)
	return newRouter(r).Run(addr)
}
