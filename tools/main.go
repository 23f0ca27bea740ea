package main

import (
	"bufio"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	_ "github.com/go-sql-driver/mysql"
	"github.com/gomodule/redigo/redis"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

type record struct {
	level  int
	column int
	row    int
	data   []byte
}

type exportRec struct {
	wg         sync.WaitGroup
	done       sync.WaitGroup
	workers    chan cur
	savingpipe chan []record
	dialect    string
	outdir     string
	count      int
}

type cur struct {
	level  int
	column int
}

var (
	driver  = flag.String("driver", "sqlite3", "tile store driver: sqlite3, mysql or postgres")
	dsn     = flag.String("db", "output/tiles.sqlite", "tile store `dsn`")
	outdir  = flag.String("out", "export", "export `directory`")
	level   = flag.Int("level", 0, "grid level to export")
	workers = flag.Int("workers", 8, "concurrent column readers")
	dump    = flag.String("dump-fails", "", "write the fail list of task `id` to fails.txt")
	load    = flag.String("load-fails", "", "load fails.txt into the fail list of task `id`")
	raddr   = flag.String("redis", "127.0.0.1:6379", "redis `addr`")
)

func main() {
	flag.Parse()
	initLog()
	var err error
	switch {
	case *dump != "":
		err = exportRedisToLog(*raddr, *dump, "fails.txt")
	case *load != "":
		err = saveLogToRedis(*raddr, *load, "fails.txt")
	default:
		err = exportTiles(*driver, *dsn, *outdir, *level, *workers)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func initLog() {
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	file, err := os.OpenFile("export.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		//同时写文件和屏幕
		log.SetOutput(io.MultiWriter(file, os.Stdout))
	} else {
		log.Info("failed to log to file.")
	}
	log.SetLevel(log.DebugLevel)
}

//exportTiles 按列并发读取瓦片库，写出 <level>/<col>/<row>.geojson
func exportTiles(driver, dsn, outdir string, level, workers int) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if workers < 1 {
		workers = 1
	}
	task := &exportRec{
		workers:    make(chan cur, workers),
		savingpipe: make(chan []record, 16),
		dialect:    driver,
		outdir:     outdir,
	}
	var minCol, maxCol sql.NullInt64
	err = db.QueryRow(task.rebind("select min(tile_column), max(tile_column) from tiles where level = ?"), level).Scan(&minCol, &maxCol)
	if err != nil {
		return err
	}
	if !minCol.Valid {
		log.Warnf("no tiles at level %d", level)
		return nil
	}
	task.done.Add(1)
	go task.savePipe()
	for col := int(minCol.Int64); col <= int(maxCol.Int64); col++ {
		task.workers <- cur{level: level, column: col}
		task.wg.Add(1)
		go task.genRec(db, cur{level: level, column: col})
	}
	task.wg.Wait()
	close(task.savingpipe)
	task.done.Wait()
	log.Infof("total %d", task.count)
	return nil
}

func (task *exportRec) rebind(q string) string {
	if task.dialect != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (task *exportRec) genRec(db *sql.DB, cursor cur) {
	defer task.wg.Done()
	defer func() {
		<-task.workers
	}()
	rows, err := db.Query(task.rebind("select level, tile_column, tile_row, tile_data from tiles where level = ? and tile_column = ?"), cursor.level, cursor.column)
	if err != nil {
		log.Errorf("read column %d error ~ %s", cursor.column, err)
		return
	}
	defer rows.Close()
	var recs []record
	for rows.Next() {
		var tr record
		if err := rows.Scan(&tr.level, &tr.column, &tr.row, &tr.data); err != nil {
			log.Errorf("scan column %d error ~ %s", cursor.column, err)
			continue
		}
		recs = append(recs, tr)
	}
	if len(recs) > 0 {
		task.savingpipe <- recs
	}
}

func (task *exportRec) savePipe() {
	defer task.done.Done()
	for rec := range task.savingpipe {
		err := task.saveToFiles(rec)
		if err != nil {
			log.Errorf("save tiles to %s error ~ %s", task.outdir, err)
		}
	}
}

func (task *exportRec) saveToFiles(rows []record) error {
	start := time.Now()
	for _, rec := range rows {
		name := strconv.Itoa(rec.row) + ".geojson"
		if len(rec.data) > 2 && rec.data[0] == 0x1f && rec.data[1] == 0x8b {
			name += ".gz"
		}
		dir := filepath.Join(task.outdir, strconv.Itoa(rec.level), strconv.Itoa(rec.column))
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name), rec.data, 0644); err != nil {
			return err
		}
		task.count++
	}
	log.Infof("column %d,batch %d complete,cost %d", rows[0].column, len(rows), time.Since(start).Milliseconds())
	return nil
}

func newPool(addr string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     16,
		MaxActive:   32,
		IdleTimeout: 120 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr)
		},
	}
}

//exportRedisToLog 失败列表导出为文本，每行一个 hash 项
func exportRedisToLog(addr, id, path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	pool := newPool(addr)
	conn := pool.Get()
	defer func() {
		conn.Close()
		f.Close()
		pool.Close()
	}()
	replay, err := redis.StringMap(conn.Do("hgetall", "fail_list:"+id))
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for key, val := range replay {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", key, val)
	}
	log.Infof("export %d failed tiles of %s", len(replay), id)
	return w.Flush()
}

//saveLogToRedis 文本导入失败列表，下次 -id 续传时重新保存
func saveLogToRedis(addr, id, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	pool := newPool(addr)
	conn := pool.Get()
	defer func() {
		conn.Close()
		file.Close()
		pool.Close()
	}()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
	count := 0
	for scanner.Scan() {
		key, val, ok := strings.Cut(scanner.Text(), "\t")
		if !ok {
			continue
		}
		_, err := conn.Do("hset", "fail_list:"+id, key, val)
		if err != nil {
			log.Warnf("redis save tile failure ~ %s", err)
			continue
		}
		count++
	}
	log.Infof("load %d failed tiles into %s", count, id)
	return scanner.Err()
}
