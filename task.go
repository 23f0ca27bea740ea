package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"Fast-ShapeTiler/tiling"

	pb "github.com/cheggaaa/pb/v3"
	_ "github.com/go-sql-driver/mysql"
	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

//StoreVersion 瓦片库版本号
const StoreVersion = "1.0"

// Output formats
const (
	SQLITE   = "sqlite"
	MYSQL    = "mysql"
	POSTGRES = "postgres"
	FILES    = "files"
)

//ErrAborted 任务被取消
var ErrAborted = errors.New("task aborted")

type State int32

const (
	Initialize State = iota
	Tracing
	Running
	Ending
	Aborting
	Terminated
)

func (s State) String() string {
	switch s {
	case Initialize:
		return "initialize"
	case Tracing:
		return "tracing"
	case Running:
		return "running"
	case Ending:
		return "ending"
	case Aborting:
		return "aborting"
	case Terminated:
		return "terminated"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

//Task 切片任务
type Task struct {
	ID           string
	Name         string
	Description  string
	File         string
	Level        int
	CurRow       int
	StartRow     int
	Options      tiling.Options
	Extent       orb.Bound
	Features     []*geojson.Feature
	Total        int
	Skipped      int
	tiler        *tiling.Tiler
	db           *sql.DB
	outdir       string
	workerCount  int
	savePipeSize int
	wg           sync.WaitGroup
	saveWg       sync.WaitGroup
	loopWg       sync.WaitGroup
	abort        chan struct{}
	abortOnce    sync.Once
	ending       chan struct{}
	workers      chan tiling.Address
	savingpipe   chan Tile
	signal       atomic.Int32
	failed       atomic.Int64
	outformat    string
	gzip         bool
	redisPool    *redis.Pool
	conn         string
}

//NewTask 创建切片任务
func NewTask(features []*geojson.Feature, extent orb.Bound, opts tiling.Options, id string) (*Task, error) {
	if len(features) == 0 {
		return nil, errors.New("empty collection")
	}
	tiler, err := tiling.NewTiler(opts, extent)
	if err != nil {
		return nil, err
	}
	task := &Task{
		ID:           uuid.New().String(),
		Name:         viper.GetString("task.name"),
		Description:  viper.GetString("app.title"),
		Level:        opts.Level,
		StartRow:     -1,
		Options:      opts,
		Extent:       extent,
		Features:     features,
		tiler:        tiler,
		abort:        make(chan struct{}),
		ending:       make(chan struct{}),
		workerCount:  viper.GetInt("task.workers"),
		savePipeSize: viper.GetInt("task.savepipe"),
		outformat:    viper.GetString("output.format"),
		gzip:         viper.GetBool("output.gzip"),
		conn:         viper.GetString("output.conn"),
	}
	if task.workerCount < 1 {
		task.workerCount = 1
	}
	if task.savePipeSize < 1 {
		task.savePipeSize = 1
	}
	if viper.GetBool("redis.enabled") {
		addr := viper.GetString("redis.addr")
		task.redisPool = &redis.Pool{
			MaxIdle:     16,
			MaxActive:   32,
			IdleTimeout: 120 * time.Second,
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp", addr)
			},
		}
	}
	if id != "" {
		task.ID = id
		level, row := task.getCursor()
		if level == task.Level && row != -1 {
			task.StartRow = row - 1
		}
	}
	store := tiler.Store()
	task.Total = GetTileCount(store, task.StartRow)
	lo, _ := store.Bounds()
	task.CurRow = lo.Row - 1
	task.workers = make(chan tiling.Address, task.workerCount)
	task.savingpipe = make(chan Tile, task.savePipeSize)
	resume := id != ""
	switch task.outformat {
	case SQLITE:
		err = task.SetupSQLiteTables(resume)
	case MYSQL:
		err = task.SetupMysqlTables(resume)
	case POSTGRES:
		err = task.SetupPostgresTables(resume)
	case FILES:
		err = task.SetupFiles()
	default:
		err = fmt.Errorf("unknown output format %q", task.outformat)
	}
	if err != nil {
		log.Errorf("Database connect and prepare error")
		return nil, err
	}
	return task, nil
}

//MetaItems 输出
func (task *Task) MetaItems() map[string]string {
	b := task.Extent
	c := b.Center()
	encoding := "identity"
	if task.gzip {
		encoding = GZIP
	}
	data := map[string]string{
		"id":          task.ID,
		"name":        task.Name,
		"description": task.Description,
		"format":      GEOJSON,
		"encoding":    encoding,
		"version":     StoreVersion,
		"bounds":      fmt.Sprintf(`%f,%f,%f,%f`, b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()),
		"center":      fmt.Sprintf(`%f,%f,%d`, c.Lon(), c.Lat(), task.Level),
		"level":       strconv.Itoa(task.Level),
		"lzts":        strconv.FormatFloat(task.Options.LevelZeroSize, 'f', -1, 64),
		"origin":      fmt.Sprintf(`%f,%f`, task.Options.Origin.Lon(), task.Options.Origin.Lat()),
		"min_area":    strconv.FormatFloat(task.Options.MinimumArea, 'f', -1, 64),
	}
	return data
}

func (task *Task) SetupSQLiteTables(ignore bool) error {
	if task.File == "" {
		outdir := viper.GetString("output.directory")
		os.MkdirAll(outdir, os.ModePerm)
		task.File = filepath.Join(outdir, fmt.Sprintf("%s.sqlite", task.Name))
	}
	db, err := sql.Open("sqlite3", task.File)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)

	err = optimizeConnection(db)
	if err != nil {
		return err
	}

	_, err = db.Exec("create table if not exists tiles (level integer, tile_column integer, tile_row integer, tile_data blob);")
	if err != nil {
		return err
	}

	_, err = db.Exec("create table if not exists metadata (name text, value text);")
	if err != nil {
		return err
	}
	_, _ = db.Exec("create unique index if not exists name on metadata (name);")
	_, _ = db.Exec("create unique index if not exists tile_index on tiles(level, tile_column, tile_row);")
	if !ignore {
		for name, value := range task.MetaItems() {
			_, err := db.Exec("insert or replace into metadata (name, value) values (?, ?)", name, value)
			if err != nil {
				return err
			}
		}
	}

	task.db = db //保存任务的库连接
	return nil
}

func (task *Task) SetupMysqlTables(ignore bool) error {
	db, err := sql.Open("mysql", task.conn)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	_, err = db.Exec("create table if not exists tiles (level integer, tile_column integer, tile_row integer, tile_data mediumblob);")
	if err != nil {
		return err
	}

	_, err = db.Exec("create table if not exists metadata (name VARCHAR(50) , value mediumtext);")
	if err != nil {
		return err
	}
	if !ignore {
		_, _ = db.Exec("create unique index name on metadata (name);")
		_, _ = db.Exec("create unique index tile_index on tiles(level, tile_column, tile_row);")
		for name, value := range task.MetaItems() {
			_, err := db.Exec("replace into metadata (name, value) values (?, ?)", name, value)
			if err != nil {
				return err
			}
		}
	}
	task.db = db //保存任务的库连接
	return nil
}

func (task *Task) SetupPostgresTables(ignore bool) error {
	db, err := sql.Open("postgres", task.conn)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	_, err = db.Exec("create table if not exists tiles (level integer, tile_column integer, tile_row integer, tile_data bytea);")
	if err != nil {
		return err
	}
	_, err = db.Exec("create table if not exists metadata (name text, value text);")
	if err != nil {
		return err
	}
	_, err = db.Exec("create unique index if not exists tile_index on tiles (level, tile_column, tile_row);")
	if err != nil {
		return err
	}
	_, err = db.Exec("create unique index if not exists metadata_name on metadata (name);")
	if err != nil {
		return err
	}
	if !ignore {
		for name, value := range task.MetaItems() {
			_, err := db.Exec("insert into metadata (name, value) values ($1, $2) on conflict (name) do update set value = excluded.value", name, value)
			if err != nil {
				return err
			}
		}
	}
	task.db = db
	return nil
}

//SetupFiles 目录输出，元数据写入 metadata.json
func (task *Task) SetupFiles() error {
	task.outdir = filepath.Join(viper.GetString("output.directory"), task.Name)
	err := os.MkdirAll(task.outdir, os.ModePerm)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(task.MetaItems(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(task.outdir, "metadata.json"), data, 0644)
}

//State 任务状态
func (task *Task) State() State {
	return State(task.signal.Load())
}

func (task *Task) setState(s State) {
	task.signal.Store(int32(s))
}

func (task *Task) aborted() bool {
	select {
	case <-task.abort:
		return true
	default:
		return false
	}
}

func (task *Task) abortFun() {
	task.abortOnce.Do(func() {
		task.setState(Aborting)
		close(task.abort)
		log.Infof("task %s aborting after current tiles ~", task.ID)
	})
}

//savePipe 保存瓦片管道
func (task *Task) savePipe() {
	defer task.saveWg.Done()
	var batch []Tile
	for tile := range task.savingpipe {
		batch = append(batch, tile)
		if len(batch) == task.savePipeSize {
			task.saveBatch(batch)
			batch = []Tile{}
		}
	}
	if len(batch) > 0 {
		task.saveBatch(batch)
		log.Infof("save batch complete count %d", len(batch))
	}
}

func (task *Task) saveBatch(batch []Tile) {
	err := saveToDB(batch, task.db, task.outformat)
	if err != nil {
		task.saveFailedToRedis(batch, err)
		log.Errorf("save tile to %s db error ~ %s", task.outformat, err)
	}
}

//saveTile 保存瓦片文件
func (task *Task) saveTile(tile Tile) {
	err := saveToFiles(tile, task.outdir, task.gzip)
	if err != nil {
		task.errToRedis(tile, err.Error())
		log.Errorf("create %v tile file error ~ %s", tile, err)
	}
}

func (task *Task) emit(tile Tile) {
	if task.outformat == FILES {
		task.saveTile(tile)
		return
	}
	task.savingpipe <- tile
}

//tileWorker 完成并编码单个瓦片
func (task *Task) tileWorker(t *tiling.Tile) {
	defer func() {
		task.wg.Done()
		<-task.workers
	}()
	out := task.tiler.Complete(t)
	if out.Empty() {
		return
	}
	tile, err := encodeTile(out, task.Level, task.gzip)
	if err != nil {
		log.Errorf("encode %v tile error ~ %s", t.Address, err)
		return
	}
	task.emit(tile)
}

//trace 逐要素追踪，要素之间检查取消信号
func (task *Task) trace() error {
	task.setState(Tracing)
	bar := pb.Full.Start(len(task.Features))
	bar.Set("prefix", "Trace :")
	defer bar.Finish()
	for i, f := range task.Features {
		if task.aborted() {
			return ErrAborted
		}
		if _, err := task.tiler.Add(f.Geometry, f.Properties); err != nil {
			task.Skipped++
			log.Warnf("feature %d skipped ~ %s", i, err)
		}
		bar.Increment()
	}
	return nil
}

//writeTiles 按行分发瓦片
func (task *Task) writeTiles() {
	bar := pb.Full.Start(task.Total)
	bar.Set("prefix", fmt.Sprintf("Level %d :", task.Level))
	store := task.tiler.Store()
	var tileList = make(chan tiling.Address)
	go GenerateTiles(&GenerateTilesOptions{
		Store:    store,
		StartRow: task.StartRow,
		Consumer: tileList,
		Done:     task.abort,
	})
loop:
	for a := range tileList {
		t, err := store.Lookup(a)
		if err != nil {
			log.Errorf("skip tile %s ~ %s", a, err)
			continue
		}
		if task.CurRow != a.Row {
			task.CurRow = a.Row
			task.saveCursor()
		}
		select {
		case task.workers <- a:
			bar.Increment()
			task.wg.Add(1)
			go task.tileWorker(t)
		case <-task.abort:
			log.Infof("task %s got canceled.", task.ID)
			break loop
		}
	}
	task.wg.Wait()
	bar.Finish()
}

//Run 开启切片任务
func (task *Task) Run() error {
	defer task.close()
	if err := task.trace(); err != nil {
		task.setState(Terminated)
		return err
	}
	task.setState(Running)
	task.saveWg.Add(1)
	go task.savePipe()
	task.loopWg.Add(2)
	go task.printPipe()
	go task.retryLoop()
	task.retry()
	task.writeTiles()
	aborted := task.aborted()
	if !aborted {
		task.setState(Ending)
	}
	close(task.ending)
	task.loopWg.Wait()
	close(task.savingpipe)
	task.saveWg.Wait()
	task.setState(Terminated)
	if aborted {
		task.saveCursor()
		log.Infof("task %s stopped at row %d ~", task.ID, task.CurRow)
		return ErrAborted
	}
	if task.failCount() == 0 {
		task.cleanInfo()
	}
	if n := task.failed.Load(); n > 0 {
		log.Warnf("task %s finished with %d failed tiles ~", task.ID, n)
	} else {
		log.Infof("task %s finished ~", task.ID)
	}
	return nil
}

func (task *Task) close() {
	if task.redisPool != nil {
		_ = task.redisPool.Close()
	}
	if task.db != nil {
		_ = task.db.Close()
	}
}

func (task *Task) printPipe() {
	defer task.loopWg.Done()
	ticker := time.NewTicker(time.Second * 5)
	defer ticker.Stop()
	for {
		select {
		case <-task.ending:
			return
		case <-ticker.C:
			log.Debugf("cache pipe size %d", len(task.savingpipe))
		}
	}
}

func (task *Task) retryLoop() {
	defer task.loopWg.Done()
	ticker := time.NewTicker(time.Second * 5)
	defer ticker.Stop()
	for {
		select {
		case <-task.ending:
			return
		case <-ticker.C:
			task.retry()
		}
	}
}
