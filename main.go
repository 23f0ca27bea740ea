package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Fast-ShapeTiler/tiling"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

//flag
var (
	hf bool
	sf bool
	cf string
	id string
)

func init() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.BoolVar(&sf, "serve", false, "serve tiles of the configured output")
	flag.StringVar(&cf, "c", "conf.toml", "set config `file`")
	flag.StringVar(&id, "id", "", "resume task `id`")
	flag.Usage = usage
	//InitLog 初始化日志
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
}

func initLog() {
	file, err := os.OpenFile("tiler.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Info("failed to log to file.")
		return
	}
	//同时写文件和屏幕
	log.SetOutput(io.MultiWriter(file, os.Stdout))
	log.SetLevel(log.DebugLevel)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Fast-ShapeTiler version: Fast-ShapeTiler/1.0
Usage: Fast-ShapeTiler [-h] [-c filename] [-id task] [-serve]
`)
	flag.PrintDefaults()
}

//initConf 初始化配置
func initConf(cfgFile string) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("load .env error, details: %s", err)
	}
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		log.Warnf("config file(%s) not exist", cfgFile)
	}
	viper.SetConfigType("toml")
	viper.SetConfigFile(cfgFile)
	viper.AutomaticEnv() // read in environment variables that match
	err := viper.ReadInConfig()
	if err != nil {
		log.Warnf("read config file(%s) error, details: %s", viper.ConfigFileUsed(), err)
	}
	setDefaults()
}

func setDefaults() {
	viper.SetDefault("app.version", "v 0.1.0")
	viper.SetDefault("app.title", "Shape Tiler")
	viper.SetDefault("grid.origin_lon", -180.0)
	viper.SetDefault("grid.origin_lat", -90.0)
	viper.SetDefault("grid.level", 0)
	viper.SetDefault("grid.lzts", 36.0)
	viper.SetDefault("grid.min_area", 0.0)
	viper.SetDefault("input.files", []string{})
	viper.SetDefault("output.format", SQLITE)
	viper.SetDefault("output.directory", "output")
	viper.SetDefault("output.gzip", true)
	viper.SetDefault("task.workers", 4)
	viper.SetDefault("task.savepipe", 8)
	viper.SetDefault("task.name", "tiles")
	viper.SetDefault("redis.addr", "127.0.0.1:6379")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("serve.addr", ":8080")
}

//gridOptions 切片网格配置
func gridOptions() tiling.Options {
	return tiling.Options{
		Origin:        orb.Point{viper.GetFloat64("grid.origin_lon"), viper.GetFloat64("grid.origin_lat")},
		Level:         viper.GetInt("grid.level"),
		LevelZeroSize: viper.GetFloat64("grid.lzts"),
		MinimumArea:   viper.GetFloat64("grid.min_area"),
	}
}

func main() {
	flag.Parse()
	if hf {
		flag.Usage()
		return
	}
	if cf == "" {
		cf = "conf.toml"
	}
	initLog()
	initConf(cf)
	if sf {
		gin.SetMode(gin.ReleaseMode)
		if err := serve(); err != nil {
			log.Fatal(err)
		}
		return
	}
	start := time.Now()
	features, extent, err := loadCollection(viper.GetStringSlice("input.files"))
	if err != nil {
		log.Fatal(err)
	}
	task, err := NewTask(features, extent, gridOptions(), id)
	if err != nil {
		log.Fatal(err)
	}
	log.Infof("task %s: %d features, %d tiles at level %d", task.ID, len(features), task.Total, task.Level)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		task.abortFun()
	}()
	err = task.Run()
	if errors.Is(err, ErrAborted) {
		log.Warnf("task %s aborted, resume with -id %s", task.ID, task.ID)
	} else if err != nil {
		log.Fatal(err)
	}
	secs := time.Since(start).Seconds()
	fmt.Printf("\n%.3fs finished...", secs)
}
