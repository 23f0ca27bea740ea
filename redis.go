package main

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gomodule/redigo/redis"
	log "github.com/sirupsen/logrus"
)

func (task *Task) cursorKey() string {
	return "cursor:" + task.ID
}

func (task *Task) failKey() string {
	return "fail_list:" + task.ID
}

func (task *Task) cleanInfo() {
	if task.redisPool == nil {
		return
	}
	var conn redis.Conn
	defer func() {
		task.closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	_, _ = conn.Do("del", task.cursorKey())
	_, _ = conn.Do("del", task.failKey())
}

//getCursor 续传游标 level:row，不存在时返回 -1, -1
func (task *Task) getCursor() (int, int) {
	if task.redisPool == nil {
		return -1, -1
	}
	var conn redis.Conn
	defer func() {
		task.closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	replay, err := redis.String(conn.Do("get", task.cursorKey()))
	if err != nil {
		return -1, -1
	}
	return parseCursor(replay)
}

func parseCursor(s string) (int, int) {
	cursor := strings.Split(s, ":")
	if len(cursor) != 2 {
		return -1, -1
	}
	level, err := strconv.Atoi(cursor[0])
	if err != nil {
		return -1, -1
	}
	row, err := strconv.Atoi(cursor[1])
	if err != nil {
		return -1, -1
	}
	return level, row
}

func formatCursor(level, row int) string {
	return strconv.Itoa(level) + ":" + strconv.Itoa(row)
}

func (task *Task) saveCursor() {
	if task.redisPool == nil {
		return
	}
	var conn redis.Conn
	defer func() {
		task.closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	_, err := conn.Do("set", task.cursorKey(), formatCursor(task.Level, task.CurRow))
	if err != nil {
		log.Errorf("redis save cursor failure ~ %s", err)
	}
}

func (task *Task) saveFailedToRedis(batch []Tile, cause error) {
	for _, tile := range batch {
		task.errToRedis(tile, cause.Error())
	}
}

func (task *Task) closeRedisConn(conn redis.Conn) {
	if conn == nil {
		return
	}
	err := conn.Close()
	if err != nil {
		log.Errorf("redis connection close failure")
	}
}

//errToRedis 记录保存失败的瓦片，连同编码数据一起存入 fail_list
func (task *Task) errToRedis(tile Tile, res string) {
	task.failed.Add(1)
	if task.redisPool == nil {
		return
	}
	var conn redis.Conn
	defer func() {
		task.closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	et := ErrTile{
		Level: tile.Level,
		Col:   tile.Col,
		Row:   tile.Row,
		Res:   res,
		Data:  tile.Data,
	}
	val, _ := json.Marshal(et)
	_, err := conn.Do("hset", task.failKey(), tile.key(), val)
	if err != nil {
		log.Errorf("redis save tile failure ~ %s", err)
	}
}

func (task *Task) failCount() int {
	if task.redisPool == nil {
		return int(task.failed.Load())
	}
	var conn redis.Conn
	defer func() {
		task.closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	n, err := redis.Int(conn.Do("hlen", task.failKey()))
	if err != nil {
		return -1
	}
	return n
}

//retry 重新保存失败的瓦片，再次失败会重新写回 fail_list
func (task *Task) retry() {
	if task.redisPool == nil {
		return
	}
	var conn redis.Conn
	defer func() {
		task.closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	alls, err := redis.StringMap(conn.Do("hgetall", task.failKey()))
	if err != nil {
		return
	}
	for key, val := range alls {
		var te ErrTile
		err = json.Unmarshal([]byte(val), &te)
		if err != nil {
			continue
		}
		if te.Level != task.Level || len(te.Data) == 0 {
			continue
		}
		_, _ = conn.Do("hdel", task.failKey(), key)
		task.emit(te.tile())
	}
}
