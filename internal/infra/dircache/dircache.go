package dircache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Recorder 接收目录缓存的计量事件。实现必须并发安全。
type Recorder interface {
	RecordDirCreated(d time.Duration)
	RecordDirCacheHit()
}

// Error 表示目标目录创建失败（权限、类型冲突等）。只对当前照片致命。
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("创建目录失败：%q：%v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Cache 记录本次 run 中已确认存在的目标目录，避免对慢速存储重复发起 mkdir。
//
// 约束：
// - 条目只增不减，生命周期等同进程
// - 命中只走读锁；未命中时同一路径的并发请求合并为一次 mkdir
// - "已存在" 视为成功（容忍其他 worker 或上一次运行已创建）
type Cache struct {
	mu    sync.RWMutex
	known map[string]struct{}

	inflight singleflight.Group

	// mkdir 可替换，便于测试统计底层调用次数。
	mkdir func(path string, perm os.FileMode) error
	rec   Recorder
}

func New(rec Recorder) *Cache {
	return &Cache{
		known: make(map[string]struct{}, 256),
		mkdir: os.MkdirAll,
		rec:   rec,
	}
}

// Ensure 确保 dir 存在。已记录的目录直接返回，不触发任何文件系统调用。
func (c *Cache) Ensure(dir string) error {
	dir = filepath.Clean(dir)

	if c.Contains(dir) {
		if c.rec != nil {
			c.rec.RecordDirCacheHit()
		}
		return nil
	}

	created := false
	_, err, _ := c.inflight.Do(dir, func() (any, error) {
		// 二次检查：上一个同路径请求可能刚刚完成。
		if c.Contains(dir) {
			return nil, nil
		}

		started := time.Now()
		if err := c.mkdir(dir, 0o755); err != nil && !existsAsDir(dir, err) {
			return nil, &Error{Path: dir, Err: err}
		}
		dur := time.Since(started)

		c.mu.Lock()
		c.known[dir] = struct{}{}
		c.mu.Unlock()

		created = true
		if c.rec != nil {
			c.rec.RecordDirCreated(dur)
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	if !created && c.rec != nil {
		c.rec.RecordDirCacheHit()
	}
	return nil
}

// Contains 报告 dir 是否已被记录为存在。
func (c *Cache) Contains(dir string) bool {
	c.mu.RLock()
	_, ok := c.known[filepath.Clean(dir)]
	c.mu.RUnlock()
	return ok
}

// Len 返回已记录的目录数量。
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.known)
}

func existsAsDir(dir string, err error) bool {
	if !errors.Is(err, fs.ErrExist) {
		return false
	}
	fi, statErr := os.Stat(dir)
	return statErr == nil && fi.IsDir()
}
