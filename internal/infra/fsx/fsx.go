package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// 通过可替换的函数指针，让测试能稳定模拟 rename 失败。
var renameFunc = os.Rename

// copyBufSize 针对慢速/网络存储：大块顺序读写比默认 32KB 更友好。
const copyBufSize = 1 << 20

const (
	CopyKindSourceMissing = "source_missing"
	CopyKindPermission    = "permission"
	CopyKindDiskFull      = "disk_full"
	CopyKindIO            = "io"
)

// CopyError 表示单张照片的拷贝失败。只对当前照片致命，不影响整个 run。
type CopyError struct {
	Kind string
	Src  string
	Dst  string
	Err  error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("拷贝失败（%s）：%q -> %q：%v", e.Kind, e.Src, e.Dst, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

// CopyKind 从 error 中提取拷贝失败类别；若不是 *CopyError 则返回空串。
func CopyKind(err error) string {
	var e *CopyError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CopyRecorder 接收拷贝的计量结果（字节数 + 耗时）。实现必须并发安全。
type CopyRecorder interface {
	RecordCopy(bytes int64, d time.Duration)
}

// Copier 是带计量的拷贝引擎：每次成功拷贝都把字节数与耗时写入 Rec。
type Copier struct {
	Rec CopyRecorder
}

// Copy 拷贝 src 到 dst，并在成功后记录计量。
func (c Copier) Copy(src, dst string) (int64, error) {
	started := time.Now()
	n, err := CopyFile(src, dst)
	if err != nil {
		return 0, err
	}
	if c.Rec != nil {
		c.Rec.RecordCopy(n, time.Since(started))
	}
	return n, nil
}

// CopyFile 以流式方式把 src 拷贝为 dst（同目录临时文件 + rename）。
//
// 语义：
// - dst 已存在则覆盖（同一输入重复运行得到同一棵目录树）
// - 失败时不留下半截文件：临时文件一律清理
// - 保留源文件的修改时间，方便相册软件按时间排序
func CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, classify(src, dst, err)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return 0, classify(src, dst, err)
	}
	if fi.IsDir() {
		return 0, &CopyError{Kind: CopyKindIO, Src: src, Dst: dst, Err: &PathTypeConflictError{Path: src, Want: "file", Got: "dir"}}
	}

	dir := filepath.Dir(dst)
	name := filepath.Base(dst)

	// 临时文件前缀带 '.'，避免中途被相册软件索引。
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return 0, classify(src, dst, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	buf := make([]byte, copyBufSize)
	n, err := io.CopyBuffer(tmp, in, buf)
	if err != nil {
		return 0, classify(src, dst, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return 0, classify(src, dst, err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, classify(src, dst, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, classify(src, dst, err)
	}
	if err := renameFunc(tmpName, dst); err != nil {
		return 0, classify(src, dst, err)
	}

	// mtime 保留是 best-effort：某些网络文件系统不支持。
	_ = os.Chtimes(dst, fi.ModTime(), fi.ModTime())
	return n, nil
}

func classify(src, dst string, err error) error {
	kind := CopyKindIO
	switch {
	case errors.Is(err, os.ErrNotExist):
		kind = CopyKindSourceMissing
		// 目标目录不存在也会返回 ENOENT；只有源文件确实消失才算 source_missing。
		if _, statErr := os.Stat(src); statErr == nil {
			kind = CopyKindIO
		}
	case errors.Is(err, os.ErrPermission):
		kind = CopyKindPermission
	case isNoSpace(err):
		kind = CopyKindDiskFull
	}
	return &CopyError{Kind: kind, Src: src, Dst: dst, Err: err}
}

// PathTypeConflictError 表示路径类型冲突（例如期望文件但实际是目录）。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// ProbeWritable 通过在 dir 下创建并删除一个临时文件，确认目录真实可写。
// 仅看权限位在网络存储上并不可靠。
func ProbeWritable(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return &PathTypeConflictError{Path: dir, Want: "dir", Got: "file"}
	}
	f, err := os.CreateTemp(dir, ".photosort-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// WriteFileAtomic 在 dir 下原子写入 name（临时文件 + rename），已存在则覆盖。
func WriteFileAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	dst := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := renameFunc(tmpName, dst); err != nil {
		return err
	}

	// 目录 fsync：best-effort（不同平台/文件系统的语义差异很大）。
	_ = syncDirBestEffort(dir)
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
