package fsx

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// 通过可替换的函数指针，让测试能稳定模拟 rename 失败。
var renameFunc = os.Rename

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

// WriteAtomicNoOverwrite 在 dst 所在目录原子写入 fn 流式产出的内容（临时文件 + rename，编码器直接写临时文件）。
//
// - 目标目录必须已存在：这里不做 MkdirAll，目录缺失直接返回错误（产物只能落在已 stage 的 OUTPUT 下）
// - 目标已存在：返回 os.ErrExist；目标是目录：返回 PathTypeConflictError
func WriteAtomicNoOverwrite(dst string, fn func(w io.Writer) error) error {
	if err := checkTarget(dst, false); err != nil {
		return err
	}
	return writeAtomic(dst, 0o644, fn)
}

// WriteAtomicReplace 写入并覆盖同名文件（目标是目录仍然报冲突）。
func WriteAtomicReplace(dst string, fn func(w io.Writer) error) error {
	if err := checkTarget(dst, true); err != nil {
		return err
	}
	return writeAtomic(dst, 0o644, fn)
}

func checkTarget(dst string, replace bool) error {
	fi, err := os.Lstat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.IsDir() {
		return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
	}
	if !fi.Mode().IsRegular() {
		return &PathTypeConflictError{Path: dst, Want: "regular file", Got: fi.Mode().Type().String()}
	}
	if !replace {
		return os.ErrExist
	}
	return nil
}

func writeAtomic(dst string, perm os.FileMode, fn func(w io.Writer) error) error {
	dir, name := filepath.Split(filepath.Clean(dst))
	if dir == "" {
		dir = "."
	}

	// 临时文件必须与目标同目录，以保证 rename 的原子性；前缀带 '.'，避免被当作产物。
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	bw := bufio.NewWriter(tmp)
	if err := fn(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
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

	// 目录 fsync：best-effort。
	_ = syncDirBestEffort(dir)
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
