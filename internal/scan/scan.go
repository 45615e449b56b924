// Package scan 列出单个目录中的源文件与可继续遍历的子目录。
package scan

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/dcmconv/internal/domain"
)

// Listing 是某个目录在某一时刻的快照。
//
// 快照必须在创建 OUTPUT 之前获取：之后目录内容的变化（包括我们自己写入的产物）不影响本次遍历。
type Listing struct {
	Dir     string
	Sources []string // 绝对路径，按文件名排序
	Subdirs []string // 绝对路径，按目录名排序；已排除 OUTPUT
}

// ReadDir 只读一层，不递归。
//
// 规则（硬约束）：
// - 源文件：扩展名为 .dcm（大小写不敏感）的普通文件
// - 名为 OUTPUT 的子目录永不进入（它们是产物，不是输入）
// - 符号链接不跟随，避免环
func ReadDir(dir string) (Listing, error) {
	dir = filepath.Clean(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Listing{}, err
	}

	l := Listing{Dir: dir}
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
			if isStagingName(name) {
				continue
			}
			l.Subdirs = append(l.Subdirs, filepath.Join(dir, name))
		case e.Type().IsRegular():
			if !IsSourceExt(filepath.Ext(name)) {
				continue
			}
			l.Sources = append(l.Sources, filepath.Join(dir, name))
		}
	}

	// os.ReadDir 已按名排序；这里再排一次，把顺序作为契约而不是实现细节。
	sort.Strings(l.Sources)
	sort.Strings(l.Subdirs)
	return l, nil
}

// IsSourceExt 判断扩展名（含点）是否是 DICOM 源文件。
func IsSourceExt(ext string) bool {
	return strings.EqualFold(ext, ".dcm")
}

func isStagingName(name string) bool {
	return name == domain.StagingDirName
}
