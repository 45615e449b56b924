package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/John-Robertt/dcmconv/internal/domain"
)

// StagingState 是 OUTPUT 目录的生命周期状态。
type StagingState int

const (
	StagingStaged StagingState = iota
	StagingCommitted
	StagingRolledBack
)

func (s StagingState) String() string {
	switch s {
	case StagingStaged:
		return "staged"
	case StagingCommitted:
		return "committed"
	case StagingRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("StagingState(%d)", int(s))
	}
}

// Staging 是某个源目录下的 OUTPUT 目录：staged → committed | rolled_back。
//
// 不变量：
// - 只由本次运行创建（已存在即冲突，绝不复用）
// - 计数只统计本目录的产物，与父/子目录无关
// - Finalize 只在该目录全部文件处理完之后调用
type Staging struct {
	Dir string

	state StagingState
	count int
}

// Stage 以非递归 mkdir 创建 <dir>/OUTPUT。
// 已存在（无论是文件还是目录）时返回 StagingConflictError，且不做任何修改。
func Stage(dir string) (*Staging, error) {
	p := filepath.Join(dir, domain.StagingDirName)
	if err := os.Mkdir(p, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, &domain.Error{Kind: domain.KindStagingConflict, Path: p}
		}
		return nil, domain.Wrap(domain.KindEncodeFailed, p, err)
	}
	return &Staging{Dir: p, state: StagingStaged}, nil
}

// Record 累加已成功写入的产物数。
func (s *Staging) Record(n int) {
	if n > 0 {
		s.count += n
	}
}

func (s *Staging) Count() int          { return s.count }
func (s *Staging) State() StagingState { return s.state }

// Finalize 收尾：计数 > 0 则保留（committed），否则删除空目录（rolled_back）。
//
// 删除用 os.Remove 而不是 RemoveAll：计数为 0 时目录理应为空，
// 若不为空说明有外部写入，宁可失败也不误删。
func (s *Staging) Finalize() (StagingState, error) {
	if s.state != StagingStaged {
		return s.state, fmt.Errorf("staging %q 已收尾（%s）", s.Dir, s.state)
	}
	if s.count > 0 {
		s.state = StagingCommitted
		return s.state, nil
	}
	if err := os.Remove(s.Dir); err != nil {
		return s.state, fmt.Errorf("删除空的输出目录失败：%w", err)
	}
	s.state = StagingRolledBack
	return s.state, nil
}
