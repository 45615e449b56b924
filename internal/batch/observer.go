package batch

import (
	"time"

	"github.com/John-Robertt/dcmconv/internal/domain"
)

// Observer 把“遍历进度/目录与文件结果”从核心流程中解耦出来。
//
// 约束：
// - batch 包只发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - 事件在调用 Walk 的 goroutine 上同步发出，顺序与处理顺序一致。
type Observer interface {
	// OnStart 在 Walk 校验 root 之后、处理第一个目录之前调用。
	OnStart(root string, anonymous bool)
	// OnDirStart 在目录快照完成、创建 OUTPUT 之前调用；sources 是该目录待处理的源文件数。
	OnDirStart(dir string, sources int)
	// OnFileDone 在单个源文件处理完成时调用（成功或失败都会调用）。
	OnFileDone(idx, total int, res domain.FileResult, dur time.Duration)
	// OnDirDone 在目录的 staging 收尾后调用。
	OnDirDone(res domain.DirResult, dur time.Duration)
}

// nopObserver 让 Walk 内部不必到处判空。
type nopObserver struct{}

func (nopObserver) OnStart(string, bool)                                  {}
func (nopObserver) OnDirStart(string, int)                                {}
func (nopObserver) OnFileDone(int, int, domain.FileResult, time.Duration) {}
func (nopObserver) OnDirDone(domain.DirResult, time.Duration)             {}
