// Package batch 按目录先序遍历源目录树，把每个源文件交给转换流程，并管理每个目录的 OUTPUT 生命周期。
package batch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/dcmconv/internal/domain"
	"github.com/John-Robertt/dcmconv/internal/pipeline"
	"github.com/John-Robertt/dcmconv/internal/scan"
)

// Walker 持有一次运行的全部依赖；零值 Observer 表示不关心事件。
type Walker struct {
	Converter pipeline.Converter
	Observer  Observer
}

// Walk 处理 root 及其全部子目录，并返回对外稳定的 BatchReport。
//
// 规则：
// - root 必须是已存在的目录，否则返回 InvalidPathError（不产生任何写入）
// - 严格串行：一个目录的文件全部处理并收尾之后，才进入它的子目录
// - 单个文件/目录失败只记录在 report 中，不中断遍历
// - ctx 取消后不再开始新文件；当前目录照常收尾，然后返回 ctx.Err()
func (w Walker) Walk(ctx context.Context, root string) (domain.BatchReport, error) {
	obs := w.Observer
	if obs == nil {
		obs = nopObserver{}
	}

	rep := domain.BatchReport{
		RunID:     uuid.NewString(),
		Root:      root,
		Anonymous: w.Converter.Anonymize,
		StartedAt: time.Now(),
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return rep, domain.Wrap(domain.KindInvalidPath, root, err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return rep, domain.Wrap(domain.KindInvalidPath, root, err)
	}
	if !st.IsDir() {
		return rep, domain.Errorf(domain.KindInvalidPath, root, "不是目录")
	}
	rep.Root = abs

	obs.OnStart(abs, w.Converter.Anonymize)

	// 显式栈代替递归：先序，子目录按名字顺序出栈。
	stack := []string{abs}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			break
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		res, subdirs := w.walkDir(ctx, obs, dir)
		rep.Dirs = append(rep.Dirs, res)
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}

	rep.FinishedAt = time.Now()
	rep.Finalize()
	return rep, ctx.Err()
}

// walkDir 处理单个目录并返回它的结果与（快照中的）子目录。
func (w Walker) walkDir(ctx context.Context, obs Observer, dir string) (domain.DirResult, []string) {
	started := time.Now()
	res := domain.DirResult{Dir: dir, Files: []domain.FileResult{}}
	done := func() domain.DirResult {
		obs.OnDirDone(res, time.Since(started))
		return res
	}

	// 快照必须先于 Stage：新建的 OUTPUT 不能出现在本次遍历里。
	l, err := scan.ReadDir(dir)
	if err != nil {
		res.Outcome = domain.DirFailed
		setDirErr(&res, domain.Wrap(domain.KindInvalidPath, dir, err))
		return done(), nil
	}
	obs.OnDirStart(dir, len(l.Sources))

	stg, err := Stage(dir)
	if err != nil {
		// 冲突只跳过本目录的文件；子目录照常遍历。
		res.Staging = filepath.Join(dir, domain.StagingDirName)
		res.Outcome = domain.DirFailed
		if domain.KindOf(err) == domain.KindStagingConflict {
			res.Outcome = domain.DirConflict
		}
		setDirErr(&res, err)
		return done(), l.Subdirs
	}
	res.Staging = stg.Dir

	for i, src := range l.Sources {
		if ctx.Err() != nil {
			break
		}
		fileStarted := time.Now()
		r := w.Converter.Convert(domain.NewArtifactPaths(stg.Dir, src))
		stg.Record(r.Produced())

		fr := fileResult(r)
		res.Files = append(res.Files, fr)
		obs.OnFileDone(i+1, len(l.Sources), fr, time.Since(fileStarted))
	}

	state, err := stg.Finalize()
	switch {
	case err != nil:
		res.Outcome = domain.DirFailed
		setDirErr(&res, domain.Wrap(domain.KindEncodeFailed, stg.Dir, err))
	case state == StagingCommitted:
		res.Outcome = domain.DirCommitted
	default:
		res.Outcome = domain.DirRolledBack
	}
	return done(), l.Subdirs
}

func fileResult(r pipeline.Result) domain.FileResult {
	fr := domain.FileResult{
		Source:    r.Source,
		Frames:    r.Frames,
		Artifacts: r.Written,
	}
	if fr.Artifacts == nil {
		fr.Artifacts = []string{}
	}
	switch {
	case r.Err == nil:
		fr.Status = domain.FileStatusOK
	case r.Produced() > 0:
		fr.Status = domain.FileStatusPartial
	default:
		fr.Status = domain.FileStatusFailed
	}
	if r.Err != nil {
		fr.ErrorCode = string(domain.KindOf(r.Err))
		fr.ErrorMsg = r.Err.Error()
	}
	return fr
}

func setDirErr(res *domain.DirResult, err error) {
	res.ErrorCode = string(domain.KindOf(err))
	res.ErrorMsg = err.Error()
}
