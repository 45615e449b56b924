package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/dcmconv/internal/batch"
	"github.com/John-Robertt/dcmconv/internal/domain"
)

var _ batch.Observer = (*progressLog)(nil)

// progressLog 把遍历事件写成结构化日志（stderr），不污染 stdout 的 JSON 输出契约。
//
// 级别约定：
// - 目录开始/结束、文件成功：INFO（空目录的回滚降为 DEBUG，避免深目录树刷屏）
// - 部分成功：WARNING；失败与冲突：ERROR
type progressLog struct {
	log zerolog.Logger

	startedAt time.Time
	dirs      int
	files     int
	failed    int
}

func newProgressLog(log zerolog.Logger) *progressLog {
	return &progressLog{log: log}
}

func (p *progressLog) OnStart(root string, anonymous bool) {
	p.startedAt = time.Now()
	p.log.Info().
		Str("root", root).
		Bool("anonymous", anonymous).
		Msg("开始处理")
}

func (p *progressLog) OnDirStart(dir string, sources int) {
	p.dirs++
	ev := p.log.Info()
	if sources == 0 {
		ev = p.log.Debug()
	}
	ev.Str("dir", dir).Int("sources", sources).Msg("进入目录")
}

func (p *progressLog) OnFileDone(idx, total int, res domain.FileResult, dur time.Duration) {
	p.files++

	var ev *zerolog.Event
	switch res.Status {
	case domain.FileStatusOK:
		ev = p.log.Info()
	case domain.FileStatusPartial:
		ev = p.log.Warn()
		p.failed++
	default:
		ev = p.log.Error()
		p.failed++
	}
	ev = ev.Str("file", filepath.Base(res.Source)).
		Str("frames", res.Frames).
		Int("artifacts", len(res.Artifacts)).
		Str("took", formatShortDuration(dur))
	if res.ErrorCode != "" {
		ev = ev.Str("error_code", res.ErrorCode).Str("error", truncate(res.ErrorMsg, 200))
	}
	ev.Msgf("[%d/%d] %s", idx, total, strings.ToUpper(res.Status))
}

func (p *progressLog) OnDirDone(res domain.DirResult, dur time.Duration) {
	var ev *zerolog.Event
	switch res.Outcome {
	case domain.DirCommitted:
		ev = p.log.Info().Str("output", res.Staging)
	case domain.DirRolledBack:
		ev = p.log.Debug()
	default:
		ev = p.log.Error().Str("error_code", res.ErrorCode).Str("error", truncate(res.ErrorMsg, 200))
	}
	ev.Str("dir", res.Dir).
		Int("files", len(res.Files)).
		Str("took", formatShortDuration(dur)).
		Str("elapsed", formatElapsed(time.Since(p.startedAt))).
		Int("dirs_seen", p.dirs).
		Int("files_done", p.files).
		Int("files_failed", p.failed).
		Msg("目录" + outcomeLabel(res.Outcome))
}

func outcomeLabel(outcome string) string {
	switch outcome {
	case domain.DirCommitted:
		return "完成"
	case domain.DirRolledBack:
		return "无产物，已清理 OUTPUT"
	case domain.DirConflict:
		return "跳过（OUTPUT 已存在）"
	default:
		return "失败"
	}
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
