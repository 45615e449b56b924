package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// 目录的最终状态（staging 生命周期的终态 + 无法开始的情况）。
const (
	DirCommitted  = "committed"   // OUTPUT 有产物，保留
	DirRolledBack = "rolled_back" // OUTPUT 无产物，已删除
	DirConflict   = "conflict"    // OUTPUT 已存在，本目录未处理
	DirFailed     = "failed"      // 读取目录或删除 OUTPUT 失败
)

const (
	FileStatusOK      = "ok"      // 全部产物写入成功
	FileStatusPartial = "partial" // 至少一个产物成功，但有步骤失败
	FileStatusFailed  = "failed"  // 没有任何产物
)

const (
	FrameSingle = "single_frame"
	FrameMulti  = "multi_frame"
)

// BatchReport 是一次 process 运行对外稳定输出（stdout JSON）的结构。
type BatchReport struct {
	RunID     string `json:"run_id"`
	Root      string `json:"root"`
	Anonymous bool   `json:"anonymous"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary BatchSummary `json:"summary"`
	Dirs    []DirResult  `json:"dirs"`
}

type BatchSummary struct {
	Dirs       int `json:"dirs"`
	Committed  int `json:"committed"`
	RolledBack int `json:"rolled_back"`
	Conflicts  int `json:"conflicts"`
	DirFailed  int `json:"dir_failed"`

	Files     int `json:"files"`
	FilesOK   int `json:"files_ok"`
	Partial   int `json:"files_partial"`
	Failed    int `json:"files_failed"`
	Artifacts int `json:"artifacts"`
}

type DirResult struct {
	Dir     string `json:"dir"`
	Staging string `json:"staging"`
	Outcome string `json:"outcome"`

	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Files []FileResult `json:"files"`
}

type FileResult struct {
	Source    string `json:"source"`
	Frames    string `json:"frames"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Artifacts []string `json:"artifacts"`
}

// Failed 表示该目录或其中任一文件不是完整成功。
func (d DirResult) Failed() bool {
	if d.Outcome == DirConflict || d.Outcome == DirFailed {
		return true
	}
	for _, f := range d.Files {
		if f.Status != FileStatusOK {
			return true
		}
	}
	return false
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) dirs 按路径稳定排序（遍历本身是先序，这里只为输出可比较）
// 3) summary 由 dirs 计算得出
func (r *BatchReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	if r.Dirs == nil {
		r.Dirs = []DirResult{}
	}
	sort.SliceStable(r.Dirs, func(i, j int) bool { return r.Dirs[i].Dir < r.Dirs[j].Dir })

	var s BatchSummary
	for _, d := range r.Dirs {
		s.Dirs++
		switch d.Outcome {
		case DirCommitted:
			s.Committed++
		case DirRolledBack:
			s.RolledBack++
		case DirConflict:
			s.Conflicts++
		case DirFailed:
			s.DirFailed++
		}
		for _, f := range d.Files {
			s.Files++
			s.Artifacts += len(f.Artifacts)
			switch f.Status {
			case FileStatusOK:
				s.FilesOK++
			case FileStatusPartial:
				s.Partial++
			case FileStatusFailed:
				s.Failed++
			}
		}
	}
	r.Summary = s
}

// HasFailures 用于决定 CLI 退出码。
func (r BatchReport) HasFailures() bool {
	for _, d := range r.Dirs {
		if d.Failed() {
			return true
		}
	}
	return false
}

// MarshalJSON 仅用于集中约束输出的稳定性。
func (r BatchReport) MarshalJSON() ([]byte, error) {
	type Alias BatchReport
	return json.Marshal(Alias(r))
}
