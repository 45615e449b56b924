// Package pipeline 是单个源文件的转换流程：加载 → （可选）匿名化 → 单/多帧分支 → 文本 dump。
package pipeline

import (
	"errors"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/dcmconv/internal/anon"
	"github.com/John-Robertt/dcmconv/internal/domain"
	"github.com/John-Robertt/dcmconv/internal/encode"
	"github.com/John-Robertt/dcmconv/internal/infra/fsx"
	"github.com/John-Robertt/dcmconv/internal/pixel"
	"github.com/John-Robertt/dcmconv/internal/record"
)

// Record 是流程对已加载文件的全部依赖。
type Record interface {
	anon.Identity

	IsMultiFrame() bool
	FrameTime() (float64, error)
	Volume() (pixel.Volume, error)
	Dump(w io.Writer) error
}

// Loader 把路径加载为 Record；失败必须返回 LoadError。
type Loader func(path string) (Record, error)

// LoadRecord 是基于 DICOM 解析的默认 Loader。
func LoadRecord(path string) (Record, error) {
	r, err := record.Load(path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Converter 持有一次批处理内不变的参数；它本身无状态，可复用于多个文件。
type Converter struct {
	Load      Loader
	Anonymize bool
	Encode    encode.Options
}

// Result 是单个文件的处理结果。
type Result struct {
	Source string
	Frames string // domain.FrameSingle / domain.FrameMulti；加载失败时为空
	// Written 按写入顺序记录成功的产物路径。
	Written []string
	// Err 汇总所有失败步骤（errors.Join）；全部成功时为 nil。
	Err error
}

// Produced 是成功写入的产物数量（供 staging 计数）。
func (r Result) Produced() int { return len(r.Written) }

// Convert 处理一个源文件。
//
// 顺序（固定）：
// 1) 加载；失败只影响本文件，直接返回 LoadError
// 2) 若开启匿名化：改写身份字段并写出 ANONYMUS_ 副本
// 3) 有 NumberOfFrames => 多帧 => GIF；否则单帧 => JPEG + PNG 图
// 4) 无论前面成功与否，都写文本 dump
//
// 各步骤互不短路：某一步失败不阻止后续步骤，错误最终合并返回。
func (c Converter) Convert(paths domain.ArtifactPaths) Result {
	res := Result{Source: paths.Source}

	load := c.Load
	if load == nil {
		load = LoadRecord
	}
	rec, err := load(paths.Source)
	if err != nil {
		res.Err = domain.Wrap(domain.KindLoadFailed, paths.Source, err)
		return res
	}

	var errs []error
	step := func(dst string, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		res.Written = append(res.Written, dst)
	}

	if c.Anonymize {
		step(paths.Anonymized, anon.Anonymize(rec, paths.Anonymized))
	}

	if rec.IsMultiFrame() {
		res.Frames = domain.FrameMulti
		step(paths.Animation, c.animation(rec, paths))
	} else {
		res.Frames = domain.FrameSingle
		frames, err := normalize(rec, paths.Source)
		if err != nil {
			errs = append(errs, err)
		} else {
			step(paths.Still, encode.Still(frames[0], paths.Still, c.Encode))
			step(paths.Plot, encode.Plot(frames[0], baseName(paths.Source), paths.Plot, c.Encode))
		}
	}

	step(paths.Info, writeInfo(rec, paths.Info))

	res.Err = errors.Join(errs...)
	return res
}

func (c Converter) animation(rec Record, paths domain.ArtifactPaths) error {
	ms, err := rec.FrameTime()
	if err != nil {
		return domain.Wrap(domain.KindMissingTiming, paths.Source, err)
	}
	frames, err := normalize(rec, paths.Source)
	if err != nil {
		return err
	}
	return encode.Animation(frames, ms, paths.Animation)
}

func normalize(rec Record, src string) ([]*image.Gray, error) {
	v, err := rec.Volume()
	if err != nil {
		return nil, domain.WithPath(err, src)
	}
	frames, err := pixel.Normalize(v)
	if err != nil {
		return nil, domain.WithPath(err, src)
	}
	return frames, nil
}

func writeInfo(rec Record, dst string) error {
	err := fsx.WriteAtomicNoOverwrite(dst, rec.Dump)
	return domain.Wrap(domain.KindEncodeFailed, dst, err)
}

func baseName(p string) string {
	b := filepath.Base(p)
	return strings.TrimSuffix(b, filepath.Ext(b))
}
