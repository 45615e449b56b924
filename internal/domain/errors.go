package domain

import (
	"errors"
	"fmt"
)

// Kind 是核心流程对外暴露的错误分类（同时作为 report 中的 error_code）。
type Kind string

const (
	KindInvalidPath     Kind = "invalid_path"
	KindLoadFailed      Kind = "load_failed"
	KindEmptyImage      Kind = "empty_image"
	KindMissingTiming   Kind = "missing_timing"
	KindEncodeFailed    Kind = "encode_failed"
	KindStagingConflict Kind = "staging_conflict"
	KindInvalidImage    Kind = "invalid_image"
)

// Error 是带分类的结构化错误。
//
// 约束：
// - 所有错误都上抛给直接调用方，不吞掉
// - 上层用 errors.Is(err, ErrXxx) 判断分类，用 KindOf 取 error_code
type Error struct {
	Kind Kind
	Path string
	Err  error
}

// 仅携带 Kind 的哨兵值，配合 errors.Is 使用。
var (
	ErrInvalidPath     = &Error{Kind: KindInvalidPath}
	ErrLoadFailed      = &Error{Kind: KindLoadFailed}
	ErrEmptyImage      = &Error{Kind: KindEmptyImage}
	ErrMissingTiming   = &Error{Kind: KindMissingTiming}
	ErrEncodeFailed    = &Error{Kind: KindEncodeFailed}
	ErrStagingConflict = &Error{Kind: KindStagingConflict}
	ErrInvalidImage    = &Error{Kind: KindInvalidImage}
)

func (e *Error) Error() string {
	var what string
	switch e.Kind {
	case KindInvalidPath:
		what = "路径无效"
	case KindLoadFailed:
		what = "读取源文件失败"
	case KindEmptyImage:
		what = "图像为空（最大像素值为 0，无法归一化）"
	case KindMissingTiming:
		what = "多帧文件缺少帧时长 (0018,1063)"
	case KindEncodeFailed:
		what = "写入产物失败"
	case KindStagingConflict:
		what = "输出目录已存在（不支持重复运行覆盖）"
	case KindInvalidImage:
		what = "不是有效的图片文件"
	default:
		what = string(e.Kind)
	}

	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s：%s %q：%v", e.Kind, what, e.Path, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s：%s %q", e.Kind, what, e.Path)
	case e.Err != nil:
		return fmt.Sprintf("%s：%s：%v", e.Kind, what, e.Err)
	default:
		return fmt.Sprintf("%s：%s", e.Kind, what)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is 只比较 Kind，让 errors.Is(err, ErrEmptyImage) 对任意 Path/Err 都成立。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Errorf 构造带分类的错误；Path 可为空。
func Errorf(kind Kind, path string, format string, args ...any) error {
	return &Error{Kind: kind, Path: path, Err: fmt.Errorf(format, args...)}
}

// Wrap 把底层错误归入某个分类；err 为 nil 时返回 nil。
func Wrap(kind Kind, path string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) && de.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Path: path, Err: err}
}

// WithPath 给缺少路径的 *Error 补上 path（返回副本，不修改原错误）；其他错误原样返回。
// 纯计算步骤（如归一化）不知道源文件，由调用方补充。
func WithPath(err error, path string) error {
	e, ok := err.(*Error)
	if !ok || e.Path != "" {
		return err
	}
	c := *e
	c.Path = path
	return &c
}

// KindOf 从 error 中提取分类；若不是 *Error 则返回空串。
// 对 errors.Join 的结果返回第一个可识别的分类。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
