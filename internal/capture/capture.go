// Package capture 从采集设备抓取单帧并保存为图片。
package capture

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/John-Robertt/dcmconv/internal/domain"
	"github.com/John-Robertt/dcmconv/internal/infra/fsx"
	"github.com/John-Robertt/dcmconv/internal/infra/imgx"
)

// DefaultFrameName 是输出路径为目录或为空时使用的文件名。
const DefaultFrameName = "frame_default.png"

// Grabber 抓取一帧。
type Grabber interface {
	Grab() (image.Image, error)
}

// ReaderGrabber 从字节流中解码一张已编码的图片（PNG/JPEG/BMP/TIFF）。
type ReaderGrabber struct {
	R io.Reader
}

func (g ReaderGrabber) Grab() (image.Image, error) {
	img, _, err := imgx.Decode(bufio.NewReader(g.R))
	if err != nil {
		return nil, fmt.Errorf("解码帧失败：%w", err)
	}
	return img, nil
}

// FDGrabber 从继承的文件描述符读取一帧（采集卡通常把帧写到 stdin）。
type FDGrabber struct {
	FD int
}

func (g FDGrabber) Grab() (image.Image, error) {
	if g.FD < 0 {
		return nil, fmt.Errorf("文件描述符无效：%d", g.FD)
	}
	f := os.NewFile(uintptr(g.FD), fmt.Sprintf("fd%d", g.FD))
	if f == nil {
		return nil, fmt.Errorf("文件描述符无效：%d", g.FD)
	}
	defer f.Close()
	return ReaderGrabber{R: f}.Grab()
}

// ResolveOutput 计算最终保存路径：
// - 空串：当前目录下的 frame_default.png
// - 已存在的目录：<dir>/frame_default.png
// - 没有扩展名：追加 .png
// - 其他：原样使用
func ResolveOutput(out string) (string, error) {
	if out == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, DefaultFrameName), nil
	}
	if st, err := os.Stat(out); err == nil && st.IsDir() {
		return filepath.Join(out, DefaultFrameName), nil
	}
	if filepath.Ext(out) == "" {
		return out + ".png", nil
	}
	return out, nil
}

// Acquire 抓取一帧并写到 out（解析规则见 ResolveOutput），返回实际写入的路径。
// 目标已存在时覆盖（与采集设备“最新一帧”的语义一致）。
func Acquire(g Grabber, out string) (string, error) {
	dst, err := ResolveOutput(out)
	if err != nil {
		return "", domain.Wrap(domain.KindInvalidPath, out, err)
	}
	ext := filepath.Ext(dst)
	if !imgx.IsRasterExt(ext) {
		return "", domain.Errorf(domain.KindInvalidPath, dst, "不支持的图片扩展名 %q", ext)
	}

	img, err := g.Grab()
	if err != nil {
		return "", domain.Wrap(domain.KindLoadFailed, dst, err)
	}

	err = fsx.WriteAtomicReplace(dst, func(w io.Writer) error {
		return imgx.Encode(w, img, ext)
	})
	if err != nil {
		return "", domain.Wrap(domain.KindEncodeFailed, dst, err)
	}
	return dst, nil
}
