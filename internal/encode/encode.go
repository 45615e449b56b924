// Package encode 把归一化后的灰度帧写成栅格产物：静态 JPEG、带坐标轴的 PNG 图、循环 GIF 动画。
//
// 所有写入都是“同目录临时文件 + rename”，目标目录必须已存在；任何失败都归类为 EncodeError。
package encode

import (
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"io"
	"math"

	"gonum.org/v1/plot/vg"

	"github.com/John-Robertt/dcmconv/internal/domain"
	"github.com/John-Robertt/dcmconv/internal/infra/fsx"
)

const (
	// DefaultJPEGQuality 与常见图像库的默认值一致。
	DefaultJPEGQuality = 75
	DefaultColormap    = "gray"
)

// Options 控制编码参数；零值字段回退到默认值。
type Options struct {
	JPEGQuality int

	PlotWidth  vg.Length
	PlotHeight vg.Length
	Colormap   string
}

// DefaultOptions 返回默认编码参数（图尺寸 6.4x4.8 英寸）。
func DefaultOptions() Options {
	return Options{
		JPEGQuality: DefaultJPEGQuality,
		PlotWidth:   6.4 * vg.Inch,
		PlotHeight:  4.8 * vg.Inch,
		Colormap:    DefaultColormap,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.JPEGQuality <= 0 || o.JPEGQuality > 100 {
		o.JPEGQuality = d.JPEGQuality
	}
	if o.PlotWidth <= 0 {
		o.PlotWidth = d.PlotWidth
	}
	if o.PlotHeight <= 0 {
		o.PlotHeight = d.PlotHeight
	}
	if o.Colormap == "" {
		o.Colormap = d.Colormap
	}
	return o
}

// Still 把单帧写为 JPEG。
func Still(frame *image.Gray, dst string, opts Options) error {
	if frame == nil {
		return domain.Errorf(domain.KindEncodeFailed, dst, "帧为空")
	}
	opts = opts.withDefaults()
	err := fsx.WriteAtomicNoOverwrite(dst, func(w io.Writer) error {
		return jpeg.Encode(w, frame, &jpeg.Options{Quality: opts.JPEGQuality})
	})
	return domain.Wrap(domain.KindEncodeFailed, dst, err)
}

// grayPalette 是 256 级灰度调色板：索引即灰度值，避免 GIF 量化带来的偏差。
var grayPalette = func() color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		p[i] = color.Gray{Y: uint8(i)}
	}
	return p
}()

// FrameDelay 把毫秒帧时长换算为 GIF 的 1/100 秒单位（四舍五入）。
func FrameDelay(frameTimeMS float64) (int, error) {
	if math.IsNaN(frameTimeMS) || math.IsInf(frameTimeMS, 0) || frameTimeMS < 0 {
		return 0, fmt.Errorf("帧时长无效：%v ms", frameTimeMS)
	}
	return int(math.Round(frameTimeMS / 10)), nil
}

// Animation 把多帧写为无限循环的 GIF。
//
// 约束：
// - 帧顺序与输入一致
// - 每帧显示时长都等于 frameTimeMS
// - LoopCount=0（无限循环）
func Animation(frames []*image.Gray, frameTimeMS float64, dst string) error {
	if len(frames) == 0 {
		return domain.Errorf(domain.KindEncodeFailed, dst, "没有可编码的帧")
	}
	delay, err := FrameDelay(frameTimeMS)
	if err != nil {
		return domain.Wrap(domain.KindEncodeFailed, dst, err)
	}

	anim := &gif.GIF{
		Image:     make([]*image.Paletted, 0, len(frames)),
		Delay:     make([]int, 0, len(frames)),
		LoopCount: 0,
	}
	for _, f := range frames {
		anim.Image = append(anim.Image, toPaletted(f))
		anim.Delay = append(anim.Delay, delay)
	}

	err = fsx.WriteAtomicNoOverwrite(dst, func(w io.Writer) error {
		return gif.EncodeAll(w, anim)
	})
	return domain.Wrap(domain.KindEncodeFailed, dst, err)
}

func toPaletted(g *image.Gray) *image.Paletted {
	b := g.Bounds()
	p := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), grayPalette)
	for y := 0; y < b.Dy(); y++ {
		src := g.Pix[y*g.Stride : y*g.Stride+b.Dx()]
		copy(p.Pix[y*p.Stride:y*p.Stride+b.Dx()], src)
	}
	return p
}
