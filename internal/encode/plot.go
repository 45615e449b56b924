package encode

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"sort"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"

	"github.com/John-Robertt/dcmconv/internal/domain"
	"github.com/John-Robertt/dcmconv/internal/infra/fsx"
)

// colormapStops 定义可选配色的关键点（线性 RGB 插值）。
var colormapStops = map[string][]colorful.Color{
	"gray": {
		{R: 0, G: 0, B: 0},
		{R: 1, G: 1, B: 1},
	},
	"bone": {
		{R: 0, G: 0, B: 0},
		{R: 0.319, G: 0.319, B: 0.444},
		{R: 0.652, G: 0.777, B: 0.777},
		{R: 1, G: 1, B: 1},
	},
	"hot": {
		{R: 0, G: 0, B: 0},
		{R: 1, G: 0, B: 0},
		{R: 1, G: 1, B: 0},
		{R: 1, G: 1, B: 1},
	},
}

// Colormaps 返回支持的配色名（已排序）。
func Colormaps() []string {
	out := make([]string, 0, len(colormapStops))
	for k := range colormapStops {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Colormap 是 256 项查找表：灰度值 -> 显示颜色。
type Colormap [256]color.RGBA

// NewColormap 按名称构造查找表。
func NewColormap(name string) (*Colormap, error) {
	stops, ok := colormapStops[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("未知配色 %q（可选：%s）", name, strings.Join(Colormaps(), ", "))
	}

	var cm Colormap
	segs := len(stops) - 1
	for i := range cm {
		t := float64(i) / 255 * float64(segs)
		k := int(t)
		if k >= segs {
			k = segs - 1
		}
		c := stops[k].BlendRgb(stops[k+1], t-float64(k)).Clamped()
		r, g, b := c.RGB255()
		cm[i] = color.RGBA{R: r, G: g, B: b, A: 0xff}
	}
	return &cm, nil
}

// Apply 把灰度帧映射为彩色图像。
func (cm *Colormap) Apply(g *image.Gray) *image.RGBA {
	b := g.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.SetRGBA(x, y, cm[g.GrayAt(b.Min.X+x, b.Min.Y+y).Y])
		}
	}
	return out
}

// Plot 把单帧画成带坐标轴的图（x=列，y=行），写为 PNG。
// 与 Still 同源（同一份归一化像素），但产物是“图”而不是原始栅格。
func Plot(frame *image.Gray, title, dst string, opts Options) error {
	if frame == nil {
		return domain.Errorf(domain.KindEncodeFailed, dst, "帧为空")
	}
	opts = opts.withDefaults()

	cm, err := NewColormap(opts.Colormap)
	if err != nil {
		return domain.Wrap(domain.KindEncodeFailed, dst, err)
	}

	b := frame.Bounds()
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"
	p.Add(plotter.NewImage(cm.Apply(frame), 0, 0, float64(b.Dx()), float64(b.Dy())))

	wt, err := p.WriterTo(opts.PlotWidth, opts.PlotHeight, "png")
	if err != nil {
		return domain.Wrap(domain.KindEncodeFailed, dst, err)
	}
	err = fsx.WriteAtomicNoOverwrite(dst, func(w io.Writer) error {
		_, err := wt.WriteTo(w)
		return err
	})
	return domain.Wrap(domain.KindEncodeFailed, dst, err)
}
