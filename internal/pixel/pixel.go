// Package pixel 把任意范围的像素数组映射为 8 位灰度，供栅格编码使用。
package pixel

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/John-Robertt/dcmconv/internal/domain"
)

// Volume 是按帧堆叠的像素数组（帧维在前）。单帧文件只有一帧。
//
// 不变量：每一帧都是 Rows x Cols。
type Volume struct {
	Rows   int
	Cols   int
	Frames []*mat.Dense
}

// NewVolume 校验帧尺寸一致后构造 Volume。
func NewVolume(frames ...*mat.Dense) (Volume, error) {
	if len(frames) == 0 {
		return Volume{}, fmt.Errorf("没有像素帧")
	}
	r, c := frames[0].Dims()
	for i, f := range frames[1:] {
		fr, fc := f.Dims()
		if fr != r || fc != c {
			return Volume{}, fmt.Errorf("第 %d 帧尺寸 %dx%d 与首帧 %dx%d 不一致", i+1, fr, fc, r, c)
		}
	}
	return Volume{Rows: r, Cols: c, Frames: frames}, nil
}

// FromInts 由行优先的整数像素构造一帧（DICOM native 像素即为有符号整数）。
func FromInts(rows, cols int, px []int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = float64(px[i])
	}
	return mat.NewDense(rows, cols, data)
}

// Normalize 把 v 映射为 uint8 灰度帧：
//
//	out = uint8(trunc(max(x, 0) / max * 255))
//
// max 取整个 Volume（所有帧）裁剪后的最大值，保证多帧动画亮度一致。
// max 为 0（空白图像）时返回 EmptyImageError，而不是输出 NaN/全零。
// 纯函数：不修改 v。
func Normalize(v Volume) ([]*image.Gray, error) {
	if len(v.Frames) == 0 {
		return nil, &domain.Error{Kind: domain.KindEmptyImage, Err: fmt.Errorf("没有像素帧")}
	}

	clipped := make([]*mat.Dense, len(v.Frames))
	peak := 0.0
	for i, f := range v.Frames {
		var c mat.Dense
		c.Apply(func(_, _ int, x float64) float64 {
			if x < 0 {
				return 0
			}
			return x
		}, f)
		m := mat.Max(&c)
		if math.IsNaN(m) {
			return nil, &domain.Error{Kind: domain.KindEmptyImage, Err: fmt.Errorf("第 %d 帧含 NaN", i)}
		}
		if m > peak {
			peak = m
		}
		clipped[i] = &c
	}
	if peak == 0 {
		return nil, &domain.Error{Kind: domain.KindEmptyImage}
	}

	out := make([]*image.Gray, len(clipped))
	for i, c := range clipped {
		r, cols := c.Dims()
		g := image.NewGray(image.Rect(0, 0, cols, r))
		for y := 0; y < r; y++ {
			row := g.Pix[y*g.Stride : y*g.Stride+cols]
			for x := range row {
				// 先除后乘，与“按最大值缩放到 0..255”的定义保持同一舍入路径。
				row[x] = uint8(c.At(y, x) / peak * 255)
			}
		}
		out[i] = g
	}
	return out, nil
}
