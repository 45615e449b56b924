// Package similarity 计算两张栅格图片的结构相似度（SSIM）。
package similarity

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/John-Robertt/dcmconv/internal/domain"
	"github.com/John-Robertt/dcmconv/internal/infra/imgx"
)

const (
	// Window 是滑动窗口边长。
	Window = 7

	K1 = 0.01
	K2 = 0.03
	// DataRange 是 8 位亮度的动态范围。
	DataRange = 255.0
)

var (
	c1 = (K1 * DataRange) * (K1 * DataRange)
	c2 = (K2 * DataRange) * (K2 * DataRange)
)

// Compare 读取两张图片并返回 [0,1] 内的相似度；1 表示完全相同。
//
// 任一路径不是已存在的普通文件、扩展名不受支持、无法解码、尺寸不一致或小于窗口，都返回 InvalidImageError。
func Compare(path1, path2 string) (float64, error) {
	a, err := load(path1)
	if err != nil {
		return 0, err
	}
	b, err := load(path2)
	if err != nil {
		return 0, err
	}
	s, err := SSIM(a, b)
	if err != nil {
		return 0, domain.Wrap(domain.KindInvalidImage, path1+" / "+path2, err)
	}
	return s, nil
}

func load(p string) (*mat.Dense, error) {
	st, err := os.Stat(p)
	if err != nil {
		return nil, domain.Wrap(domain.KindInvalidImage, p, err)
	}
	if !st.Mode().IsRegular() {
		return nil, domain.Errorf(domain.KindInvalidImage, p, "不是普通文件")
	}
	if !imgx.IsRasterExt(filepath.Ext(p)) {
		return nil, domain.Errorf(domain.KindInvalidImage, p, "不支持的扩展名 %q", filepath.Ext(p))
	}
	img, err := imgx.DecodeFile(p)
	if err != nil {
		return nil, domain.Wrap(domain.KindInvalidImage, p, err)
	}
	return imgx.Luma(img), nil
}

// SSIM 对两个同尺寸亮度平面计算平均窗口 SSIM。
//
// 约束：
// - 只统计完全落在图内的 Window x Window 窗口
// - 方差/协方差为样本估计（除以 N-1）
// - 对称：SSIM(x,y) 与 SSIM(y,x) 逐位相等；SSIM(x,x) 恰为 1
// - 结果裁剪到 [0,1]
func SSIM(x, y *mat.Dense) (float64, error) {
	xr, xc := x.Dims()
	yr, yc := y.Dims()
	if xr != yr || xc != yc {
		return 0, fmt.Errorf("尺寸不一致：%dx%d vs %dx%d", xc, xr, yc, yr)
	}
	if xr < Window || xc < Window {
		return 0, fmt.Errorf("尺寸 %dx%d 小于窗口 %dx%d", xc, xr, Window, Window)
	}

	const n = Window * Window
	wx := make([]float64, n)
	wy := make([]float64, n)
	scores := make([]float64, 0, (xr-Window+1)*(xc-Window+1))

	for r := 0; r+Window <= xr; r++ {
		for c := 0; c+Window <= xc; c++ {
			fill(wx, x, r, c)
			fill(wy, y, r, c)
			scores = append(scores, windowScore(wx, wy))
		}
	}

	s := stat.Mean(scores, nil)
	switch {
	case s < 0:
		return 0, nil
	case s > 1:
		return 1, nil
	default:
		return s, nil
	}
}

func fill(dst []float64, m *mat.Dense, r0, c0 int) {
	i := 0
	for r := r0; r < r0+Window; r++ {
		for c := c0; c < c0+Window; c++ {
			dst[i] = m.At(r, c)
			i++
		}
	}
}

// windowScore 的每一步都写成交换律下位级相同的形式，保证对称性与自比较恰为 1。
func windowScore(x, y []float64) float64 {
	ux := stat.Mean(x, nil)
	uy := stat.Mean(y, nil)
	// 方差也走 Covariance：x==y 时 vx、vy、vxy 由同一表达式得出。
	vx := stat.Covariance(x, x, nil)
	vy := stat.Covariance(y, y, nil)
	vxy := stat.Covariance(x, y, nil)

	num := (2*(ux*uy) + c1) * (2*vxy + c2)
	den := (ux*ux + uy*uy + c1) * (vx + vy + c2)
	return num / den
}
