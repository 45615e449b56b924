// Package imgx 负责栅格图片的读写与灰度化（相似度比较、采集帧、压缩像素帧共用）。
package imgx

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"
)

// rasterExts 是可读写的栅格扩展名（小写，含点）。
var rasterExts = map[string]string{
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".png":  "png",
	".bmp":  "bmp",
	".tif":  "tiff",
	".tiff": "tiff",
}

// IsRasterExt 判断扩展名（大小写不敏感）是否是支持的栅格格式。
func IsRasterExt(ext string) bool {
	_, ok := rasterExts[strings.ToLower(ext)]
	return ok
}

// Decode 解码一张图片。bmp/tiff 的解码器由 x/image 在 init 中注册。
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", err
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", errors.New("图片尺寸无效")
	}
	return img, format, nil
}

// DecodeFile 打开并解码 path；扩展名必须是支持的栅格格式。
func DecodeFile(path string) (image.Image, error) {
	if !IsRasterExt(filepath.Ext(path)) {
		return nil, fmt.Errorf("不支持的图片扩展名：%q", filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := Decode(f)
	return img, err
}

// Encode 按扩展名选择编码器。
func Encode(w io.Writer, img image.Image, ext string) error {
	switch rasterExts[strings.ToLower(ext)] {
	case "png":
		return png.Encode(w, img)
	case "jpeg":
		// 采集帧作为存档，质量取高一些。
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	case "bmp":
		return bmp.Encode(w, img)
	case "tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("不支持的图片扩展名：%q", ext)
	}
}

// Luma 把任意图片转为 Rec.601 亮度平面（0..255，浮点，不取整）。
//
//	Y = 0.299 R + 0.587 G + 0.114 B
//
// 灰度图直接取原值，保证 8 位灰度输入与输出逐像素相等。
func Luma(img image.Image) *mat.Dense {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]float64, w*h)

	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < h; y++ {
			row := g.Pix[(y+b.Min.Y-g.Rect.Min.Y)*g.Stride+(b.Min.X-g.Rect.Min.X):]
			for x := 0; x < w; x++ {
				data[y*w+x] = float64(row[x])
			}
		}
		return mat.NewDense(h, w, data)
	}

	rgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*rgba.Stride + x*4
			r, g, bl := float64(rgba.Pix[i]), float64(rgba.Pix[i+1]), float64(rgba.Pix[i+2])
			data[y*w+x] = 0.299*r + 0.587*g + 0.114*bl
		}
	}
	return mat.NewDense(h, w, data)
}
