// Package dicomtest 生成带原生（native）像素数据的合成 DICOM，供各包测试使用。
//
// 写出走与生产代码相同的 suyashkumar/dicom 编码路径，元素总是按 tag 升序排列。
package dicomtest

import (
	"fmt"
	"os"
	"slices"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"github.com/suyashkumar/dicom/pkg/uid"
)

// Image 描述一个单通道合成文件。
//
// Frames 每帧按行优先存 Rows*Cols 个样本；负值按补码写出（与真实有符号像素的存储一致）。
type Image struct {
	Rows   int
	Cols   int
	Frames [][]int

	BitsAllocated int // 默认 16
	BitsStored    int // 默认等于 BitsAllocated
	Signed        bool

	// MultiFrame 为 true 时写 NumberOfFrames；FrameTime 非空时写 (0018,1063)。
	MultiFrame bool
	FrameTime  string

	// 身份字段为空串时不写该元素（模拟源文件缺失）。
	PatientName      string
	PatientID        string
	PatientBirthDate string
	PatientSex       string
}

// Dataset 按 img 构造数据集。
func Dataset(tb testing.TB, img Image) dicom.Dataset {
	tb.Helper()

	if len(img.Frames) == 0 {
		tb.Fatalf("合成图像至少需要一帧")
	}
	bits := img.BitsAllocated
	if bits == 0 {
		bits = 16
	}
	stored := img.BitsStored
	if stored == 0 {
		stored = bits
	}
	rep := 0
	if img.Signed {
		rep = 1
	}

	frames := make([]*frame.Frame, 0, len(img.Frames))
	for i, px := range img.Frames {
		if len(px) != img.Rows*img.Cols {
			tb.Fatalf("第 %d 帧样本数=%d，期望 %d", i, len(px), img.Rows*img.Cols)
		}
		data := make([][]int, len(px))
		for j, v := range px {
			data[j] = []int{v}
		}
		frames = append(frames, &frame.Frame{
			NativeData: frame.NativeFrame{
				Rows:          img.Rows,
				Cols:          img.Cols,
				BitsPerSample: bits,
				Data:          data,
			},
		})
	}

	els := []*dicom.Element{
		mustElement(tb, tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.7"}),
		mustElement(tb, tag.MediaStorageSOPInstanceUID, []string{"1.2.3.4.5.6.7"}),
		mustElement(tb, tag.TransferSyntaxUID, []string{uid.ExplicitVRLittleEndian}),
		mustElement(tb, tag.Modality, []string{"OT"}),
		mustElement(tb, tag.SamplesPerPixel, []int{1}),
		mustElement(tb, tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
		mustElement(tb, tag.Rows, []int{img.Rows}),
		mustElement(tb, tag.Columns, []int{img.Cols}),
		mustElement(tb, tag.BitsAllocated, []int{bits}),
		mustElement(tb, tag.BitsStored, []int{stored}),
		mustElement(tb, tag.HighBit, []int{stored - 1}),
		mustElement(tb, tag.PixelRepresentation, []int{rep}),
		mustElement(tb, tag.PixelData, dicom.PixelDataInfo{Frames: frames}),
	}
	if img.MultiFrame {
		els = append(els, mustElement(tb, tag.NumberOfFrames, []string{fmt.Sprint(len(img.Frames))}))
	}
	if img.FrameTime != "" {
		els = append(els, mustElement(tb, tag.FrameTime, []string{img.FrameTime}))
	}
	for _, f := range []struct {
		t tag.Tag
		v string
	}{
		{tag.PatientName, img.PatientName},
		{tag.PatientID, img.PatientID},
		{tag.PatientBirthDate, img.PatientBirthDate},
		{tag.PatientSex, img.PatientSex},
	} {
		if f.v != "" {
			els = append(els, mustElement(tb, f.t, []string{f.v}))
		}
	}

	slices.SortStableFunc(els, func(a, b *dicom.Element) int { return a.Tag.Compare(b.Tag) })
	return dicom.Dataset{Elements: els}
}

// Write 把 img 写成 path 处的 DICOM 文件。
func Write(tb testing.TB, path string, img Image) {
	tb.Helper()

	f, err := os.Create(path)
	if err != nil {
		tb.Fatalf("创建文件失败：%v", err)
	}
	defer f.Close()

	if err := dicom.Write(f, Dataset(tb, img), dicom.SkipVRVerification()); err != nil {
		tb.Fatalf("写出 DICOM 失败：%v", err)
	}
	if err := f.Close(); err != nil {
		tb.Fatalf("关闭文件失败：%v", err)
	}
}

// Parse 读回 path 处的 DICOM 文件。
func Parse(tb testing.TB, path string) dicom.Dataset {
	tb.Helper()

	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		tb.Fatalf("解析 %s 失败：%v", path, err)
	}
	return ds
}

// CheckTagOrder 校验元素严格按 tag 升序排列（DICOM 文件的基本要求）。
func CheckTagOrder(ds dicom.Dataset) error {
	for i := 1; i < len(ds.Elements); i++ {
		prev, cur := ds.Elements[i-1].Tag, ds.Elements[i].Tag
		if prev.Compare(cur) >= 0 {
			return fmt.Errorf("元素顺序错误：%v 出现在 %v 之后", cur, prev)
		}
	}
	return nil
}

// NativeSamples 取出 PixelData 的全部原生样本（帧 → 像素 → 通道）。
func NativeSamples(tb testing.TB, ds dicom.Dataset) [][][]int {
	tb.Helper()

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		tb.Fatalf("缺少 PixelData：%v", err)
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		tb.Fatalf("PixelData 类型无法识别：%T", el.Value.GetValue())
	}
	out := make([][][]int, 0, len(info.Frames))
	for _, fr := range info.Frames {
		out = append(out, fr.NativeData.Data)
	}
	return out
}

func mustElement(tb testing.TB, t tag.Tag, v any) *dicom.Element {
	tb.Helper()
	el, err := dicom.NewElement(t, v)
	if err != nil {
		tb.Fatalf("构造元素 %v 失败：%v", t, err)
	}
	return el
}
