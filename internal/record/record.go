// Package record 封装一个已加载的 DICOM 文件（ImagingRecord）。
//
// 只暴露本工具需要的能力：像素、帧数标记、帧时长、5 个身份字段的 getter/setter、
// 文本 dump 与按原生格式编码。一个 Record 只属于一次单文件处理，不跨文件共享。
package record

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/mat"

	"github.com/John-Robertt/dcmconv/internal/domain"
	"github.com/John-Robertt/dcmconv/internal/infra/imgx"
	"github.com/John-Robertt/dcmconv/internal/pixel"
)

// Record 是对 dicom.Dataset 的强类型包装。
type Record struct {
	path string
	ds   dicom.Dataset
}

// Load 读取并解析 path。任何打开/解析失败都归类为 LoadError。
func Load(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.Wrap(domain.KindLoadFailed, path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, domain.Wrap(domain.KindLoadFailed, path, err)
	}
	if fi.IsDir() {
		return nil, domain.Errorf(domain.KindLoadFailed, path, "是目录而不是文件")
	}

	ds, err := dicom.Parse(f, fi.Size(), nil)
	if err != nil {
		return nil, domain.Wrap(domain.KindLoadFailed, path, err)
	}
	return &Record{path: path, ds: ds}, nil
}

// New 用内存中的 Dataset 构造 Record（测试与合成数据使用）。
func New(path string, ds dicom.Dataset) *Record {
	return &Record{path: path, ds: ds}
}

// Path 返回源文件路径。
func (r *Record) Path() string { return r.path }

// Has 判断 tag 是否存在。
func (r *Record) Has(t Tag) bool {
	_, err := r.ds.FindElementByTag(t)
	return err == nil
}

// IsMultiFrame 以 NumberOfFrames 是否存在作为单/多帧判定（与其取值无关）。
func (r *Record) IsMultiFrame() bool { return r.Has(TagNumberOfFrames) }

// FrameTime 返回单帧时长（毫秒）。tag 缺失或无法解析为数值时返回 MissingTimingError。
func (r *Record) FrameTime() (float64, error) {
	el, err := r.ds.FindElementByTag(TagFrameTime)
	if err != nil {
		return 0, &domain.Error{Kind: domain.KindMissingTiming, Path: r.path}
	}
	switch v := el.Value.GetValue().(type) {
	case []string:
		if len(v) > 0 {
			ms, err := strconv.ParseFloat(trimValue(v[0]), 64)
			if err == nil {
				return ms, nil
			}
			return 0, &domain.Error{Kind: domain.KindMissingTiming, Path: r.path, Err: err}
		}
	case []float64:
		if len(v) > 0 {
			return v[0], nil
		}
	case []int:
		if len(v) > 0 {
			return float64(v[0]), nil
		}
	}
	return 0, &domain.Error{Kind: domain.KindMissingTiming, Path: r.path, Err: errors.New("帧时长为空")}
}

// Volume 解码像素数据为帧堆叠的数值数组（不做 rescale）。
//
// 解析库总是按无符号读出 native 样本；PixelRepresentation=1 时这里按 BitsStored
// 截位并做符号扩展，还原有符号原值（例如 CT 的 -1024）。
// 多样本（RGB）像素取 Rec.601 亮度。
func (r *Record) Volume() (pixel.Volume, error) {
	el, err := r.ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return pixel.Volume{}, domain.Errorf(domain.KindLoadFailed, r.path, "缺少像素数据 (7FE0,0010)")
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return pixel.Volume{}, domain.Errorf(domain.KindLoadFailed, r.path, "像素数据类型无法识别")
	}
	if len(info.Frames) == 0 {
		return pixel.Volume{}, domain.Errorf(domain.KindLoadFailed, r.path, "像素数据不含任何帧")
	}

	signed := r.intValue(TagPixelRepresentation) == 1
	stored := r.intValue(TagBitsStored)

	frames := make([]*mat.Dense, 0, len(info.Frames))
	for i := range info.Frames {
		fr := info.Frames[i]
		if fr.Encapsulated {
			img, err := fr.GetImage()
			if err != nil {
				return pixel.Volume{}, domain.Wrap(domain.KindLoadFailed, r.path, fmt.Errorf("第 %d 帧解码失败：%w", i, err))
			}
			frames = append(frames, imgx.Luma(img))
			continue
		}

		nd := fr.NativeData
		if nd.Rows <= 0 || nd.Cols <= 0 || len(nd.Data) < nd.Rows*nd.Cols {
			return pixel.Volume{}, domain.Errorf(domain.KindLoadFailed, r.path, "第 %d 帧尺寸无效：%dx%d（%d 像素）", i, nd.Rows, nd.Cols, len(nd.Data))
		}
		decode := func(v int) int { return v }
		if signed {
			bits := nd.BitsPerSample
			if stored > 0 && stored < bits {
				bits = stored
			}
			decode = func(v int) int { return signExtend(v, bits) }
		}
		px := make([]int, nd.Rows*nd.Cols)
		for j := range px {
			px[j] = sampleLuma(nd.Data[j], decode)
		}
		frames = append(frames, pixel.FromInts(nd.Rows, nd.Cols, px))
	}

	v, err := pixel.NewVolume(frames...)
	if err != nil {
		return pixel.Volume{}, domain.Wrap(domain.KindLoadFailed, r.path, err)
	}
	return v, nil
}

func sampleLuma(s []int, decode func(int) int) int {
	switch len(s) {
	case 0:
		return 0
	case 1, 2:
		return decode(s[0])
	default:
		return (299*decode(s[0]) + 587*decode(s[1]) + 114*decode(s[2])) / 1000
	}
}

// signExtend 把低 bits 位视为补码，返回对应的有符号值。
func signExtend(v, bits int) int {
	if bits <= 0 || bits >= 63 {
		return v
	}
	v &= 1<<bits - 1
	if v&(1<<(bits-1)) != 0 {
		v -= 1 << bits
	}
	return v
}

// intValue 读取 US/IS 类 tag 的第一个值；缺失或无法解析时返回 0。
func (r *Record) intValue(t Tag) int {
	el, err := r.ds.FindElementByTag(t)
	if err != nil {
		return 0
	}
	switch v := el.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0]
		}
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(trimValue(v[0]))
			if err == nil {
				return n
			}
		}
	}
	return 0
}

// Dump 写出完整的文本表示（元素列表，含像素数据摘要）。
func (r *Record) Dump(w io.Writer) error {
	_, err := io.WriteString(w, r.ds.String())
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// Encode 按 DICOM 原生格式写出整个数据集（包括未改动的像素与其他元素）。
func (r *Record) Encode(w io.Writer) error {
	return dicom.Write(w, r.ds, dicom.SkipVRVerification())
}

func (r *Record) str(t Tag) string {
	el, err := r.ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	if v, ok := el.Value.GetValue().([]string); ok && len(v) > 0 {
		return trimValue(strings.Join(v, "\\"))
	}
	return ""
}

func (r *Record) setStr(t Tag, s string) error {
	el, err := dicom.NewElement(t, []string{s})
	if err != nil {
		return fmt.Errorf("构造元素 %v 失败：%w", t, err)
	}
	for i, e := range r.ds.Elements {
		if e.Tag == t {
			r.ds.Elements[i] = el
			return nil
		}
	}
	// 写出时按切片顺序输出，缺失的元素必须插在 tag 升序的位置上（不能追加到 PixelData 之后）。
	i := slices.IndexFunc(r.ds.Elements, func(e *dicom.Element) bool { return e.Tag.Compare(t) > 0 })
	if i < 0 {
		i = len(r.ds.Elements)
	}
	r.ds.Elements = slices.Insert(r.ds.Elements, i, el)
	return nil
}

// trimValue 去掉 DICOM 偶数长度填充（空格 / NUL）。
func trimValue(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "\x00")
}

func (r *Record) PatientName() string            { return r.str(TagPatientName) }
func (r *Record) PatientID() string              { return r.str(TagPatientID) }
func (r *Record) PatientBirthDate() string       { return r.str(TagPatientBirthDate) }
func (r *Record) PatientSex() string             { return r.str(TagPatientSex) }
func (r *Record) PatientIdentityRemoved() string { return r.str(TagPatientIdentityRemoved) }

func (r *Record) SetPatientName(s string) error            { return r.setStr(TagPatientName, s) }
func (r *Record) SetPatientID(s string) error              { return r.setStr(TagPatientID, s) }
func (r *Record) SetPatientBirthDate(s string) error       { return r.setStr(TagPatientBirthDate, s) }
func (r *Record) SetPatientSex(s string) error             { return r.setStr(TagPatientSex, s) }
func (r *Record) SetPatientIdentityRemoved(s string) error { return r.setStr(TagPatientIdentityRemoved, s) }
