package pipeline

import (
	"errors"
	"fmt"
	"image/gif"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/John-Robertt/dcmconv/internal/anon"
	"github.com/John-Robertt/dcmconv/internal/domain"
	"github.com/John-Robertt/dcmconv/internal/pixel"
)

// fakeRecord 在内存中模拟一个已加载的文件。
type fakeRecord struct {
	fields    map[string]string
	frames    int
	frameTime string // 空串表示缺失
	volume    pixel.Volume
	volumeErr error
}

func (f *fakeRecord) SetPatientName(s string) error            { f.fields["name"] = s; return nil }
func (f *fakeRecord) SetPatientID(s string) error              { f.fields["id"] = s; return nil }
func (f *fakeRecord) SetPatientBirthDate(s string) error       { f.fields["birth"] = s; return nil }
func (f *fakeRecord) SetPatientSex(s string) error             { f.fields["sex"] = s; return nil }
func (f *fakeRecord) SetPatientIdentityRemoved(s string) error { f.fields["removed"] = s; return nil }

func (f *fakeRecord) Encode(w io.Writer) error {
	_, err := fmt.Fprintf(w, "name=%s\n", f.fields["name"])
	return err
}

func (f *fakeRecord) IsMultiFrame() bool { return f.frames > 0 }

func (f *fakeRecord) FrameTime() (float64, error) {
	if f.frameTime == "" {
		return 0, &domain.Error{Kind: domain.KindMissingTiming}
	}
	var ms float64
	_, err := fmt.Sscan(f.frameTime, &ms)
	return ms, err
}

func (f *fakeRecord) Volume() (pixel.Volume, error) {
	if f.volumeErr != nil {
		return pixel.Volume{}, f.volumeErr
	}
	return f.volume, nil
}

func (f *fakeRecord) Dump(w io.Writer) error {
	_, err := fmt.Fprintf(w, "(0010,0010) PatientName %q\n", f.fields["name"])
	return err
}

func ramp(t *testing.T, n int) pixel.Volume {
	t.Helper()
	frames := make([]*mat.Dense, n)
	for i := range frames {
		d := mat.NewDense(8, 8, nil)
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				d.Set(y, x, float64((x+y)*(i+1)))
			}
		}
		frames[i] = d
	}
	v, err := pixel.NewVolume(frames...)
	if err != nil {
		t.Fatalf("构造 Volume 失败：%v", err)
	}
	return v
}

func loaderOf(rec *fakeRecord) Loader {
	return func(string) (Record, error) { return rec, nil }
}

func setup(t *testing.T, name string) domain.ArtifactPaths {
	t.Helper()
	dir := t.TempDir()
	staging := filepath.Join(dir, domain.StagingDirName)
	if err := os.Mkdir(staging, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return domain.NewArtifactPaths(staging, filepath.Join(dir, name))
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func TestConvert_SingleFrame(t *testing.T) {
	paths := setup(t, "1-1.dcm")
	rec := &fakeRecord{fields: map[string]string{"name": "Doe^John"}, volume: ramp(t, 1)}

	res := Converter{Load: loaderOf(rec)}.Convert(paths)
	if res.Err != nil {
		t.Fatalf("不期望错误：%v", res.Err)
	}
	if res.Frames != domain.FrameSingle {
		t.Fatalf("Frames=%q", res.Frames)
	}
	for _, p := range []string{paths.Info, paths.Still, paths.Plot} {
		if !exists(p) {
			t.Fatalf("缺少产物：%s", p)
		}
	}
	for _, p := range []string{paths.Animation, paths.Anonymized} {
		if exists(p) {
			t.Fatalf("不应生成：%s", p)
		}
	}
	if res.Produced() != 3 {
		t.Fatalf("Produced=%d，期望 3", res.Produced())
	}
}

func TestConvert_MultiFrame(t *testing.T) {
	paths := setup(t, "test.dcm")
	rec := &fakeRecord{fields: map[string]string{}, frames: 3, frameTime: "100", volume: ramp(t, 3)}

	res := Converter{Load: loaderOf(rec)}.Convert(paths)
	if res.Err != nil {
		t.Fatalf("不期望错误：%v", res.Err)
	}
	if res.Frames != domain.FrameMulti {
		t.Fatalf("Frames=%q", res.Frames)
	}
	if exists(paths.Still) || exists(paths.Plot) {
		t.Fatalf("多帧文件不应生成 jpg/png")
	}

	f, err := os.Open(paths.Animation)
	if err != nil {
		t.Fatalf("打开 gif 失败：%v", err)
	}
	defer f.Close()
	g, err := gif.DecodeAll(f)
	if err != nil {
		t.Fatalf("解码 gif 失败：%v", err)
	}
	if len(g.Image) != 3 {
		t.Fatalf("帧数=%d，期望 3", len(g.Image))
	}
	for i, d := range g.Delay {
		if d != 10 {
			t.Fatalf("第 %d 帧 delay=%d，期望 10", i, d)
		}
	}
	if g.LoopCount != 0 {
		t.Fatalf("LoopCount=%d，期望 0", g.LoopCount)
	}
	if !exists(paths.Info) {
		t.Fatalf("缺少文本 dump")
	}
}

func TestConvert_MultiFrameWithoutTiming(t *testing.T) {
	paths := setup(t, "cine.dcm")
	rec := &fakeRecord{fields: map[string]string{}, frames: 2, volume: ramp(t, 2)}

	res := Converter{Load: loaderOf(rec)}.Convert(paths)
	if !errors.Is(res.Err, domain.ErrMissingTiming) {
		t.Fatalf("期望 MissingTimingError，实际：%v", res.Err)
	}
	if exists(paths.Animation) {
		t.Fatalf("缺少帧时长时不应生成 gif")
	}
	// 文本 dump 仍然写出。
	if !exists(paths.Info) || res.Produced() != 1 {
		t.Fatalf("期望仅 dump 成功：written=%v", res.Written)
	}
}

func TestConvert_EmptyImageStillDumps(t *testing.T) {
	paths := setup(t, "blank.dcm")
	v, _ := pixel.NewVolume(mat.NewDense(4, 4, nil))
	rec := &fakeRecord{fields: map[string]string{}, volume: v}

	res := Converter{Load: loaderOf(rec)}.Convert(paths)
	if !errors.Is(res.Err, domain.ErrEmptyImage) {
		t.Fatalf("期望 EmptyImageError，实际：%v", res.Err)
	}
	var de *domain.Error
	if !errors.As(res.Err, &de) || de.Path != paths.Source {
		t.Fatalf("EmptyImageError 应指明源文件 %q，实际：%v", paths.Source, res.Err)
	}
	if exists(paths.Still) || exists(paths.Plot) {
		t.Fatalf("空白图像不应生成栅格产物")
	}
	if !exists(paths.Info) {
		t.Fatalf("缺少文本 dump")
	}
}

func TestConvert_LoadErrorAbortsFile(t *testing.T) {
	paths := setup(t, "broken.dcm")
	load := func(p string) (Record, error) {
		return nil, domain.Errorf(domain.KindLoadFailed, p, "不是 DICOM")
	}

	res := Converter{Load: load, Anonymize: true}.Convert(paths)
	if !errors.Is(res.Err, domain.ErrLoadFailed) {
		t.Fatalf("期望 LoadError，实际：%v", res.Err)
	}
	if res.Produced() != 0 || res.Frames != "" {
		t.Fatalf("加载失败不应有产物：%+v", res)
	}
	entries, _ := os.ReadDir(filepath.Dir(paths.Info))
	if len(entries) != 0 {
		t.Fatalf("staging 目录应为空，实际 %d 项", len(entries))
	}
}

func TestConvert_AnonymizeBeforeDump(t *testing.T) {
	paths := setup(t, "1-1.dcm")
	rec := &fakeRecord{
		fields: map[string]string{"name": "Doe^John", "id": "P1", "birth": "19700101", "sex": "M"},
		volume: ramp(t, 1),
	}

	res := Converter{Load: loaderOf(rec), Anonymize: true}.Convert(paths)
	if res.Err != nil {
		t.Fatalf("不期望错误：%v", res.Err)
	}
	if res.Produced() != 4 {
		t.Fatalf("Produced=%d，期望 4", res.Produced())
	}
	if filepath.Base(paths.Anonymized) != "ANONYMUS_1-1.dcm" {
		t.Fatalf("匿名副本命名不符合预期：%s", paths.Anonymized)
	}
	b, err := os.ReadFile(paths.Anonymized)
	if err != nil || !strings.Contains(string(b), "name="+anon.Placeholder) {
		t.Fatalf("匿名副本内容不符合预期：%q err=%v", b, err)
	}
	dump, _ := os.ReadFile(paths.Info)
	if strings.Contains(string(dump), "Doe^John") {
		t.Fatalf("dump 应反映匿名后的字段：%q", dump)
	}
	if rec.fields["removed"] != anon.IdentityRemoved {
		t.Fatalf("removed=%q", rec.fields["removed"])
	}
}

func TestConvert_ExistingArtifactIsEncodeError(t *testing.T) {
	paths := setup(t, "1-1.dcm")
	if err := os.WriteFile(paths.Still, []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	rec := &fakeRecord{fields: map[string]string{}, volume: ramp(t, 1)}

	res := Converter{Load: loaderOf(rec)}.Convert(paths)
	if !errors.Is(res.Err, domain.ErrEncodeFailed) {
		t.Fatalf("期望 EncodeError，实际：%v", res.Err)
	}
	// jpg 失败不阻止 png 与 dump。
	if res.Produced() != 2 {
		t.Fatalf("Produced=%d，期望 2", res.Produced())
	}
	if b, _ := os.ReadFile(paths.Still); string(b) != "old" {
		t.Fatalf("既有文件不应被覆盖")
	}
}
