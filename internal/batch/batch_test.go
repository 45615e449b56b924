package batch

import (
	"context"
	"errors"
	"fmt"
	"image/gif"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/John-Robertt/dcmconv/internal/domain"
	"github.com/John-Robertt/dcmconv/internal/pipeline"
	"github.com/John-Robertt/dcmconv/internal/pixel"
	"github.com/John-Robertt/dcmconv/internal/record/dicomtest"
)

// stubRecord 是单帧、非空的最小 Record。
type stubRecord struct{ src string }

func (stubRecord) SetPatientName(string) error            { return nil }
func (stubRecord) SetPatientID(string) error              { return nil }
func (stubRecord) SetPatientBirthDate(string) error       { return nil }
func (stubRecord) SetPatientSex(string) error             { return nil }
func (stubRecord) SetPatientIdentityRemoved(string) error { return nil }
func (stubRecord) IsMultiFrame() bool                     { return false }
func (stubRecord) FrameTime() (float64, error)            { return 0, nil }

func (stubRecord) Encode(w io.Writer) error {
	_, err := io.WriteString(w, "DICM")
	return err
}

func (stubRecord) Volume() (pixel.Volume, error) {
	d := mat.NewDense(8, 8, nil)
	for i := 0; i < 8; i++ {
		d.Set(i, i, float64(i+1))
	}
	return pixel.NewVolume(d)
}

func (r stubRecord) Dump(w io.Writer) error {
	_, err := fmt.Fprintf(w, "source: %s\n", r.src)
	return err
}

func stubLoad(p string) (pipeline.Record, error) { return stubRecord{src: p}, nil }

func failLoad(p string) (pipeline.Record, error) {
	return nil, domain.Errorf(domain.KindLoadFailed, p, "不是 DICOM")
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}

func mustExist(t *testing.T, p string) {
	t.Helper()
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("期望存在 %s：%v", p, err)
	}
}

func mustNotExist(t *testing.T, p string) {
	t.Helper()
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("期望不存在 %s，Stat err=%v", p, err)
	}
}

func TestWalk_EmptyDirLeavesNoStaging(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "readme.txt"))

	rep, err := Walker{Converter: pipeline.Converter{Load: stubLoad}}.Walk(context.Background(), root)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	mustNotExist(t, filepath.Join(root, "OUTPUT"))
	if len(rep.Dirs) != 1 || rep.Dirs[0].Outcome != domain.DirRolledBack {
		t.Fatalf("期望 1 个 rolled_back 目录：%+v", rep.Dirs)
	}
	if rep.HasFailures() {
		t.Fatalf("不期望失败")
	}
}

func TestWalk_OneInfoPerSourceFile(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "1-1.dcm"))
	touch(t, filepath.Join(root, "1-2.DCM"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, "series", "2-1.dcm"))
	touch(t, filepath.Join(root, "series", "deeper", "skip.txt"))

	rep, err := Walker{Converter: pipeline.Converter{Load: stubLoad}}.Walk(context.Background(), root)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	for _, p := range []string{
		filepath.Join(root, "OUTPUT", "1-1.txt"),
		filepath.Join(root, "OUTPUT", "1-1.jpg"),
		filepath.Join(root, "OUTPUT", "1-1.png"),
		filepath.Join(root, "OUTPUT", "1-2.txt"),
		filepath.Join(root, "series", "OUTPUT", "2-1.txt"),
	} {
		mustExist(t, p)
	}
	mustNotExist(t, filepath.Join(root, "OUTPUT", "notes.txt"))
	mustNotExist(t, filepath.Join(root, "series", "deeper", "OUTPUT"))

	// 每个目录的计数相互独立：父目录的产物不会让空的子目录保留 OUTPUT。
	outcomes := map[string]string{}
	for _, d := range rep.Dirs {
		outcomes[d.Dir] = d.Outcome
	}
	want := map[string]string{
		root:                                    domain.DirCommitted,
		filepath.Join(root, "series"):           domain.DirCommitted,
		filepath.Join(root, "series", "deeper"): domain.DirRolledBack,
	}
	if !reflect.DeepEqual(outcomes, want) {
		t.Fatalf("目录结果不符合预期：\n got=%v\nwant=%v", outcomes, want)
	}

	if rep.Summary.Files != 3 || rep.Summary.FilesOK != 3 || rep.Summary.Artifacts != 9 {
		t.Fatalf("summary 不符合预期：%+v", rep.Summary)
	}
	if rep.RunID == "" || rep.Root != root {
		t.Fatalf("report 元数据不符合预期：run_id=%q root=%q", rep.RunID, rep.Root)
	}
}

func TestWalk_StagingConflictSkipsOnlyThatDir(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.dcm"))
	touch(t, filepath.Join(root, "OUTPUT", "a.txt")) // 上一次运行的产物
	touch(t, filepath.Join(root, "sub", "b.dcm"))

	rep, err := Walker{Converter: pipeline.Converter{Load: stubLoad}}.Walk(context.Background(), root)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if len(rep.Dirs) != 2 {
		t.Fatalf("期望 2 个目录（OUTPUT 不遍历），实际 %+v", rep.Dirs)
	}
	top := rep.Dirs[0]
	if top.Dir != root || top.Outcome != domain.DirConflict || top.ErrorCode != string(domain.KindStagingConflict) {
		t.Fatalf("根目录应为冲突：%+v", top)
	}
	if len(top.Files) != 0 {
		t.Fatalf("冲突目录不应处理文件：%+v", top.Files)
	}
	mustNotExist(t, filepath.Join(root, "OUTPUT", "a.jpg"))
	if b, _ := os.ReadFile(filepath.Join(root, "OUTPUT", "a.txt")); string(b) != "x" {
		t.Fatalf("既有产物不应被改动")
	}

	if rep.Dirs[1].Outcome != domain.DirCommitted {
		t.Fatalf("子目录应照常处理：%+v", rep.Dirs[1])
	}
	mustExist(t, filepath.Join(root, "sub", "OUTPUT", "b.txt"))

	if !rep.HasFailures() || rep.Summary.Conflicts != 1 {
		t.Fatalf("冲突应计入失败：%+v", rep.Summary)
	}
}

func TestWalk_LoadFailureRollsBack(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "broken.dcm"))

	rep, err := Walker{Converter: pipeline.Converter{Load: failLoad}}.Walk(context.Background(), root)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	mustNotExist(t, filepath.Join(root, "OUTPUT"))

	d := rep.Dirs[0]
	if d.Outcome != domain.DirRolledBack || len(d.Files) != 1 {
		t.Fatalf("目录结果不符合预期：%+v", d)
	}
	f := d.Files[0]
	if f.Status != domain.FileStatusFailed || f.ErrorCode != string(domain.KindLoadFailed) {
		t.Fatalf("文件结果不符合预期：%+v", f)
	}
	if !rep.HasFailures() {
		t.Fatalf("加载失败应计入失败")
	}
}

func TestWalk_RootMustBeDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.dcm")
	touch(t, file)

	for _, p := range []string{file, filepath.Join(root, "missing")} {
		_, err := Walker{}.Walk(context.Background(), p)
		if !errors.Is(err, domain.ErrInvalidPath) {
			t.Fatalf("%s：期望 InvalidPathError，实际：%v", p, err)
		}
	}
	mustNotExist(t, filepath.Join(root, "OUTPUT"))
}

func TestWalk_CanceledContext(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.dcm"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := Walker{Converter: pipeline.Converter{Load: stubLoad}}.Walk(ctx, root)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际：%v", err)
	}
	if len(rep.Dirs) != 0 {
		t.Fatalf("取消后不应处理目录：%+v", rep.Dirs)
	}
	mustNotExist(t, filepath.Join(root, "OUTPUT"))
}

type recordObserver struct {
	events []string
}

func (o *recordObserver) OnStart(root string, anonymous bool) {
	o.events = append(o.events, fmt.Sprintf("start anon=%v", anonymous))
}

func (o *recordObserver) OnDirStart(dir string, sources int) {
	o.events = append(o.events, fmt.Sprintf("dir %s %d", filepath.Base(dir), sources))
}

func (o *recordObserver) OnFileDone(idx, total int, res domain.FileResult, dur time.Duration) {
	o.events = append(o.events, fmt.Sprintf("file %d/%d %s %s", idx, total, filepath.Base(res.Source), res.Status))
}

func (o *recordObserver) OnDirDone(res domain.DirResult, dur time.Duration) {
	o.events = append(o.events, fmt.Sprintf("done %s %s", filepath.Base(res.Dir), res.Outcome))
}

func TestWalk_ObserverEventsInOrder(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	touch(t, filepath.Join(root, "b.dcm"))
	touch(t, filepath.Join(root, "a.dcm"))
	touch(t, filepath.Join(root, "z", "c.dcm"))
	touch(t, filepath.Join(root, "m", "x.txt"))

	obs := &recordObserver{}
	_, err := Walker{Converter: pipeline.Converter{Load: stubLoad, Anonymize: true}, Observer: obs}.Walk(context.Background(), root)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	want := []string{
		"start anon=true",
		"dir root 2",
		"file 1/2 a.dcm ok",
		"file 2/2 b.dcm ok",
		"done root committed",
		"dir m 0",
		"done m rolled_back",
		"dir z 1",
		"file 1/1 c.dcm ok",
		"done z committed",
	}
	if !reflect.DeepEqual(obs.events, want) {
		t.Fatalf("事件顺序不符合预期：\n got=%q\nwant=%q", obs.events, want)
	}
	mustExist(t, filepath.Join(root, "OUTPUT", "ANONYMUS_a.dcm"))
}

func TestWalk_RealDICOMFiles(t *testing.T) {
	root := t.TempDir()
	single := make([]int, 16)
	for i := range single {
		single[i] = i * 100
	}
	dicomtest.Write(t, filepath.Join(root, "1-1.dcm"), dicomtest.Image{
		Rows: 4, Cols: 4,
		Frames:      [][]int{single},
		PatientName: "Rossi^Mario",
		PatientID:   "PID-0042",
	})
	dicomtest.Write(t, filepath.Join(root, "test.dcm"), dicomtest.Image{
		Rows: 2, Cols: 2,
		Frames:     [][]int{{0, 10, 20, 30}, {40, 50, 60, 70}, {80, 90, 100, 110}},
		MultiFrame: true,
		FrameTime:  "100",
	})

	w := Walker{Converter: pipeline.Converter{Load: pipeline.LoadRecord, Anonymize: true}}
	rep, err := w.Walk(context.Background(), root)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rep.HasFailures() {
		t.Fatalf("不期望失败：%+v", rep.Dirs)
	}

	out := filepath.Join(root, domain.StagingDirName)
	for _, name := range []string{
		"1-1.txt", "1-1.jpg", "1-1.png", "ANONYMUS_1-1.dcm",
		"test.txt", "test.gif", "ANONYMUS_test.dcm",
	} {
		mustExist(t, filepath.Join(out, name))
	}
	for _, name := range []string{"1-1.gif", "test.jpg", "test.png"} {
		mustNotExist(t, filepath.Join(out, name))
	}

	f, err := os.Open(filepath.Join(out, "test.gif"))
	if err != nil {
		t.Fatalf("打开 GIF 失败：%v", err)
	}
	defer f.Close()
	g, err := gif.DecodeAll(f)
	if err != nil {
		t.Fatalf("解码 GIF 失败：%v", err)
	}
	if len(g.Image) != 3 || g.LoopCount != 0 {
		t.Fatalf("GIF 帧数=%d loop=%d，期望 3 帧无限循环", len(g.Image), g.LoopCount)
	}
	for i, d := range g.Delay {
		if d != 10 {
			t.Fatalf("第 %d 帧延时=%d，期望 10", i, d)
		}
	}

	copied := dicomtest.Parse(t, filepath.Join(out, "ANONYMUS_1-1.dcm"))
	if err := dicomtest.CheckTagOrder(copied); err != nil {
		t.Fatalf("匿名副本：%v", err)
	}
	orig := dicomtest.Parse(t, filepath.Join(root, "1-1.dcm"))
	if !reflect.DeepEqual(dicomtest.NativeSamples(t, orig), dicomtest.NativeSamples(t, copied)) {
		t.Fatalf("匿名副本的像素样本被改动")
	}
}
