package capture

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/John-Robertt/dcmconv/internal/domain"
	"github.com/John-Robertt/dcmconv/internal/infra/imgx"
)

type staticGrabber struct {
	img image.Image
	err error
}

func (g staticGrabber) Grab() (image.Image, error) { return g.img, g.err }

func frame() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, 5, 4))
	g.SetGray(1, 1, color.Gray{Y: 200})
	return g
}

func TestResolveOutput(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	cases := []struct {
		in, want string
	}{
		{"", filepath.Join(cwd, DefaultFrameName)},
		{dir, filepath.Join(dir, DefaultFrameName)},
		{filepath.Join(dir, "shot"), filepath.Join(dir, "shot.png")},
		{filepath.Join(dir, "shot.jpg"), filepath.Join(dir, "shot.jpg")},
	}
	for _, tc := range cases {
		got, err := ResolveOutput(tc.in)
		if err != nil {
			t.Fatalf("ResolveOutput(%q) 不期望错误：%v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ResolveOutput(%q) got=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestAcquire_WritesFrameIntoDir(t *testing.T) {
	dir := t.TempDir()
	got, err := Acquire(staticGrabber{img: frame()}, dir)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got != filepath.Join(dir, DefaultFrameName) {
		t.Fatalf("路径不符合预期：%s", got)
	}
	img, err := imgx.DecodeFile(got)
	if err != nil {
		t.Fatalf("解码失败：%v", err)
	}
	if b := img.Bounds(); b.Dx() != 5 || b.Dy() != 4 {
		t.Fatalf("尺寸不符合预期：%v", b)
	}
}

func TestAcquire_ReplacesExisting(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "latest.png")
	if err := os.WriteFile(dst, []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Acquire(staticGrabber{img: frame()}, dst); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if _, err := imgx.DecodeFile(dst); err != nil {
		t.Fatalf("应被新帧覆盖：%v", err)
	}
}

func TestAcquire_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Acquire(staticGrabber{img: frame()}, filepath.Join(dir, "x.gif")); !errors.Is(err, domain.ErrInvalidPath) {
		t.Fatalf("期望 InvalidPathError，实际：%v", err)
	}
	if _, err := Acquire(staticGrabber{err: errors.New("设备无帧")}, dir); !errors.Is(err, domain.ErrLoadFailed) {
		t.Fatalf("期望 LoadError，实际：%v", err)
	}
	if _, err := Acquire(staticGrabber{img: frame()}, filepath.Join(dir, "missing", "x.png")); !errors.Is(err, domain.ErrEncodeFailed) {
		t.Fatalf("期望 EncodeError，实际：%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultFrameName)); !os.IsNotExist(err) {
		t.Fatalf("抓帧失败时不应写文件")
	}
}

func TestReaderGrabber(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame()); err != nil {
		t.Fatalf("encode: %v", err)
	}
	img, err := ReaderGrabber{R: &buf}.Grab()
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if img.Bounds().Dx() != 5 {
		t.Fatalf("尺寸不符合预期：%v", img.Bounds())
	}

	if _, err := (ReaderGrabber{R: bytes.NewReader([]byte("garbage"))}).Grab(); err == nil {
		t.Fatalf("期望解码失败")
	}
}

func TestFDGrabber_Invalid(t *testing.T) {
	if _, err := (FDGrabber{FD: -1}).Grab(); err == nil {
		t.Fatalf("期望错误")
	}
}
