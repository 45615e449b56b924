package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/John-Robertt/dcmconv/internal/batch"
	"github.com/John-Robertt/dcmconv/internal/capture"
	"github.com/John-Robertt/dcmconv/internal/config"
	"github.com/John-Robertt/dcmconv/internal/domain"
	"github.com/John-Robertt/dcmconv/internal/infra/logx"
	"github.com/John-Robertt/dcmconv/internal/pipeline"
	"github.com/John-Robertt/dcmconv/internal/similarity"
)

func main() {
	args := os.Args[1:]

	// --verbosity 允许出现在子命令之前（dcmconv --verbosity DEBUG process ...）。
	global, args, err := splitGlobalArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printUsage()
		os.Exit(2)
	}
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	var code int
	switch args[0] {
	case "process", "processing":
		code = processCmd(global, args[1:])
	case "compare":
		code = compareCmd(global, args[1:])
	case "acquire":
		code = acquireCmd(global, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		code = 2
	}
	if code != 0 {
		os.Exit(code)
	}
}

// globalArgs 是子命令之前的通用参数。
type globalArgs struct {
	Verbosity    string
	VerbositySet bool
}

func splitGlobalArgs(args []string) (globalArgs, []string, error) {
	var g globalArgs
	for len(args) > 0 {
		v, n, ok, err := takeValue(args, "--verbosity")
		if err != nil {
			return globalArgs{}, nil, err
		}
		if !ok {
			break
		}
		g.Verbosity, g.VerbositySet = v, true
		args = args[n:]
	}
	return g, args, nil
}

// takeValue 识别 "--name value" 与 "--name=value" 两种写法。
// 返回值 n 是消耗的参数个数；ok=false 表示 args[0] 不是该参数。
func takeValue(args []string, name string) (v string, n int, ok bool, err error) {
	a := args[0]
	switch {
	case a == name:
		if len(args) < 2 {
			return "", 0, false, fmt.Errorf("%s 需要一个值", name)
		}
		return args[1], 2, true, nil
	case strings.HasPrefix(a, name+"="):
		return strings.TrimPrefix(a, name+"="), 1, true, nil
	default:
		return "", 0, false, nil
	}
}

// ---- process ----

type processArgs struct {
	DicomDir     string
	Anonymous    bool
	AnonymousSet bool
	Verbosity    string
	VerbositySet bool
}

func parseProcessArgs(g globalArgs, args []string) (processArgs, error) {
	pa := processArgs{Verbosity: g.Verbosity, VerbositySet: g.VerbositySet}

	for i := 0; i < len(args); i++ {
		a := args[i]
		if v, n, ok, err := takeValue(args[i:], "--verbosity"); err != nil {
			return processArgs{}, err
		} else if ok {
			pa.Verbosity, pa.VerbositySet = v, true
			i += n - 1
			continue
		}
		if v, n, ok, err := takeValue(args[i:], "--dicom_dir"); err != nil {
			return processArgs{}, err
		} else if ok {
			if pa.DicomDir != "" {
				return processArgs{}, fmt.Errorf("重复的 dicom_dir：%q 与 %q", pa.DicomDir, v)
			}
			pa.DicomDir = v
			i += n - 1
			continue
		}

		switch {
		case a == "--anonymous":
			pa.Anonymous = true
			pa.AnonymousSet = true
		case strings.HasPrefix(a, "--anonymous="):
			v := strings.TrimPrefix(a, "--anonymous=")
			switch v {
			case "true":
				pa.Anonymous = true
			case "false":
				pa.Anonymous = false
			default:
				return processArgs{}, fmt.Errorf("--anonymous 只能是 true 或 false，实际是 %q", v)
			}
			pa.AnonymousSet = true
		case strings.HasPrefix(a, "-"):
			return processArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			if pa.DicomDir != "" {
				return processArgs{}, fmt.Errorf("重复的 dicom_dir：%q 与 %q", pa.DicomDir, a)
			}
			pa.DicomDir = a
		}
	}

	if pa.VerbositySet {
		if _, err := logx.ParseVerbosity(pa.Verbosity); err != nil {
			return processArgs{}, err
		}
	}
	return pa, nil
}

func processCmd(g globalArgs, args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printProcessUsage()
			return 0
		}
	}

	pa, err := parseProcessArgs(g, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printProcessUsage()
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	cwdAbs, _ := filepath.Abs(cwd)

	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		DicomDir:     pa.DicomDir,
		Anonymous:    pa.Anonymous,
		AnonymousSet: pa.AnonymousSet,
		Verbosity:    pa.Verbosity,
		VerbositySet: pa.VerbositySet,
	})
	if err != nil {
		rep := reportForError(cwdAbs, pa.AnonymousSet && pa.Anonymous, config.Code(err), err)
		emitReport(os.Stdout, os.Stderr, isTTY(os.Stdout), rep)
		return 1
	}

	log := newLogger(eff.Verbosity)
	log.Debug().
		Str("dicom_dir", eff.DicomDir).
		Bool("anonymous", eff.Anonymous).
		Str("config", eff.ConfigFile).
		Msg("生效配置")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	w := batch.Walker{
		Converter: pipeline.Converter{
			Load:      pipeline.LoadRecord,
			Anonymize: eff.Anonymous,
			Encode:    eff.EncodeOptions(),
		},
		Observer: newProgressLog(log),
	}
	rep, err := w.Walk(ctx, eff.DicomDir)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPath) {
			rep = reportForError(eff.DicomDir, eff.Anonymous, string(domain.KindOf(err)), err)
			emitReport(os.Stdout, os.Stderr, isTTY(os.Stdout), rep)
			return 1
		}
		// 被中断：已收尾的目录保持原样，照常输出报告。
		log.Warn().Err(err).Msg("处理被中断")
		emitReport(os.Stdout, os.Stderr, isTTY(os.Stdout), rep)
		return 1
	}

	emitReport(os.Stdout, os.Stderr, isTTY(os.Stdout), rep)
	if rep.HasFailures() {
		return 1
	}
	return 0
}

// ---- compare ----

type compareArgs struct {
	Image1, Image2 string
	Verbosity      string
}

func parseCompareArgs(g globalArgs, args []string) (compareArgs, error) {
	ca := compareArgs{Verbosity: g.Verbosity}
	for i := 0; i < len(args); i++ {
		matched := false
		for _, f := range []struct {
			name string
			dst  *string
		}{
			{"--image1", &ca.Image1},
			{"--image2", &ca.Image2},
			{"--verbosity", &ca.Verbosity},
		} {
			v, n, ok, err := takeValue(args[i:], f.name)
			if err != nil {
				return compareArgs{}, err
			}
			if ok {
				*f.dst = v
				i += n - 1
				matched = true
				break
			}
		}
		if !matched {
			return compareArgs{}, fmt.Errorf("未知参数 %q", args[i])
		}
	}
	if ca.Image1 == "" || ca.Image2 == "" {
		return compareArgs{}, fmt.Errorf("--image1 与 --image2 都是必填参数")
	}
	if _, err := logx.ParseVerbosity(ca.Verbosity); err != nil {
		return compareArgs{}, err
	}
	return ca, nil
}

func compareCmd(g globalArgs, args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printCompareUsage()
			return 0
		}
	}
	ca, err := parseCompareArgs(g, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printCompareUsage()
		return 2
	}

	log := newLogger(ca.Verbosity)
	log.Debug().Str("image1", ca.Image1).Str("image2", ca.Image2).Msg("比较图片")

	s, err := similarity.Compare(ca.Image1, ca.Image2)
	if err != nil {
		log.Error().Err(err).Str("error_code", string(domain.KindOf(err))).Msg("比较失败")
		return 1
	}
	log.Info().Float64("ssim", s).Msgf("相似度：%.4f", s)
	fmt.Fprintf(os.Stdout, "%.4f\n", s)
	return 0
}

// ---- acquire ----

type acquireArgs struct {
	FD        int
	Output    string
	Verbosity string
}

func parseAcquireArgs(g globalArgs, args []string) (acquireArgs, error) {
	aa := acquireArgs{FD: -1, Verbosity: g.Verbosity}
	fdSet := false
	for i := 0; i < len(args); i++ {
		if v, n, ok, err := takeValue(args[i:], "--fd"); err != nil {
			return acquireArgs{}, err
		} else if ok {
			fd, err := strconv.Atoi(v)
			if err != nil || fd < 0 {
				return acquireArgs{}, fmt.Errorf("--fd 必须是非负整数，实际是 %q", v)
			}
			aa.FD, fdSet = fd, true
			i += n - 1
			continue
		}
		if v, n, ok, err := takeValue(args[i:], "--output"); err != nil {
			return acquireArgs{}, err
		} else if ok {
			aa.Output = v
			i += n - 1
			continue
		}
		if v, n, ok, err := takeValue(args[i:], "--verbosity"); err != nil {
			return acquireArgs{}, err
		} else if ok {
			aa.Verbosity = v
			i += n - 1
			continue
		}
		return acquireArgs{}, fmt.Errorf("未知参数 %q", args[i])
	}
	if !fdSet {
		return acquireArgs{}, fmt.Errorf("--fd 是必填参数")
	}
	if _, err := logx.ParseVerbosity(aa.Verbosity); err != nil {
		return acquireArgs{}, err
	}
	return aa, nil
}

func acquireCmd(g globalArgs, args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printAcquireUsage()
			return 0
		}
	}
	aa, err := parseAcquireArgs(g, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printAcquireUsage()
		return 2
	}

	log := newLogger(aa.Verbosity)
	log.Debug().Int("fd", aa.FD).Str("output", aa.Output).Msg("采集单帧")

	dst, err := capture.Acquire(capture.FDGrabber{FD: aa.FD}, aa.Output)
	if err != nil {
		log.Error().Err(err).Str("error_code", string(domain.KindOf(err))).Msg("采集失败")
		return 1
	}
	log.Info().Str("path", dst).Msg("帧已保存")
	fmt.Fprintln(os.Stdout, dst)
	return 0
}

// ---- 输出 ----

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  dcmconv [--verbosity LEVEL] <命令> [参数]

命令：
  process   批量转换目录树中的 DICOM 文件（别名 processing）
  compare   计算两张图片的结构相似度（SSIM）
  acquire   从采集卡读取单帧并保存为图片

LEVEL：NOTSET|DEBUG|INFO|WARNING|ERROR|CRITICAL（默认 INFO）
使用 "dcmconv <命令> --help" 查看详细说明。
`)
}

func printProcessUsage() {
	fmt.Fprint(os.Stdout, `用法：
  dcmconv process [dicom_dir] [--anonymous[=true|false]] [--verbosity LEVEL]

参数：
  dicom_dir    源目录（也可写作 --dicom_dir DIR；未指定则读取 ./dcmconv.yaml 的 dicom_dir）
  --anonymous  额外输出匿名化副本 ANONYMUS_<文件名>；支持 --anonymous=false 覆盖配置
  --verbosity  日志级别
  -h, --help   显示帮助

每个源目录下生成 OUTPUT/；若 OUTPUT 已存在，该目录被跳过（不支持重复运行覆盖）。
`)
}

func printCompareUsage() {
	fmt.Fprint(os.Stdout, `用法：
  dcmconv compare --image1 PATH --image2 PATH [--verbosity LEVEL]

支持 .jpg .jpeg .png .bmp .tif .tiff；输出 0..1 的得分（保留 4 位小数）。
`)
}

func printAcquireUsage() {
	fmt.Fprint(os.Stdout, `用法：
  dcmconv acquire --fd N [--output PATH] [--verbosity LEVEL]

参数：
  --fd      采集卡所连接的文件描述符（通常是 0，即 stdin）
  --output  保存路径；目录则写入 frame_default.png，无扩展名则追加 .png
`)
}

func emitReport(stdout, stderr io.Writer, tty bool, rep domain.BatchReport) {
	s := rep.Summary
	summary := fmt.Sprintf("完成：dirs=%d committed=%d rolled_back=%d conflicts=%d files=%d ok=%d partial=%d failed=%d artifacts=%d\n",
		s.Dirs, s.Committed, s.RolledBack, s.Conflicts, s.Files, s.FilesOK, s.Partial, s.Failed, s.Artifacts,
	)

	if tty {
		fmt.Fprint(stdout, summary)
		for _, d := range rep.Dirs {
			if d.ErrorCode != "" {
				fmt.Fprintf(stderr, "%s %s: %s\n", d.Dir, d.ErrorCode, d.ErrorMsg)
			}
			for _, f := range d.Files {
				if f.Status == domain.FileStatusOK {
					continue
				}
				fmt.Fprintf(stderr, "%s %s: %s\n", f.Source, f.ErrorCode, f.ErrorMsg)
			}
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 BatchReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(stdout)
	_ = enc.Encode(rep)
	fmt.Fprint(stderr, summary)
}

// reportForError 为“还没开始遍历就失败”的情况合成一个目录条目，保证 stdout 契约不变。
func reportForError(dir string, anonymous bool, code string, err error) domain.BatchReport {
	now := time.Now().UTC()
	rep := domain.BatchReport{
		Root:       dir,
		Anonymous:  anonymous,
		StartedAt:  now,
		FinishedAt: now,
		Dirs: []domain.DirResult{{
			Dir:       dir,
			Outcome:   domain.DirFailed,
			ErrorCode: code,
			ErrorMsg:  err.Error(),
			Files:     []domain.FileResult{},
		}},
	}
	rep.Finalize()
	return rep
}

func newLogger(verbosity string) zerolog.Logger {
	lvl, err := logx.ParseVerbosity(verbosity)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return logx.New(os.Stderr, lvl, isTTY(os.Stderr))
}

func isTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
