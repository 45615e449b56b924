package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot/vg"
	"gopkg.in/yaml.v2"

	"github.com/John-Robertt/dcmconv/internal/encode"
	"github.com/John-Robertt/dcmconv/internal/infra/logx"
)

// FileName 是配置文件名（位置见 LoadEffective）。
const FileName = "dcmconv.yaml"

const (
	// ErrCodeNotFound 表示未在 CLI 指定目录，且 cwd 下没有 dcmconv.yaml。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示未在 CLI 指定目录，且配置文件缺少 dicom_dir 字段。
	ErrCodeMissingPath = "config_missing_path"
)

const (
	DefaultPlotWidthIn  = 6.4
	DefaultPlotHeightIn = 4.8
)

// CLIArgs 只包含 CLI 暴露的入口，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --anonymous=false 必须能覆盖 anonymous: true。
type CLIArgs struct {
	DicomDir string

	Anonymous    bool
	AnonymousSet bool

	Verbosity    string
	VerbositySet bool
}

// FileConfig 对应 dcmconv.yaml 的解析结构。
type FileConfig struct {
	DicomDir    string      `yaml:"dicom_dir"`
	Anonymous   *bool       `yaml:"anonymous"`
	Verbosity   string      `yaml:"verbosity"`
	JPEGQuality int         `yaml:"jpeg_quality"`
	Plot        *PlotConfig `yaml:"plot"`
}

type PlotConfig struct {
	WidthIn  float64 `yaml:"width_in"`
	HeightIn float64 `yaml:"height_in"`
	Colormap string  `yaml:"colormap"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	DicomDir  string
	Anonymous bool
	Verbosity string

	JPEGQuality  int
	PlotWidthIn  float64
	PlotHeightIn float64
	Colormap     string

	// ConfigFile 是实际读到的配置文件；未读到时为空。
	ConfigFile string
}

// EncodeOptions 把编码相关字段转为 encode.Options。
func (e EffectiveConfig) EncodeOptions() encode.Options {
	return encode.Options{
		JPEGQuality: e.JPEGQuality,
		PlotWidth:   vg.Length(e.PlotWidthIn) * vg.Inch,
		PlotHeight:  vg.Length(e.PlotHeightIn) * vg.Inch,
		Colormap:    e.Colormap,
	}
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 dicom_dir", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 dicom_dir：尝试读取 <dicom_dir>/dcmconv.yaml（可选）
// 2) CLI 未提供：必须读取 <cwd>/dcmconv.yaml（必选），且其中必须包含 dicom_dir
//
// 覆盖优先级（固定）：
// - dicom_dir：CLI > config（config 中的相对路径以配置文件所在目录为基准）
// - anonymous：CLI --anonymous/--anonymous=false > config > 默认 false
// - verbosity：CLI > config > 默认 INFO
// - 其他字段：仅由 config 控制（CLI 不暴露）
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.DicomDir) != "" {
		// CLI 给了目录：配置文件可选，位置固定在 <dicom_dir>/dcmconv.yaml。
		dir := absCleanFrom(cwdAbs, cli.DicomDir)
		cfgPath := filepath.Join(dir, FileName)

		fc, exists, err := readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			cfgPath = ""
		}
		return merge(dir, cli, fc, cfgPath)
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	if strings.TrimSpace(fc.DicomDir) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
	}

	return merge(absCleanFrom(cwdAbs, fc.DicomDir), cli, fc, cfgPath)
}

func merge(dir string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	anonymous := false
	if cli.AnonymousSet {
		anonymous = cli.Anonymous
	} else if fc.Anonymous != nil {
		anonymous = *fc.Anonymous
	}

	verbosity := logx.DefaultVerbosity
	if cli.VerbositySet {
		verbosity = cli.Verbosity
	} else if strings.TrimSpace(fc.Verbosity) != "" {
		verbosity = fc.Verbosity
	}
	verbosity = strings.ToUpper(strings.TrimSpace(verbosity))
	if _, err := logx.ParseVerbosity(verbosity); err != nil {
		return invalid(err)
	}

	quality := fc.JPEGQuality
	if quality == 0 {
		quality = encode.DefaultJPEGQuality
	}
	if quality < 1 || quality > 100 {
		return invalid(fmt.Errorf("jpeg_quality 必须在 [1, 100]，实际是 %d", quality))
	}

	width, height, colormap := DefaultPlotWidthIn, DefaultPlotHeightIn, encode.DefaultColormap
	if fc.Plot != nil {
		if fc.Plot.WidthIn < 0 || fc.Plot.HeightIn < 0 {
			return invalid(fmt.Errorf("plot 尺寸不能为负：%vx%v", fc.Plot.WidthIn, fc.Plot.HeightIn))
		}
		if fc.Plot.WidthIn > 0 {
			width = fc.Plot.WidthIn
		}
		if fc.Plot.HeightIn > 0 {
			height = fc.Plot.HeightIn
		}
		if c := strings.ToLower(strings.TrimSpace(fc.Plot.Colormap)); c != "" {
			colormap = c
		}
	}
	if _, err := encode.NewColormap(colormap); err != nil {
		return invalid(fmt.Errorf("plot.colormap 无效：%w", err))
	}

	return EffectiveConfig{
		DicomDir:     dir,
		Anonymous:    anonymous,
		Verbosity:    verbosity,
		JPEGQuality:  quality,
		PlotWidthIn:  width,
		PlotHeightIn: height,
		Colormap:     colormap,
		ConfigFile:   cfgPath,
	}, nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 YAML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := yaml.UnmarshalStrict(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
