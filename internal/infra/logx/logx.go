// Package logx 统一构造 zerolog 日志器，并把 CLI 的 verbosity 名称映射到 zerolog 级别。
package logx

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultVerbosity 是未指定时的级别名。
const DefaultVerbosity = "INFO"

var levels = map[string]zerolog.Level{
	"NOTSET":   zerolog.TraceLevel,
	"DEBUG":    zerolog.DebugLevel,
	"INFO":     zerolog.InfoLevel,
	"WARNING":  zerolog.WarnLevel,
	"ERROR":    zerolog.ErrorLevel,
	"CRITICAL": zerolog.FatalLevel,
}

// Verbosities 按从低到高的顺序返回可选级别名。
func Verbosities() []string {
	return []string{"NOTSET", "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}
}

// ParseVerbosity 把级别名（大小写不敏感；空串视为 INFO）映射为 zerolog 级别。
func ParseVerbosity(s string) (zerolog.Level, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		s = DefaultVerbosity
	}
	lvl, ok := levels[s]
	if !ok {
		return zerolog.NoLevel, fmt.Errorf("verbosity 只能是 %s，实际是 %q", strings.Join(Verbosities(), "/"), s)
	}
	return lvl, nil
}

// New 构造日志器：console=true 时输出人类可读格式（终端），否则输出 JSON 行。
func New(w io.Writer, level zerolog.Level, console bool) zerolog.Logger {
	out := w
	if console {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
