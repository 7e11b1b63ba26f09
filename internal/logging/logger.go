package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options 描述 logger 的构造参数。Writer 为空时写到 stderr（stdout 留给 JSON 报告）。
type Options struct {
	Level  string
	Format string
	Writer io.Writer
}

// New 按 Options 构造 slog logger：console 为 key=value 文本，json 为单行 JSON。
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	hopts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", FormatConsole:
		hopts.ReplaceAttr = consoleTime
		handler = slog.NewTextHandler(w, hopts)
	case FormatJSON:
		handler = slog.NewJSONHandler(w, hopts)
	default:
		return nil, fmt.Errorf("log format: 不支持的取值 %q", opts.Format)
	}
	return slog.New(handler), nil
}

// ParseLevel 解析日志级别；空串为 info。
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log level: 不支持的取值 %q", level)
	}
}

// console 只保留到秒的本地时间，便于终端阅读。
func consoleTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		return slog.String(slog.TimeKey, a.Value.Time().Format(time.DateTime))
	}
	return a
}

// NewNop 返回丢弃一切输出的 logger，供测试与无法失败的装配代码使用。
func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// OrNop 把 nil logger 替换为 no-op logger。
func OrNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return NewNop()
	}
	return l
}

type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }
func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler        { return NoopHandler{} }
func (NoopHandler) WithGroup(string) slog.Handler             { return NoopHandler{} }
