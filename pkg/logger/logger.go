package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"PortfolioAgent/pkg/config"
)

// Logger 结构化日志，封装 zerolog
type Logger struct {
	zl zerolog.Logger
}

// New 根据日志配置创建Logger
func New(cfg config.Logging) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("无效的日志级别: %w", err)
	}

	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = file
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.DateTime}
	}

	return NewWithWriter(output, level), nil
}

// NewWithWriter 写入任意 io.Writer，测试中用于断言日志内容
func NewWithWriter(w io.Writer, level zerolog.Level) *Logger {
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Nop 丢弃所有日志
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With 返回附带固定字段的子Logger
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = f.addToContext(ctx)
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(l.zl.Debug(), msg, fields) }

func (l *Logger) Info(msg string, fields ...Field) { l.write(l.zl.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) { l.write(l.zl.Warn(), msg, fields) }

func (l *Logger) Error(msg string, fields ...Field) { l.write(l.zl.Error(), msg, fields) }

func (l *Logger) write(event *zerolog.Event, msg string, fields []Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		f.addTo(event)
	}
	event.Msg(msg)
}

// Field 日志字段
type Field struct {
	key   string
	value interface{}
}

func (f Field) addTo(e *zerolog.Event) {
	switch v := f.value.(type) {
	case string:
		e.Str(f.key, v)
	case int:
		e.Int(f.key, v)
	case int64:
		e.Int64(f.key, v)
	case bool:
		e.Bool(f.key, v)
	case time.Duration:
		e.Dur(f.key, v)
	case error:
		e.AnErr(f.key, v)
	default:
		e.Interface(f.key, v)
	}
}

func (f Field) addToContext(c zerolog.Context) zerolog.Context {
	switch v := f.value.(type) {
	case string:
		return c.Str(f.key, v)
	case int:
		return c.Int(f.key, v)
	default:
		return c.Interface(f.key, v)
	}
}

func String(key, value string) Field { return Field{key: key, value: value} }

func Int(key string, value int) Field { return Field{key: key, value: value} }

func Int64(key string, value int64) Field { return Field{key: key, value: value} }

func Bool(key string, value bool) Field { return Field{key: key, value: value} }

func Duration(key string, value time.Duration) Field { return Field{key: key, value: value} }

func Any(key string, value interface{}) Field { return Field{key: key, value: value} }

func Strings(key string, value []string) Field { return String(key, strings.Join(value, ",")) }

// Error 以 "error" 为键记录错误，nil 时忽略
func Error(err error) Field {
	if err == nil {
		return Field{key: "error", value: ""}
	}
	return Field{key: "error", value: err}
}
