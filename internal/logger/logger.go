package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// 文本格式便于终端阅读；json 格式供日志采集。
const (
	FormatText = "text"
	FormatJSON = "json"
)

type sink struct {
	out    io.Writer
	format string
	log    *slog.Logger
}

var (
	levelVar slog.LevelVar
	current  atomic.Pointer[sink]
)

func init() {
	levelVar.Set(slog.LevelInfo)
	install(os.Stdout, FormatText)
}

func install(w io.Writer, format string) {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: &levelVar}
	var h slog.Handler
	if format == FormatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		format = FormatText
		h = slog.NewTextHandler(w, opts)
	}
	current.Store(&sink{out: w, format: format, log: slog.New(h)})
}

// SetOutput 切换输出，保留当前格式。nil 恢复为 stdout。
func SetOutput(w io.Writer) {
	install(w, current.Load().format)
}

// SetFormat 切换 text/json，未知值按 text 处理。
func SetFormat(format string) {
	install(current.Load().out, strings.ToLower(strings.TrimSpace(format)))
}

// SetLevel 接受 debug/info/warn/error，无法识别时回到 info。
func SetLevel(level string) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	if err := levelVar.UnmarshalText([]byte(level)); err != nil {
		levelVar.Set(slog.LevelInfo)
	}
}

// L 返回当前 logger，供需要 slog 原生 API 的调用方使用。
func L() *slog.Logger { return current.Load().log }

// Component 返回带 component 属性的子 logger。
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

func Debugf(format string, v ...any) { L().Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { L().Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { L().Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { L().Error(fmt.Sprintf(format, v...)) }

// Event 输出一条结构化记录；带非空 error 属性时提升为 warn。
func Event(msg string, args ...any) {
	level := slog.LevelInfo
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok && key == "error" && args[i+1] != nil {
			level = slog.LevelWarn
			break
		}
	}
	L().Log(context.Background(), level, msg, args...)
}
