package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func Test_LOG(t *testing.T) {
	defer func() { _ = Sync() }()
	Info("Info msg")
	Warn("Warn msg")
	Error("Error msg")
	Debug("Debug msg", Int("flow", 3))
}

// CustomLogger 自定义日志实现示例
type CustomLogger struct{}

func (c *CustomLogger) Debug(msg string, fields ...Field)      {}
func (c *CustomLogger) Info(msg string, fields ...Field)       {}
func (c *CustomLogger) Warn(msg string, fields ...Field)       {}
func (c *CustomLogger) Error(msg string, fields ...Field)      {}
func (c *CustomLogger) Panic(msg string, fields ...Field)      {}
func (c *CustomLogger) Fatal(msg string, fields ...Field)      {}
func (c *CustomLogger) Debugf(format string, v ...interface{}) {}
func (c *CustomLogger) Infof(format string, v ...interface{})  {}
func (c *CustomLogger) Warnf(format string, v ...interface{})  {}
func (c *CustomLogger) Errorf(format string, v ...interface{}) {}
func (c *CustomLogger) Panicf(format string, v ...interface{}) {}
func (c *CustomLogger) Fatalf(format string, v ...interface{}) {}
func (c *CustomLogger) SetLevel(level Level)                   {}
func (c *CustomLogger) Sync() error                            { return nil }

func Test_CustomLogger(t *testing.T) {
	// 替换为自定义日志实现
	old := Default()
	custom := &CustomLogger{}
	ReplaceDefault(custom)

	// 验证可以正常调用
	Info("test custom logger")
	Debugf("test %s", "custom logger")

	// 恢复默认实现
	ReplaceDefault(old)
}

func Test_LevelMapping(t *testing.T) {
	// 验证级别映射正确
	tests := []struct {
		level Level
		want  int8
	}{
		{DebugLevel, -1},
		{InfoLevel, 0},
		{WarnLevel, 1},
		{ErrorLevel, 2},
		{PanicLevel, 4}, // 跳过 DPanic=3
		{FatalLevel, 5},
	}
	for _, tt := range tests {
		if got := int8(toZapLevel(tt.level)); got != tt.want {
			t.Errorf("级别 %d 映射错误: got %d, want %d", tt.level, got, tt.want)
		}
	}
}

func Test_ParseLevel(t *testing.T) {
	if l, ok := ParseLevel("debug"); !ok || l != DebugLevel {
		t.Errorf("debug 解析错误: %v %v", l, ok)
	}
	if l, ok := ParseLevel("verbose"); ok || l != InfoLevel {
		t.Errorf("未知级别应回退到 info: %v %v", l, ok)
	}
}

func Test_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WarnLevel)

	l.Info("不应输出")
	l.With(String("box", "b1")).Warn("应输出", Float64("capacity", 12.5))

	out := buf.String()
	if strings.Contains(out, "不应输出") {
		t.Errorf("低于级别的日志被输出: %q", out)
	}
	if !strings.Contains(out, "[WARN]") || !strings.Contains(out, "box") {
		t.Errorf("日志格式错误: %q", out)
	}

	buf.Reset()
	l.SetLevel(DebugLevel)
	l.Debugf("flow %d", 2)
	if !strings.Contains(buf.String(), "flow 2") {
		t.Errorf("调整级别后 Debug 未输出: %q", buf.String())
	}
}

func Test_NewFromConfig(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  OutputConfig
	}{
		{"按大小切割", OutputConfig{Level: "info", File: filepath.Join(dir, "size", "box.log")}},
		{"按时间切割", OutputConfig{Level: "debug", File: filepath.Join(dir, "time", "box.log"), Rotate: "time"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, closer, err := NewFromConfig(tt.cfg)
			if err != nil {
				t.Fatalf("创建日志失败: %v", err)
			}
			l.Info("hello")
			_ = l.Sync()
			if err := closer.Close(); err != nil {
				t.Errorf("关闭失败: %v", err)
			}
			entries, err := os.ReadDir(filepath.Dir(tt.cfg.File))
			if err != nil || len(entries) == 0 {
				t.Errorf("日志文件未生成: %v", err)
			}
		})
	}

	if _, _, err := NewFromConfig(OutputConfig{Level: "loud"}); err == nil {
		t.Error("未知级别应返回错误")
	}
	if _, _, err := NewFromConfig(OutputConfig{File: filepath.Join(dir, "x.log"), Rotate: "weekly"}); err == nil {
		t.Error("未知切割方式应返回错误")
	}
}
