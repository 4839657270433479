package logger

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger 基于 zap 的日志实现，结构化方法走 zap.Logger，格式化方法走 SugaredLogger
type ZapLogger struct {
	l  *zap.Logger
	s  *zap.SugaredLogger
	al *zap.AtomicLevel
}

func wrap(l *zap.Logger, al *zap.AtomicLevel) *ZapLogger {
	return &ZapLogger{l: l, s: l.Sugar(), al: al}
}

// New 输出到 out 的控制台格式日志，out 为空时输出到标准错误
func New(out io.Writer, level Level, opts ...Option) *ZapLogger {
	if out == nil {
		out = os.Stderr
	}
	al := zap.NewAtomicLevelAt(toZapLevel(level))
	core := zapcore.NewCore(GetEncoder(), zapcore.AddSync(out), al)
	return wrap(zap.New(core, opts...), &al)
}

// zap 的 DPanic 没有对应级别
var zapLevels = map[Level]zapcore.Level{
	DebugLevel: zapcore.DebugLevel,
	InfoLevel:  zapcore.InfoLevel,
	WarnLevel:  zapcore.WarnLevel,
	ErrorLevel: zapcore.ErrorLevel,
	PanicLevel: zapcore.PanicLevel,
	FatalLevel: zapcore.FatalLevel,
}

func toZapLevel(level Level) zapcore.Level {
	if zl, ok := zapLevels[level]; ok {
		return zl
	}
	return zapcore.InfoLevel
}

const defaultTimeFormat = "2006-01-02 15:04:05"

// bracket 把编码结果包在方括号里：[WARN] [2006-01-02 15:04:05] [policebox/tick.go:42]
func bracket(s string, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + s + "]")
}

// GetEncoder 控制台编码器，级别、时间和调用位置都带方括号
func GetEncoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.CallerKey = "caller_line"
	cfg.FunctionKey = zapcore.OmitKey
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		bracket(l.CapitalString(), enc)
	}
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		bracket(t.Format(defaultTimeFormat), enc)
	}
	cfg.EncodeCaller = func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		bracket(c.TrimmedPath(), enc)
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// With 返回携带固定字段的子日志，级别与父日志共享
func (z *ZapLogger) With(fields ...Field) *ZapLogger {
	return wrap(z.l.With(fields...), z.al)
}

// Named 返回带名称的子日志
func (z *ZapLogger) Named(name string) *ZapLogger {
	return wrap(z.l.Named(name), z.al)
}

// SetLevel 调整级别，子日志同时生效；Nop 日志忽略
func (z *ZapLogger) SetLevel(level Level) {
	if z.al != nil {
		z.al.SetLevel(toZapLevel(level))
	}
}

func (z *ZapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, fields...) }
func (z *ZapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, fields...) }
func (z *ZapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, fields...) }
func (z *ZapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, fields...) }
func (z *ZapLogger) Panic(msg string, fields ...Field) { z.l.Panic(msg, fields...) }
func (z *ZapLogger) Fatal(msg string, fields ...Field) { z.l.Fatal(msg, fields...) }

func (z *ZapLogger) Debugf(format string, v ...interface{}) { z.s.Debugf(format, v...) }
func (z *ZapLogger) Infof(format string, v ...interface{})  { z.s.Infof(format, v...) }
func (z *ZapLogger) Warnf(format string, v ...interface{})  { z.s.Warnf(format, v...) }
func (z *ZapLogger) Errorf(format string, v ...interface{}) { z.s.Errorf(format, v...) }
func (z *ZapLogger) Panicf(format string, v ...interface{}) { z.s.Panicf(format, v...) }
func (z *ZapLogger) Fatalf(format string, v ...interface{}) { z.s.Fatalf(format, v...) }

// Sync 刷新缓冲
func (z *ZapLogger) Sync() error { return z.l.Sync() }
