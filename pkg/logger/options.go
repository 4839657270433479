package logger

import "go.uber.org/zap"

type Option = zap.Option

// AddCaller 输出调用位置
func AddCaller() Option { return zap.AddCaller() }

// AddCallerSkip 跳过的调用层数，封装层需要跳过自身
func AddCallerSkip(skip int) Option { return zap.AddCallerSkip(skip) }

// AddStacktrace 达到指定级别时输出调用栈
func AddStacktrace(level Level) Option { return zap.AddStacktrace(toZapLevel(level)) }
