package lifecycle

import (
	"context"
	"os"
	"time"

	"github.com/junbin-yang/go-policebox/pkg/logger"
)

// Option 管理器配置选项
type Option func(*Manager)

// WithSignals 设置监听的信号，不传参数时不监听信号
func WithSignals(signals ...os.Signal) Option {
	return func(m *Manager) {
		m.signals = signals
	}
}

// WithShutdownTimeout 设置退出超时时间
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.shutdownTimeout = timeout
	}
}

// WithContext 设置根上下文
func WithContext(ctx context.Context) Option {
	return func(m *Manager) {
		m.rootCtx = ctx
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithExitWhenIdle 所有任务都结束后 Run 自动返回
func WithExitWhenIdle() Option {
	return func(m *Manager) {
		m.exitWhenIdle = true
	}
}
