package lifecycle

import "context"

// RunFunc 任务运行函数，ctx 取消时应尽快返回
type RunFunc func(ctx context.Context) error

// StopFunc 任务停止函数，在 ctx 取消之后调用
type StopFunc func(ctx context.Context) error

// Worker 由管理器在独立协程中运行的任务
type Worker struct {
	name     string
	runFunc  RunFunc
	stopFunc StopFunc
	err      error
}

// WorkerOption 任务配置选项
type WorkerOption func(*Worker)

func NewWorker(name string, runFunc RunFunc, opts ...WorkerOption) *Worker {
	w := &Worker{name: name, runFunc: runFunc}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WithStopFunc 设置停止函数
func WithStopFunc(stopFunc StopFunc) WorkerOption {
	return func(w *Worker) {
		w.stopFunc = stopFunc
	}
}

func (w *Worker) Name() string { return w.name }

func (w *Worker) Run(ctx context.Context) error {
	w.err = w.runFunc(ctx)
	return w.err
}

func (w *Worker) Stop(ctx context.Context) error {
	if w.stopFunc != nil {
		return w.stopFunc(ctx)
	}
	return nil
}

// Err 返回 Run 的结果
func (w *Worker) Err() error { return w.err }
