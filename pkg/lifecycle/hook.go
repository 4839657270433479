package lifecycle

import (
	"context"

	"go.uber.org/multierr"
)

// HookFunc 生命周期钩子
type HookFunc func(ctx context.Context) error

// WorkerHookFunc 任务启动、退出时的钩子，err 为任务的返回值
type WorkerHookFunc func(name string, err error)

// Hooks 按注册顺序调用的钩子
type Hooks struct {
	onStartup     []HookFunc
	onWorkerStart []WorkerHookFunc
	onWorkerExit  []WorkerHookFunc
	onShutdown    []HookFunc
	onTimeout     []HookFunc
}

func newHooks() *Hooks { return &Hooks{} }

// callStartup 任一启动钩子失败即停止，Run 直接返回该错误
func (h *Hooks) callStartup(ctx context.Context) error {
	for _, fn := range h.onStartup {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hooks) callWorkerStart(name string, err error) {
	for _, fn := range h.onWorkerStart {
		fn(name, err)
	}
}

func (h *Hooks) callWorkerExit(name string, err error) {
	for _, fn := range h.onWorkerExit {
		fn(name, err)
	}
}

// callShutdown 所有退出钩子都会执行，错误合并返回
func (h *Hooks) callShutdown(ctx context.Context) error {
	return callAll(ctx, h.onShutdown)
}

func (h *Hooks) callTimeout(ctx context.Context) error {
	return callAll(ctx, h.onTimeout)
}

func callAll(ctx context.Context, fns []HookFunc) error {
	var err error
	for _, fn := range fns {
		err = multierr.Append(err, fn(ctx))
	}
	return err
}
