// Package lifecycle 进程内长期任务的启动与优雅退出
package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/junbin-yang/go-policebox/pkg/logger"
)

// Manager 生命周期管理器
type Manager struct {
	mu              sync.RWMutex
	workers         map[string]*Worker
	workerContexts  map[string]context.CancelFunc
	workerOrder     []string
	hooks           *Hooks
	signals         []os.Signal
	shutdownTimeout time.Duration
	rootCtx         context.Context
	runCtx          context.Context
	cancel          context.CancelFunc
	log             logger.Logger
	running         bool
	exitWhenIdle    bool
	active          int
	idle            chan struct{}
	wg              sync.WaitGroup
	errChan         chan error
	shutdownOnce    sync.Once
	shutdownErr     error
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		workers:         make(map[string]*Worker),
		workerContexts:  make(map[string]context.CancelFunc),
		hooks:           newHooks(),
		signals:         []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		shutdownTimeout: 30 * time.Second,
		rootCtx:         context.Background(),
		log:             logger.Default(),
		idle:            make(chan struct{}),
		errChan:         make(chan error, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddWorker 添加任务，管理器已运行时立即启动
func (m *Manager) AddWorker(name string, runFunc RunFunc, opts ...WorkerOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workers[name]; exists {
		return ErrWorkerExists
	}
	m.workers[name] = NewWorker(name, runFunc, opts...)
	m.workerOrder = append(m.workerOrder, name)

	if m.running {
		m.launch(m.runCtx, name)
	}
	return nil
}

// launch 在新协程中运行任务，调用方持有 m.mu
func (m *Manager) launch(ctx context.Context, name string) {
	w := m.workers[name]
	wCtx, wCancel := context.WithCancel(ctx)
	m.workerContexts[name] = wCancel
	m.active++
	m.wg.Add(1)

	go func() {
		defer m.exited(name)

		m.hooks.callWorkerStart(name, nil)
		m.log.Debug("任务启动", logger.String("worker", name))
		err := w.Run(wCtx)
		m.hooks.callWorkerExit(name, err)

		if err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error("任务异常退出", logger.String("worker", name), logger.GetError(err))
			select {
			case m.errChan <- err:
			default:
			}
			return
		}
		m.log.Debug("任务结束", logger.String("worker", name))
	}()
}

func (m *Manager) exited(name string) {
	m.mu.Lock()
	if cancel, ok := m.workerContexts[name]; ok {
		cancel()
		delete(m.workerContexts, name)
	}
	delete(m.workers, name)
	for i, n := range m.workerOrder {
		if n == name {
			m.workerOrder = append(m.workerOrder[:i], m.workerOrder[i+1:]...)
			break
		}
	}
	m.active--
	m.checkIdle()
	m.mu.Unlock()
	m.wg.Done()
}

// checkIdle 没有活动任务时通知 Run 退出，调用方持有 m.mu
func (m *Manager) checkIdle() {
	if m.active > 0 || !m.exitWhenIdle {
		return
	}
	select {
	case <-m.idle:
	default:
		close(m.idle)
	}
}

// StopWorker 取消指定任务并调用它的停止函数
func (m *Manager) StopWorker(name string) error {
	m.mu.Lock()
	worker, exists := m.workers[name]
	cancel, hasCancel := m.workerContexts[name]
	m.mu.Unlock()

	if !exists {
		return ErrWorkerNotFound
	}
	if hasCancel {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer done()
	return worker.Stop(ctx)
}

// Workers 返回仍在管理中的任务名
func (m *Manager) Workers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.workerOrder...)
}

// register 在锁内登记钩子，运行中登记的钩子从下一次调用起生效
func register[F any](m *Manager, list *[]F, fn F) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*list = append(*list, fn)
}

// OnStartup 任务启动前调用，任一钩子出错 Run 直接返回
func (m *Manager) OnStartup(fn HookFunc) { register(m, &m.hooks.onStartup, fn) }

func (m *Manager) OnWorkerStart(fn WorkerHookFunc) { register(m, &m.hooks.onWorkerStart, fn) }
func (m *Manager) OnWorkerExit(fn WorkerHookFunc)  { register(m, &m.hooks.onWorkerExit, fn) }

// OnShutdown 所有任务退出后调用
func (m *Manager) OnShutdown(fn HookFunc) { register(m, &m.hooks.onShutdown, fn) }

// OnTimeout 等待任务退出超时时调用，此时 OnShutdown 不再执行
func (m *Manager) OnTimeout(fn HookFunc) { register(m, &m.hooks.onTimeout, fn) }

// Run 启动所有任务，直到收到信号、任务出错、上下文取消或（WithExitWhenIdle 时）所有任务结束
func (m *Manager) Run() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	ctx, cancel := context.WithCancel(m.rootCtx)
	m.runCtx = ctx
	m.cancel = cancel
	m.mu.Unlock()

	if err := m.hooks.callStartup(ctx); err != nil {
		cancel()
		return err
	}

	m.mu.Lock()
	for _, name := range m.workerOrder {
		m.launch(ctx, name)
	}
	m.checkIdle()
	m.mu.Unlock()

	sigChan := make(chan os.Signal, 1)
	if len(m.signals) > 0 {
		signal.Notify(sigChan, m.signals...)
		defer signal.Stop(sigChan)
	}

	var runErr error
	select {
	case sig := <-sigChan:
		m.log.Info("收到退出信号", logger.String("signal", sig.String()))
	case runErr = <-m.errChan:
	case <-m.idle:
		m.log.Debug("所有任务已结束")
	case <-ctx.Done():
	}
	return multierr.Append(runErr, m.shutdown())
}

// Shutdown 手动触发退出，可与 Run 并发调用，退出流程只执行一次
func (m *Manager) Shutdown() error {
	m.mu.RLock()
	cancel := m.cancel
	m.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	return m.shutdown()
}

// shutdown 取消所有任务，按添加顺序的逆序调用停止函数，然后等待任务退出
func (m *Manager) shutdown() error {
	m.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
		defer cancel()

		m.mu.Lock()
		for _, cancelFunc := range m.workerContexts {
			cancelFunc()
		}
		stopping := make([]*Worker, 0, len(m.workerOrder))
		for i := len(m.workerOrder) - 1; i >= 0; i-- {
			stopping = append(stopping, m.workers[m.workerOrder[i]])
		}
		m.mu.Unlock()

		var err error
		for _, w := range stopping {
			err = multierr.Append(err, w.Stop(ctx))
		}

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			_ = m.hooks.callTimeout(ctx)
			m.shutdownErr = multierr.Append(err, ErrShutdownTimeout)
			return
		}
		m.shutdownErr = multierr.Append(err, m.hooks.callShutdown(ctx))
	})
	return m.shutdownErr
}
