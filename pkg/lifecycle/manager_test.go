package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/junbin-yang/go-policebox/pkg/logger"
)

func newTestManager(opts ...Option) *Manager {
	opts = append([]Option{WithShutdownTimeout(time.Second), WithSignals(), WithLogger(logger.Nop())}, opts...)
	return NewManager(opts...)
}

func waitCtx(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func TestManager_AddWorker(t *testing.T) {
	m := newTestManager()

	if err := m.AddWorker("replay", waitCtx); err != nil {
		t.Fatalf("添加任务失败: %v", err)
	}
	if err := m.AddWorker("replay", waitCtx); err != ErrWorkerExists {
		t.Errorf("期望 ErrWorkerExists, got %v", err)
	}
	if got := m.Workers(); len(got) != 1 || got[0] != "replay" {
		t.Errorf("Workers() = %v", got)
	}
}

func TestManager_StopWorker(t *testing.T) {
	m := newTestManager()

	var stopped atomic.Bool
	_ = m.AddWorker("replay", func(ctx context.Context) error {
		<-ctx.Done()
		stopped.Store(true)
		return nil
	})

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = m.StopWorker("replay")
		time.Sleep(100 * time.Millisecond)
		_ = m.Shutdown()
	}()
	_ = m.Run()

	if !stopped.Load() {
		t.Error("任务未被停止")
	}
	if err := m.StopWorker("nonexistent"); err != ErrWorkerNotFound {
		t.Errorf("期望 ErrWorkerNotFound, got %v", err)
	}
}

func TestManager_Hooks(t *testing.T) {
	m := newTestManager()

	var startup, workerStart, workerExit, shutdown atomic.Int32
	m.OnStartup(func(ctx context.Context) error { startup.Add(1); return nil })
	m.OnWorkerStart(func(name string, err error) { workerStart.Add(1) })
	m.OnWorkerExit(func(name string, err error) { workerExit.Add(1) })
	m.OnShutdown(func(ctx context.Context) error { shutdown.Add(1); return nil })

	_ = m.AddWorker("replay", waitCtx)
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = m.Shutdown()
	}()
	_ = m.Run()

	for name, v := range map[string]int32{
		"OnStartup":     startup.Load(),
		"OnWorkerStart": workerStart.Load(),
		"OnWorkerExit":  workerExit.Load(),
		"OnShutdown":    shutdown.Load(),
	} {
		if v != 1 {
			t.Errorf("%s 调用了 %d 次, want 1", name, v)
		}
	}
}

func TestManager_StartupError(t *testing.T) {
	m := newTestManager()
	want := errors.New("配置无效")
	m.OnStartup(func(ctx context.Context) error { return want })
	if err := m.Run(); err != want {
		t.Errorf("Run() = %v, want %v", err, want)
	}
}

func TestManager_WorkerError(t *testing.T) {
	m := newTestManager()

	expectedErr := errors.New("回放失败")
	_ = m.AddWorker("replay", func(ctx context.Context) error {
		return expectedErr
	})
	_ = m.AddWorker("metrics", waitCtx)

	if err := m.Run(); !errors.Is(err, expectedErr) {
		t.Errorf("期望错误 %v, got %v", expectedErr, err)
	}
}

func TestManager_ExitWhenIdle(t *testing.T) {
	m := newTestManager(WithExitWhenIdle())

	var ran atomic.Int32
	for _, name := range []string{"a", "b"} {
		_ = m.AddWorker(name, func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			ran.Add(1)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- m.Run() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("所有任务结束后 Run 未返回")
	}
	if ran.Load() != 2 {
		t.Errorf("运行了 %d 个任务, want 2", ran.Load())
	}
	if len(m.Workers()) != 0 {
		t.Errorf("任务结束后仍有 %v", m.Workers())
	}
}

func TestManager_ShutdownTimeout(t *testing.T) {
	m := newTestManager(WithShutdownTimeout(100 * time.Millisecond))

	var timedOut atomic.Bool
	m.OnTimeout(func(ctx context.Context) error { timedOut.Store(true); return nil })

	release := make(chan struct{})
	defer close(release)
	_ = m.AddWorker("stuck", func(ctx context.Context) error {
		<-release
		return nil
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = m.Shutdown()
	}()
	if err := m.Run(); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("期望 ErrShutdownTimeout, got %v", err)
	}
	if !timedOut.Load() {
		t.Error("OnTimeout 未被调用")
	}
}

func TestManager_AlreadyRunning(t *testing.T) {
	m := newTestManager()
	_ = m.AddWorker("replay", waitCtx)

	done := make(chan error, 1)
	go func() { done <- m.Run() }()
	time.Sleep(50 * time.Millisecond)

	if err := m.Run(); err != ErrAlreadyRunning {
		t.Errorf("期望 ErrAlreadyRunning, got %v", err)
	}
	_ = m.Shutdown()
	<-done
}

func TestManager_DynamicWorker(t *testing.T) {
	m := newTestManager()
	_ = m.AddWorker("long-running", waitCtx)

	var tempDone atomic.Bool
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = m.AddWorker("temp-task", func(ctx context.Context) error {
			tempDone.Store(true)
			return nil
		})
		time.Sleep(200 * time.Millisecond)
		_ = m.Shutdown()
	}()
	_ = m.Run()

	if !tempDone.Load() {
		t.Error("运行中添加的任务未执行")
	}
}

func TestWorker_StopFunc(t *testing.T) {
	stopCalled := false
	worker := NewWorker("replay", waitCtx, WithStopFunc(func(ctx context.Context) error {
		stopCalled = true
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := worker.Run(ctx); err != nil || worker.Err() != nil {
		t.Errorf("Run() = %v", err)
	}
	_ = worker.Stop(context.Background())
	if !stopCalled {
		t.Error("StopFunc 未被调用")
	}
	if worker.Name() != "replay" {
		t.Errorf("Name() = %s", worker.Name())
	}
}

func TestManager_ShutdownHooksAllRun(t *testing.T) {
	m := newTestManager(WithExitWhenIdle())

	first, second := errors.New("关闭轨迹文件失败"), errors.New("刷新日志失败")
	var called atomic.Int32
	m.OnShutdown(func(ctx context.Context) error { called.Add(1); return first })
	m.OnShutdown(func(ctx context.Context) error { called.Add(1); return second })

	err := m.Run()
	if called.Load() != 2 {
		t.Errorf("退出钩子调用了 %d 次, want 2", called.Load())
	}
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Errorf("Run() = %v, 应同时包含两个钩子的错误", err)
	}
}
