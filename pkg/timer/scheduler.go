package timer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/junbin-yang/go-policebox/pkg/policebox"
)

// Scheduler 基于墙上时钟的 policebox.Scheduler
//
// 所有回调在同一把锁下串行执行，外部 goroutine 必须通过 Do 访问控制器，
// 以保持控制器单线程的约定。
type Scheduler struct {
	mu    sync.Mutex
	mgr   *Manager
	start time.Time
	seq   atomic.Uint64
}

// NewScheduler 创建调度器，时间从创建时刻开始计
func NewScheduler(mgr *Manager) *Scheduler {
	if mgr == nil {
		mgr = NewManager()
	}
	return &Scheduler{mgr: mgr, start: time.Now()}
}

// Now 返回自创建以来经过的时间
func (s *Scheduler) Now() time.Duration { return time.Since(s.start) }

func taskName(id policebox.TaskID) string { return fmt.Sprintf("sched-%d", id) }

// Schedule 在 delay 之后串行执行 fn
func (s *Scheduler) Schedule(delay time.Duration, fn func()) policebox.TaskID {
	id := policebox.TaskID(s.seq.Add(1))
	err := s.mgr.CreateOnceTimer(taskName(id), delay, func() { s.Do(fn) })
	if err != nil {
		// 管理器已停止，任务不会执行
		return 0
	}
	return id
}

// Cancel 取消尚未执行的任务
func (s *Scheduler) Cancel(id policebox.TaskID) {
	if id == 0 {
		return
	}
	_ = s.mgr.RemoveTimer(taskName(id))
}

// Do 在调度器的串行上下文中执行 fn
func (s *Scheduler) Do(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Pending 返回待执行任务数
func (s *Scheduler) Pending() int { return s.mgr.GetTimerCount() }

// Close 停止所有待执行的任务
func (s *Scheduler) Close() error {
	s.mgr.StopAll()
	return nil
}
