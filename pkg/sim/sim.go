// Package sim 离散事件调度器
//
// Simulator 按 (时间, 登记顺序) 执行回调，同一时刻登记的回调按先后顺序执行，
// 结果完全确定。它实现了 policebox.Scheduler。
package sim

import (
	"container/heap"
	"time"

	"github.com/junbin-yang/go-policebox/pkg/policebox"
)

type event struct {
	at    time.Duration
	seq   uint64
	id    policebox.TaskID
	fn    func()
	index int
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	e := x.(*event)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// Simulator 单线程离散事件调度器，不可并发使用
type Simulator struct {
	now     time.Duration
	seq     uint64
	queue   eventQueue
	pending map[policebox.TaskID]*event
	stopped bool
	fired   uint64
}

// New 创建调度器，仿真时间从 0 开始
func New() *Simulator {
	return &Simulator{pending: make(map[policebox.TaskID]*event)}
}

// Now 返回当前仿真时间
func (s *Simulator) Now() time.Duration { return s.now }

// Schedule 在 delay 之后执行 fn，负的 delay 按 0 处理
func (s *Simulator) Schedule(delay time.Duration, fn func()) policebox.TaskID {
	if delay < 0 {
		delay = 0
	}
	s.seq++
	e := &event{at: s.now + delay, seq: s.seq, id: policebox.TaskID(s.seq), fn: fn}
	heap.Push(&s.queue, e)
	s.pending[e.id] = e
	return e.id
}

// At 在绝对时间 at 执行 fn，早于当前时间时立即执行
func (s *Simulator) At(at time.Duration, fn func()) policebox.TaskID {
	return s.Schedule(at-s.now, fn)
}

// Cancel 取消尚未执行的回调，重复取消无效
func (s *Simulator) Cancel(id policebox.TaskID) {
	e, ok := s.pending[id]
	if !ok {
		return
	}
	delete(s.pending, id)
	heap.Remove(&s.queue, e.index)
}

// Pending 返回尚未执行的回调数
func (s *Simulator) Pending() int { return len(s.queue) }

// Fired 返回已经执行的回调数
func (s *Simulator) Fired() uint64 { return s.fired }

// Step 执行下一个回调，队列为空时返回 false
func (s *Simulator) Step() bool {
	if len(s.queue) == 0 {
		return false
	}
	e := heap.Pop(&s.queue).(*event)
	delete(s.pending, e.id)
	s.now = e.at
	s.fired++
	e.fn()
	return true
}

// RunUntil 执行所有不晚于 end 的回调，然后把时间推进到 end
func (s *Simulator) RunUntil(end time.Duration) {
	s.stopped = false
	for !s.stopped && len(s.queue) > 0 && s.queue[0].at <= end {
		s.Step()
	}
	if !s.stopped && s.now < end {
		s.now = end
	}
}

// RunFor 从当前时间起运行 d
func (s *Simulator) RunFor(d time.Duration) {
	s.RunUntil(s.now + d)
}

// Run 执行到队列为空或调用了 Halt
func (s *Simulator) Run() {
	s.stopped = false
	for !s.stopped && s.Step() {
	}
}

// Halt 让正在进行的 Run/RunUntil 在当前回调返回后结束
func (s *Simulator) Halt() { s.stopped = true }
