package trace

import (
	"time"

	"github.com/junbin-yang/go-policebox/pkg/logger"
	"github.com/junbin-yang/go-policebox/pkg/policebox"
)

// ReplayStats 回放统计
type ReplayStats struct {
	Events    int `json:"events"`
	Delivered int `json:"delivered"`
	Dropped   int `json:"dropped"`
}

// Replayer 按事件时间把轨迹投递给观察者
//
// 同一时刻只登记一个待执行回调，执行时投递所有同一时间的事件，再登记下一批。
type Replayer struct {
	sched  policebox.Scheduler
	obs    policebox.Observer
	log    logger.Logger
	events []Event
	next   int
	base   time.Duration
	stats  ReplayStats
	task   policebox.TaskID
	done   []func()
}

// NewReplayer 创建回放器，log 为空时使用默认日志
func NewReplayer(sched policebox.Scheduler, obs policebox.Observer, log logger.Logger) *Replayer {
	if log == nil {
		log = logger.Default()
	}
	return &Replayer{sched: sched, obs: obs, log: log}
}

// OnDone 注册回放结束时的回调
func (r *Replayer) OnDone(fn func()) { r.done = append(r.done, fn) }

// Start 从当前时间开始回放，事件时间相对于第一个事件
func (r *Replayer) Start(events []Event) {
	r.events = events
	r.next = 0
	if len(events) == 0 {
		r.finish()
		return
	}
	r.base = r.sched.Now() - events[0].At
	r.arm()
}

// Stop 取消尚未投递的事件
func (r *Replayer) Stop() {
	if r.task != 0 {
		r.sched.Cancel(r.task)
		r.task = 0
	}
}

// Duration 返回轨迹的时长
func (r *Replayer) Duration() time.Duration {
	if len(r.events) == 0 {
		return 0
	}
	return r.events[len(r.events)-1].At - r.events[0].At
}

// Stats 返回已投递的事件统计
func (r *Replayer) Stats() ReplayStats { return r.stats }

// Done 是否已经投递完所有事件
func (r *Replayer) Done() bool { return r.next >= len(r.events) }

func (r *Replayer) arm() {
	at := r.base + r.events[r.next].At
	r.task = r.sched.Schedule(at-r.sched.Now(), r.fire)
}

func (r *Replayer) fire() {
	r.task = 0
	at := r.events[r.next].At
	for r.next < len(r.events) && r.events[r.next].At == at {
		ev := &r.events[r.next]
		r.next++
		r.stats.Events++
		if ev.Type == Deliver {
			r.stats.Delivered++
			if ev.Apply(r.obs) == policebox.Drop {
				r.stats.Dropped++
			}
			continue
		}
		ev.Apply(r.obs)
	}
	if r.Done() {
		r.finish()
		return
	}
	r.arm()
}

func (r *Replayer) finish() {
	r.log.Info("轨迹回放结束",
		logger.Int("events", r.stats.Events),
		logger.Int("delivered", r.stats.Delivered),
		logger.Int("dropped", r.stats.Dropped))
	for _, fn := range r.done {
		fn()
	}
}
