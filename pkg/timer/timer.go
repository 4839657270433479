// Package timer 基于墙上时钟的定时器管理
//
// Manager 按名字管理周期性和一次性定时器，回调在独立的 goroutine 中执行，
// 回调 panic 会被记录并吞掉，不影响后续触发。Scheduler 在 Manager 之上
// 提供串行执行的 policebox.Scheduler 实现，用于实时回放。
package timer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/junbin-yang/go-policebox/pkg/logger"
)

var (
	ErrTimerExists   = errors.New("定时器已存在")
	ErrTimerNotFound = errors.New("定时器不存在")
	ErrInvalidSpec   = errors.New("无效的时间规格")
	ErrStopped       = errors.New("定时器管理器已停止")
)

// TimerInfo 定时器信息
type TimerInfo struct {
	ID       string
	Interval time.Duration
	IsOnce   bool
	Created  time.Time
	Fired    uint64
}

type entry struct {
	info  TimerInfo
	fn    func()
	timer *time.Timer
}

// Manager 定时器管理器，并发安全
type Manager struct {
	mu      sync.Mutex
	timers  map[string]*entry
	stopped bool
	log     logger.Logger
}

// NewManager 创建定时器管理器
func NewManager() *Manager {
	return &Manager{
		timers: make(map[string]*entry),
		log:    logger.Default(),
	}
}

// SetLogger 设置记录回调 panic 的日志
func (m *Manager) SetLogger(l logger.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = l
}

// CreateTimer 创建周期性定时器
func (m *Manager) CreateTimer(id string, interval time.Duration, fn func()) error {
	return m.create(id, interval, fn, false)
}

// CreateOnceTimer 创建一次性定时器，触发后自动移除
func (m *Manager) CreateOnceTimer(id string, delay time.Duration, fn func()) error {
	return m.create(id, delay, fn, true)
}

func (m *Manager) create(id string, d time.Duration, fn func(), once bool) error {
	if fn == nil {
		return fmt.Errorf("%w: 回调为空", ErrInvalidSpec)
	}
	if d <= 0 && !once {
		return fmt.Errorf("%w: 间隔 %v", ErrInvalidSpec, d)
	}
	if d < 0 {
		d = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if _, ok := m.timers[id]; ok {
		return fmt.Errorf("%w: %s", ErrTimerExists, id)
	}

	e := &entry{
		info: TimerInfo{ID: id, Interval: d, IsOnce: once, Created: time.Now()},
		fn:   fn,
	}
	e.timer = time.AfterFunc(d, func() { m.fire(e) })
	m.timers[id] = e
	return nil
}

func (m *Manager) fire(e *entry) {
	m.mu.Lock()
	if m.timers[e.info.ID] != e {
		// 已被移除或被同名定时器替换
		m.mu.Unlock()
		return
	}
	e.info.Fired++
	if e.info.IsOnce {
		delete(m.timers, e.info.ID)
	} else {
		e.timer.Reset(e.info.Interval)
	}
	fn, log := e.fn, m.log
	m.mu.Unlock()

	safeCall(log, e.info.ID, fn)
}

func safeCall(log logger.Logger, id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("定时器回调 panic", logger.String("timer", id), logger.Any("panic", r))
		}
	}()
	fn()
}

// RemoveTimer 停止并移除定时器
func (m *Manager) RemoveTimer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.timers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTimerNotFound, id)
	}
	e.timer.Stop()
	delete(m.timers, id)
	return nil
}

// ResetTimer 修改间隔并从现在开始重新计时
func (m *Manager) ResetTimer(id string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: 间隔 %v", ErrInvalidSpec, interval)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.timers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTimerNotFound, id)
	}
	e.info.Interval = interval
	e.timer.Reset(interval)
	return nil
}

// GetTimer 返回定时器信息的副本
func (m *Manager) GetTimer(id string) (TimerInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.timers[id]
	if !ok {
		return TimerInfo{}, false
	}
	return e.info, true
}

// ListTimers 返回按名字排序的定时器列表
func (m *Manager) ListTimers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.timers))
	for id := range m.timers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetTimerCount 返回定时器数量
func (m *Manager) GetTimerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// StopAll 停止并移除所有定时器，之后不能再创建
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.timers {
		e.timer.Stop()
		delete(m.timers, id)
	}
	m.stopped = true
}

// ScheduleFunc 按时间规格创建周期性定时器
//
// 支持 Go 时长格式（"100ms"、"1m30s"）和 "@every <时长>"。
func (m *Manager) ScheduleFunc(id, spec string, fn func()) error {
	d, err := ParseSpec(spec)
	if err != nil {
		return err
	}
	return m.CreateTimer(id, d, fn)
}

// ParseSpec 解析时间规格
func ParseSpec(spec string) (time.Duration, error) {
	s := strings.TrimSpace(spec)
	s = strings.TrimSpace(strings.TrimPrefix(s, "@every"))
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSpec, spec)
	}
	return d, nil
}
