package statemachine

import (
	"context"
	"sync"
)

// FSM 有限状态机实现
//
// 除了按 (源状态, 事件) 精确匹配的转换外，每个源状态还可以登记一条兜底转换，
// 当事件没有精确匹配时生效，用来表达 "其它情况" 一类的规则。
// 目标状态与当前状态相同的转换视为停留，不触发进入/退出回调，也不记录历史。
type FSM struct {
	mu          sync.RWMutex
	current     State
	initial     State
	transitions map[transitionKey]*Transition
	fallbacks   map[State]*Transition
	onEnter     map[State]ActionFunc
	onExit      map[State]ActionFunc
	onChange    ChangeFunc

	clock        Clock
	history      []Record
	historyLimit int
}

// NewFSM 创建新的有限状态机
func NewFSM(initial State, opts ...Option) *FSM {
	f := &FSM{
		current:     initial,
		initial:     initial,
		transitions: make(map[transitionKey]*Transition),
		fallbacks:   make(map[State]*Transition),
		onEnter:     make(map[State]ActionFunc),
		onExit:      make(map[State]ActionFunc),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Current 返回当前状态
func (f *FSM) Current() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// AddTransition 添加状态转换规则
func (f *FSM) AddTransition(from, to State, event Event) error {
	return f.AddTransitionWithGuard(from, to, event, nil)
}

// AddTransitionWithGuard 添加带守卫的状态转换规则
func (f *FSM) AddTransitionWithGuard(from, to State, event Event, guard GuardFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := transitionKey{from: from, event: event}
	if _, exists := f.transitions[key]; exists {
		return ErrDuplicateTransition
	}

	f.transitions[key] = &Transition{
		From:  from,
		To:    to,
		Event: event,
		Guard: guard,
	}
	return nil
}

// AddFallback 为源状态添加兜底转换
func (f *FSM) AddFallback(from, to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.fallbacks[from]; exists {
		return ErrDuplicateTransition
	}
	f.fallbacks[from] = &Transition{From: from, To: to}
	return nil
}

// SetOnEnter 设置状态进入时的回调
func (f *FSM) SetOnEnter(state State, action ActionFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEnter[state] = action
}

// SetOnExit 设置状态退出时的回调
func (f *FSM) SetOnExit(state State, action ActionFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onExit[state] = action
}

// SetOnChange 设置状态变化回调
func (f *FSM) SetOnChange(fn ChangeFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

// SetOnTransition 设置转换时的回调
func (f *FSM) SetOnTransition(from State, event Event, fn TransitionFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := transitionKey{from: from, event: event}
	trans, exists := f.transitions[key]
	if !exists {
		return ErrEventNotFound
	}

	trans.OnTransition = fn
	return nil
}

// Can 检查是否可以触发事件
func (f *FSM) Can(event Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lookup(event) != nil
}

func (f *FSM) lookup(event Event) *Transition {
	if trans, ok := f.transitions[transitionKey{from: f.current, event: event}]; ok {
		return trans
	}
	return f.fallbacks[f.current]
}

// Trigger 触发事件进行状态转换
//
// 退出回调和转换回调在持锁时执行，变化回调和进入回调在释放锁之后执行，可以在其中读取状态机。
func (f *FSM) Trigger(ctx context.Context, event Event) error {
	from, to, err := f.apply(ctx, event)
	if err != nil || from == to {
		return err
	}

	f.mu.RLock()
	enterFn, onChange := f.onEnter[to], f.onChange
	f.mu.RUnlock()

	if onChange != nil {
		onChange(from, to, event)
	}
	if enterFn != nil {
		return enterFn(ctx, to)
	}
	return nil
}

// apply 在锁内完成查找、守卫检查和状态更新，停留时 from == to
func (f *FSM) apply(ctx context.Context, event Event) (from, to State, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	from = f.current
	trans := f.lookup(event)
	if trans == nil {
		return from, from, ErrInvalidTransition
	}
	if trans.Guard != nil && !trans.Guard(ctx, from, trans.To) {
		return from, from, ErrTransitionDenied
	}
	if trans.To == from {
		return from, from, nil
	}

	if exitFn, ok := f.onExit[from]; ok {
		if err := exitFn(ctx, from); err != nil {
			return from, from, err
		}
	}
	if trans.OnTransition != nil {
		if err := trans.OnTransition(ctx, from, trans.To); err != nil {
			return from, from, err
		}
	}

	f.current = trans.To
	f.record(from, trans.To, event)
	return from, trans.To, nil
}

func (f *FSM) record(from, to State, event Event) {
	if f.historyLimit == 0 {
		return
	}
	rec := Record{From: from, To: to, Event: event}
	if f.clock != nil {
		rec.At = f.clock()
	}
	if len(f.history) == f.historyLimit {
		copy(f.history, f.history[1:])
		f.history = f.history[:len(f.history)-1]
	}
	f.history = append(f.history, rec)
}

// History 返回最近的状态变化记录，按时间先后排列
func (f *FSM) History() []Record {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Record(nil), f.history...)
}

// Reset 重置到初始状态并清空历史
func (f *FSM) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.initial
	f.history = f.history[:0]
	return nil
}
