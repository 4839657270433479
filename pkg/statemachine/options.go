package statemachine

// Option 状态机选项
type Option func(*FSM)

// WithHistory 保留最近 limit 条状态变化记录，limit <= 0 表示不记录
func WithHistory(limit int) Option {
	return func(f *FSM) {
		if limit > 0 {
			f.historyLimit = limit
			f.history = make([]Record, 0, limit)
		}
	}
}

// WithClock 设置历史记录使用的时钟
func WithClock(clock Clock) Option {
	return func(f *FSM) {
		f.clock = clock
	}
}

// WithOnChange 设置状态变化回调
func WithOnChange(fn ChangeFunc) Option {
	return func(f *FSM) {
		f.onChange = fn
	}
}
