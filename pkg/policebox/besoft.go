package policebox

import (
	"context"
	"math"
	"math/rand"

	"github.com/junbin-yang/go-policebox/pkg/statemachine"
)

const (
	ratioHorizon = 150 // ratio 衰减方式下探测余量归零所需的无丢包周期数
	stateHistory = 16
)

// BestEffortController 每条流一个 ON/WARN/OFF 状态机，决定每个周期最多允许的盒子丢包数
//
//	ON   --rate_violation|safety_violation--> WARN
//	WARN --safety_violation--> OFF, 其它 --> ON
//	OFF  --clean--> WARN, 其它 --> OFF
type BestEffortController struct {
	fsm         []*statemachine.FSM
	dMax        []int
	lastRwnd    []int
	exploreStep int
	exploreMode ExploreMode
	rng         *rand.Rand
}

// NewBestEffortController 创建控制器，所有流初始为 ON
func NewBestEffortController(n, exploreStep int, mode ExploreMode, rng *rand.Rand, clock statemachine.Clock) *BestEffortController {
	b := &BestEffortController{
		fsm:         make([]*statemachine.FSM, n),
		dMax:        make([]int, n),
		lastRwnd:    make([]int, n),
		exploreStep: exploreStep,
		exploreMode: mode,
		rng:         rng,
	}
	for i := range b.fsm {
		b.fsm[i] = newBestEffortFSM(statemachine.WithHistory(stateHistory), statemachine.WithClock(clock))
	}
	return b
}

// SetNotify 设置状态变化通知
func (b *BestEffortController) SetNotify(fn func(flow FlowID, from, to statemachine.State, event statemachine.Event)) {
	for i, f := range b.fsm {
		flow := FlowID(i)
		f.SetOnChange(func(from, to statemachine.State, event statemachine.Event) {
			fn(flow, from, to, event)
		})
	}
}

func newBestEffortFSM(opts ...statemachine.Option) *statemachine.FSM {
	f := statemachine.NewFSM(StateOn, opts...)
	_ = f.AddTransition(StateOn, StateWarn, RateViolation.event())
	_ = f.AddTransition(StateOn, StateWarn, SafetyViolation.event())
	_ = f.AddFallback(StateOn, StateOn)
	_ = f.AddTransition(StateWarn, StateOff, SafetyViolation.event())
	_ = f.AddFallback(StateWarn, StateOn)
	_ = f.AddTransition(StateOff, StateWarn, Clean.event())
	_ = f.AddFallback(StateOff, StateOff)
	return f
}

// Update 按丢包请求推进状态机并重新计算 dMax
//
// delivered 和 allocated 为本周期的交付量和上一周期发布的目标速率。
func (b *BestEffortController) Update(codes []DropRequest, delivered, allocated []float64, intervalsSinceDrop []int) {
	ctx := context.Background()
	for i, f := range b.fsm {
		// 每个状态都有兜底转换，Trigger 不会失败
		_ = f.Trigger(ctx, codes[i].event())

		rwnd := int(math.Max(0, delivered[i]))
		cwnd := int(math.Max(0, allocated[i]))

		switch f.Current() {
		case StateOn:
			b.dMax[i] = 0
		case StateWarn:
			b.dMax[i] = warnDMax(rwnd, cwnd)
		case StateOff:
			surplus := 0
			if rwnd > cwnd {
				surplus = rwnd - cwnd
			}
			b.dMax[i] = b.explore(surplus, intervalsSinceDrop[i])
		}
		b.lastRwnd[i] = rwnd
	}
}

// warnDMax 超出分配时按超出倍数的对数放宽，否则只允许一次
func warnDMax(rwnd, cwnd int) int {
	if cwnd <= 0 {
		cwnd = 1
	}
	if rwnd <= cwnd {
		return 1
	}
	return 2 * int(math.Ceil(math.Log2(float64(rwnd)/float64(cwnd))))
}

// explore 计算 OFF 状态的 dMax，随无丢包周期增加而衰减
func (b *BestEffortController) explore(surplus, isd int) int {
	var d int
	switch b.exploreMode {
	case ExploreRatio:
		d = int(math.Ceil(float64(surplus) * (1 - float64(isd)/ratioHorizon)))
	default:
		d = surplus - isd/b.exploreStep
	}
	if d < 0 {
		return 0
	}
	return d
}

// GradDropCond 本周期已丢包数未达到 dMax 时返回 true
func (b *BestEffortController) GradDropCond(flow FlowID, drops int) bool {
	return drops < b.dMax[flow]
}

// ProbDropCond 仅在 OFF 状态下以 dMax/上周期交付量 的概率返回 true
func (b *BestEffortController) ProbDropCond(flow FlowID) bool {
	if b.fsm[flow].Current() != StateOff || b.dMax[flow] == 0 {
		return false
	}
	last := b.lastRwnd[flow]
	if last == 0 {
		return true
	}
	return b.rng.Float64() < float64(b.dMax[flow])/float64(last)
}

// TokenCapacity 返回上周期交付量扣除 dMax 后的令牌容量
func (b *BestEffortController) TokenCapacity(flow FlowID) int {
	if b.lastRwnd[flow] > b.dMax[flow] {
		return b.lastRwnd[flow] - b.dMax[flow]
	}
	return 0
}

// State 返回流的当前状态
func (b *BestEffortController) State(flow FlowID) statemachine.State {
	return b.fsm[flow].Current()
}

// DMax 返回流本周期允许的最大丢包数
func (b *BestEffortController) DMax(flow FlowID) int { return b.dMax[flow] }

// History 返回流最近的状态变化
func (b *BestEffortController) History(flow FlowID) []statemachine.Record {
	return b.fsm[flow].History()
}
