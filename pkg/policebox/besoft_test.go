package policebox

import (
	"math/rand"
	"testing"
	"time"

	"github.com/junbin-yang/go-policebox/pkg/statemachine"
)

func newTestBE(mode ExploreMode) *BestEffortController {
	return NewBestEffortController(1, 20, mode, rand.New(rand.NewSource(1)), nil)
}

func TestBestEffortController_Transitions(t *testing.T) {
	b := newTestBE(ExploreLinear)

	steps := []struct {
		name      string
		code      DropRequest
		delivered float64
		allocated float64
		wantState statemachine.State
		wantDMax  int
	}{
		{"ON 保持", Clean, 150, 100, StateOn, 0},
		{"速率违规进入 WARN", RateViolation, 150, 100, StateWarn, 2},
		{"WARN 速率违规回到 ON", RateViolation, 80, 100, StateOn, 0},
		{"安全违规进入 WARN", SafetyViolation, 80, 100, StateWarn, 1},
		{"WARN 安全违规进入 OFF", SafetyViolation, 150, 100, StateOff, 50},
		{"OFF 速率违规保持", RateViolation, 150, 100, StateOff, 50},
		{"OFF 干净回到 WARN", Clean, 400, 100, StateWarn, 4},
		{"WARN 干净回到 ON", Clean, 150, 100, StateOn, 0},
	}

	for _, s := range steps {
		b.Update([]DropRequest{s.code}, []float64{s.delivered}, []float64{s.allocated}, []int{0})
		if got := b.State(0); got != s.wantState {
			t.Fatalf("%s: 状态 got %v, want %v", s.name, got, s.wantState)
		}
		if got := b.DMax(0); got != s.wantDMax {
			t.Errorf("%s: dMax got %d, want %d", s.name, got, s.wantDMax)
		}
	}
}

func TestBestEffortController_WarnDMax(t *testing.T) {
	tests := []struct {
		rwnd, cwnd, want int
	}{
		{100, 100, 1},
		{50, 100, 1},
		{101, 100, 2},
		{200, 100, 2},
		{201, 100, 4},
		{800, 100, 6},
		{3, 0, 4}, // 分配为零按 1 处理
	}
	for _, tt := range tests {
		if got := warnDMax(tt.rwnd, tt.cwnd); got != tt.want {
			t.Errorf("warnDMax(%d, %d) = %d, want %d", tt.rwnd, tt.cwnd, got, tt.want)
		}
	}
}

func toOff(b *BestEffortController, delivered, allocated float64) {
	b.Update([]DropRequest{SafetyViolation}, []float64{delivered}, []float64{allocated}, []int{0})
	b.Update([]DropRequest{SafetyViolation}, []float64{delivered}, []float64{allocated}, []int{0})
}

func TestBestEffortController_ExploreNonIncreasing(t *testing.T) {
	for _, mode := range []ExploreMode{ExploreLinear, ExploreRatio} {
		t.Run(string(mode), func(t *testing.T) {
			b := newTestBE(mode)
			toOff(b, 150, 100)
			if b.State(0) != StateOff {
				t.Fatalf("应处于 OFF, got %v", b.State(0))
			}

			prev := b.DMax(0)
			for isd := 1; isd <= 2000; isd++ {
				b.Update([]DropRequest{RateViolation}, []float64{150}, []float64{100}, []int{isd})
				d := b.DMax(0)
				if d > prev {
					t.Fatalf("无丢包周期 %d 时 dMax 增大: %d -> %d", isd, prev, d)
				}
				if d < 0 {
					t.Fatalf("dMax 不能为负: %d", d)
				}
				prev = d
			}
			if prev != 0 {
				t.Errorf("足够长的无丢包后 dMax 应归零, got %d", prev)
			}
		})
	}
}

func TestBestEffortController_Explore(t *testing.T) {
	lin := newTestBE(ExploreLinear)
	ratio := newTestBE(ExploreRatio)

	tests := []struct {
		surplus, isd     int
		linear, ratioVal int
	}{
		{50, 0, 50, 50},
		{50, 19, 50, 44},
		{50, 40, 48, 37},
		{50, 75, 47, 25},
		{50, 150, 43, 0},
		{10, 300, 0, 0},
	}
	for _, tt := range tests {
		if got := lin.explore(tt.surplus, tt.isd); got != tt.linear {
			t.Errorf("linear explore(%d, %d) = %d, want %d", tt.surplus, tt.isd, got, tt.linear)
		}
		if got := ratio.explore(tt.surplus, tt.isd); got != tt.ratioVal {
			t.Errorf("ratio explore(%d, %d) = %d, want %d", tt.surplus, tt.isd, got, tt.ratioVal)
		}
	}
}

func TestBestEffortController_DropConds(t *testing.T) {
	b := newTestBE(ExploreLinear)

	if b.ProbDropCond(0) {
		t.Error("ON 状态下概率丢包条件应为 false")
	}
	if b.GradDropCond(0, 0) {
		t.Error("ON 状态 dMax 为 0, 不允许丢包")
	}

	// 交付 50, 分配 0: dMax 等于上周期交付量, 概率为 1
	toOff(b, 50, 0)
	if b.DMax(0) != 50 {
		t.Fatalf("dMax 错误: got %d", b.DMax(0))
	}
	for i := 0; i < 20; i++ {
		if !b.ProbDropCond(0) {
			t.Fatal("概率为 1 时应总是允许")
		}
	}
	if !b.GradDropCond(0, 49) || b.GradDropCond(0, 50) {
		t.Error("梯度条件应为 drops < dMax")
	}
	if got := b.TokenCapacity(0); got != 0 {
		t.Errorf("令牌容量 got %d, want 0", got)
	}

	b.Update([]DropRequest{Clean}, []float64{150}, []float64{100}, []int{0})
	if b.ProbDropCond(0) {
		t.Error("WARN 状态下概率丢包条件应为 false")
	}
	if got := b.TokenCapacity(0); got != 148 {
		t.Errorf("令牌容量 got %d, want 148", got)
	}
}

func TestBestEffortController_History(t *testing.T) {
	now := time.Duration(0)
	b := NewBestEffortController(2, 20, ExploreLinear, rand.New(rand.NewSource(1)),
		func() time.Duration { return now })

	var changes []FlowID
	b.SetNotify(func(flow FlowID, from, to statemachine.State, event statemachine.Event) {
		changes = append(changes, flow)
	})

	now = time.Second
	b.Update([]DropRequest{RateViolation, Clean}, []float64{10, 10}, []float64{10, 10}, []int{0, 0})
	now = 2 * time.Second
	b.Update([]DropRequest{SafetyViolation, Clean}, []float64{10, 10}, []float64{10, 10}, []int{0, 0})

	h := b.History(0)
	if len(h) != 2 {
		t.Fatalf("历史条数 got %d, want 2", len(h))
	}
	if h[0].To != StateWarn || h[1].To != StateOff || h[1].At != 2*time.Second {
		t.Errorf("历史内容错误: %+v", h)
	}
	if len(b.History(1)) != 0 {
		t.Error("流 1 没有状态变化")
	}
	if len(changes) != 2 || changes[0] != 0 || changes[1] != 0 {
		t.Errorf("通知错误: %v", changes)
	}
}
