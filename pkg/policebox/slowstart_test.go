package policebox

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func ssInput(delivered []float64, isd []int) SlowStartInput {
	w := make([]float64, len(delivered))
	for i := range w {
		w[i] = 1 / float64(len(delivered))
	}
	return SlowStartInput{
		Delivered:          delivered,
		IntervalsSinceDrop: isd,
		Restart:            make([]bool, len(delivered)),
		Weights:            w,
	}
}

func TestSlowStartDetector_Exit(t *testing.T) {
	d := NewSlowStartDetector(2, 130)
	for i := 0; i < 2; i++ {
		if !d.InSlowStart(FlowID(i)) {
			t.Fatalf("流 %d 初始应处于慢启动", i)
		}
	}

	// 合计 100, 阈值 0.8*0.5*100=40: 流 0 仍在爬升, 流 1 退出
	res := d.Refresh(ssInput([]float64{10, 90}, []int{0, 2}))
	want := SlowStartResult{
		Controlled:    []bool{false, true},
		Exiting:       []bool{false, true},
		DropPermitted: []bool{false, true},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("检测结果不符 (-want +got):\n%s", diff)
	}
	if !d.InSlowStart(0) || d.InSlowStart(1) {
		t.Error("慢启动标记错误")
	}
	if diff := cmp.Diff([]float64{10, 90}, d.Baseline()); diff != "" {
		t.Errorf("基线错误 (-want +got):\n%s", diff)
	}
}

func TestSlowStartDetector_NoDropRightAfterLoss(t *testing.T) {
	d := NewSlowStartDetector(2, 130)
	res := d.Refresh(ssInput([]float64{50, 50}, []int{0, 3}))
	if diff := cmp.Diff([]bool{false, true}, res.DropPermitted); diff != "" {
		t.Errorf("刚发生丢包的流不允许慢启动丢包 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{true, true}, res.Exiting); diff != "" {
		t.Errorf("两条流都应退出 (-want +got):\n%s", diff)
	}
}

func TestSlowStartDetector_Idempotent(t *testing.T) {
	d := NewSlowStartDetector(3, 130)
	in := ssInput([]float64{5, 80, 10}, []int{1, 1, 1})
	d.Refresh(in)

	first := d.Refresh(in)
	second := d.Refresh(in)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("相同输入两次刷新结果应一致 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{false, true, false}, first.Controlled); diff != "" {
		t.Errorf("受控标记错误 (-want +got):\n%s", diff)
	}
}

func TestSlowStartDetector_Bypass(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*SlowStartInput)
		check bool
	}{
		{"无丢包周期超过阈值", func(in *SlowStartInput) { in.LossFreeCount = 131 }, true},
		{"整体安全", func(in *SlowStartInput) { in.FullySafe = true }, true},
		{"阈值边界不放行", func(in *SlowStartInput) { in.LossFreeCount = 130 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewSlowStartDetector(2, 130)
			in := ssInput([]float64{50, 50}, []int{1, 1})
			tt.mod(&in)
			res := d.Refresh(in)

			bypassed := !res.Controlled[0] && !res.Controlled[1] && !res.Exiting[0] && !res.Exiting[1]
			if bypassed != tt.check {
				t.Errorf("放行 got %v, want %v: %+v", bypassed, tt.check, res)
			}
			if tt.check && !d.InSlowStart(0) {
				t.Error("整体放行不应改变慢启动标记")
			}
		})
	}
}

func TestSlowStartDetector_Restart(t *testing.T) {
	d := NewSlowStartDetector(2, 130)
	d.Refresh(ssInput([]float64{50, 50}, []int{1, 1}))
	if d.InSlowStart(0) {
		t.Fatal("流 0 应已退出慢启动")
	}

	in := ssInput([]float64{0, 100}, []int{1, 1})
	in.Restart[0] = true
	res := d.Refresh(in)
	if !d.InSlowStart(0) || res.Controlled[0] {
		t.Error("重新出现的流应重新进入慢启动且不受控")
	}
	if !res.Controlled[1] || res.Exiting[1] {
		t.Error("流 1 应保持受控")
	}
}
