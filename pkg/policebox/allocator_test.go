package policebox

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func sum(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}

func TestBandwidthAllocator_WaterFill(t *testing.T) {
	tests := []struct {
		name     string
		weights  []float64
		demand   []float64
		capacity float64
		want     []float64
	}{
		{
			name:     "需求充足时按权重",
			weights:  []float64{0.6, 0.3, 0.1},
			demand:   []float64{100, 100, 100},
			capacity: 100,
			want:     []float64{60, 30, 10},
		},
		{
			name:     "低需求流封顶后余量转移",
			weights:  []float64{0.5, 0.5},
			demand:   []float64{30, 100},
			capacity: 100,
			want:     []float64{33, 67},
		},
		{
			name:     "所有流都低利用时余量按权重退回",
			weights:  []float64{0.5, 0.5},
			demand:   []float64{10, 20},
			capacity: 100,
			want:     []float64{11 + 33.5, 22 + 33.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBandwidthAllocator(tt.weights, 0.1)
			got := b.WaterFill(tt.demand, tt.capacity)
			if diff := cmp.Diff(tt.want, got, approx); diff != "" {
				t.Errorf("分配结果不符 (-want +got):\n%s", diff)
			}
			if math.Abs(sum(got)-tt.capacity) > 1e-9 {
				t.Errorf("分配总和 %v 不等于容量 %v", sum(got), tt.capacity)
			}
		})
	}
}

func TestBandwidthAllocator_EstimateIsPure(t *testing.T) {
	b := NewBandwidthAllocator([]float64{0.5, 0.5}, 0.1)
	_, surplus := b.Estimate([]float64{30, 100}, 100)
	if math.Abs(surplus-17) > 1e-9 {
		t.Errorf("释放的余量错误: got %v, want 17", surplus)
	}
	if diff := cmp.Diff([]float64{25, 25}, b.Projection(50), approx); diff != "" {
		t.Errorf("Estimate 不应影响投影 (-want +got):\n%s", diff)
	}
}

func TestBandwidthAllocator_ReuseSwitch(t *testing.T) {
	tests := []struct {
		name      string
		demand    []float64
		alloc     []float64
		want      []float64
		wantSpare float64
	}{
		{
			name:      "低利用流让出带宽给高利用流",
			demand:    []float64{10, 50},
			alloc:     []float64{50, 50},
			want:      []float64{15, 85},
			wantSpare: 35,
		},
		{
			name:      "全部低利用时余量给利用率最高的流",
			demand:    []float64{10, 20},
			alloc:     []float64{50, 50},
			want:      []float64{15, 85},
			wantSpare: 60,
		},
		{
			name:      "分配为零按极小值处理",
			demand:    []float64{0, 50},
			alloc:     []float64{0, 50},
			want:      []float64{0.1 * 0.001 * 100 / 50.001, 100 - 0.1*0.001*100/50.001},
			wantSpare: 50 - 0.1*0.001*100/50.001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBandwidthAllocator([]float64{0.5, 0.5}, 0.1)
			got := b.ReuseSwitch(tt.demand, tt.alloc, 100)
			if diff := cmp.Diff(tt.want, got, approx); diff != "" {
				t.Errorf("分配结果不符 (-want +got):\n%s", diff)
			}
			if math.Abs(b.Surplus()-tt.wantSpare) > 1e-9 {
				t.Errorf("余量错误: got %v, want %v", b.Surplus(), tt.wantSpare)
			}
			if math.Abs(sum(got)-100) > 1e-9 {
				t.Errorf("分配总和应守恒, got %v", sum(got))
			}
		})
	}
}

func TestBandwidthAllocator_ReuseSwitchCapsAtShare(t *testing.T) {
	b := NewBandwidthAllocator([]float64{0.5, 0.5}, 0.1)
	got := b.ReuseSwitch([]float64{100, 100}, []float64{50, 50}, 100)
	if diff := cmp.Diff([]float64{50, 50}, got, approx); diff != "" {
		t.Errorf("高利用流不应超过权重份额 (-want +got):\n%s", diff)
	}
	if b.Surplus() != 0 {
		t.Errorf("没有余量, got %v", b.Surplus())
	}
}

func TestBandwidthAllocator_Projection(t *testing.T) {
	b := NewBandwidthAllocator([]float64{0.6, 0.4}, 0.1)

	if diff := cmp.Diff([]float64{30, 20}, b.Projection(50), approx); diff != "" {
		t.Errorf("未分配时应返回权重份额 (-want +got):\n%s", diff)
	}

	b.WaterFill([]float64{100, 100}, 100)
	if diff := cmp.Diff([]float64{120, 80}, b.Projection(200), approx); diff != "" {
		t.Errorf("投影应按容量等比缩放 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{60, 40}, b.Tentative(), approx); diff != "" {
		t.Errorf("暂定分配错误 (-want +got):\n%s", diff)
	}

	// 上次容量为零时按 1 处理
	b.WaterFill([]float64{100, 100}, 0)
	if diff := cmp.Diff([]float64{0, 0}, b.Projection(10), approx); diff != "" {
		t.Errorf("零容量投影错误 (-want +got):\n%s", diff)
	}
}
