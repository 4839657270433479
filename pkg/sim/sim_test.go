package sim

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/junbin-yang/go-policebox/pkg/policebox"
)

var _ policebox.Scheduler = (*Simulator)(nil)

func TestSimulator_Order(t *testing.T) {
	s := New()
	var got []string
	s.Schedule(2*time.Second, func() { got = append(got, "c") })
	s.Schedule(time.Second, func() { got = append(got, "a") })
	s.Schedule(time.Second, func() { got = append(got, "b") })
	s.Schedule(0, func() {
		got = append(got, "now")
		s.Schedule(time.Second, func() { got = append(got, "b2") })
	})

	s.Run()
	want := []string{"now", "a", "b", "b2", "c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("执行顺序错误 (-want +got):\n%s", diff)
	}
	if s.Now() != 2*time.Second {
		t.Errorf("仿真时间 got %v, want 2s", s.Now())
	}
	if s.Fired() != 5 {
		t.Errorf("执行次数 got %d, want 5", s.Fired())
	}
}

func TestSimulator_Cancel(t *testing.T) {
	s := New()
	fired := 0
	id := s.Schedule(time.Second, func() { fired++ })
	s.Schedule(2*time.Second, func() { fired += 10 })

	s.Cancel(id)
	s.Cancel(id)
	if s.Pending() != 1 {
		t.Fatalf("取消后待执行数 got %d, want 1", s.Pending())
	}
	s.Run()
	if fired != 10 {
		t.Errorf("被取消的回调不应执行, fired=%d", fired)
	}
}

func TestSimulator_RunUntil(t *testing.T) {
	s := New()
	count := 0
	var tick func()
	tick = func() {
		count++
		s.Schedule(100*time.Millisecond, tick)
	}
	s.Schedule(100*time.Millisecond, tick)

	s.RunUntil(time.Second)
	if count != 10 {
		t.Errorf("1s 内应执行 10 次, got %d", count)
	}
	if s.Now() != time.Second {
		t.Errorf("时间应推进到 1s, got %v", s.Now())
	}

	s.RunFor(550 * time.Millisecond)
	if count != 15 || s.Now() != 1550*time.Millisecond {
		t.Errorf("count=%d now=%v", count, s.Now())
	}
}

func TestSimulator_Halt(t *testing.T) {
	s := New()
	count := 0
	for i := 1; i <= 5; i++ {
		s.At(time.Duration(i)*time.Second, func() {
			count++
			if count == 2 {
				s.Halt()
			}
		})
	}
	s.Run()
	if count != 2 || s.Now() != 2*time.Second {
		t.Errorf("Halt 后应停止: count=%d now=%v", count, s.Now())
	}
	if s.Pending() != 3 {
		t.Errorf("剩余回调 got %d, want 3", s.Pending())
	}
}

func TestSimulator_DrivesController(t *testing.T) {
	cfg := policebox.DefaultConfig()
	cfg.Weights = []float64{0.5, 0.5}
	s := New()
	c, err := policebox.New(cfg, s)
	if err != nil {
		t.Fatalf("创建控制器失败: %v", err)
	}
	c.Start()
	s.RunUntil(time.Second)
	c.Stop()

	if c.Snapshot().Ticks != 10 {
		t.Errorf("周期数 got %d, want 10", c.Snapshot().Ticks)
	}
	if s.Pending() != 0 {
		t.Errorf("停止后不应有待执行回调, got %d", s.Pending())
	}
}
