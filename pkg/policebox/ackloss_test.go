package policebox

import (
	"net/netip"
	"testing"
)

func TestAckLossAnalyzer_DupAck(t *testing.T) {
	a := NewAckLossAnalyzer(1)

	steps := []struct {
		ack  uint32
		want bool
	}{
		{100, false}, // 新确认
		{100, false}, // 第一个重复
		{100, true},  // 第三次出现，推断丢包
		{100, false}, // 第四次不再上报
		{100, false},
		{90, false}, // 旧确认被忽略
		{200, false},
		{200, false},
		{200, true},
	}
	for i, s := range steps {
		if got := a.ObserveAck(0, s.ack); got != s.want {
			t.Errorf("第 %d 步 ack=%d: got %v, want %v", i, s.ack, got, s.want)
		}
	}
}

func TestAckLossAnalyzer_DupAckReportedOnce(t *testing.T) {
	a := NewAckLossAnalyzer(1)
	for i := 0; i < 3; i++ {
		a.ObserveAck(0, 7)
	}
	// 之后的重复确认都不再上报
	a.ObserveAck(0, 7)
	hits := 0
	for i := 0; i < 10; i++ {
		if a.ObserveAck(0, 7) {
			hits++
		}
	}
	if hits != 0 {
		t.Errorf("确认号 7 已上报过, 不应再次上报, got %d", hits)
	}
}

func TestAckLossAnalyzer_UnreliableGap(t *testing.T) {
	a := NewAckLossAnalyzer(2)

	if got := a.ObserveUnreliableGap(0, 10); got != 0 {
		t.Fatalf("首个接收报告只设置水位线, got %d", got)
	}
	a.RecordBoxDrop(0, 11)
	a.RecordBoxDrop(0, 13)

	// 10 与 15 之间为 11..14，扣除盒子丢弃的 11、13
	if got := a.ObserveUnreliableGap(0, 15); got != 2 {
		t.Errorf("空洞计数错误: got %d, want 2", got)
	}
	if got := a.ObserveUnreliableGap(0, 14); got != 0 {
		t.Errorf("旧序号不应产生空洞, got %d", got)
	}
	if got := a.ObserveUnreliableGap(0, 16); got != 0 {
		t.Errorf("连续序号不应产生空洞, got %d", got)
	}

	// 流之间互不影响
	if got := a.ObserveUnreliableGap(1, 100); got != 0 {
		t.Errorf("流 1 首个报告, got %d", got)
	}
}

func TestAckLossAnalyzer_BoxDrops(t *testing.T) {
	a := NewAckLossAnalyzer(1)

	if a.BoxDropped(0, 5) {
		t.Error("未记录的序号不应视为已丢弃")
	}
	if !a.RecordBoxDrop(0, 5) {
		t.Error("首次记录应返回 true")
	}
	if a.RecordBoxDrop(0, 5) {
		t.Error("重复记录应返回 false")
	}
	if !a.BoxDropped(0, 5) {
		t.Error("已记录的序号应视为已丢弃")
	}
}

func TestAckLossAnalyzer_Bind(t *testing.T) {
	a := NewAckLossAnalyzer(2)
	addr := netip.MustParseAddr("10.0.0.2")

	if !a.Bind(0, addr) {
		t.Fatal("首次绑定应成功")
	}
	if a.Bind(0, addr) {
		t.Error("重复绑定同一流应返回 false")
	}
	if a.Bind(1, addr) {
		t.Error("绑定到其它流应返回 false, 保留首次绑定")
	}
	if flow, ok := a.Lookup(addr); !ok || flow != 0 {
		t.Errorf("查找结果错误: %v %v", flow, ok)
	}
	if _, ok := a.Lookup(netip.MustParseAddr("10.0.0.3")); ok {
		t.Error("未绑定的地址不应找到")
	}
	if a.Bind(5, netip.MustParseAddr("10.0.0.9")) {
		t.Error("未知流不能绑定")
	}
}

func TestAckLossAnalyzer_UnknownFlow(t *testing.T) {
	a := NewAckLossAnalyzer(1)
	if a.ObserveAck(3, 1) || a.ObserveUnreliableGap(-1, 9) != 0 || a.RecordBoxDrop(2, 1) || a.BoxDropped(2, 1) {
		t.Error("未知流应返回零值")
	}
}

func TestSeqSet_Evicts(t *testing.T) {
	s := newSeqSet(2)
	s.Add(1)
	s.Add(2)
	s.Add(3)
	if s.Has(1) {
		t.Error("最早的成员应被淘汰")
	}
	if !s.Has(2) || !s.Has(3) || s.Len() != 2 {
		t.Errorf("集合内容错误, len=%d", s.Len())
	}
}
