package policebox

import "net/netip"

const (
	dupAckThreshold   = 3
	reportedAckLimit  = 256
	boxDropRecordSize = 4096
)

// seqSet 容量有限的序号集合，满后按插入顺序淘汰最旧的元素
type seqSet struct {
	members map[uint32]struct{}
	ring    []uint32
	next    int
}

func newSeqSet(capacity int) *seqSet {
	return &seqSet{
		members: make(map[uint32]struct{}, capacity),
		ring:    make([]uint32, 0, capacity),
	}
}

func (s *seqSet) Has(v uint32) bool {
	_, ok := s.members[v]
	return ok
}

// Add 加入元素，已存在时返回 false
func (s *seqSet) Add(v uint32) bool {
	if s.Has(v) {
		return false
	}
	if len(s.ring) < cap(s.ring) {
		s.ring = append(s.ring, v)
	} else {
		delete(s.members, s.ring[s.next])
		s.ring[s.next] = v
		s.next = (s.next + 1) % len(s.ring)
	}
	s.members[v] = struct{}{}
	return true
}

func (s *seqSet) Len() int { return len(s.members) }

// ackTrack 单条流的确认跟踪状态
type ackTrack struct {
	lastAck  uint32
	dupCount int
	seen     bool
	reported *seqSet
	boxDrops *seqSet
}

// AckLossAnalyzer 根据确认序列推断链路丢包
//
// 可靠流依据重复确认判断丢包，每个确认号最多上报一次；
// 不可靠流依据确认序号的空洞计数，盒子自己丢弃的序号不计入。
type AckLossAnalyzer struct {
	flows []ackTrack
	addrs map[netip.Addr]FlowID
}

// NewAckLossAnalyzer 为 n 条流创建分析器
func NewAckLossAnalyzer(n int) *AckLossAnalyzer {
	a := &AckLossAnalyzer{
		flows: make([]ackTrack, n),
		addrs: make(map[netip.Addr]FlowID),
	}
	for i := range a.flows {
		a.flows[i].reported = newSeqSet(reportedAckLimit)
		a.flows[i].boxDrops = newSeqSet(boxDropRecordSize)
	}
	return a
}

func (a *AckLossAnalyzer) track(flow FlowID) *ackTrack {
	if flow < 0 || int(flow) >= len(a.flows) {
		return nil
	}
	return &a.flows[flow]
}

// Bind 把下游地址关联到流，地址已经绑定过时返回 false
func (a *AckLossAnalyzer) Bind(flow FlowID, addr netip.Addr) bool {
	if a.track(flow) == nil || !addr.IsValid() {
		return false
	}
	if _, ok := a.addrs[addr]; ok {
		return false
	}
	a.addrs[addr] = flow
	return true
}

// Lookup 按地址查找流
func (a *AckLossAnalyzer) Lookup(addr netip.Addr) (FlowID, bool) {
	flow, ok := a.addrs[addr]
	return flow, ok
}

// ObserveAck 处理可靠流的确认号，第三个重复确认时返回 true
func (a *AckLossAnalyzer) ObserveAck(flow FlowID, ackNo uint32) bool {
	tr := a.track(flow)
	if tr == nil {
		return false
	}

	switch {
	case !tr.seen || ackNo > tr.lastAck:
		tr.seen = true
		tr.lastAck = ackNo
		tr.dupCount = 1
		return false
	case ackNo < tr.lastAck:
		return false
	}

	tr.dupCount++
	if tr.dupCount < dupAckThreshold {
		return false
	}
	return tr.reported.Add(ackNo)
}

// ObserveUnreliableGap 返回水位线与 seq 之间（不含两端）未被盒子丢弃的序号个数，并推进水位线
func (a *AckLossAnalyzer) ObserveUnreliableGap(flow FlowID, seq uint32) uint32 {
	tr := a.track(flow)
	if tr == nil {
		return 0
	}
	if !tr.seen {
		tr.seen = true
		tr.lastAck = seq
		return 0
	}
	if seq <= tr.lastAck {
		return 0
	}

	var gap uint32
	for n := tr.lastAck + 1; n < seq; n++ {
		if !tr.boxDrops.Has(n) {
			gap++
		}
	}
	tr.lastAck = seq
	return gap
}

// RecordBoxDrop 记录盒子丢弃的序号，重复记录返回 false
func (a *AckLossAnalyzer) RecordBoxDrop(flow FlowID, seq uint32) bool {
	tr := a.track(flow)
	if tr == nil {
		return false
	}
	return tr.boxDrops.Add(seq)
}

// BoxDropped 判断序号是否已被盒子丢弃
func (a *AckLossAnalyzer) BoxDropped(flow FlowID, seq uint32) bool {
	tr := a.track(flow)
	if tr == nil {
		return false
	}
	return tr.boxDrops.Has(seq)
}
