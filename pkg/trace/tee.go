package trace

import (
	"net/netip"

	"github.com/junbin-yang/go-policebox/pkg/logger"
	"github.com/junbin-yang/go-policebox/pkg/policebox"
)

// Tee 把经过的事件写入轨迹后转交给下游观察者
type Tee struct {
	next   policebox.Observer
	sched  policebox.Scheduler
	w      *Writer
	log    logger.Logger
	failed bool
}

var _ policebox.Observer = (*Tee)(nil)

func NewTee(next policebox.Observer, sched policebox.Scheduler, w *Writer, log logger.Logger) *Tee {
	if log == nil {
		log = logger.Default()
	}
	return &Tee{next: next, sched: sched, w: w, log: log}
}

func (t *Tee) record(ev Event) {
	if t.failed {
		return
	}
	ev.At = t.sched.Now()
	if err := t.w.Write(ev); err != nil {
		// 只报告一次，之后不再写入
		t.failed = true
		t.log.Warn("停止记录轨迹", logger.GetError(err))
	}
}

func (t *Tee) OnDelivered(flow policebox.FlowID, seq uint32, size int, kind policebox.ProtocolKind) policebox.Verdict {
	t.record(Event{Type: Deliver, Flow: flow, Seq: seq, Size: size, Kind: kind})
	return t.next.OnDelivered(flow, seq, size, kind)
}

func (t *Tee) OnLinkDrop(flow policebox.FlowID, seq uint32) {
	t.record(Event{Type: LinkDrop, Flow: flow, Seq: seq})
	t.next.OnLinkDrop(flow, seq)
}

func (t *Tee) OnQueueDrop(flow policebox.FlowID, seq uint32) {
	t.record(Event{Type: QueueDrop, Flow: flow, Seq: seq})
	t.next.OnQueueDrop(flow, seq)
}

func (t *Tee) OnAck(flow policebox.FlowID, ackNo uint32, window uint32) {
	t.record(Event{Type: Ack, Flow: flow, Seq: ackNo, Window: window})
	t.next.OnAck(flow, ackNo, window)
}

func (t *Tee) OnUnreliableAck(flow policebox.FlowID, seq uint32) {
	t.record(Event{Type: UnreliableAck, Flow: flow, Seq: seq})
	t.next.OnUnreliableAck(flow, seq)
}

// BindAddr 下游支持地址绑定时转交
func (t *Tee) BindAddr(flow policebox.FlowID, addr netip.Addr) bool {
	if b, ok := t.next.(interface {
		BindAddr(policebox.FlowID, netip.Addr) bool
	}); ok {
		return b.BindAddr(flow, addr)
	}
	return false
}
