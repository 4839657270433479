package policebox

import "math"

// OnDelivered 报文到达盒子时调用，返回放行或丢弃
//
// 未知流或协议类型不符的报文直接放行且不计数；控制回路未运行时只计数不丢包。
// 已经被盒子丢过的序号再次出现（重传）总是放行。
func (c *Controller) OnDelivered(flow FlowID, seq uint32, size int, kind ProtocolKind) Verdict {
	if !c.valid(flow) {
		return Accept
	}
	f := &c.flows[flow]
	if kind != "" && kind != f.spec.Protocol {
		return Accept
	}

	f.cur.Delivered++
	if size > 0 {
		f.cur.DeliveredBytes += uint64(size)
		f.statBytes += uint64(size)
	}
	rho := c.cfg.Rho
	if f.ca {
		f.safetyWindow += rho * rho / math.Max(f.safetyWindow, 1)
	} else {
		f.safetyWindow += rho
	}

	if !c.running || c.acks.BoxDropped(flow, seq) {
		return Accept
	}
	if !c.shouldDrop(flow, f) {
		return Accept
	}

	c.acks.RecordBoxDrop(flow, seq)
	f.cur.BoxDrops++
	f.ca = true
	return Drop
}

func (c *Controller) shouldDrop(flow FlowID, f *flowState) bool {
	grad := c.be.GradDropCond(flow, int(f.cur.BoxDrops))
	over := float64(f.cur.Delivered) > f.target

	switch c.be.State(flow) {
	case StateOff:
		if (over || c.be.ProbDropCond(flow)) && grad {
			return true
		}
	case StateWarn:
		if over && f.shortRwnd > c.cfg.DropRateMultiplier*f.shortCwnd && grad {
			return true
		}
	}
	if f.ssDrop && grad {
		f.ssDrop = false
		return true
	}
	return false
}

// OnLinkDrop 链路丢包
func (c *Controller) OnLinkDrop(flow FlowID, seq uint32) {
	if !c.valid(flow) {
		return
	}
	f := &c.flows[flow]
	f.cur.LinkDrops++
	f.ca = true
}

// OnQueueDrop 盒子队列溢出丢包，计入盒子丢包
func (c *Controller) OnQueueDrop(flow FlowID, seq uint32) {
	if !c.valid(flow) {
		return
	}
	f := &c.flows[flow]
	f.cur.QueueDrops++
	f.ca = true
	c.acks.RecordBoxDrop(flow, seq)
}

// OnAck 可靠流的确认，第三个重复确认推断一次链路丢包
func (c *Controller) OnAck(flow FlowID, ackNo uint32, window uint32) {
	if !c.valid(flow) {
		return
	}
	f := &c.flows[flow]
	f.cur.Acks++
	f.peerWindow = window
	if c.acks.ObserveAck(flow, ackNo) {
		f.cur.LinkDrops++
		f.ca = true
	}
}

// OnUnreliableAck 不可靠流的接收报告，序号空洞中非盒子丢弃的部分计为链路丢包
func (c *Controller) OnUnreliableAck(flow FlowID, seq uint32) {
	if !c.valid(flow) {
		return
	}
	f := &c.flows[flow]
	f.cur.Acks++
	if gap := c.acks.ObserveUnreliableGap(flow, seq); gap > 0 {
		f.cur.LinkDrops += uint64(gap)
		f.ca = true
	}
}
