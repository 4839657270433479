package bottleneck

import (
	"time"

	"github.com/junbin-yang/go-policebox/pkg/congestion"
	"github.com/junbin-yang/go-policebox/pkg/logger"
	"github.com/junbin-yang/go-policebox/pkg/policebox"
)

const (
	firstSeq      uint32 = 1
	dupAckTrigger        = 3
	minRTO               = 200 * time.Millisecond
	maxRTO               = 4 * time.Second
	initialWindow        = 10
)

// endpoint 一对发送端和接收端
type endpoint struct {
	net   *Network
	spec  SenderSpec
	kind  policebox.ProtocolKind
	cc    congestion.Controller
	stats FlowStats

	active bool

	// 可靠发送端
	nextSeq    uint32
	sndUna     uint32
	dupAcks    int
	recovering bool
	recover    uint32
	sentAt     map[uint32]time.Duration
	rto        time.Duration
	rtoTask    policebox.TaskID

	// 不可靠发送端
	gap time.Duration

	// 接收端
	expected uint32
	ooo      map[uint32]struct{}
}

func newEndpoint(n *Network, spec SenderSpec) (*endpoint, error) {
	ep := &endpoint{
		net:      n,
		spec:     spec,
		kind:     spec.Protocol,
		stats:    FlowStats{Flow: spec.Flow},
		nextSeq:  firstSeq,
		sndUna:   firstSeq,
		expected: firstSeq,
	}
	if ep.kind == "" {
		ep.kind = policebox.Reliable
	}

	if ep.kind == policebox.Unreliable {
		ep.gap = time.Duration(float64(n.cfg.PacketSize*8) / spec.Rate * float64(time.Second))
		return ep, nil
	}
	cc, err := congestion.NewController(spec.Algorithm, initialWindow, n.cfg.MaxWindow)
	if err != nil {
		return nil, err
	}
	ep.cc = cc
	ep.sentAt = make(map[uint32]time.Duration)
	ep.ooo = make(map[uint32]struct{})
	ep.rto = 3 * spec.RTT
	if ep.rto < minRTO {
		ep.rto = minRTO
	}
	return ep, nil
}

func (ep *endpoint) now() time.Duration { return ep.net.sched.Now() }

// sending 是否还在发送新数据
func (ep *endpoint) sending() bool {
	return ep.active && (ep.spec.Stop == 0 || ep.now() < ep.spec.Stop)
}

func (ep *endpoint) start() {
	ep.active = true
	if ep.kind == policebox.Unreliable {
		ep.sendCBR()
		return
	}
	ep.trySend()
}

func (ep *endpoint) packet(seq uint32) packet {
	return packet{flow: ep.spec.Flow, seq: seq, size: ep.net.cfg.PacketSize, kind: ep.kind, sender: ep}
}

// sendCBR 恒定速率发送，不理会确认
func (ep *endpoint) sendCBR() {
	if !ep.sending() {
		return
	}
	seq := ep.nextSeq
	ep.nextSeq++
	ep.stats.Sent++
	ep.net.sched.Schedule(ep.gap, ep.sendCBR)
	ep.net.arrive(ep.packet(seq))
}

// trySend 在拥塞窗口允许的范围内发送新报文
func (ep *endpoint) trySend() {
	for ep.sending() && int(ep.nextSeq-ep.sndUna) < ep.cc.GetCongestionWindow() {
		seq := ep.nextSeq
		ep.nextSeq++
		ep.stats.Sent++
		ep.sentAt[seq] = ep.now()
		ep.cc.OnPacketSent(ep.now())
		ep.armRTO()
		ep.net.arrive(ep.packet(seq))
	}
}

func (ep *endpoint) retransmit(seq uint32) {
	ep.stats.Retransmits++
	delete(ep.sentAt, seq) // 重传报文不采样 RTT
	ep.net.arrive(ep.packet(seq))
}

func (ep *endpoint) armRTO() {
	if ep.rtoTask != 0 {
		return
	}
	ep.rtoTask = ep.net.sched.Schedule(ep.rto, ep.onTimeout)
}

func (ep *endpoint) resetRTO() {
	if ep.rtoTask != 0 {
		ep.net.sched.Cancel(ep.rtoTask)
		ep.rtoTask = 0
	}
	if ep.sndUna != ep.nextSeq {
		ep.armRTO()
	}
}

func (ep *endpoint) onTimeout() {
	ep.rtoTask = 0
	if ep.sndUna == ep.nextSeq {
		return
	}
	ep.stats.Timeouts++
	ep.cc.OnPacketLost(ep.now())
	ep.dupAcks = 0
	ep.recovering = false
	ep.rto *= 2
	if ep.rto > maxRTO {
		ep.rto = maxRTO
	}
	ep.net.log.Debug("重传超时",
		logger.Int("flow", int(ep.spec.Flow)),
		logger.Uint32("seq", ep.sndUna),
		logger.Duration("rto", ep.rto))
	ep.retransmit(ep.sndUna)
	ep.armRTO()
}

// onAck 可靠发送端收到累计确认，处理快速重传和部分确认
func (ep *endpoint) onAck(ackNo uint32) {
	now := ep.now()
	switch {
	case ackNo > ep.sndUna:
		var rtt time.Duration
		if sent, ok := ep.sentAt[ackNo-1]; ok {
			rtt = now - sent
		}
		for seq := ep.sndUna; seq != ackNo; seq++ {
			delete(ep.sentAt, seq)
		}
		acked := int(ackNo - ep.sndUna)
		ep.sndUna = ackNo
		ep.dupAcks = 0
		ep.cc.OnAckReceived(now, acked, rtt)

		if ep.recovering {
			if ackNo >= ep.recover {
				ep.recovering = false
			} else {
				ep.retransmit(ackNo)
			}
		}
		ep.rto = 3 * ep.spec.RTT
		if ep.rto < minRTO {
			ep.rto = minRTO
		}
		ep.resetRTO()
		ep.trySend()

	case ackNo == ep.sndUna && ep.sndUna != ep.nextSeq:
		ep.dupAcks++
		if ep.dupAcks == dupAckTrigger && !ep.recovering {
			ep.recovering = true
			ep.recover = ep.nextSeq
			ep.cc.OnPacketLost(now)
			ep.retransmit(ep.sndUna)
		}
	}
}

// receive 报文到达接收端
func (ep *endpoint) receive(p packet) {
	if ep.kind == policebox.Unreliable {
		ep.stats.Received++
		ep.net.sched.Schedule(ep.spec.RTT/2, func() {
			ep.net.box.OnUnreliableAck(p.flow, p.seq)
		})
		return
	}

	switch {
	case p.seq == ep.expected:
		ep.expected++
		ep.stats.Received++
		for {
			if _, ok := ep.ooo[ep.expected]; !ok {
				break
			}
			delete(ep.ooo, ep.expected)
			ep.expected++
			ep.stats.Received++
		}
	case p.seq > ep.expected:
		ep.ooo[p.seq] = struct{}{}
	}

	ackNo := ep.expected
	ep.net.sched.Schedule(ep.spec.RTT/2, func() {
		ep.net.box.OnAck(p.flow, ackNo, ep.net.cfg.RecvWindow)
		ep.onAck(ackNo)
	})
}
