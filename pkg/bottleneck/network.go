// Package bottleneck 哑铃拓扑仿真
//
// 多个发送端经过同一个瓶颈链路到达接收端，盒子位于瓶颈入口：
// 每个报文先交给盒子裁决，放行的报文进入尾部丢弃队列，按瓶颈带宽串行发送，
// 经过半个 RTT 到达接收端，确认再经过半个 RTT 返回，途中由盒子观察。
package bottleneck

import (
	"math/rand"
	"net/netip"
	"time"

	"github.com/junbin-yang/go-policebox/pkg/congestion"
	"github.com/junbin-yang/go-policebox/pkg/logger"
	"github.com/junbin-yang/go-policebox/pkg/policebox"
)

// Box 位于瓶颈入口的盒子
type Box = policebox.Observer

// binder 可选接口，盒子支持地址绑定时调用
type binder interface {
	BindAddr(flow policebox.FlowID, addr netip.Addr) bool
}

// FlowStats 单个发送端的累计统计
type FlowStats struct {
	Flow        policebox.FlowID           `json:"flow"`
	Sent        uint64                     `json:"sent"`
	Retransmits uint64                     `json:"retransmits"`
	Received    uint64                     `json:"received"` // 接收端收到的新报文
	BoxDrops    uint64                     `json:"box_drops"`
	QueueDrops  uint64                     `json:"queue_drops"`
	LinkDrops   uint64                     `json:"link_drops"`
	Timeouts    uint64                     `json:"timeouts"`
	Window      int                        `json:"window"`
	Congestion  congestion.CongestionStats `json:"congestion"`
}

type packet struct {
	flow   policebox.FlowID
	seq    uint32
	size   int
	kind   policebox.ProtocolKind
	sender *endpoint
}

// Network 哑铃拓扑，只能在调度器的执行上下文中使用
type Network struct {
	cfg   Config
	sched policebox.Scheduler
	box   Box
	log   logger.Logger
	rng   *rand.Rand

	endpoints []*endpoint

	queue   []packet
	busy    bool
	txTime  time.Duration
	started bool
}

// Option 网络选项
type Option func(*Network)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(n *Network) { n.log = l }
}

// New 创建拓扑，box 通常是 *policebox.Controller
func New(cfg Config, sched policebox.Scheduler, box Box, opts ...Option) (*Network, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 65535
	}
	n := &Network{
		cfg:    cfg,
		sched:  sched,
		box:    box,
		log:    logger.Default(),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		txTime: time.Duration(float64(cfg.PacketSize*8) / cfg.Bandwidth * float64(time.Second)),
	}
	for _, opt := range opts {
		opt(n)
	}

	for _, spec := range cfg.Senders {
		ep, err := newEndpoint(n, spec)
		if err != nil {
			return nil, err
		}
		n.endpoints = append(n.endpoints, ep)
		if spec.Addr == "" {
			continue
		}
		if b, ok := box.(binder); ok {
			b.BindAddr(spec.Flow, netip.MustParseAddr(spec.Addr))
		}
	}
	return n, nil
}

// Start 按各发送端的开始时间登记发送任务，重复调用无效
func (n *Network) Start() {
	if n.started {
		return
	}
	n.started = true
	for _, ep := range n.endpoints {
		n.sched.Schedule(ep.spec.Start, ep.start)
	}
	n.log.Debug("拓扑启动",
		logger.Int("senders", len(n.endpoints)),
		logger.Float64("bandwidth", n.cfg.Bandwidth),
		logger.Duration("tx_time", n.txTime))
}

// Stats 返回每个发送端的统计
func (n *Network) Stats() []FlowStats {
	out := make([]FlowStats, len(n.endpoints))
	for i, ep := range n.endpoints {
		out[i] = ep.stats
		if ep.cc != nil {
			out[i].Window = ep.cc.GetCongestionWindow()
			out[i].Congestion = ep.cc.GetStatistics()
		}
	}
	return out
}

// QueueLen 返回瓶颈队列长度
func (n *Network) QueueLen() int { return len(n.queue) }

// arrive 报文到达盒子
func (n *Network) arrive(p packet) {
	if n.box.OnDelivered(p.flow, p.seq, p.size, p.kind) == policebox.Drop {
		p.sender.stats.BoxDrops++
		return
	}
	if len(n.queue) >= n.cfg.QueueLimit {
		p.sender.stats.QueueDrops++
		n.box.OnQueueDrop(p.flow, p.seq)
		return
	}
	n.queue = append(n.queue, p)
	if !n.busy {
		n.transmit()
	}
}

// transmit 串行发送队首报文
func (n *Network) transmit() {
	if len(n.queue) == 0 {
		n.busy = false
		return
	}
	n.busy = true
	p := n.queue[0]
	n.queue = n.queue[1:]
	n.sched.Schedule(n.txTime, func() {
		n.departed(p)
		n.transmit()
	})
}

func (n *Network) departed(p packet) {
	if n.cfg.LinkLoss > 0 && n.rng.Float64() < n.cfg.LinkLoss {
		p.sender.stats.LinkDrops++
		if n.cfg.ReportLinkDrops {
			n.box.OnLinkDrop(p.flow, p.seq)
		}
		return
	}
	n.sched.Schedule(p.sender.spec.RTT/2, func() { p.sender.receive(p) })
}
