package policebox

import (
	"time"

	"github.com/junbin-yang/go-policebox/pkg/statemachine"
)

// Counters 流的计数器
type Counters struct {
	Delivered      uint64 `json:"delivered"`
	DeliveredBytes uint64 `json:"delivered_bytes"`
	LinkDrops      uint64 `json:"link_drops"`
	BoxDrops       uint64 `json:"box_drops"`
	QueueDrops     uint64 `json:"queue_drops"`
	Acks           uint64 `json:"acks"`
}

func (c *Counters) add(o Counters) {
	c.Delivered += o.Delivered
	c.DeliveredBytes += o.DeliveredBytes
	c.LinkDrops += o.LinkDrops
	c.BoxDrops += o.BoxDrops
	c.QueueDrops += o.QueueDrops
	c.Acks += o.Acks
}

// flowState 控制器独占的单条流状态
type flowState struct {
	spec FlowSpec

	cur   Counters // 本周期
	total Counters // 累计

	shortRwnd float64
	shortCwnd float64
	target    float64

	ca           bool // 是否处于拥塞避免
	safetyWindow float64
	isd          int // 距上次链路丢包的周期数
	restart      bool
	ssDrop       bool // 慢启动退出时允许的一次丢包

	lastDelivered uint64
	lastLinkDrops uint64
	mwnd          float64
	llr           float64

	// 统计周期
	statBytes uint64
	txRate    float64

	peerWindow uint32 // 最近一次确认通告的接收窗口
}

// FlowSnapshot 单条流的只读快照
type FlowSnapshot struct {
	ID       FlowID             `json:"id"`
	Name     string             `json:"name"`
	Weight   float64            `json:"weight"`
	Protocol ProtocolKind       `json:"protocol"`
	Interval Counters           `json:"interval"`
	Total    Counters           `json:"total"`
	State    statemachine.State `json:"state"`

	ShortRwnd           float64 `json:"short_rwnd"`
	ShortCwnd           float64 `json:"short_cwnd"`
	LongRwnd            float64 `json:"long_rwnd"`
	LongCwnd            float64 `json:"long_cwnd"`
	TargetRate          float64 `json:"target_rate"`
	SafetyWindow        float64 `json:"safety_window"`
	DMax                int     `json:"dmax"`
	TokenCapacity       int     `json:"token_capacity"`
	LossRatio           float64 `json:"llr"`
	InSlowStart         bool    `json:"in_slow_start"`
	CongestionAvoidance bool    `json:"congestion_avoidance"`
	SinceDrop           int     `json:"intervals_since_drop"`
	PeerWindow          uint32  `json:"peer_window"`
}

// Snapshot 控制器整体的只读快照
type Snapshot struct {
	Now                   time.Duration  `json:"now"`
	Ticks                 int            `json:"ticks"`
	InstantaneousCapacity float64        `json:"instantaneous_capacity"`
	SmoothedCapacity      float64        `json:"smoothed_capacity"`
	LongRunCapacity       float64        `json:"long_run_capacity"`
	LossFreeIntervals     int            `json:"loss_free_intervals"`
	ShortLossRatio        float64        `json:"slr"`
	Flows                 []FlowSnapshot `json:"flows"`
}
