package policebox

import (
	"time"

	"github.com/junbin-yang/go-policebox/pkg/statemachine"
)

// FlowID 受控流的编号，按配置顺序从 0 开始连续分配
type FlowID int

// ProtocolKind 流的传输类型
type ProtocolKind string

const (
	Reliable   ProtocolKind = "reliable"   // 有确认和重传的流，例如 TCP
	Unreliable ProtocolKind = "unreliable" // 无重传的流，例如 UDP
)

// FairnessPolicy 目标速率的发布方式
type FairnessPolicy string

const (
	FairNatural   FairnessPolicy = "natural"    // 按实际交付量
	FairPerSender FairnessPolicy = "per_sender" // 按发送方均分
	FairPriority  FairnessPolicy = "priority"   // 按加权分配结果
)

// AllocationMode 长周期分配算法
type AllocationMode string

const (
	AllocReuse     AllocationMode = "reuse"      // 按长期利用率分档复用
	AllocWaterFill AllocationMode = "water_fill" // 加权注水
)

// ExploreMode OFF 状态下探测余量的衰减方式
type ExploreMode string

const (
	ExploreLinear ExploreMode = "linear" // 每 explore_step 个无丢包周期减一
	ExploreRatio  ExploreMode = "ratio"  // 按无丢包周期占比衰减
)

// DropRequest 每个周期为每条流计算的丢包请求
type DropRequest int

const (
	Clean DropRequest = iota
	RateViolation
	SafetyViolation
)

func (r DropRequest) String() string {
	switch r {
	case Clean:
		return "clean"
	case RateViolation:
		return "rate_violation"
	case SafetyViolation:
		return "safety_violation"
	default:
		return "unknown"
	}
}

// event 对应状态机事件
func (r DropRequest) event() statemachine.Event {
	return statemachine.Event(r.String())
}

// Verdict 交付回调对单个报文的裁决
type Verdict int

const (
	Accept Verdict = iota
	Drop
)

func (v Verdict) String() string {
	if v == Drop {
		return "drop"
	}
	return "accept"
}

// 尽力而为控制状态
const (
	StateOn   statemachine.State = "on"
	StateWarn statemachine.State = "warn"
	StateOff  statemachine.State = "off"
)

// TaskID 调度器返回的任务句柄
type TaskID uint64

// Scheduler 为控制器提供时间和单线程回调调度
//
// 实现必须保证回调之间不并发执行，且按时间先后顺序执行。
type Scheduler interface {
	Now() time.Duration
	Schedule(delay time.Duration, fn func()) TaskID
	Cancel(id TaskID)
}

// Observer 报文事件入口，由拓扑仿真或轨迹回放调用，*Controller 实现了它
type Observer interface {
	OnDelivered(flow FlowID, seq uint32, size int, kind ProtocolKind) Verdict
	OnLinkDrop(flow FlowID, seq uint32)
	OnQueueDrop(flow FlowID, seq uint32)
	OnAck(flow FlowID, ackNo uint32, window uint32)
	OnUnreliableAck(flow FlowID, seq uint32)
}

var _ Observer = (*Controller)(nil)
