// Package trace 报文事件轨迹的读写与回放
//
// 轨迹可以是 JSONL（每行一个事件）、YAML（events 列表）或 pcap 抓包。
// 回放时按事件时间通过 Scheduler 投递给控制器，仿真和实时两种调度器都适用。
package trace

import (
	"fmt"
	"sort"
	"time"

	"github.com/junbin-yang/go-policebox/pkg/policebox"
)

// EventType 事件类型
type EventType string

const (
	Deliver       EventType = "deliver"
	LinkDrop      EventType = "link_drop"
	QueueDrop     EventType = "queue_drop"
	Ack           EventType = "ack"
	UnreliableAck EventType = "unreliable_ack"
)

// ErrUnknownEvent 无法识别的事件类型
var ErrUnknownEvent = fmt.Errorf("无法识别的事件类型")

// Event 一个报文事件，Ack 事件的确认号放在 Seq 中
type Event struct {
	At     time.Duration          `json:"at" yaml:"at"`
	Type   EventType              `json:"type" yaml:"type"`
	Flow   policebox.FlowID       `json:"flow" yaml:"flow"`
	Seq    uint32                 `json:"seq,omitempty" yaml:"seq,omitempty"`
	Size   int                    `json:"size,omitempty" yaml:"size,omitempty"`
	Kind   policebox.ProtocolKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Window uint32                 `json:"window,omitempty" yaml:"window,omitempty"`
}

// Validate 检查事件类型
func (e *Event) Validate() error {
	switch e.Type {
	case Deliver, LinkDrop, QueueDrop, Ack, UnreliableAck:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
}

// Apply 把事件交给观察者，只有 Deliver 事件有裁决，其余返回 Accept
func (e *Event) Apply(obs policebox.Observer) policebox.Verdict {
	switch e.Type {
	case Deliver:
		return obs.OnDelivered(e.Flow, e.Seq, e.Size, e.Kind)
	case LinkDrop:
		obs.OnLinkDrop(e.Flow, e.Seq)
	case QueueDrop:
		obs.OnQueueDrop(e.Flow, e.Seq)
	case Ack:
		obs.OnAck(e.Flow, e.Seq, e.Window)
	case UnreliableAck:
		obs.OnUnreliableAck(e.Flow, e.Seq)
	}
	return policebox.Accept
}

// sortEvents 按时间稳定排序
func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].At < events[j].At })
}
