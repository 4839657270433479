package bottleneck

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/junbin-yang/go-policebox/pkg/congestion"
	"github.com/junbin-yang/go-policebox/pkg/policebox"
)

var (
	// ErrNoSenders 没有配置发送端
	ErrNoSenders = fmt.Errorf("未配置任何发送端")

	// ErrInvalidLink 瓶颈链路参数无效
	ErrInvalidLink = fmt.Errorf("瓶颈链路参数无效")

	// ErrInvalidSender 发送端参数无效
	ErrInvalidSender = fmt.Errorf("发送端参数无效")
)

// SenderSpec 一个发送端，对应控制器中的一条流
type SenderSpec struct {
	Flow      policebox.FlowID         `yaml:"flow" json:"flow"`
	Protocol  policebox.ProtocolKind   `yaml:"protocol" json:"protocol"`
	Algorithm congestion.AlgorithmType `yaml:"algorithm" json:"algorithm"` // 可靠流的拥塞控制
	Rate      float64                  `yaml:"rate" json:"rate"`           // 不可靠流的恒定速率，bit/s
	RTT       time.Duration            `yaml:"rtt" json:"rtt"`             // 不含排队的往返时延
	Start     time.Duration            `yaml:"start" json:"start"`
	Stop      time.Duration            `yaml:"stop" json:"stop"` // 0 表示一直发送
	Addr      string                   `yaml:"addr" json:"addr"` // 可选，绑定到控制器
}

// Config 哑铃拓扑参数
type Config struct {
	Bandwidth  float64      `yaml:"bandwidth" json:"bandwidth"`     // 瓶颈带宽，bit/s
	PacketSize int          `yaml:"packet_size" json:"packet_size"` // 字节
	QueueLimit int          `yaml:"queue_limit" json:"queue_limit"` // 报文数
	LinkLoss   float64      `yaml:"link_loss" json:"link_loss"`     // 瓶颈之后的随机丢包率
	MaxWindow  int          `yaml:"max_window" json:"max_window"`
	RecvWindow uint32       `yaml:"recv_window" json:"recv_window"`
	Seed       int64        `yaml:"seed" json:"seed"`
	Senders    []SenderSpec `yaml:"senders" json:"senders"`

	// ReportLinkDrops 为 true 时链路丢包直接通知控制器，否则只能由确认推断
	ReportLinkDrops bool `yaml:"report_link_drops" json:"report_link_drops"`
}

// DefaultConfig 10Mbit/s 瓶颈，1250 字节报文
func DefaultConfig() Config {
	return Config{
		Bandwidth:  10e6,
		PacketSize: 1250,
		QueueLimit: 100,
		MaxWindow:  1000,
		RecvWindow: 65535,
	}
}

func (c *Config) validate() error {
	if len(c.Senders) == 0 {
		return ErrNoSenders
	}
	if c.Bandwidth <= 0 || c.PacketSize <= 0 || c.QueueLimit <= 0 {
		return fmt.Errorf("%w: bandwidth=%v packet_size=%d queue_limit=%d",
			ErrInvalidLink, c.Bandwidth, c.PacketSize, c.QueueLimit)
	}
	if c.LinkLoss < 0 || c.LinkLoss >= 1 {
		return fmt.Errorf("%w: link_loss=%v", ErrInvalidLink, c.LinkLoss)
	}
	for i, s := range c.Senders {
		if s.RTT <= 0 {
			return fmt.Errorf("%w: 发送端 %d rtt=%v", ErrInvalidSender, i, s.RTT)
		}
		if s.Stop != 0 && s.Stop <= s.Start {
			return fmt.Errorf("%w: 发送端 %d 停止时间早于开始时间", ErrInvalidSender, i)
		}
		switch s.Protocol {
		case policebox.Unreliable:
			if s.Rate <= 0 {
				return fmt.Errorf("%w: 发送端 %d rate=%v", ErrInvalidSender, i, s.Rate)
			}
		case policebox.Reliable, "":
		default:
			return fmt.Errorf("%w: 发送端 %d 协议类型 %q", ErrInvalidSender, i, s.Protocol)
		}
		if s.Addr != "" {
			if _, err := netip.ParseAddr(s.Addr); err != nil {
				return fmt.Errorf("%w: 发送端 %d 地址 %q", ErrInvalidSender, i, s.Addr)
			}
		}
	}
	return nil
}
