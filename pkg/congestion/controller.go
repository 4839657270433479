// Package congestion 发送端拥塞窗口模型
//
// 这些模型供仿真发送端使用，以报文为单位计数，时间由调用方传入，
// 不持有锁，只能在单一执行上下文中使用。
package congestion

import (
	"fmt"
	"time"
)

// Controller 拥塞控制接口
type Controller interface {
	// OnPacketSent 发出一个报文
	OnPacketSent(now time.Duration)
	// OnAckReceived 确认了 acked 个报文，rtt 为本次采样
	OnAckReceived(now time.Duration, acked int, rtt time.Duration)
	// OnPacketLost 检测到一次丢包（重复确认或超时）
	OnPacketLost(now time.Duration)
	// GetCongestionWindow 返回当前拥塞窗口（报文数），至少为 minCWnd
	GetCongestionWindow() int
	// GetStatistics 返回统计信息
	GetStatistics() CongestionStats
	// Algorithm 返回算法名
	Algorithm() AlgorithmType
}

// CongestionStats 拥塞控制统计信息
type CongestionStats struct {
	CongestionWindow int           `json:"cwnd"`
	Ssthresh         float64       `json:"ssthresh"`
	RTT              time.Duration `json:"rtt"`
	MinRTT           time.Duration `json:"min_rtt"`
	LossRate         float64       `json:"loss_rate"`
	InFlight         int           `json:"in_flight"`
	PacketsSent      int64         `json:"packets_sent"`
	PacketsAcked     int64         `json:"packets_acked"`
	PacketsLost      int64         `json:"packets_lost"`
	Reductions       int64         `json:"reductions"` // 窗口缩减次数
	CurrentState     string        `json:"state,omitempty"`
}

const (
	defaultSsthresh = 1 << 16
	minCWnd         = 2
)

// BaseController 所有算法共用的窗口、RTT 和计数
type BaseController struct {
	cwnd     float64
	ssthresh float64
	maxCWnd  float64
	srtt     time.Duration
	minRTT   time.Duration
	inFlight int

	sent, acked, lost int64
	reductions        int64
	lastReduction     time.Duration
	reduced           bool
}

// NewBaseController 创建基础控制器，maxCWnd 为 0 时不设上限
func NewBaseController(initialCWnd, maxCWnd int) *BaseController {
	b := &BaseController{
		cwnd:     float64(initialCWnd),
		ssthresh: defaultSsthresh,
		maxCWnd:  float64(maxCWnd),
	}
	b.clamp()
	return b
}

func (b *BaseController) onSent() {
	b.inFlight++
	b.sent++
}

func (b *BaseController) onAcked(acked int, rtt time.Duration) {
	b.inFlight -= acked
	if b.inFlight < 0 {
		b.inFlight = 0
	}
	b.acked += int64(acked)
	b.updateRTT(rtt)
}

// updateRTT 平滑 RTT（7/8 旧值 + 1/8 新值），同时跟踪最小值
func (b *BaseController) updateRTT(rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	if b.srtt == 0 {
		b.srtt = rtt
		b.minRTT = rtt
		return
	}
	b.srtt = time.Duration(0.875*float64(b.srtt) + 0.125*float64(rtt))
	if rtt < b.minRTT {
		b.minRTT = rtt
	}
}

// inRecovery 一个 RTT 内的多次丢包只缩减一次窗口
func (b *BaseController) inRecovery(now time.Duration) bool {
	return b.reduced && now-b.lastReduction < b.srtt
}

func (b *BaseController) markReduction(now time.Duration) {
	b.reduced = true
	b.lastReduction = now
	b.reductions++
}

func (b *BaseController) clamp() {
	if b.cwnd < minCWnd {
		b.cwnd = minCWnd
	}
	if b.maxCWnd > 0 && b.cwnd > b.maxCWnd {
		b.cwnd = b.maxCWnd
	}
}

// GetCongestionWindow 返回向下取整后的窗口
func (b *BaseController) GetCongestionWindow() int { return int(b.cwnd) }

func (b *BaseController) stats() CongestionStats {
	s := CongestionStats{
		CongestionWindow: int(b.cwnd),
		Ssthresh:         b.ssthresh,
		RTT:              b.srtt,
		MinRTT:           b.minRTT,
		InFlight:         b.inFlight,
		PacketsSent:      b.sent,
		PacketsAcked:     b.acked,
		PacketsLost:      b.lost,
		Reductions:       b.reductions,
	}
	if b.sent > 0 {
		s.LossRate = float64(b.lost) / float64(b.sent)
	}
	return s
}

// GetStatistics 返回统计信息
func (b *BaseController) GetStatistics() CongestionStats { return b.stats() }

// AlgorithmType 拥塞控制算法
type AlgorithmType string

const (
	AlgorithmCubic AlgorithmType = "cubic"
	AlgorithmBBR   AlgorithmType = "bbr"
	AlgorithmReno  AlgorithmType = "reno"
	AlgorithmVegas AlgorithmType = "vegas"
)

// NewController 按算法名创建拥塞控制器
func NewController(algorithm AlgorithmType, initialCWnd, maxCWnd int) (Controller, error) {
	switch algorithm {
	case AlgorithmCubic:
		return NewCubicController(initialCWnd, maxCWnd), nil
	case AlgorithmBBR:
		return NewBBRController(initialCWnd, maxCWnd), nil
	case AlgorithmReno, "":
		return NewRenoController(initialCWnd, maxCWnd), nil
	case AlgorithmVegas:
		return NewVegasController(initialCWnd, maxCWnd), nil
	default:
		return nil, fmt.Errorf("不支持的拥塞控制算法: %s（支持的算法：%v）", algorithm,
			[]AlgorithmType{AlgorithmCubic, AlgorithmBBR, AlgorithmReno, AlgorithmVegas})
	}
}
