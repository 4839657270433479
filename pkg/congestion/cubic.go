package congestion

import (
	"math"
	"time"
)

// ------------------------------
// CUBIC 拥塞控制
// 拥塞避免阶段窗口按距上次丢包的时间三次增长，与 RTT 无关
// ------------------------------

type CubicConfig struct {
	Beta float64 // 丢包后窗口缩减系数（默认0.7）
	C    float64 // CUBIC系数（默认0.4）
}

func DefaultCubicConfig() CubicConfig {
	return CubicConfig{Beta: 0.7, C: 0.4}
}

type CubicController struct {
	*BaseController
	beta       float64
	c          float64
	wMax       float64
	epochStart time.Duration
	k          float64
	epoch      bool
}

func NewCubicController(initialCWnd, maxCWnd int) *CubicController {
	return NewCubicControllerWithConfig(DefaultCubicConfig(), initialCWnd, maxCWnd)
}

func NewCubicControllerWithConfig(config CubicConfig, initialCWnd, maxCWnd int) *CubicController {
	return &CubicController{
		BaseController: NewBaseController(initialCWnd, maxCWnd),
		beta:           config.Beta,
		c:              config.C,
	}
}

func (c *CubicController) Algorithm() AlgorithmType { return AlgorithmCubic }

func (c *CubicController) OnPacketSent(now time.Duration) { c.onSent() }

func (c *CubicController) OnAckReceived(now time.Duration, acked int, rtt time.Duration) {
	c.onAcked(acked, rtt)
	for i := 0; i < acked; i++ {
		if c.cwnd < c.ssthresh {
			c.cwnd++
			continue
		}
		if !c.epoch {
			// 没有丢包历史时以当前窗口为平台起点
			c.epoch = true
			c.epochStart = now
			c.wMax = c.cwnd
			c.k = 0
		}
		t := (now - c.epochStart).Seconds()
		target := c.c*math.Pow(t-c.k, 3) + c.wMax
		if target > c.cwnd {
			c.cwnd += (target - c.cwnd) / c.cwnd
		} else {
			c.cwnd += 0.01 / c.cwnd
		}
	}
	c.clamp()
}

func (c *CubicController) OnPacketLost(now time.Duration) {
	c.lost++
	if c.inRecovery(now) {
		return
	}
	c.wMax = c.cwnd
	c.cwnd *= c.beta
	c.ssthresh = c.cwnd
	c.epoch = true
	c.epochStart = now
	c.k = math.Cbrt(c.wMax * (1 - c.beta) / c.c)
	c.markReduction(now)
	c.clamp()
}

func (c *CubicController) GetStatistics() CongestionStats {
	s := c.stats()
	if c.cwnd < c.ssthresh {
		s.CurrentState = "slow_start"
	} else {
		s.CurrentState = "cubic"
	}
	return s
}
