package policebox

import (
	"math"

	"github.com/junbin-yang/go-policebox/pkg/logger"
)

const (
	minShortSample = 1e-3
	silentWindow   = 2.0 // mwnd 连续两个周期低于该值时重置安全窗口
	mwndDecay      = 2.0 / 3.0
	fullySafeRatio = 0.8
	minRecovery    = 1
	maxRecovery    = 3
)

// tick 控制周期回调
//
// 先重新登记下一次回调，这样接收方在回调内调用 Stop 也能取消它。
func (c *Controller) tick() {
	c.tickTask = 0
	if !c.running {
		return
	}
	c.tickTask = c.sched.Schedule(c.cfg.Interval, c.tick)

	now := c.sched.Now()
	elapsed := now - c.lastTick
	c.lastTick = now
	c.ticks++

	n := len(c.flows)
	a := c.cfg.ShortAlpha
	delivered := make([]float64, n)
	prevTarget := make([]float64, n)
	isd := make([]int, n)
	restart := make([]bool, n)

	// 折算计数器
	anyLink, anyBox := false, false
	lost, total := 0.0, 0.0
	for i := range c.flows {
		f := &c.flows[i]
		f.cur.BoxDrops += f.cur.QueueDrops
		if f.cur.LinkDrops > 0 {
			anyLink = true
			f.ca = true
			f.isd = 0
		} else {
			f.isd++
		}
		if f.cur.BoxDrops > 0 {
			anyBox = true
		}
		f.total.add(f.cur)

		d := float64(f.cur.Delivered)
		drops := float64(f.cur.LinkDrops + f.cur.BoxDrops)
		delivered[i] = d
		prevTarget[i] = f.target
		isd[i] = f.isd

		if d > 5 {
			f.llr = (1-c.cfg.LossBeta)*(drops/d) + c.cfg.LossBeta*f.llr
		} else {
			f.llr = c.cfg.LossBeta * f.llr
		}
		lost += drops
		total += d

		// 沉默的流重新出现时按新流对待
		if f.lastDelivered == 0 && f.cur.Delivered == 0 {
			restart[i] = true
			f.restart = true
			f.ca = false
			f.safetyWindow = initSafetyWindow
		} else {
			f.restart = false
		}
	}
	if anyLink {
		c.lossFree = 0
	} else {
		c.lossFree++
	}
	ratio := 0.0
	if total > 0 {
		ratio = lost / total
	}
	c.slr = (1-a)*c.slr + a*ratio

	// 容量估计
	capacity := 0.0
	for i := range c.flows {
		f := &c.flows[i]
		net := delivered[i] - float64(f.cur.LinkDrops+f.cur.BoxDrops)
		if net > 0 {
			capacity += net
		}
	}
	c.capacity = capacity
	if c.smoothed < 1 {
		c.smoothed = capacity
	} else {
		c.smoothed = (1-a)*c.smoothed + a*capacity
	}

	// 长周期平滑与重新分配
	c.long.Update(delivered, prevTarget, capacity)
	period := c.cfg.LongPeriod
	if c.long.Samples() == period {
		for i := range c.flows {
			c.long.SeedFlow(FlowID(i), c.flows[i].shortRwnd, c.flows[i].shortCwnd)
		}
	}
	ctrlCap := c.long.ControlCapacity()
	if c.long.Samples()%period == 0 {
		var alloc []float64
		switch c.cfg.Allocation {
		case AllocWaterFill:
			alloc = c.alloc.WaterFill(c.long.LongRwnd(), ctrlCap)
		default:
			alloc = c.alloc.ReuseSwitch(c.long.LongRwnd(), c.long.LongCwnd(), ctrlCap)
		}
		c.log.Debug("重新分配带宽",
			logger.String("box", c.id),
			logger.String("mode", string(c.cfg.Allocation)),
			logger.Float64("capacity", ctrlCap),
			logger.Any("alloc", alloc))
	}

	// 短周期平滑
	shortRwnd := make([]float64, n)
	for i := range c.flows {
		f := &c.flows[i]
		if f.shortRwnd < minShortSample {
			f.shortRwnd = delivered[i]
		} else {
			f.shortRwnd = (1-a)*f.shortRwnd + a*delivered[i]
		}
		shortRwnd[i] = f.shortRwnd
	}
	_, c.surplus = c.alloc.Estimate(shortRwnd, c.smoothed)

	projCtrl := c.alloc.Projection(ctrlCap)
	projSmooth := c.alloc.Projection(c.smoothed)
	tentative := make([]float64, n)
	tentSum := 0.0
	for i := range c.flows {
		f := &c.flows[i]
		tentative[i] = math.Max(projCtrl[i], projSmooth[i])
		tentSum += tentative[i]
		if f.shortCwnd < minShortSample {
			f.shortCwnd = tentative[i]
		} else {
			f.shortCwnd = (1-a)*f.shortCwnd + a*tentative[i]
		}
	}

	// 丢包请求
	codes := make([]DropRequest, n)
	for i := range c.flows {
		f := &c.flows[i]
		prev := f.mwnd
		drops := float64(f.cur.LinkDrops + f.cur.BoxDrops)
		f.mwnd = delivered[i] * math.Pow(mwndDecay, drops)
		if f.mwnd < silentWindow && prev < silentWindow {
			f.safetyWindow = initSafetyWindow
		}

		switch {
		case delivered[i] > f.safetyWindow:
			codes[i] = SafetyViolation
		case f.shortRwnd > c.cfg.DropRateMultiplier*f.shortCwnd && c.lossFree < c.cfg.SafetyThreshold:
			codes[i] = RateViolation
		default:
			codes[i] = Clean
		}
	}

	// 慢启动保护
	weights := c.weights
	if tentSum > 0 {
		weights = make([]float64, n)
		for i := range tentative {
			weights[i] = tentative[i] / tentSum
		}
	}
	res := c.ssd.Refresh(SlowStartInput{
		Delivered:          delivered,
		LossFreeCount:      c.cleanCount(anyBox),
		IntervalsSinceDrop: isd,
		Restart:            restart,
		Weights:            weights,
		FullySafe:          !anyBox && float64(c.lossFree) > fullySafeRatio*float64(c.ticks),
	})
	for i := range c.flows {
		f := &c.flows[i]
		f.ssDrop = false
		if res.Exiting[i] {
			f.shortRwnd = delivered[i]
			f.shortCwnd = tentative[i]
			c.log.Debug("流退出慢启动",
				logger.String("box", c.id),
				logger.Int("flow", i),
				logger.Float64("delivered", delivered[i]))
		}
		switch {
		case !res.Controlled[i]:
			codes[i] = Clean
		case res.DropPermitted[i]:
			codes[i] = RateViolation
			f.ssDrop = true
		}
	}

	c.be.Update(codes, delivered, prevTarget, isd)

	// 安全窗口
	for i := range c.flows {
		f := &c.flows[i]
		recovering := f.lastLinkDrops >= minRecovery && f.lastLinkDrops <= maxRecovery
		if f.cur.LinkDrops+f.cur.BoxDrops > 0 && !recovering {
			f.safetyWindow = f.safetyWindow/2 + initSafetyWindow
		}
		if f.ca {
			rtt := f.spec.ExpectedRTT
			if rtt <= 0 {
				rtt = c.cfg.DefaultRTT
			}
			f.safetyWindow += float64(int64(c.cfg.Interval/rtt)+1) * c.cfg.Rho
		}
	}

	c.publish(delivered, tentative)

	rec := &IntervalRecord{
		BoxID:                 c.id,
		At:                    now,
		Tick:                  c.ticks,
		Interval:              elapsed,
		InstantaneousCapacity: c.capacity,
		SmoothedCapacity:      c.smoothed,
		LongRunCapacity:       c.long.Capacity(),
		ControlCapacity:       ctrlCap,
		LossFreeIntervals:     c.lossFree,
		ShortLossRatio:        c.slr,
		AllocatorSurplus:      c.surplus,
		Flows:                 c.flowSnapshots(),
	}
	for _, s := range c.sinks {
		s.OnInterval(rec)
	}

	for i := range c.flows {
		f := &c.flows[i]
		f.lastDelivered = f.cur.Delivered
		f.lastLinkDrops = f.cur.LinkDrops
		f.cur = Counters{}
	}
}

// cleanCount 本周期盒子没有丢包时返回无丢包周期数，否则为 0
func (c *Controller) cleanCount(anyBox bool) int {
	if anyBox {
		return 0
	}
	return c.lossFree
}

// publish 按公平策略发布目标速率
func (c *Controller) publish(delivered, tentative []float64) {
	n := len(c.flows)
	for i := range c.flows {
		f := &c.flows[i]
		switch c.cfg.Fairness {
		case FairNatural:
			f.target = math.Max(0, delivered[i]-float64(f.cur.LinkDrops+f.cur.BoxDrops))
		case FairPerSender:
			f.target = math.Floor(c.capacity / float64(n))
		default:
			f.target = math.Max(0, tentative[i])
		}
	}
}

// stats 统计周期回调，计算每条流的数据速率
func (c *Controller) stats() {
	c.statsTask = 0
	if !c.running {
		return
	}
	c.statsTask = c.sched.Schedule(c.cfg.StatsInterval, c.stats)

	now := c.sched.Now()
	elapsed := now - c.lastStats
	c.lastStats = now

	rec := &StatsRecord{BoxID: c.id, At: now, Flows: make([]FlowRate, len(c.flows))}
	for i := range c.flows {
		f := &c.flows[i]
		rate := 0.0
		if elapsed > 0 {
			rate = float64(f.statBytes*8) / elapsed.Seconds()
		}
		if f.txRate == 0 {
			f.txRate = rate
		} else {
			f.txRate = (1-c.cfg.ShortAlpha)*f.txRate + c.cfg.ShortAlpha*rate
		}
		f.statBytes = 0
		rec.Flows[i] = FlowRate{ID: FlowID(i), Name: f.spec.Name, DataRate: rate, TxRate: f.txRate}
	}
	for _, s := range c.sinks {
		s.OnStats(rec)
	}
}
