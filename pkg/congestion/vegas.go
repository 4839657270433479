package congestion

import "time"

// ------------------------------
// Vegas 拥塞控制
// 比较预期吞吐量和实际吞吐量估计排队报文数，在丢包之前调整窗口
// ------------------------------

type VegasController struct {
	*BaseController
	alpha float64 // 排队报文数下限
	beta  float64 // 排队报文数上限
	gamma float64 // 慢启动退出阈值
}

func NewVegasController(initialCWnd, maxCWnd int) *VegasController {
	return &VegasController{
		BaseController: NewBaseController(initialCWnd, maxCWnd),
		alpha:          2,
		beta:           4,
		gamma:          1,
	}
}

func (v *VegasController) Algorithm() AlgorithmType { return AlgorithmVegas }

func (v *VegasController) OnPacketSent(now time.Duration) { v.onSent() }

// queued 估计瓶颈队列中属于本流的报文数
func (v *VegasController) queued(rtt time.Duration) float64 {
	if v.minRTT == 0 || rtt == 0 {
		return 0
	}
	expected := v.cwnd / v.minRTT.Seconds()
	actual := v.cwnd / rtt.Seconds()
	return (expected - actual) * v.minRTT.Seconds()
}

func (v *VegasController) OnAckReceived(now time.Duration, acked int, rtt time.Duration) {
	v.onAcked(acked, rtt)
	diff := v.queued(rtt)

	for i := 0; i < acked; i++ {
		switch {
		case v.cwnd < v.ssthresh:
			if diff > v.gamma {
				v.ssthresh = v.cwnd
			} else {
				v.cwnd++
			}
		case diff < v.alpha:
			v.cwnd += 1 / v.cwnd
		case diff > v.beta:
			v.cwnd -= 1 / v.cwnd
		}
	}
	v.clamp()
}

func (v *VegasController) OnPacketLost(now time.Duration) {
	v.lost++
	if v.inRecovery(now) {
		return
	}
	v.ssthresh = v.cwnd / 2
	v.cwnd = v.ssthresh
	v.markReduction(now)
	v.clamp()
}
