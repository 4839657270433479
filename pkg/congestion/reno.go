package congestion

import "time"

// ------------------------------
// Reno 拥塞控制
// 慢启动每个确认加一，拥塞避免每个确认加 1/cwnd，丢包时减半
// ------------------------------

type RenoController struct {
	*BaseController
}

func NewRenoController(initialCWnd, maxCWnd int) *RenoController {
	return &RenoController{BaseController: NewBaseController(initialCWnd, maxCWnd)}
}

func (r *RenoController) Algorithm() AlgorithmType { return AlgorithmReno }

func (r *RenoController) OnPacketSent(now time.Duration) { r.onSent() }

func (r *RenoController) OnAckReceived(now time.Duration, acked int, rtt time.Duration) {
	r.onAcked(acked, rtt)
	for i := 0; i < acked; i++ {
		if r.cwnd < r.ssthresh {
			r.cwnd++
		} else {
			r.cwnd += 1 / r.cwnd
		}
	}
	r.clamp()
}

func (r *RenoController) OnPacketLost(now time.Duration) {
	r.lost++
	if r.inRecovery(now) {
		return
	}
	r.ssthresh = r.cwnd / 2
	if r.ssthresh < minCWnd {
		r.ssthresh = minCWnd
	}
	r.cwnd = r.ssthresh
	r.markReduction(now)
	r.clamp()
}
