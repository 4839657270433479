package congestion

import "time"

// ------------------------------
// BBR 拥塞控制（简化）
// 以瓶颈带宽和最小 RTT 的乘积为窗口，不把丢包当作主要信号
// ------------------------------

// BBR状态常量
const (
	BBRStartup  = "STARTUP"   // 启动阶段：快速提升带宽估计
	BBRDrain    = "DRAIN"     // 排水阶段：排空启动时积累的队列
	BBRProbeBW  = "PROBE_BW"  // 带宽探测阶段：周期性上探
	BBRProbeRTT = "PROBE_RTT" // RTT探测阶段：定期测量最小RTT
)

const (
	bbrStartupGain     = 2.0
	bbrBWSamples       = 10
	bbrFullBWRounds    = 3
	bbrFullBWGrowth    = 1.25
	bbrProbeRTTEvery   = 10 * time.Second
	bbrProbeRTTLasts   = 200 * time.Millisecond
	bbrProbeRTTWindow  = 4
	bbrLossWindowScale = 0.9
)

var bbrCycle = []float64{1.25, 0.75, 1, 1, 1, 1, 1, 1}

type BBRController struct {
	*BaseController
	state     string
	gain      float64
	bwSamples []float64 // 报文/秒
	bw        float64

	roundStart   time.Duration
	roundAcked   int
	fullBW       float64
	fullBWRounds int
	cycleIndex   int

	lastProbeRTT  time.Duration
	probeRTTStart time.Duration
}

func NewBBRController(initialCWnd, maxCWnd int) *BBRController {
	return &BBRController{
		BaseController: NewBaseController(initialCWnd, maxCWnd),
		state:          BBRStartup,
		gain:           bbrStartupGain,
		bwSamples:      make([]float64, 0, bbrBWSamples),
	}
}

func (b *BBRController) Algorithm() AlgorithmType { return AlgorithmBBR }

func (b *BBRController) OnPacketSent(now time.Duration) { b.onSent() }

func (b *BBRController) OnAckReceived(now time.Duration, acked int, rtt time.Duration) {
	b.onAcked(acked, rtt)
	b.roundAcked += acked
	if b.minRTT == 0 {
		return
	}

	// 每个最小 RTT 结束一轮，取一个带宽样本
	if now-b.roundStart >= b.minRTT {
		elapsed := (now - b.roundStart).Seconds()
		if b.roundStart > 0 && elapsed > 0 {
			b.addSample(float64(b.roundAcked) / elapsed)
		}
		b.roundStart = now
		b.roundAcked = 0
		b.onRound(now)
	}

	bdp := b.bw * b.minRTT.Seconds()
	switch b.state {
	case BBRProbeRTT:
		b.cwnd = bbrProbeRTTWindow
		if now-b.probeRTTStart >= bbrProbeRTTLasts {
			b.enterProbeBW()
		}
	case BBRStartup:
		b.cwnd += float64(acked)
	default:
		if bdp > 0 {
			b.cwnd = b.gain * bdp
		}
		if b.state == BBRDrain && float64(b.inFlight) <= bdp {
			b.enterProbeBW()
		}
	}
	if b.state != BBRProbeRTT && now-b.lastProbeRTT > bbrProbeRTTEvery {
		b.state = BBRProbeRTT
		b.probeRTTStart = now
		b.lastProbeRTT = now
	}
	b.clamp()
}

func (b *BBRController) addSample(rate float64) {
	if len(b.bwSamples) == bbrBWSamples {
		copy(b.bwSamples, b.bwSamples[1:])
		b.bwSamples = b.bwSamples[:bbrBWSamples-1]
	}
	b.bwSamples = append(b.bwSamples, rate)
	b.bw = 0
	for _, s := range b.bwSamples {
		if s > b.bw {
			b.bw = s
		}
	}
}

func (b *BBRController) onRound(now time.Duration) {
	switch b.state {
	case BBRStartup:
		if b.bw >= b.fullBW*bbrFullBWGrowth {
			b.fullBW = b.bw
			b.fullBWRounds = 0
			return
		}
		b.fullBWRounds++
		if b.fullBWRounds >= bbrFullBWRounds {
			b.state = BBRDrain
			b.gain = 1 / bbrStartupGain
		}
	case BBRProbeBW:
		b.cycleIndex = (b.cycleIndex + 1) % len(bbrCycle)
		b.gain = bbrCycle[b.cycleIndex]
	}
}

func (b *BBRController) enterProbeBW() {
	b.state = BBRProbeBW
	b.cycleIndex = 0
	b.gain = bbrCycle[0]
}

func (b *BBRController) OnPacketLost(now time.Duration) {
	b.lost++
	if b.inRecovery(now) {
		return
	}
	b.cwnd *= bbrLossWindowScale
	b.markReduction(now)
	b.clamp()
}

// State 返回当前状态
func (b *BBRController) State() string { return b.state }

// Bandwidth 返回瓶颈带宽估计（报文/秒）
func (b *BBRController) Bandwidth() float64 { return b.bw }

func (b *BBRController) GetStatistics() CongestionStats {
	s := b.stats()
	s.CurrentState = b.state
	return s
}
