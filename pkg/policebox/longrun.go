package policebox

const (
	warmupFactor      = 0.08 // 前 M 个样本使用的快速平滑系数
	warmupCapacityMix = 0.25 // 前 M 个样本内容量的折算系数
	startupSamples    = 2
)

// ------------------------------
// 长周期平滑
// 在若干控制周期的尺度上跟踪每条流的交付量和分配量，
// 并以窗口最大值估计瓶颈容量，避免短周期振荡误导分配器
// ------------------------------

// LongRunSmoother 长周期平滑器
type LongRunSmoother struct {
	rwnd []float64
	cwnd []float64

	beta     float64
	period   int
	startup  float64
	headroom float64

	window   []float64 // 最近 period 个容量样本
	next     int
	counter  int
	capacity float64
	samples  int
}

// NewLongRunSmoother 创建平滑器
func NewLongRunSmoother(n int, beta float64, period int, startup, headroom float64) *LongRunSmoother {
	return &LongRunSmoother{
		rwnd:     make([]float64, n),
		cwnd:     make([]float64, n),
		beta:     beta,
		period:   period,
		startup:  startup,
		headroom: headroom,
		window:   make([]float64, 0, period),
	}
}

func ewma(prev, sample, factor float64) float64 {
	if prev == 0 {
		return sample
	}
	return (1-factor)*prev + factor*sample
}

// Update 折算一个周期的交付量、分配量和瞬时容量
func (l *LongRunSmoother) Update(delivered, allocated []float64, capacity float64) {
	warm := len(l.window) < l.period
	factor := l.beta
	if warm {
		factor = warmupFactor
	}
	for i := range l.rwnd {
		l.rwnd[i] = ewma(l.rwnd[i], delivered[i], factor)
		l.cwnd[i] = ewma(l.cwnd[i], allocated[i], factor)
	}

	// 前两个样本不可靠，不可靠流会造成高估
	if len(l.window) < startupSamples {
		capacity = l.startup
	}
	if len(l.window) < l.period {
		l.window = append(l.window, capacity)
	} else {
		l.window[l.next] = capacity
		l.next = (l.next + 1) % l.period
	}
	peak := 0.0
	for _, c := range l.window {
		if c > peak {
			peak = c
		}
	}

	l.samples++
	l.counter++
	switch {
	case l.counter >= l.period:
		delta := l.beta * float64(l.period)
		if delta > 1 {
			delta = 1
		}
		l.capacity = ewma(l.capacity, peak, delta)
		l.counter = 0
	case warm:
		l.capacity = ewma(l.capacity, peak, warmupCapacityMix)
	}
}

// SeedFlow 重设单条流的长期值，控制回路在第一个完整窗口结束时用短周期值播种
func (l *LongRunSmoother) SeedFlow(flow FlowID, rwnd, cwnd float64) {
	l.rwnd[flow] = rwnd
	l.cwnd[flow] = cwnd
}

// LongRwnd 返回长期交付量
func (l *LongRunSmoother) LongRwnd() []float64 {
	return append([]float64(nil), l.rwnd...)
}

// LongCwnd 返回长期分配量
func (l *LongRunSmoother) LongCwnd() []float64 {
	return append([]float64(nil), l.cwnd...)
}

// Capacity 返回长期容量估计
func (l *LongRunSmoother) Capacity() float64 { return l.capacity }

// ControlCapacity 返回可用于分配的容量，为可靠流自身退避预留余量
func (l *LongRunSmoother) ControlCapacity() float64 { return l.capacity * l.headroom }

// Samples 返回累计的样本数
func (l *LongRunSmoother) Samples() int { return l.samples }
