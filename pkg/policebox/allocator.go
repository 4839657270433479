package policebox

const (
	reuseLowThreshold  = 0.6
	reuseHighThreshold = 0.9
	minLongAlloc       = 0.001
)

// ------------------------------
// 带宽分配
// 以权重份额为起点，把低利用流让出的带宽按权重分给其余流
// ------------------------------

// BandwidthAllocator 加权公平带宽分配器
type BandwidthAllocator struct {
	weights []float64
	margin  float64

	tentative []float64 // 最近一次分配结果
	capacity  float64   // 最近一次分配使用的容量
	surplus   float64
	allocated bool
}

// NewBandwidthAllocator 创建分配器
func NewBandwidthAllocator(weights []float64, margin float64) *BandwidthAllocator {
	n := len(weights)
	return &BandwidthAllocator{
		weights:   append([]float64(nil), weights...),
		margin:    margin,
		tentative: make([]float64, n),
	}
}

// WeightedShare 返回按权重划分的容量
func (b *BandwidthAllocator) WeightedShare(capacity float64) []float64 {
	out := make([]float64, len(b.weights))
	for i, w := range b.weights {
		out[i] = w * capacity
	}
	return out
}

// WaterFill 加权注水分配
//
// 份额超过 (1+margin)*demand 的流被标记为低利用并封顶，释放的余量按权重分给未标记的流，
// 直到没有新的流被标记，最多迭代 2N 次。所有流都低利用时余量按权重退回，总和恒等于 capacity。
// 结果会作为后续 Projection 的依据。
func (b *BandwidthAllocator) WaterFill(demand []float64, capacity float64) []float64 {
	alloc, released := b.Estimate(demand, capacity)
	b.remember(alloc, capacity, released)
	return append([]float64(nil), alloc...)
}

// Estimate 计算注水分配和被释放的余量，不改变分配器状态
func (b *BandwidthAllocator) Estimate(demand []float64, capacity float64) ([]float64, float64) {
	n := len(b.weights)
	alloc := b.WeightedShare(capacity)
	marked := make([]bool, n)
	released := 0.0

	for iter := 0; iter < 2*n; iter++ {
		surplus := 0.0
		for i := 0; i < n; i++ {
			limit := (1 + b.margin) * demand[i]
			if !marked[i] && alloc[i] > limit {
				marked[i] = true
				surplus += alloc[i] - limit
				alloc[i] = limit
			}
		}
		if surplus == 0 {
			break
		}
		released += surplus

		wsum := 0.0
		for i := 0; i < n; i++ {
			if !marked[i] {
				wsum += b.weights[i]
			}
		}
		if wsum == 0 {
			b.giveBack(alloc, surplus)
			break
		}
		for i := 0; i < n; i++ {
			if !marked[i] {
				alloc[i] += b.weights[i] * surplus / wsum
			}
		}
	}
	return alloc, released
}

// giveBack 把余量按权重分给所有流，权重全为零时均分
func (b *BandwidthAllocator) giveBack(alloc []float64, surplus float64) {
	total := 0.0
	for _, w := range b.weights {
		total += w
	}
	for i := range alloc {
		if total == 0 {
			alloc[i] += surplus / float64(len(alloc))
			continue
		}
		alloc[i] += surplus * b.weights[i] / total
	}
}

// ReuseSwitch 按长期利用率 r = longDemand/longAlloc 分档重新分配
//
// r < 0.6 的流视为低利用，不参与余量再分配；所有流都低利用时余量全部给 r 最大的流。
func (b *BandwidthAllocator) ReuseSwitch(longDemand, longAlloc []float64, capacity float64) []float64 {
	n := len(b.weights)
	alloc := make([]float64, n)
	share := b.WeightedShare(capacity)
	under := make([]bool, n)

	lalloc := make([]float64, n)
	sumAlloc := 0.0
	for i := range lalloc {
		lalloc[i] = longAlloc[i]
		if lalloc[i] == 0 {
			lalloc[i] = minLongAlloc
		}
		sumAlloc += lalloc[i]
	}

	surplus := 0.0
	best, bestRatio := 0, -1.0
	for i := 0; i < n; i++ {
		r := longDemand[i] / lalloc[i]
		scaled := lalloc[i] * capacity / sumAlloc

		switch {
		case r < reuseLowThreshold:
			alloc[i] = (r + b.margin) * scaled
			under[i] = true
		case r < reuseHighThreshold:
			alloc[i] = (2*(r-reuseLowThreshold) + b.margin + reuseLowThreshold) * scaled
		default:
			alloc[i] = (3*(r-reuseHighThreshold) + 2*reuseHighThreshold - reuseLowThreshold + b.margin) * scaled
		}

		if alloc[i] > share[i] {
			alloc[i] = share[i]
		}
		surplus += share[i] - alloc[i]

		if r > bestRatio {
			bestRatio = r
			best = i
		}
	}

	recipients := 0.0
	for i := 0; i < n; i++ {
		if !under[i] {
			recipients += b.weights[i]
		}
	}
	if recipients > 0 {
		for i := 0; i < n; i++ {
			if !under[i] {
				alloc[i] += surplus * b.weights[i] / recipients
			}
		}
	} else {
		alloc[best] += surplus
	}

	b.remember(alloc, capacity, surplus)
	return append([]float64(nil), alloc...)
}

func (b *BandwidthAllocator) remember(alloc []float64, capacity, surplus float64) {
	copy(b.tentative, alloc)
	b.capacity = capacity
	b.surplus = surplus
	b.allocated = true
}

// Projection 把最近一次分配按容量变化等比例缩放，尚未分配时返回权重份额
func (b *BandwidthAllocator) Projection(capacity float64) []float64 {
	if !b.allocated {
		return b.WeightedShare(capacity)
	}
	last := b.capacity
	if last == 0 {
		last = 1
	}
	out := make([]float64, len(b.tentative))
	for i, v := range b.tentative {
		out[i] = v * capacity / last
	}
	return out
}

// Tentative 返回最近一次分配结果
func (b *BandwidthAllocator) Tentative() []float64 {
	return append([]float64(nil), b.tentative...)
}

// Surplus 返回最近一次分配中被重新分配的余量
func (b *BandwidthAllocator) Surplus() float64 { return b.surplus }
