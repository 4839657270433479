package policebox

import "time"

// IntervalRecord 每个控制周期输出的遥测记录
type IntervalRecord struct {
	BoxID    string
	At       time.Duration
	Tick     int
	Interval time.Duration

	InstantaneousCapacity float64
	SmoothedCapacity      float64
	LongRunCapacity       float64
	ControlCapacity       float64
	LossFreeIntervals     int
	ShortLossRatio        float64
	AllocatorSurplus      float64

	Flows []FlowSnapshot
}

// DeliveredRate 返回流在本周期的交付速率（bit/s）
func (r *IntervalRecord) DeliveredRate(flow FlowID) float64 {
	if r.Interval <= 0 || int(flow) >= len(r.Flows) {
		return 0
	}
	return float64(r.Flows[flow].Interval.DeliveredBytes*8) / r.Interval.Seconds()
}

// FlowRate 统计周期内单条流的速率
type FlowRate struct {
	ID       FlowID
	Name     string
	DataRate float64 // bit/s
	TxRate   float64 // 平滑后的 bit/s
}

// StatsRecord 统计周期输出的记录
type StatsRecord struct {
	BoxID string
	At    time.Duration
	Flows []FlowRate
}

// Sink 遥测接收方，由控制器在调度回调内同步调用
type Sink interface {
	OnInterval(rec *IntervalRecord)
	OnStats(rec *StatsRecord)
}
