package telemetry

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/junbin-yang/go-policebox/pkg/policebox"
)

// Recorder 在内存中保存每条流的交付速率和目标序列
type Recorder struct {
	names     []string
	delivered [][]float64 // bit/s
	targets   [][]float64
	boxDrops  []uint64
	linkDrops []uint64
	ticks     int
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) grow(n int) {
	for len(r.delivered) < n {
		r.delivered = append(r.delivered, nil)
		r.targets = append(r.targets, nil)
		r.boxDrops = append(r.boxDrops, 0)
		r.linkDrops = append(r.linkDrops, 0)
		r.names = append(r.names, "")
	}
}

func (r *Recorder) OnInterval(rec *policebox.IntervalRecord) {
	r.grow(len(rec.Flows))
	r.ticks++
	for i, f := range rec.Flows {
		r.names[i] = f.Name
		r.delivered[i] = append(r.delivered[i], rec.DeliveredRate(f.ID))
		r.targets[i] = append(r.targets[i], f.TargetRate)
		r.boxDrops[i] += f.Interval.BoxDrops
		r.linkDrops[i] += f.Interval.LinkDrops
	}
}

func (r *Recorder) OnStats(*policebox.StatsRecord) {}

// Ticks 返回记录的控制周期数
func (r *Recorder) Ticks() int { return r.ticks }

// Series 返回流的交付速率序列
func (r *Recorder) Series(flow policebox.FlowID) []float64 {
	if int(flow) >= len(r.delivered) {
		return nil
	}
	return r.delivered[flow]
}

// FlowSummary 单条流的速率汇总，单位 bit/s
type FlowSummary struct {
	Name       string  `json:"name" yaml:"name"`
	Mean       float64 `json:"mean" yaml:"mean"`
	Median     float64 `json:"median" yaml:"median"`
	P95        float64 `json:"p95" yaml:"p95"`
	StdDev     float64 `json:"stddev" yaml:"stddev"`
	Min        float64 `json:"min" yaml:"min"`
	Max        float64 `json:"max" yaml:"max"`
	MeanTarget float64 `json:"mean_target" yaml:"mean_target"`
	BoxDrops   uint64  `json:"box_drops" yaml:"box_drops"`
	LinkDrops  uint64  `json:"link_drops" yaml:"link_drops"`
}

// Summary 整个运行的汇总
type Summary struct {
	Ticks    int           `json:"ticks" yaml:"ticks"`
	Flows    []FlowSummary `json:"flows" yaml:"flows"`
	Fairness float64       `json:"fairness" yaml:"fairness"` // Jain 公平指数
}

// Summarize 计算每条流的统计量，skip 为忽略的起始周期数。没有任何记录时返回 stats.EmptyInputErr
func (r *Recorder) Summarize(skip int) (Summary, error) {
	if r.ticks == 0 {
		return Summary{}, stats.EmptyInputErr
	}
	out := Summary{Ticks: r.ticks, Flows: make([]FlowSummary, len(r.delivered))}
	means := make([]float64, len(r.delivered))
	for i, series := range r.delivered {
		if skip > 0 && skip < len(series) {
			series = series[skip:]
		}
		fs, err := summarize(series)
		if err != nil {
			return Summary{}, err
		}
		fs.Name = r.names[i]
		fs.BoxDrops = r.boxDrops[i]
		fs.LinkDrops = r.linkDrops[i]
		if t, err := stats.Mean(r.targets[i]); err == nil {
			fs.MeanTarget = t
		}
		out.Flows[i] = fs
		means[i] = fs.Mean
	}
	out.Fairness = JainIndex(means)
	return out, nil
}

func summarize(series []float64) (FlowSummary, error) {
	var s FlowSummary
	data := stats.Float64Data(series)
	if data.Len() == 0 {
		return s, nil
	}
	var err error
	if s.Mean, err = data.Mean(); err != nil {
		return s, err
	}
	if s.Median, err = data.Median(); err != nil {
		return s, err
	}
	if s.P95, err = data.Percentile(95); err != nil {
		return s, err
	}
	if s.StdDev, err = data.StandardDeviation(); err != nil {
		return s, err
	}
	if s.Min, err = data.Min(); err != nil {
		return s, err
	}
	s.Max, err = data.Max()
	return s, err
}

// JainIndex (Σx)² / (n·Σx²)，全零或空输入返回 1
func JainIndex(xs []float64) float64 {
	sum, sq := 0.0, 0.0
	for _, x := range xs {
		sum += x
		sq += x * x
	}
	if len(xs) == 0 || sq == 0 {
		return 1
	}
	return math.Min(1, sum*sum/(float64(len(xs))*sq))
}
