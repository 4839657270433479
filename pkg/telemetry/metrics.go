package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/junbin-yang/go-policebox/pkg/policebox"
)

const namespace = "policebox"

var (
	registry = prometheus.NewRegistry()

	capacityGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capacity_packets",
			Help:      "每个控制周期的瓶颈容量估计（报文数），kind 为 instant、smoothed、long_run 或 control。",
		},
		[]string{"box", "kind"},
	)
	targetGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_packets",
			Help:      "每条流在下一个控制周期的目标交付量。",
		},
		[]string{"box", "flow"},
	)
	stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flow_state",
			Help:      "流当前所处的丢包门控状态，当前状态为 1，其余为 0。",
		},
		[]string{"box", "flow", "state"},
	)
	rateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_bits_per_second",
			Help:      "统计周期内的流速率，kind 为 data 或 tx。",
		},
		[]string{"box", "flow", "kind"},
	)
	deliveredCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_packets_total",
			Help:      "盒子看到的交付报文数。",
		},
		[]string{"box", "flow"},
	)
	dropCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_packets_total",
			Help:      "丢包数，cause 为 link、box 或 queue。",
		},
		[]string{"box", "flow", "cause"},
	)
)

var registerMetrics sync.Once

// Register 注册所有指标，可重复调用
func Register() {
	registerMetrics.Do(func() {
		registry.MustRegister(capacityGauge)
		registry.MustRegister(targetGauge)
		registry.MustRegister(stateGauge)
		registry.MustRegister(rateGauge)
		registry.MustRegister(deliveredCounter)
		registry.MustRegister(dropCounter)
	})
}

// Gatherer 返回指标所在的注册表
func Gatherer() prometheus.Gatherer { return registry }

// Handler 返回导出指标的 HTTP 处理器
func Handler() http.Handler {
	Register()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

var flowStates = []string{
	string(policebox.StateOn),
	string(policebox.StateWarn),
	string(policebox.StateOff),
}

// MetricsSink 把遥测写入 Prometheus 指标，以盒子编号区分实例
type MetricsSink struct{}

// NewMetricsSink 注册指标并返回接收方
func NewMetricsSink() *MetricsSink {
	Register()
	return &MetricsSink{}
}

func (MetricsSink) OnInterval(rec *policebox.IntervalRecord) {
	box := rec.BoxID
	capacityGauge.WithLabelValues(box, "instant").Set(rec.InstantaneousCapacity)
	capacityGauge.WithLabelValues(box, "smoothed").Set(rec.SmoothedCapacity)
	capacityGauge.WithLabelValues(box, "long_run").Set(rec.LongRunCapacity)
	capacityGauge.WithLabelValues(box, "control").Set(rec.ControlCapacity)

	for _, f := range rec.Flows {
		targetGauge.WithLabelValues(box, f.Name).Set(f.TargetRate)
		for _, st := range flowStates {
			v := 0.0
			if st == string(f.State) {
				v = 1
			}
			stateGauge.WithLabelValues(box, f.Name, st).Set(v)
		}
		deliveredCounter.WithLabelValues(box, f.Name).Add(float64(f.Interval.Delivered))
		dropCounter.WithLabelValues(box, f.Name, "link").Add(float64(f.Interval.LinkDrops))
		// 队列丢包已折算进盒子丢包
		dropCounter.WithLabelValues(box, f.Name, "box").Add(float64(f.Interval.BoxDrops - f.Interval.QueueDrops))
		dropCounter.WithLabelValues(box, f.Name, "queue").Add(float64(f.Interval.QueueDrops))
	}
}

func (MetricsSink) OnStats(rec *policebox.StatsRecord) {
	for _, f := range rec.Flows {
		rateGauge.WithLabelValues(rec.BoxID, f.Name, "data").Set(f.DataRate)
		rateGauge.WithLabelValues(rec.BoxID, f.Name, "tx").Set(f.TxRate)
	}
}
