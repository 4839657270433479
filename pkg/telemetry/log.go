// Package telemetry 控制器遥测的接收方
//
// LogSink 写日志，FileSink 按流写 CSV 文件，MetricsSink 导出 Prometheus 指标，
// Recorder 在内存中保留序列并给出汇总。它们都实现了 policebox.Sink，
// 由控制器在调度回调内同步调用。
package telemetry

import (
	"github.com/junbin-yang/go-policebox/pkg/logger"
	"github.com/junbin-yang/go-policebox/pkg/policebox"
)

// LogSink 把遥测写入日志，每 every 个控制周期输出一次容量摘要
type LogSink struct {
	log   logger.Logger
	every int
}

// NewLogSink 创建日志接收方，every 小于 1 时按 1 处理
func NewLogSink(log logger.Logger, every int) *LogSink {
	if log == nil {
		log = logger.Default()
	}
	if every < 1 {
		every = 1
	}
	return &LogSink{log: log, every: every}
}

func (s *LogSink) OnInterval(rec *policebox.IntervalRecord) {
	for _, f := range rec.Flows {
		s.log.Debug("流状态",
			logger.String("box", rec.BoxID),
			logger.Int("tick", rec.Tick),
			logger.String("flow", f.Name),
			logger.String("state", string(f.State)),
			logger.Int64("delivered", int64(f.Interval.Delivered)),
			logger.Int64("box_drops", int64(f.Interval.BoxDrops)),
			logger.Float64("target", f.TargetRate),
			logger.Int("dmax", f.DMax))
	}
	if rec.Tick%s.every != 0 {
		return
	}
	s.log.Info("控制周期",
		logger.String("box", rec.BoxID),
		logger.Int("tick", rec.Tick),
		logger.Duration("at", rec.At),
		logger.Float64("capacity", rec.InstantaneousCapacity),
		logger.Float64("smoothed", rec.SmoothedCapacity),
		logger.Float64("long_run", rec.LongRunCapacity),
		logger.Int("loss_free", rec.LossFreeIntervals),
		logger.Float64("slr", rec.ShortLossRatio))
}

func (s *LogSink) OnStats(rec *policebox.StatsRecord) {
	for _, f := range rec.Flows {
		s.log.Info("流速率",
			logger.String("box", rec.BoxID),
			logger.String("flow", f.Name),
			logger.Float64("data_rate", f.DataRate),
			logger.Float64("tx_rate", f.TxRate))
	}
}
