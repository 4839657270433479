// Package app 按配置组装日志、控制器、遥测接收方和仿真拓扑
package app

import (
	"errors"
	"io"
	"net/netip"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/multierr"

	"github.com/junbin-yang/go-policebox/pkg/bottleneck"
	"github.com/junbin-yang/go-policebox/pkg/logger"
	"github.com/junbin-yang/go-policebox/pkg/policebox"
	"github.com/junbin-yang/go-policebox/pkg/sim"
	"github.com/junbin-yang/go-policebox/pkg/telemetry"
	"github.com/junbin-yang/go-policebox/pkg/trace"
)

// FlowResult 单条流的累计计数
type FlowResult struct {
	Name       string  `json:"name" yaml:"name"`
	State      string  `json:"state" yaml:"state"`
	Delivered  uint64  `json:"delivered" yaml:"delivered"`
	BoxDrops   uint64  `json:"box_drops" yaml:"box_drops"`
	QueueDrops uint64  `json:"queue_drops" yaml:"queue_drops"`
	LinkDrops  uint64  `json:"link_drops" yaml:"link_drops"`
	Target     float64 `json:"target" yaml:"target"`
}

// Result 一次运行的结果
type Result struct {
	BoxID       string                 `json:"box_id" yaml:"box_id"`
	Elapsed     time.Duration          `json:"elapsed" yaml:"elapsed"`
	Flows       []FlowResult           `json:"flows" yaml:"flows"`
	Summary     telemetry.Summary      `json:"summary" yaml:"summary"`
	Senders     []bottleneck.FlowStats `json:"senders,omitempty" yaml:"senders,omitempty"`
	Replay      *trace.ReplayStats     `json:"replay,omitempty" yaml:"replay,omitempty"`
	TraceEvents int                    `json:"trace_events,omitempty" yaml:"trace_events,omitempty"`
}

// Option App 选项
type Option func(*App)

// WithLogger 使用给定的日志，不再按配置创建
func WithLogger(l logger.Logger) Option {
	return func(a *App) { a.log = l }
}

// App 命令行程序的运行环境
type App struct {
	cfg    Config
	log    logger.Logger
	closer io.Closer
}

// New 检查配置并创建日志
func New(cfg Config, opts ...Option) (*App, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		l, closer, err := logger.NewFromConfig(cfg.Log)
		if err != nil {
			return nil, err
		}
		a.log, a.closer = l, closer
	}
	return a, nil
}

// Logger 返回使用中的日志
func (a *App) Logger() logger.Logger { return a.log }

// Config 返回补全后的配置
func (a *App) Config() Config { return a.cfg }

// Close 刷新并关闭日志输出
func (a *App) Close() error {
	// 标准错误上的 Sync 在部分平台会失败，只关心文件输出
	if a.closer == nil || a.cfg.Log.File == "" {
		_ = a.log.Sync()
		return nil
	}
	return multierr.Append(a.log.Sync(), a.closer.Close())
}

// Resolver 按发送端配置的地址生成地址到流的映射，用于读取 pcap
func (a *App) Resolver() trace.StaticResolver {
	r := trace.StaticResolver{}
	for _, s := range a.cfg.Scenario.Senders {
		if s.Addr == "" {
			continue
		}
		if addr, err := netip.ParseAddr(s.Addr); err == nil {
			r[addr] = s.Flow
		}
	}
	return r
}

// ReadTrace 读取轨迹文件
func (a *App) ReadTrace(path string) ([]trace.Event, error) {
	return trace.ReadFile(path, a.Resolver())
}

// newController 创建控制器并挂上配置的接收方，返回的 Recorder 用于汇总
func (a *App) newController(sched policebox.Scheduler) (*policebox.Controller, *telemetry.Recorder, error) {
	rec := telemetry.NewRecorder()
	opts := []policebox.Option{
		policebox.WithLogger(a.log),
		policebox.WithSink(rec),
		policebox.WithSink(telemetry.NewLogSink(a.log, a.cfg.LogEvery)),
	}
	var files *telemetry.FileSink
	if a.cfg.Telemetry.Dir != "" {
		fs, err := telemetry.NewFileSink(a.cfg.Telemetry, a.cfg.Box.FlowSpecs(), a.log)
		if err != nil {
			return nil, nil, err
		}
		files = fs
		opts = append(opts, policebox.WithSink(fs))
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, policebox.WithSink(telemetry.NewMetricsSink()))
	}

	ctrl, err := policebox.New(a.cfg.Box, sched, opts...)
	if err != nil {
		if files != nil {
			err = multierr.Append(err, files.Close())
		}
		return nil, nil, err
	}
	return ctrl, rec, nil
}

// bind 把发送端配置的地址绑定到控制器
func (a *App) bind(ctrl *policebox.Controller) {
	for addr, flow := range a.Resolver() {
		if !ctrl.BindAddr(flow, addr) {
			a.log.Warn("地址已绑定到其他流", logger.String("addr", addr.String()), logger.Int("flow", int(flow)))
		}
	}
}

// result 汇总控制器、记录器的结果
func (a *App) result(ctrl *policebox.Controller, rec *telemetry.Recorder) (*Result, error) {
	snap := ctrl.Snapshot()
	res := &Result{
		BoxID:   ctrl.ID(),
		Elapsed: snap.Now,
		Flows:   make([]FlowResult, len(snap.Flows)),
	}
	for i, f := range snap.Flows {
		res.Flows[i] = FlowResult{
			Name:       f.Name,
			State:      string(f.State),
			Delivered:  f.Total.Delivered,
			BoxDrops:   f.Total.BoxDrops,
			QueueDrops: f.Total.QueueDrops,
			LinkDrops:  f.Total.LinkDrops,
			Target:     f.TargetRate,
		}
	}

	skip := a.cfg.SummarySkip
	if skip >= rec.Ticks() {
		skip = 0
	}
	sum, err := rec.Summarize(skip)
	switch {
	case errors.Is(err, stats.EmptyInputErr):
		a.log.Warn("没有完整的控制周期，跳过汇总")
	case err != nil:
		return nil, err
	default:
		res.Summary = sum
	}
	return res, nil
}

// Simulate 在离散事件仿真中运行配置的拓扑，traceOut 不为空时把盒子看到的事件写成 JSONL 轨迹
func (a *App) Simulate(traceOut io.Writer) (res *Result, err error) {
	s := sim.New()
	ctrl, rec, err := a.newController(s)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, ctrl.Close())
	}()

	var box policebox.Observer = ctrl
	var tw *trace.Writer
	if traceOut != nil {
		tw = trace.NewWriter(traceOut)
		box = trace.NewTee(ctrl, s, tw, a.log)
	}
	topo, err := bottleneck.New(a.cfg.Scenario, s, box, bottleneck.WithLogger(a.log))
	if err != nil {
		return nil, err
	}

	a.log.Info("开始仿真",
		logger.String("box", ctrl.ID()),
		logger.Int("flows", len(ctrl.Flows())),
		logger.Duration("duration", a.cfg.Duration))
	ctrl.Start()
	topo.Start()
	s.RunUntil(a.cfg.Duration)
	ctrl.Stop()

	res, err = a.result(ctrl, rec)
	if err != nil {
		return nil, err
	}
	res.Senders = topo.Stats()
	if tw != nil {
		res.TraceEvents = tw.Count()
	}
	a.log.Info("仿真结束",
		logger.Int("ticks", rec.Ticks()),
		logger.Int64("events", int64(s.Fired())),
		logger.Float64("fairness", res.Summary.Fairness))
	return res, nil
}

// Replay 在离散事件仿真中回放轨迹，回放结束后再运行一个控制周期以折算最后的计数
func (a *App) Replay(events []trace.Event) (res *Result, err error) {
	s := sim.New()
	ctrl, rec, err := a.newController(s)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, ctrl.Close())
	}()
	a.bind(ctrl)

	r := trace.NewReplayer(s, ctrl, a.log)
	finished := false
	r.OnDone(func() { finished = true })

	ctrl.Start()
	r.Start(events)
	for !finished && s.Step() {
	}
	s.RunFor(a.cfg.Box.Interval)
	ctrl.Stop()

	res, err = a.result(ctrl, rec)
	if err != nil {
		return nil, err
	}
	st := r.Stats()
	res.Replay = &st
	return res, nil
}
