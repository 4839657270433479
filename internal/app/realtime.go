package app

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/junbin-yang/go-policebox/pkg/lifecycle"
	"github.com/junbin-yang/go-policebox/pkg/logger"
	"github.com/junbin-yang/go-policebox/pkg/telemetry"
	"github.com/junbin-yang/go-policebox/pkg/timer"
	"github.com/junbin-yang/go-policebox/pkg/trace"
)

// RealtimeOption 实时回放选项
type RealtimeOption func(*realtimeOptions)

type realtimeOptions struct {
	signals  bool
	onListen func(addr string)
}

// WithoutSignals 不处理 SIGINT/SIGTERM，测试中使用
func WithoutSignals() RealtimeOption {
	return func(o *realtimeOptions) { o.signals = false }
}

// OnMetricsListen 指标服务开始监听时回调实际地址
func OnMetricsListen(fn func(addr string)) RealtimeOption {
	return func(o *realtimeOptions) { o.onListen = fn }
}

// RealtimeReplay 按墙上时钟回放轨迹
//
// 回放在 lifecycle 管理的任务中运行，启用指标时同时运行 HTTP 服务。
// 回放结束、ctx 取消或收到退出信号时所有任务退出。
func (a *App) RealtimeReplay(ctx context.Context, events []trace.Event, opts ...RealtimeOption) (res *Result, err error) {
	o := realtimeOptions{signals: true}
	for _, opt := range opts {
		opt(&o)
	}

	mgr := timer.NewManager()
	mgr.SetLogger(a.log)
	sched := timer.NewScheduler(mgr)
	defer func() {
		err = multierr.Append(err, sched.Close())
	}()

	ctrl, rec, err := a.newController(sched)
	if err != nil {
		return nil, err
	}
	defer func() {
		var cerr error
		sched.Do(func() { cerr = ctrl.Close() })
		err = multierr.Append(err, cerr)
	}()
	a.bind(ctrl)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lmOpts := []lifecycle.Option{
		lifecycle.WithContext(ctx),
		lifecycle.WithLogger(a.log),
		lifecycle.WithShutdownTimeout(5 * time.Second),
	}
	if !o.signals {
		lmOpts = append(lmOpts, lifecycle.WithSignals())
	}
	lm := lifecycle.NewManager(lmOpts...)

	if a.cfg.Metrics.Enabled {
		addr, err := lm.AddHTTPServer("metrics", a.cfg.Metrics.Addr, telemetry.Handler())
		if err != nil {
			return nil, err
		}
		a.log.Info("指标服务监听", logger.String("addr", addr.String()))
		if o.onListen != nil {
			o.onListen(addr.String())
		}
	}

	r := trace.NewReplayer(sched, ctrl, a.log)
	done := make(chan struct{})
	r.OnDone(func() { close(done) })

	err = lm.AddWorker("replay", func(wctx context.Context) error {
		// 回放结束即结束整个进程
		defer cancel()
		sched.Do(func() {
			ctrl.Start()
			r.Start(events)
		})
		select {
		case <-done:
			// 等一个控制周期，让最后的计数被折算
			select {
			case <-time.After(a.cfg.Box.Interval):
			case <-wctx.Done():
			}
		case <-wctx.Done():
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// 所有任务退出后再停止控制器，指标服务在退出前仍能看到最后的状态
	lm.OnShutdown(func(context.Context) error {
		sched.Do(func() {
			r.Stop()
			ctrl.Stop()
		})
		return nil
	})
	lm.OnWorkerExit(func(name string, err error) {
		a.log.Debug("任务退出", logger.String("worker", name), logger.GetError(err))
	})

	if err := lm.Run(); err != nil {
		return nil, err
	}

	var st trace.ReplayStats
	sched.Do(func() {
		res, err = a.result(ctrl, rec)
		st = r.Stats()
	})
	if err != nil {
		return nil, err
	}
	res.Replay = &st
	return res, nil
}
