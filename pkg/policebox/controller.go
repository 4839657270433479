package policebox

import (
	"fmt"
	"io"
	"math/rand"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/junbin-yang/go-policebox/pkg/logger"
	"github.com/junbin-yang/go-policebox/pkg/statemachine"
)

// noCopy 禁止复制，go vet 的 copylocks 检查会报告值复制
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Option 控制器选项
type Option func(*Controller)

// WithLogger 设置日志，默认使用包级日志
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// WithSink 追加遥测接收方
func WithSink(s Sink) Option {
	return func(c *Controller) {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
}

// WithRand 注入随机数源，覆盖 Config.Seed
func WithRand(r *rand.Rand) Option {
	return func(c *Controller) {
		c.rng = r
	}
}

// WithID 指定盒子编号，默认随机生成
func WithID(id string) Option {
	return func(c *Controller) {
		c.id = id
	}
}

// Controller 控制回路
//
// 所有方法都必须在调度器的单一执行上下文中调用，内部不加锁。
// Controller 只能通过指针使用，不可复制。
type Controller struct {
	_ noCopy

	cfg     Config
	sched   Scheduler
	log     logger.Logger
	sinks   []Sink
	rng     *rand.Rand
	id      string
	weights []float64
	flows   []flowState

	acks  *AckLossAnalyzer
	ssd   *SlowStartDetector
	long  *LongRunSmoother
	alloc *BandwidthAllocator
	be    *BestEffortController

	running   bool
	tickTask  TaskID
	statsTask TaskID
	lastStats time.Duration

	ticks    int
	capacity float64
	smoothed float64
	lossFree int
	slr      float64
	surplus  float64
	lastTick time.Duration
}

// New 创建控制器，配置在此之后不可修改
func New(cfg Config, sched Scheduler, opts ...Option) (*Controller, error) {
	if sched == nil {
		return nil, ErrNilScheduler
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	specs := cfg.FlowSpecs()
	n := len(specs)
	c := &Controller{
		cfg:     cfg,
		sched:   sched,
		log:     logger.Default(),
		weights: make([]float64, n),
		flows:   make([]flowState, n),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(cfg.Seed))
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}

	for i, spec := range specs {
		if spec.Protocol == "" {
			spec.Protocol = Reliable
		}
		if spec.ExpectedRTT <= 0 {
			spec.ExpectedRTT = cfg.DefaultRTT
		}
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("flow%d", i)
		}
		c.weights[i] = spec.Weight
		c.flows[i] = flowState{spec: spec, safetyWindow: initSafetyWindow}
	}

	c.acks = NewAckLossAnalyzer(n)
	c.ssd = NewSlowStartDetector(n, cfg.SafetyThreshold)
	c.long = NewLongRunSmoother(n, cfg.LongBeta, cfg.LongPeriod, cfg.StartupCapacity, cfg.ControlHeadroom)
	c.alloc = NewBandwidthAllocator(c.weights, cfg.Margin)
	c.be = NewBestEffortController(n, cfg.ExploreStep, cfg.ExploreMode, c.rng, sched.Now)
	c.be.SetNotify(func(flow FlowID, from, to statemachine.State, event statemachine.Event) {
		c.log.Debug("尽力而为状态变化",
			logger.String("box", c.id),
			logger.Int("flow", int(flow)),
			logger.String("from", string(from)),
			logger.String("to", string(to)),
			logger.String("event", string(event)))
	})

	// 启动阶段目标速率按权重份额
	for i := range c.flows {
		c.flows[i].target = c.weights[i] * cfg.StartupCapacity
	}
	return c, nil
}

// ID 返回盒子编号
func (c *Controller) ID() string { return c.id }

// Config 返回生效的配置
func (c *Controller) Config() Config { return c.cfg }

// Flows 返回流配置
func (c *Controller) Flows() []FlowSpec {
	out := make([]FlowSpec, len(c.flows))
	for i := range c.flows {
		out[i] = c.flows[i].spec
	}
	return out
}

// Running 返回控制回路是否在运行
func (c *Controller) Running() bool { return c.running }

// Start 开始周期调度，重复调用无效；停止后再次启动时保留已平滑的历史
func (c *Controller) Start() {
	if c.running {
		return
	}
	c.running = true
	c.lastTick = c.sched.Now()
	c.lastStats = c.lastTick
	c.tickTask = c.sched.Schedule(c.cfg.Interval, c.tick)
	if c.cfg.StatsInterval > 0 {
		c.statsTask = c.sched.Schedule(c.cfg.StatsInterval, c.stats)
	}
	c.log.Info("控制回路启动",
		logger.String("box", c.id),
		logger.Int("flows", len(c.flows)),
		logger.Duration("interval", c.cfg.Interval))
}

// Stop 取消所有待执行的周期任务，可重复调用
func (c *Controller) Stop() {
	if !c.running {
		return
	}
	c.running = false
	c.sched.Cancel(c.tickTask)
	c.tickTask = 0
	if c.statsTask != 0 {
		c.sched.Cancel(c.statsTask)
		c.statsTask = 0
	}
	c.log.Info("控制回路停止", logger.String("box", c.id), logger.Int("ticks", c.ticks))
}

// Close 停止控制回路并关闭实现了 io.Closer 的接收方
func (c *Controller) Close() error {
	c.Stop()
	var err error
	for _, s := range c.sinks {
		if cl, ok := s.(io.Closer); ok {
			err = multierr.Append(err, cl.Close())
		}
	}
	c.sinks = nil
	return err
}

// BindAddr 把下游地址关联到流
func (c *Controller) BindAddr(flow FlowID, addr netip.Addr) bool {
	return c.acks.Bind(flow, addr)
}

// FlowByAddr 按地址查找流
func (c *Controller) FlowByAddr(addr netip.Addr) (FlowID, bool) {
	return c.acks.Lookup(addr)
}

// TargetRate 返回流当前发布的目标速率（每周期报文数）
func (c *Controller) TargetRate(flow FlowID) float64 {
	if !c.valid(flow) {
		return 0
	}
	return c.flows[flow].target
}

// State 返回流的尽力而为状态
func (c *Controller) State(flow FlowID) statemachine.State {
	if !c.valid(flow) {
		return ""
	}
	return c.be.State(flow)
}

// StateHistory 返回流最近的状态变化
func (c *Controller) StateHistory(flow FlowID) []statemachine.Record {
	if !c.valid(flow) {
		return nil
	}
	return c.be.History(flow)
}

func (c *Controller) valid(flow FlowID) bool {
	return flow >= 0 && int(flow) < len(c.flows)
}

// Snapshot 返回当前状态的深拷贝
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Now:                   c.sched.Now(),
		Ticks:                 c.ticks,
		InstantaneousCapacity: c.capacity,
		SmoothedCapacity:      c.smoothed,
		LongRunCapacity:       c.long.Capacity(),
		LossFreeIntervals:     c.lossFree,
		ShortLossRatio:        c.slr,
		Flows:                 c.flowSnapshots(),
	}
}

func (c *Controller) flowSnapshots() []FlowSnapshot {
	lr, lc := c.long.LongRwnd(), c.long.LongCwnd()
	out := make([]FlowSnapshot, len(c.flows))
	for i := range c.flows {
		f := &c.flows[i]
		id := FlowID(i)
		out[i] = FlowSnapshot{
			ID:                  id,
			Name:                f.spec.Name,
			Weight:              f.spec.Weight,
			Protocol:            f.spec.Protocol,
			Interval:            f.cur,
			Total:               f.total,
			State:               c.be.State(id),
			ShortRwnd:           f.shortRwnd,
			ShortCwnd:           f.shortCwnd,
			LongRwnd:            lr[i],
			LongCwnd:            lc[i],
			TargetRate:          f.target,
			SafetyWindow:        f.safetyWindow,
			DMax:                c.be.DMax(id),
			TokenCapacity:       c.be.TokenCapacity(id),
			LossRatio:           f.llr,
			InSlowStart:         c.ssd.InSlowStart(id),
			CongestionAvoidance: f.ca,
			SinceDrop:           f.isd,
			PeerWindow:          f.peerWindow,
		}
	}
	return out
}
