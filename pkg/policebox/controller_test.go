package policebox

import (
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junbin-yang/go-policebox/pkg/logger"
)

func newTestController(t *testing.T, weights ...float64) (*Controller, *fakeScheduler, *recordSink) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Weights = weights
	sched := newFakeScheduler()
	sink := &recordSink{}
	c, err := New(cfg, sched, WithSink(sink), WithLogger(logger.Nop()), WithID("box-test"))
	require.NoError(t, err)
	return c, sched, sink
}

func TestNew_Errors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = []float64{0.5, 0.4}

	_, err := New(cfg, newFakeScheduler())
	assert.ErrorIs(t, err, ErrInvalidWeights)

	cfg.Weights = []float64{1}
	_, err = New(cfg, nil)
	assert.ErrorIs(t, err, ErrNilScheduler)
}

func TestController_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Flows = []FlowSpec{{Weight: 0.5}, {Name: "udp", Weight: 0.5, Protocol: Unreliable}}
	c, err := New(cfg, newFakeScheduler(), WithLogger(logger.Nop()))
	require.NoError(t, err)

	flows := c.Flows()
	assert.Equal(t, "flow0", flows[0].Name)
	assert.Equal(t, Reliable, flows[0].Protocol)
	assert.Equal(t, cfg.DefaultRTT, flows[0].ExpectedRTT)
	assert.Equal(t, Unreliable, flows[1].Protocol)
	assert.NotEmpty(t, c.ID())
	assert.InDelta(t, 25, c.TargetRate(0), 1e-9)
	assert.Equal(t, StateOn, c.State(1))
	assert.Zero(t, c.TargetRate(9))
}

func TestController_StartStopIdempotent(t *testing.T) {
	c, sched, sink := newTestController(t, 0.5, 0.5)

	c.Start()
	c.Start()
	assert.True(t, c.Running())
	assert.Equal(t, 2, sched.Pending(), "控制周期和统计周期各一个任务")

	sched.Advance(time.Second)
	assert.Equal(t, 10, c.Snapshot().Ticks)
	assert.Len(t, sink.intervals, 10)
	assert.Len(t, sink.stats, 1)

	c.Stop()
	c.Stop()
	assert.False(t, c.Running())
	assert.Zero(t, sched.Pending(), "停止后不应有待执行任务")

	sched.Advance(time.Second)
	assert.Equal(t, 10, c.Snapshot().Ticks)
}

func TestController_ResumeKeepsHistory(t *testing.T) {
	c, sched, sink := newTestController(t, 0.5, 0.5)
	c.Start()

	var seq uint32
	for i := 0; i < 10; i++ {
		for p := 0; p < 40; p++ {
			seq++
			c.OnDelivered(0, seq, 1000, Reliable)
			c.OnDelivered(1, seq, 1000, Reliable)
		}
		sched.Advance(100 * time.Millisecond)
	}
	c.Stop()
	before := c.Snapshot()
	require.Greater(t, before.SmoothedCapacity, 0.0)

	c.Start()
	sched.Advance(100 * time.Millisecond)
	after := c.Snapshot()
	assert.Equal(t, before.Ticks+1, after.Ticks)
	assert.Equal(t, before.Flows[0].Total.Delivered, after.Flows[0].Total.Delivered)
	assert.Equal(t, before.LongRunCapacity > 0, after.LongRunCapacity > 0)
	assert.Len(t, sink.intervals, 11)
	assert.Equal(t, 11, sink.intervals[10].Tick)
}

func TestController_IntervalRecord(t *testing.T) {
	c, sched, sink := newTestController(t, 0.6, 0.4)
	c.Start()

	for seq := uint32(1); seq <= 30; seq++ {
		c.OnDelivered(0, seq, 1250, Reliable)
		if seq <= 10 {
			c.OnDelivered(1, seq, 1250, Reliable)
		}
	}
	c.OnLinkDrop(1, 11)
	sched.Advance(100 * time.Millisecond)

	require.Len(t, sink.intervals, 1)
	rec := sink.intervals[0]
	assert.Equal(t, "box-test", rec.BoxID)
	assert.Equal(t, 100*time.Millisecond, rec.Interval)
	assert.InDelta(t, 39, rec.InstantaneousCapacity, 1e-9)
	assert.Equal(t, uint64(30), rec.Flows[0].Interval.Delivered)
	assert.Equal(t, uint64(1), rec.Flows[1].Interval.LinkDrops)
	assert.True(t, rec.Flows[1].CongestionAvoidance)
	assert.Equal(t, 0, rec.LossFreeIntervals)
	// 30 个 1250 字节报文在 100ms 内: 3 Mbit/s
	assert.InDelta(t, 3e6, rec.DeliveredRate(0), 1e-6)

	// 周期计数已清零, 累计计数保留
	snap := c.Snapshot()
	assert.Zero(t, snap.Flows[0].Interval.Delivered)
	assert.Equal(t, uint64(30), snap.Flows[0].Total.Delivered)
	for _, f := range snap.Flows {
		assert.GreaterOrEqual(t, f.TargetRate, 0.0)
	}
}

func TestController_StatsRecord(t *testing.T) {
	c, sched, sink := newTestController(t, 1)
	c.Start()
	for seq := uint32(1); seq <= 100; seq++ {
		c.OnDelivered(0, seq, 1000, Reliable)
	}
	sched.Advance(time.Second)

	require.Len(t, sink.stats, 1)
	fr := sink.stats[0].Flows[0]
	assert.InDelta(t, 800000, fr.DataRate, 1e-6)
	assert.InDelta(t, 800000, fr.TxRate, 1e-6)

	sched.Advance(time.Second)
	require.Len(t, sink.stats, 2)
	assert.Zero(t, sink.stats[1].Flows[0].DataRate)
	assert.InDelta(t, 640000, sink.stats[1].Flows[0].TxRate, 1e-6)
}

// forceOff 让流 0 直接进入 OFF 状态, dMax 为 delivered-allocated
func forceOff(c *Controller, delivered, allocated float64) {
	n := len(c.flows)
	codes := make([]DropRequest, n)
	d := make([]float64, n)
	a := make([]float64, n)
	codes[0], d[0], a[0] = SafetyViolation, delivered, allocated
	c.be.Update(codes, d, a, make([]int, n))
	c.be.Update(codes, d, a, make([]int, n))
}

func TestController_DropOnce(t *testing.T) {
	c, _, _ := newTestController(t, 0.5, 0.5)
	c.Start()
	forceOff(c, 10, 8)
	require.Equal(t, StateOff, c.State(0))
	require.Equal(t, 2, c.be.DMax(0))
	c.flows[0].target = 0

	assert.Equal(t, Drop, c.OnDelivered(0, 1, 1000, Reliable))
	// 重传的同一报文不会被再次丢弃
	assert.Equal(t, Accept, c.OnDelivered(0, 1, 1000, Reliable))
	assert.Equal(t, Drop, c.OnDelivered(0, 2, 1000, Reliable))
	// 达到 dMax 后放行
	assert.Equal(t, Accept, c.OnDelivered(0, 3, 1000, Reliable))

	snap := c.Snapshot()
	assert.Equal(t, uint64(2), snap.Flows[0].Interval.BoxDrops)
	assert.Equal(t, uint64(4), snap.Flows[0].Interval.Delivered)
	assert.True(t, snap.Flows[0].CongestionAvoidance)

	// 其它流处于 ON, 不丢包
	assert.Equal(t, Accept, c.OnDelivered(1, 1, 1000, Reliable))
}

func TestController_NoDropWhenStopped(t *testing.T) {
	c, _, _ := newTestController(t, 1)
	forceOff(c, 10, 0)
	c.flows[0].target = 0

	assert.Equal(t, Accept, c.OnDelivered(0, 1, 100, Reliable))
	assert.Equal(t, uint64(1), c.Snapshot().Flows[0].Interval.Delivered, "未运行时仍然计数")
}

func TestController_IgnoredPackets(t *testing.T) {
	c, _, _ := newTestController(t, 1)
	c.Start()

	assert.Equal(t, Accept, c.OnDelivered(3, 1, 100, Reliable))
	assert.Equal(t, Accept, c.OnDelivered(0, 1, 100, Unreliable))
	assert.Zero(t, c.Snapshot().Flows[0].Interval.Delivered, "协议不符的报文不计数")

	c.OnLinkDrop(-1, 1)
	c.OnQueueDrop(5, 1)
	c.OnAck(7, 1, 0)
	c.OnUnreliableAck(7, 1)
}

func TestController_QueueDropAcceptsRetransmit(t *testing.T) {
	c, sched, _ := newTestController(t, 1)
	c.Start()
	forceOff(c, 10, 0)
	c.flows[0].target = 0

	c.OnQueueDrop(0, 5)
	assert.Equal(t, Accept, c.OnDelivered(0, 5, 100, Reliable), "已被盒子丢弃的序号直接放行")

	sched.Advance(100 * time.Millisecond)
	rec := c.Snapshot().Flows[0].Total
	assert.Equal(t, uint64(1), rec.QueueDrops)
	assert.Equal(t, uint64(1), rec.BoxDrops, "队列丢包计入盒子丢包")
}

func TestController_Acks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Flows = []FlowSpec{{Weight: 0.5}, {Weight: 0.5, Protocol: Unreliable}}
	c, err := New(cfg, newFakeScheduler(), WithLogger(logger.Nop()))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		c.OnAck(0, 100, 65535)
	}
	c.OnUnreliableAck(1, 10)
	c.OnUnreliableAck(1, 14)

	snap := c.Snapshot()
	assert.Equal(t, uint64(4), snap.Flows[0].Interval.Acks)
	assert.Equal(t, uint64(1), snap.Flows[0].Interval.LinkDrops)
	assert.Equal(t, uint32(65535), snap.Flows[0].PeerWindow)
	assert.Equal(t, uint64(3), snap.Flows[1].Interval.LinkDrops)
	assert.True(t, snap.Flows[1].CongestionAvoidance)
}

func TestController_BindAddr(t *testing.T) {
	c, _, _ := newTestController(t, 0.5, 0.5)
	addr := netip.MustParseAddr("192.168.1.20")

	assert.True(t, c.BindAddr(1, addr))
	assert.False(t, c.BindAddr(0, addr))
	flow, ok := c.FlowByAddr(addr)
	assert.True(t, ok)
	assert.Equal(t, FlowID(1), flow)
}

func TestController_Close(t *testing.T) {
	c, sched, sink := newTestController(t, 1)
	c.Start()
	require.NoError(t, c.Close())
	assert.Equal(t, 1, sink.closed)
	assert.False(t, c.Running())
	assert.Zero(t, sched.Pending())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, sink.closed, "接收方只关闭一次")
}

func TestController_SinkStopsInsideTick(t *testing.T) {
	c, sched, _ := newTestController(t, 1)
	stopper := &stopSink{c: c}
	c.sinks = append(c.sinks, stopper)
	c.Start()

	sched.Advance(time.Second)
	assert.Equal(t, 1, c.Snapshot().Ticks)
	assert.Zero(t, sched.Pending())
}

type stopSink struct{ c *Controller }

func (s *stopSink) OnInterval(*IntervalRecord) { s.c.Stop() }
func (s *stopSink) OnStats(*StatsRecord)       {}

func TestController_FairnessPolicies(t *testing.T) {
	for _, policy := range []FairnessPolicy{FairNatural, FairPerSender, FairPriority} {
		t.Run(string(policy), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Weights = []float64{0.75, 0.25}
			cfg.Fairness = policy
			sched := newFakeScheduler()
			c, err := New(cfg, sched, WithLogger(logger.Nop()))
			require.NoError(t, err)
			c.Start()

			var seq uint32
			for i := 0; i < 20; i++ {
				for p := 0; p < 30; p++ {
					seq++
					c.OnDelivered(0, seq, 1000, Reliable)
					if p < 10 {
						c.OnDelivered(1, seq, 1000, Reliable)
					}
				}
				sched.Advance(100 * time.Millisecond)
			}

			t0, t1 := c.TargetRate(0), c.TargetRate(1)
			assert.False(t, math.IsNaN(t0) || math.IsNaN(t1))
			switch policy {
			case FairNatural:
				assert.InDelta(t, 30, t0, 1e-9)
				assert.InDelta(t, 10, t1, 1e-9)
			case FairPerSender:
				assert.InDelta(t, 20, t0, 1e-9)
				assert.InDelta(t, 20, t1, 1e-9)
			default:
				assert.Greater(t, t0, t1)
			}
		})
	}
}
