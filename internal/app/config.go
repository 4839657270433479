package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/junbin-yang/go-policebox/pkg/bottleneck"
	"github.com/junbin-yang/go-policebox/pkg/config"
	"github.com/junbin-yang/go-policebox/pkg/logger"
	"github.com/junbin-yang/go-policebox/pkg/policebox"
	"github.com/junbin-yang/go-policebox/pkg/telemetry"
)

// AppName 配置文件默认查找的应用名
const AppName = "policebox"

var (
	// ErrInvalidDuration 仿真时长无效
	ErrInvalidDuration = errors.New("仿真时长必须大于 0")

	// ErrUnknownFlow 发送端引用了不存在的流
	ErrUnknownFlow = errors.New("发送端引用了不存在的流")

	// ErrMetricsAddr 启用指标时未配置监听地址
	ErrMetricsAddr = errors.New("启用指标时必须配置监听地址")
)

// MetricsConfig Prometheus 指标服务
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" ini:"enabled" env:"POLICEBOX_METRICS_ENABLED"`
	Addr    string `yaml:"addr" json:"addr" ini:"addr" env:"POLICEBOX_METRICS_ADDR"`
}

// Config 命令行程序的完整配置
type Config struct {
	Log       logger.OutputConfig  `yaml:"log" json:"log" ini:"log"`
	Box       policebox.Config     `yaml:"box" json:"box" ini:"box"`
	Scenario  bottleneck.Config    `yaml:"scenario" json:"scenario" ini:"-"`
	Telemetry telemetry.FileConfig `yaml:"telemetry" json:"telemetry" ini:"telemetry"`
	Metrics   MetricsConfig        `yaml:"metrics" json:"metrics" ini:"metrics"`

	Duration    time.Duration `yaml:"duration" json:"duration" ini:"duration" env:"POLICEBOX_DURATION"`
	SummarySkip int           `yaml:"summary_skip" json:"summary_skip" ini:"summary_skip"` // 汇总时跳过的起始周期数
	LogEvery    int           `yaml:"log_every" json:"log_every" ini:"log_every"`          // 每隔多少个控制周期输出一次 Info 汇总
}

// DefaultConfig 两条等权可靠流共享 10Mbit/s 瓶颈，仿真 30 秒
func DefaultConfig() Config {
	box := policebox.DefaultConfig()
	box.Flows = []policebox.FlowSpec{
		{Name: "reno", Weight: 0.5, Protocol: policebox.Reliable, ExpectedRTT: 100 * time.Millisecond},
		{Name: "cubic", Weight: 0.5, Protocol: policebox.Reliable, ExpectedRTT: 100 * time.Millisecond},
	}

	scenario := bottleneck.DefaultConfig()
	scenario.Senders = []bottleneck.SenderSpec{
		{Flow: 0, Algorithm: "reno"},
		{Flow: 1, Algorithm: "cubic"},
	}

	return Config{
		Log:         logger.OutputConfig{Level: "info"},
		Box:         box,
		Scenario:    scenario,
		Metrics:     MetricsConfig{Addr: ":9464"},
		Duration:    30 * time.Second,
		SummarySkip: 20,
		LogEvery:    10,
	}
}

// Normalize 用流的配置补全发送端缺省的协议类型和往返时延
func (c *Config) Normalize() {
	flows := c.Box.FlowSpecs()
	for i := range c.Scenario.Senders {
		s := &c.Scenario.Senders[i]
		if int(s.Flow) < 0 || int(s.Flow) >= len(flows) {
			continue
		}
		f := flows[s.Flow]
		if s.Protocol == "" {
			s.Protocol = f.Protocol
		}
		if s.RTT <= 0 {
			s.RTT = f.ExpectedRTT
		}
		if s.RTT <= 0 {
			s.RTT = c.Box.DefaultRTT
		}
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 10
	}
}

// Validate 检查控制器配置以及发送端与流的对应关系
func (c *Config) Validate() error {
	if err := c.Box.Validate(); err != nil {
		return err
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDuration, c.Duration)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return ErrMetricsAddr
	}
	flows := c.Box.FlowSpecs()
	for i, s := range c.Scenario.Senders {
		if int(s.Flow) < 0 || int(s.Flow) >= len(flows) {
			return fmt.Errorf("%w: 发送端 %d 流 %d", ErrUnknownFlow, i, s.Flow)
		}
		want := flows[s.Flow].Protocol
		if s.Protocol != "" && want != "" && s.Protocol != want {
			return fmt.Errorf("%w: 发送端 %d 协议 %q 与流 %q 不一致", bottleneck.ErrInvalidSender, i, s.Protocol, want)
		}
	}
	return nil
}

// Load 加载配置文件，path 为空时按默认路径查找
//
// watch 为 true 时监听文件变化；控制器不支持运行时修改参数，变化只会记录一条提示。
func Load(path string, watch bool, log logger.Logger) (*Config, *config.ConfigManager, error) {
	if log == nil {
		log = logger.Default()
	}
	cfg := DefaultConfig()
	cm := config.NewConfigManager(&cfg,
		config.WithAppName(AppName),
		config.WithLogger(log),
		config.WithFactory(func() interface{} {
			c := DefaultConfig()
			return &c
		}),
		config.WithConfigWatch(watch, 0),
	)
	cm.OnChange(func(_, _ interface{}) {
		log.Warn("配置文件已修改，需要重启才能生效", logger.String("path", cm.Path()))
	})
	if err := cm.LoadConfig(path); err != nil {
		cm.Close()
		return nil, nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		cm.Close()
		return nil, nil, err
	}
	return &cfg, cm, nil
}
