package policebox

import (
	"fmt"
	"math"
	"time"
)

// FlowSpec 单条受控流的静态配置
type FlowSpec struct {
	Name        string        `yaml:"name" json:"name"`
	Weight      float64       `yaml:"weight" json:"weight"`
	Protocol    ProtocolKind  `yaml:"protocol" json:"protocol"`
	ExpectedRTT time.Duration `yaml:"expected_rtt" json:"expected_rtt"`
}

// Config 控制器配置，构造后不可修改
type Config struct {
	// 流列表；为空时由 Weights 生成可靠流
	Flows   []FlowSpec `yaml:"flows" json:"flows" ini:"-"`
	Weights []float64  `yaml:"weights,omitempty" json:"weights,omitempty" ini:"weights,omitempty" delim:"," env:"POLICEBOX_WEIGHTS"`

	Interval      time.Duration `yaml:"interval" json:"interval" ini:"interval" env:"POLICEBOX_INTERVAL"`
	StatsInterval time.Duration `yaml:"stats_interval" json:"stats_interval" ini:"stats_interval" env:"POLICEBOX_STATS_INTERVAL"`
	DefaultRTT    time.Duration `yaml:"default_rtt" json:"default_rtt" ini:"default_rtt" env:"POLICEBOX_DEFAULT_RTT"`

	ShortAlpha      float64 `yaml:"short_alpha" json:"short_alpha" ini:"short_alpha" env:"POLICEBOX_SHORT_ALPHA"`
	LongBeta        float64 `yaml:"long_beta" json:"long_beta" ini:"long_beta" env:"POLICEBOX_LONG_BETA"`
	LongPeriod      int     `yaml:"long_period" json:"long_period" ini:"long_period" env:"POLICEBOX_LONG_PERIOD"`
	StartupCapacity float64 `yaml:"startup_capacity" json:"startup_capacity" ini:"startup_capacity"`
	ControlHeadroom float64 `yaml:"control_headroom" json:"control_headroom" ini:"control_headroom"`
	LossBeta        float64 `yaml:"loss_beta" json:"loss_beta" ini:"loss_beta"`

	SafetyThreshold    int     `yaml:"safety_threshold" json:"safety_threshold" ini:"safety_threshold" env:"POLICEBOX_SAFETY_THRESHOLD"`
	DropRateMultiplier float64 `yaml:"drop_rate_multiplier" json:"drop_rate_multiplier" ini:"drop_rate_multiplier" env:"POLICEBOX_DROP_RATE_MULTIPLIER"`
	ExploreStep        int     `yaml:"explore_step" json:"explore_step" ini:"explore_step" env:"POLICEBOX_EXPLORE_STEP"`
	Margin             float64 `yaml:"margin" json:"margin" ini:"margin"`
	Rho                float64 `yaml:"rho" json:"rho" ini:"rho"`

	Fairness    FairnessPolicy `yaml:"fairness" json:"fairness" ini:"fairness" env:"POLICEBOX_FAIRNESS"`
	Allocation  AllocationMode `yaml:"allocation" json:"allocation" ini:"allocation" env:"POLICEBOX_ALLOCATION"`
	ExploreMode ExploreMode    `yaml:"explore_mode" json:"explore_mode" ini:"explore_mode" env:"POLICEBOX_EXPLORE_MODE"`

	// 随机数种子，用于 OFF 状态的概率丢包
	Seed int64 `yaml:"seed" json:"seed" ini:"seed" env:"POLICEBOX_SEED"`
}

const (
	defaultShortAlpha      = 0.2
	defaultLongBeta        = 0.07
	defaultLongPeriod      = 8
	defaultStartupCapacity = 50
	defaultHeadroom        = 0.75
	defaultLossBeta        = 0.8
	defaultSafetyThreshold = 130
	defaultDropMultiplier  = 1.2
	defaultExploreStep     = 20
	defaultMargin          = 0.1
	defaultRho             = 1

	initSafetyWindow = 10
	weightTolerance  = 1e-6
)

// DefaultConfig 返回默认参数，流列表为空
func DefaultConfig() Config {
	return Config{
		Interval:           100 * time.Millisecond,
		StatsInterval:      time.Second,
		DefaultRTT:         100 * time.Millisecond,
		ShortAlpha:         defaultShortAlpha,
		LongBeta:           defaultLongBeta,
		LongPeriod:         defaultLongPeriod,
		StartupCapacity:    defaultStartupCapacity,
		ControlHeadroom:    defaultHeadroom,
		LossBeta:           defaultLossBeta,
		SafetyThreshold:    defaultSafetyThreshold,
		DropRateMultiplier: defaultDropMultiplier,
		ExploreStep:        defaultExploreStep,
		Margin:             defaultMargin,
		Rho:                defaultRho,
		Fairness:           FairPriority,
		Allocation:         AllocReuse,
		ExploreMode:        ExploreLinear,
	}
}

// FlowSpecs 返回最终生效的流列表
func (c *Config) FlowSpecs() []FlowSpec {
	if len(c.Flows) > 0 {
		return c.Flows
	}
	specs := make([]FlowSpec, len(c.Weights))
	for i, w := range c.Weights {
		specs[i] = FlowSpec{
			Name:        fmt.Sprintf("flow%d", i),
			Weight:      w,
			Protocol:    Reliable,
			ExpectedRTT: c.DefaultRTT,
		}
	}
	return specs
}

// Validate 检查配置的合法性
func (c *Config) Validate() error {
	flows := c.FlowSpecs()
	if len(flows) == 0 {
		return ErrNoFlows
	}

	sum := 0.0
	for i, f := range flows {
		if f.Weight < 0 || math.IsNaN(f.Weight) {
			return fmt.Errorf("%w: 流 %d 权重 %v", ErrInvalidWeights, i, f.Weight)
		}
		switch f.Protocol {
		case Reliable, Unreliable, "":
		default:
			return fmt.Errorf("%w: 流 %d 协议类型 %q", ErrInvalidParameter, i, f.Protocol)
		}
		sum += f.Weight
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: 权重总和为 %v", ErrInvalidWeights, sum)
	}

	if c.Interval <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, c.Interval)
	}
	if c.StatsInterval < 0 {
		return fmt.Errorf("%w: 统计周期 %v", ErrInvalidInterval, c.StatsInterval)
	}

	checks := []struct {
		name string
		ok   bool
	}{
		{"short_alpha", c.ShortAlpha > 0 && c.ShortAlpha <= 1},
		{"long_beta", c.LongBeta > 0 && c.LongBeta <= 1},
		{"long_period", c.LongPeriod > 0},
		{"startup_capacity", c.StartupCapacity >= 0},
		{"control_headroom", c.ControlHeadroom > 0 && c.ControlHeadroom <= 1},
		{"loss_beta", c.LossBeta >= 0 && c.LossBeta < 1},
		{"safety_threshold", c.SafetyThreshold > 0},
		{"drop_rate_multiplier", c.DropRateMultiplier >= 1},
		{"explore_step", c.ExploreStep > 0},
		{"margin", c.Margin >= 0},
		{"rho", c.Rho > 0},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%w: %s", ErrInvalidParameter, chk.name)
		}
	}

	switch c.Fairness {
	case FairNatural, FairPerSender, FairPriority:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFairness, c.Fairness)
	}
	switch c.Allocation {
	case AllocReuse, AllocWaterFill:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAllocation, c.Allocation)
	}
	switch c.ExploreMode {
	case ExploreLinear, ExploreRatio:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownExploreMode, c.ExploreMode)
	}
	return nil
}
