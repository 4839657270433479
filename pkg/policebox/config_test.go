package policebox

import (
	"errors"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Weights = []float64{0.6, 0.3, 0.1}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mod     func(*Config)
		wantErr error
	}{
		{"默认配置合法", func(c *Config) {}, nil},
		{"没有流", func(c *Config) { c.Weights = nil }, ErrNoFlows},
		{"权重总和不为 1", func(c *Config) { c.Weights = []float64{0.5, 0.4} }, ErrInvalidWeights},
		{"权重在容差内", func(c *Config) { c.Weights = []float64{1.0 / 3, 1.0 / 3, 1.0 / 3} }, nil},
		{"负权重", func(c *Config) { c.Weights = []float64{1.5, -0.5} }, ErrInvalidWeights},
		{"周期为零", func(c *Config) { c.Interval = 0 }, ErrInvalidInterval},
		{"统计周期为负", func(c *Config) { c.StatsInterval = -time.Second }, ErrInvalidInterval},
		{"平滑系数越界", func(c *Config) { c.ShortAlpha = 1.5 }, ErrInvalidParameter},
		{"长周期为零", func(c *Config) { c.LongPeriod = 0 }, ErrInvalidParameter},
		{"丢包倍数小于 1", func(c *Config) { c.DropRateMultiplier = 0.9 }, ErrInvalidParameter},
		{"未知公平策略", func(c *Config) { c.Fairness = "fifo" }, ErrUnknownFairness},
		{"未知分配方式", func(c *Config) { c.Allocation = "greedy" }, ErrUnknownAllocation},
		{"未知探测方式", func(c *Config) { c.ExploreMode = "random" }, ErrUnknownExploreMode},
		{"未知协议", func(c *Config) {
			c.Flows = []FlowSpec{{Name: "a", Weight: 1, Protocol: "sctp"}}
		}, ErrInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mod(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("不应出错: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("期望 %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_FlowSpecs(t *testing.T) {
	cfg := validConfig()
	specs := cfg.FlowSpecs()
	if len(specs) != 3 {
		t.Fatalf("流数量 got %d, want 3", len(specs))
	}
	if specs[1].Name != "flow1" || specs[1].Weight != 0.3 || specs[1].Protocol != Reliable {
		t.Errorf("生成的流配置错误: %+v", specs[1])
	}
	if specs[0].ExpectedRTT != cfg.DefaultRTT {
		t.Errorf("默认 RTT 错误: %v", specs[0].ExpectedRTT)
	}

	cfg.Flows = []FlowSpec{{Name: "video", Weight: 1, Protocol: Unreliable}}
	if specs := cfg.FlowSpecs(); len(specs) != 1 || specs[0].Name != "video" {
		t.Errorf("显式流列表优先: %+v", specs)
	}
}
