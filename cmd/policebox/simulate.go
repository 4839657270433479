package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/junbin-yang/go-policebox/internal/app"
)

type simulateFlags struct {
	duration time.Duration
	trace    string
	dir      string
	seed     int64
}

func simulateSubcommand(g *globalFlags) *cobra.Command {
	f := &simulateFlags{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "在哑铃拓扑上仿真配置的发送端",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.run(cmd, g)
		},
	}
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "仿真时长，覆盖配置")
	cmd.Flags().StringVar(&f.trace, "trace", "", "把盒子看到的事件写入 JSONL 轨迹文件")
	cmd.Flags().StringVar(&f.dir, "telemetry-dir", "", "逐周期 CSV 的输出目录，覆盖配置")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "随机数种子，非零时同时覆盖控制器和拓扑的种子")
	return cmd
}

func (f *simulateFlags) modify(cfg *app.Config) {
	if f.duration > 0 {
		cfg.Duration = f.duration
	}
	if f.dir != "" {
		cfg.Telemetry.Dir = f.dir
	}
	if f.seed != 0 {
		cfg.Box.Seed = f.seed
		cfg.Scenario.Seed = f.seed
	}
}

func (f *simulateFlags) run(cmd *cobra.Command, g *globalFlags) (err error) {
	a, cleanup, err := g.newApp(f.modify)
	if err != nil {
		return err
	}
	defer cleanup()

	var res *app.Result
	if f.trace == "" {
		res, err = a.Simulate(nil)
	} else {
		out, cerr := os.Create(f.trace)
		if cerr != nil {
			return cerr
		}
		defer func() {
			err = multierr.Append(err, out.Close())
		}()
		res, err = a.Simulate(out)
	}
	if err != nil {
		return err
	}
	return writeResult(cmd.OutOrStdout(), g.output, res)
}
