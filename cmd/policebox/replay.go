package main

import (
	"github.com/spf13/cobra"

	"github.com/junbin-yang/go-policebox/internal/app"
	"github.com/junbin-yang/go-policebox/pkg/logger"
)

type replayFlags struct {
	realtime bool
	metrics  string
}

func replaySubcommand(g *globalFlags) *cobra.Command {
	f := &replayFlags{}
	cmd := &cobra.Command{
		Use:   "replay <trace>",
		Short: "把报文轨迹（JSONL、YAML 或 pcap）回放给控制器",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.run(cmd, g, args[0])
		},
	}
	cmd.Flags().BoolVar(&f.realtime, "realtime", false, "按墙上时钟回放，可被 SIGINT/SIGTERM 中断")
	cmd.Flags().StringVar(&f.metrics, "metrics-addr", "", "启用 Prometheus 指标并监听该地址")
	return cmd
}

func (f *replayFlags) modify(cfg *app.Config) {
	if f.metrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = f.metrics
	}
}

func (f *replayFlags) run(cmd *cobra.Command, g *globalFlags, path string) error {
	a, cleanup, err := g.newApp(f.modify)
	if err != nil {
		return err
	}
	defer cleanup()

	events, err := a.ReadTrace(path)
	if err != nil {
		return err
	}
	a.Logger().Info("读取轨迹", logger.String("path", path), logger.Int("events", len(events)))

	var res *app.Result
	if f.realtime {
		res, err = a.RealtimeReplay(cmd.Context(), events)
	} else {
		res, err = a.Replay(events)
	}
	if err != nil {
		return err
	}
	return writeResult(cmd.OutOrStdout(), g.output, res)
}
