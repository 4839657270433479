// policebox 在仿真拓扑或报文轨迹上运行流量监管控制器
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/junbin-yang/go-policebox/internal/app"
	"github.com/junbin-yang/go-policebox/pkg/config"
	"github.com/junbin-yang/go-policebox/pkg/logger"
)

// 构建时通过 -ldflags "-X main.version=..." 注入
var version = "dev"

// globalFlags 所有子命令共享的参数
type globalFlags struct {
	config string
	watch  bool
	output string
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "policebox",
		Short:         "按权重分配瓶颈带宽的流量监管控制器",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&g.config, "config", "c", "", "配置文件路径，为空时读取 CONFIG_PATH")
	root.PersistentFlags().BoolVar(&g.watch, "watch", false, "监听配置文件变化（修改后需要重启）")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "yaml", "结果输出格式：yaml 或 json")

	root.AddCommand(simulateSubcommand(g))
	root.AddCommand(replaySubcommand(g))
	root.AddCommand(versionSubcommand())
	return root
}

// configPath 命令行参数优先，其次是环境变量
func (g *globalFlags) configPath() string {
	if g.config != "" {
		return g.config
	}
	return os.Getenv("CONFIG_PATH")
}

// load 加载配置；没有配置文件时使用默认配置
func (g *globalFlags) load() (*app.Config, *config.ConfigManager, error) {
	path := g.configPath()
	if path == "" {
		cfg := app.DefaultConfig()
		if err := config.ApplyEnvOverrides(&cfg); err != nil {
			return nil, nil, err
		}
		cfg.Normalize()
		return &cfg, nil, cfg.Validate()
	}
	return app.Load(path, g.watch, logger.Default())
}

// newApp 加载配置并创建运行环境，返回的函数负责释放资源
func (g *globalFlags) newApp(modify func(*app.Config)) (*app.App, func(), error) {
	if err := checkFormat(g.output); err != nil {
		return nil, nil, err
	}
	cfg, cm, err := g.load()
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if modify != nil {
		modify(cfg)
	}
	a, err := app.New(*cfg)
	if err != nil {
		if cm != nil {
			cm.Close()
		}
		return nil, nil, err
	}
	logger.ReplaceDefault(a.Logger())
	if cm != nil {
		a.Logger().Info("已加载配置", logger.String("path", cm.Path()), logger.Bool("watch", cm.Watching()))
	}
	cleanup := func() {
		if cm != nil {
			cm.Close()
		}
		_ = a.Close()
	}
	return a, cleanup, nil
}
