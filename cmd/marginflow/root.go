package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/config"
	"github.com/BaSui01/marginflow/types"
)

// rootOptions 所有子命令共享的状态，由 PersistentPreRunE 填充
type rootOptions struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "marginflow",
		Short: "Two-agent margin anomaly escalation engine",
		Long: `MarginFlow runs an Analyst and a Finance agent over a checkpointed
conversation graph. The Analyst queries margin anomalies and escalates
large losses; Finance decides whether to raise a ticket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file (YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts),
		newCheckpointCmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load 读取配置并初始化日志
func (o *rootOptions) load() error {
	loader := config.NewLoader()
	if o.configPath != "" {
		loader = loader.WithConfigPath(o.configPath).RequireFile()
	}

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	o.cfg = cfg
	o.logger = initLogger(cfg.Log)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// 不需要配置
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "MarginFlow %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		},
	}
}

// exitCode 按错误类别映射进程退出码
func exitCode(err error) int {
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		return 2
	case types.IsCode(err, types.ErrStepBudgetExceeded):
		return 3
	case types.IsCode(err, types.ErrCheckpointConflict), types.IsCode(err, types.ErrCheckpointCorrupt):
		return 4
	default:
		return 1
	}
}
