// Package main 是 wpbot 的启动入口
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/chhongzh/wpbot"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		cfgPath  string
		envFiles []string
		debug    bool
	)

	cmd := &cobra.Command{
		Use:           "wpbot",
		Short:         "A webhook chat bot backed by OpenAI chat completions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(debug)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfgPath == "" {
				cfgPath = resolveConfigPath()
			}

			cfg, err := wpbot.LoadConfig(cfgPath, envFiles...)
			if err != nil {
				logger.Error("加载配置失败", zap.String("Path", cfgPath), zap.Error(err))
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, logger, cfg)
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to configuration file (YAML or JSON)")
	cmd.Flags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "Dotenv files to load before reading the configuration")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable development logging")
	return cmd
}

func run(ctx context.Context, logger *zap.Logger, cfg *wpbot.Config) error {
	var archive wpbot.Archive
	if cfg.Database != "" {
		a, err := wpbot.OpenSQLiteArchive(logger, cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database %s: %w", cfg.Database, err)
		}
		archive = a
	}

	bot := wpbot.New(logger, cfg, wpbot.NewOpenAICompleter(cfg), archive)
	logger.Info("启动",
		zap.String("Gateway", cfg.Gateway),
		zap.String("Model", cfg.Model),
		zap.Int("MaxHistoryLength", cfg.MaxHistoryLength),
	)

	var err error
	switch cfg.Gateway {
	case wpbot.GatewayTelegram:
		err = wpbot.NewTelegramGateway(logger, cfg, bot).Run(ctx)
	default:
		err = wpbot.NewWebhookServer(logger, cfg, bot, bot.MetricsHandler()).Run(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("已停止")
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// resolveConfigPath 按顺序查找配置文件: $XDG_CONFIG_HOME/wpbot/wpbot.yaml, ./wpbot.yaml
// 都不存在时返回空字符串, 只使用默认值和环境变量
func resolveConfigPath() string {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "wpbot", "wpbot.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "wpbot", "wpbot.yaml"))
	}
	candidates = append(candidates, "wpbot.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
