// Package app 构建 copilot 服务的命令行入口。
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kart-io/shopfloor-copilot/internal/copilot"
)

const commandDesc = `Shopfloor Copilot Service

A shop-floor assistant combining a RAG knowledge base over manufacturing
documents with a live plant telemetry simulator.

This server provides:
  - Document ingestion with hybrid BM25 + dense retrieval
  - Role-aware question answering with optional runtime plant context
  - A simulated plant exposed over OPC UA with scenario injection
  - Profile-based compliance evaluation with a violation ledger`

var configFile string

// NewCommand 创建根命令。
func NewCommand() *cobra.Command {
	opts := copilot.NewOptions()

	cmd := &cobra.Command{
		Use:          "copilot",
		Short:        "Shopfloor Copilot Service",
		Long:         commandDesc,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, opts); err != nil {
				return err
			}
			if errs := opts.Validate(); len(errs) > 0 {
				return fmt.Errorf("invalid configuration: %v", errs)
			}
			return copilot.Run(setupSignalContext(), opts)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file.")
	opts.AddFlags(cmd.Flags())
	return cmd
}

// loadConfig 合并配置文件、环境与命令行参数，命令行优先。
func loadConfig(cmd *cobra.Command, opts *copilot.Options) error {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return v.Unmarshal(opts)
}

// setupSignalContext 返回在 SIGINT/SIGTERM 时取消的上下文，
// 第二个信号直接退出。
func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}
