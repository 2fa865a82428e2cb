// Package cli 命令行入口：analyze 和 discover
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"reviewscout/config"
	"reviewscout/internal/app"
	"reviewscout/internal/model"
	"reviewscout/internal/service"
	"reviewscout/pkg/logger"
)

// Analyzer 提案分析
type Analyzer interface {
	Analyze(ctx context.Context, req service.AnalysisRequest) (*model.AnalysisResult, error)
}

// Discoverer 审稿人发现
type Discoverer interface {
	Discover(ctx context.Context, req service.DiscoveryRequest, progress chan<- model.ProgressEvent) (*model.DiscoveryResult, error)
}

// Services 命令依赖的服务
type Services struct {
	Analyzer  Analyzer
	Discovery Discoverer
	Close     func() error
}

// loadServices 默认从配置组装，测试中替换
var loadServices = func(ctx context.Context) (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.LogLevel, "console"); err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Services{Analyzer: a.Analyzer, Discovery: a.Discovery, Close: a.Close}, nil
}

// Execute 运行根命令
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRoot().ExecuteContext(ctx)
}

// NewRoot 创建根命令
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "reviewscout",
		Short:         "Find and verify peer reviewers for a research proposal",
		SilenceUsage: true,
	}
	root.AddCommand(
		AnalyzeCmd(),
		DiscoverCmd(),
	)
	return root
}

func withServices(cmd *cobra.Command, fn func(ctx context.Context, s *Services) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := loadServices(ctx)
	if err != nil {
		return err
	}
	if s.Close != nil {
		defer s.Close()
	}
	return fn(ctx, s)
}

// readInput 读取文件内容，path为空或"-"时读stdin
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func checkFormat(format string) error {
	switch strings.ToLower(format) {
	case "json", "yaml":
		return nil
	}
	return fmt.Errorf("unsupported output format %q (json or yaml)", format)
}
