package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/joho/godotenv"

	"gridbot/api"
	"gridbot/config"
	"gridbot/kernel"
	"gridbot/logger"
	"gridbot/market"
	"gridbot/store"
	"gridbot/trader"
)

func main() {
	// Load environment variables from .env file if present (for local/dev runs)
	_ = godotenv.Load()

	cfg, err := config.Init()
	if err != nil {
		logger.Fatalf("❌ 配置无效: %v", err)
	}
	if err := logger.Init(&cfg.Log); err != nil {
		logger.Warnf("⚠️ 日志初始化失败，使用默认输出: %v", err)
	}

	logger.Info("╔════════════════════════════════════════════════════════════╗")
	logger.Info("║    📐 Grid Bot - ATR grid trading on USDⓈ-M futures        ║")
	logger.Info("╚════════════════════════════════════════════════════════════╝")
	logger.Infof("📋 %s %s, %d bars, poll %s, gateway=%s",
		cfg.Market.Symbol, cfg.Market.Timeframe, cfg.Market.BarCount, cfg.PollInterval(), cfg.Gateway.Kind)

	// 指标与信号评估器
	estimator, err := kernel.NewVolatilityEstimator(cfg.Volatility)
	if err != nil {
		logger.Fatalf("❌ %v", err)
	}
	evaluator, err := kernel.NewSignalEvaluator(cfg.Signal, estimator)
	if err != nil {
		logger.Fatalf("❌ %v", err)
	}
	if evaluator.MinBars() > cfg.Market.BarCount {
		logger.Warnf("⚠️ bar_count=%d is below the %d bars the indicators need, every cycle will be skipped",
			cfg.Market.BarCount, evaluator.MinBars())
	}

	// 审计日志数据库（可选）
	var journal *store.GridStore
	if cfg.DBPath != "" {
		logger.Infof("📋 初始化网格日志数据库: %s", cfg.DBPath)
		journal, err = store.Open(cfg.DBPath)
		if err != nil {
			logger.Fatalf("❌ 初始化数据库失败: %v", err)
		}
	}

	// 连接交易网关
	connector := newConnector(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	session, err := connector.Connect(ctx)
	cancel()
	if err != nil {
		if journal != nil {
			_ = journal.Close()
		}
		logger.Fatalf("❌ 连接交易网关失败: %v", err)
	}

	// K线数据源（paper 模式同样使用币安公开行情）
	futures.UseTestnet = cfg.Gateway.Testnet
	source := market.NewBinanceSource(futures.NewClient(cfg.Gateway.APIKey, cfg.Gateway.SecretKey))

	manager := trader.NewGridManager(session, kernel.NewGridSizer(cfg.Grid), cfg.Market.Symbol, cfg.Grid)
	runner := trader.NewGridRunner(source, evaluator, manager, cfg)
	var reader api.JournalReader
	if journal != nil {
		manager.SetJournal(journal)
		runner.SetJournal(journal)
		reader = journal
	}

	// 创建并启动API服务器
	var apiServer *api.Server
	if cfg.APIServerPort > 0 {
		apiServer = api.NewServer(manager, reader, cfg.Market.Symbol, cfg.APIServerPort)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Errorf("❌ API服务器错误: %v", err)
			}
		}()
	}

	runner.Start()
	logger.Info("按 Ctrl+C 停止运行")
	logger.Info(strings.Repeat("=", 60))

	// 设置优雅退出
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("📛 收到退出信号，正在优雅关闭...")

	// 步骤 1: 停止轮询（等待当前周期结束），挂单与仓位保留在交易所
	runner.Stop()

	// 步骤 2: 关闭 API 服务器
	if apiServer != nil {
		if err := apiServer.Shutdown(); err != nil {
			logger.Warnf("⚠️  关闭 API 服务器时出错: %v", err)
		}
	}

	// 步骤 3: 关闭网关会话
	if err := session.Close(); err != nil {
		logger.Warnf("⚠️  关闭网关会话时出错: %v", err)
	}

	// 步骤 4: 关闭数据库连接
	if journal != nil {
		if err := journal.Close(); err != nil {
			logger.Errorf("❌ 关闭数据库失败: %v", err)
		}
	}

	logger.Info("👋 grid bot stopped")
	logger.Shutdown()
}

func newConnector(cfg *config.Config) trader.Connector {
	if cfg.Gateway.Kind == "paper" {
		return trader.NewPaperGateway(cfg.Gateway.PaperBalance)
	}
	return trader.NewBinanceConnector(cfg.Gateway, cfg.Grid)
}
