package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fnobot/broker"
	"fnobot/config"
	"fnobot/database"
	"fnobot/engine"
	"fnobot/lock"
	"fnobot/logger"
	"fnobot/metrics"
	"fnobot/web"
)

// Version 版本号
var Version = "1.2.0"

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-version" || os.Args[1] == "--version") {
		fmt.Printf("fnobot F&O Execution Engine\n")
		fmt.Printf("Version: %s\n", Version)
		os.Exit(0)
	}

	// 解析调试参数（-debug / --debug）
	debugMode := false
	filteredArgs := []string{os.Args[0]}
	for _, arg := range os.Args[1:] {
		switch arg {
		case "-debug", "--debug":
			debugMode = true
		default:
			filteredArgs = append(filteredArgs, arg)
		}
	}
	os.Args = filteredArgs

	logger.Info("🚀 fnobot 期权期货执行引擎启动...")
	logger.Info("📦 版本号: %s", Version)

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("❌ 加载配置失败: %v", err)
	}

	loc, err := time.LoadLocation(cfg.System.Timezone)
	if err != nil {
		logger.Warn("⚠️ 加载时区 %s 失败: %v，将使用 Asia/Kolkata", cfg.System.Timezone, err)
		loc, _ = time.LoadLocation("Asia/Kolkata")
	}
	logger.SetLocation(loc)
	logger.Info("✅ 系统时区设置为: %s", loc)

	if debugMode {
		cfg.System.LogLevel = "debug"
	}
	logLevel := logger.ParseLogLevel(cfg.System.LogLevel)
	logger.SetLevel(logLevel)
	defer logger.Close()

	logger.Info("✅ 配置加载成功: 标的数量=%d, 券商=%s",
		len(cfg.Trading.Universe), cfg.Broker.Type)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 券商连接
	bk, err := broker.New(cfg)
	if err != nil {
		logger.Fatal("❌ 初始化券商失败: %v", err)
	}

	// 历史数据库（可选）
	history, err := database.New(cfg)
	if err != nil {
		logger.Warn("⚠️ 初始化历史数据库失败: %v (将继续运行，但不保存历史)", err)
		history = nil
	}
	defer history.Close()

	// 分布式实例锁（可选）
	instanceLock, err := lock.New(cfg)
	if err != nil {
		logger.Fatal("❌ 初始化实例锁失败: %v", err)
	}

	// 执行引擎
	eng := engine.New(cfg, bk, nil, history, instanceLock, nil)
	eng.Restore()

	// 监控服务
	server := web.NewServer(cfg, eng)
	if err := server.Start(); err != nil {
		logger.Fatal("❌ 启动监控服务失败: %v", err)
	}

	// 系统资源采集
	collector := metrics.NewSystemCollector(0)
	go collector.Run(ctx)

	// 配置热加载：仅风险预算段生效
	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		logger.Warn("⚠️ 创建配置监控器失败: %v，热加载不可用", err)
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("⚠️ 启动配置热加载失败: %v", err)
		} else {
			go func() {
				for newCfg := range watcher.Updates() {
					eng.ApplyConfig(newCfg)
				}
			}()
			defer watcher.Stop()
		}
	}

	// 信号处理
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("📋 收到信号 %v，正在优雅关闭...", sig)
		cancel()
	}()

	// 主循环阻塞运行直到 ctx 取消
	if err := eng.Run(ctx); err != nil {
		logger.Error("❌ 主循环退出: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Stop(shutdownCtx)

	logger.Info("✅ fnobot 已退出")
}
