package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"aegis/internal/app"
	"aegis/internal/config"
	"aegis/internal/logger"
	"aegis/internal/store"
)

const usage = `usage: aegis <command>

commands:
  tick    run one emission + verification tick and exit (exit 1 when the store is unavailable)
  serve   run aligned ticks, session cron jobs and the read-only HTTP API

env:
  AEGIS_CONFIG  config file path (default configs/config.yaml)`

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = strings.ToLower(strings.TrimSpace(os.Args[1]))
	}
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		fmt.Println(usage)
		return
	}

	cfgPath := os.Getenv("AEGIS_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	// tick 模式的 stdout 只输出 JSON 汇总
	console := io.Writer(os.Stdout)
	if cmd == "tick" {
		console = os.Stderr
	}
	logFile, err := setupLogOutput(cfg.App.LogPath, console)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	logger.Infof("✓ 配置加载成功（环境=%s，观察名单=%d）", cfg.App.Env, len(cfg.Market.Watchlist))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	defer a.Close()

	switch cmd {
	case "tick":
		os.Exit(runTick(ctx, a))
	case "serve":
		if err := a.Serve(ctx); err != nil {
			logger.Errorf("运行失败: %v", err)
			a.Close()
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, usage)
		a.Close()
		os.Exit(2)
	}
}

func runTick(ctx context.Context, a *app.App) int {
	sum, err := a.Tick(ctx)
	out, _ := json.Marshal(sum)
	fmt.Println(string(out))
	code := 0
	if err != nil {
		logger.Errorf("tick failed: %v", err)
		if errors.Is(err, store.ErrStoreUnavailable) {
			code = 1
		}
	}
	a.Close()
	return code
}

func setupLogOutput(path string, console io.Writer) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		log.SetOutput(console)
		logger.SetOutput(console)
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(console, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
