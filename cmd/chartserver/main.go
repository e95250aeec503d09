package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"QuantGate/pkg/config"
	applogger "QuantGate/pkg/logger"
	"QuantGate/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "config file path (optional)")
	htmlServerJSON := flag.String("html_server_json", "config/html_server.json", "builtin chart server settings")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := cfg.LoadResolverFiles("", *htmlServerJSON); err != nil {
		log.Fatalf("html server config load failed: %v", err)
	}

	l, err := applogger.New(&applogger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	dir := cfg.BuiltinServer.ChartsDir
	if dir == "" {
		dir = cfg.Charts.Dir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("charts dir: %v", err)
	}

	srv := server.NewChartServer(cfg, l)
	if err := srv.Start(); err != nil {
		log.Fatalf("chart server: %v", err)
	}
	l.Info("serving charts", applogger.String("dir", dir))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	if err := srv.Stop(context.Background()); err != nil {
		l.Error("chart server shutdown", applogger.Error(err))
		os.Exit(1)
	}
}
