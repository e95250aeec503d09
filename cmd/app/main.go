package main

import (
	"flag"
	"log"
	"os"

	"QuantGate/internal/di"
	"QuantGate/pkg/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	serverJSON := flag.String("server_json", "", "nginx proxy settings (server.json)")
	htmlServerJSON := flag.String("html_server_json", "", "builtin chart server settings (html_server.json)")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := cfg.LoadResolverFiles(*serverJSON, *htmlServerJSON); err != nil {
		log.Fatalf("resolver config load failed: %v", err)
	}

	log.Printf("env=%s transport=%s executor=%s", cfg.Environment, cfg.Results.Transport, cfg.Executor.BaseURL)

	// Wire DI: Initialize all dependencies
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}
	defer cleanup()

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		cleanup()
		os.Exit(1)
	}
}
