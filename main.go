package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"project-downlink/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config from environment:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := NewApp(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error starting downlink:", err)
		os.Exit(1)
	}
	defer app.shutdown()

	if err := app.Run(ctx); err != nil {
		app.logger.Error("Downlink stopped", "error", err)
	}
}
